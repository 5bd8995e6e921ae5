package domain

import "time"

// User represents a registered account and its security state.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	IsVerified   bool
	OTPCode      int
	OTPExpiresAt *time.Time
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasOTP reports whether a verification challenge is outstanding.
func (u *User) HasOTP() bool {
	return u.OTPCode != 0 && u.OTPExpiresAt != nil
}

// Principal is the identity attached to an authenticated request.
type Principal struct {
	UserID string
	Role   Role
}
