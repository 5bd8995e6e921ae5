package repository

import (
	"context"
	"errors"

	"otp-auth/internal/domain"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup key.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when inserting a user whose email is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrRefreshTokenMismatch is returned when the stored refresh token no longer
	// equals the expected value during a swap.
	ErrRefreshTokenMismatch = errors.New("refresh token mismatch")
)

// UserRepository defines persistence operations for User entities.
// Implementations must enforce email uniqueness.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id string) error
	// ReplaceRefreshToken stores next only if the current value equals expected.
	ReplaceRefreshToken(ctx context.Context, id, expected, next string) error
}
