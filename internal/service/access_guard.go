package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"otp-auth/internal/domain"
	"otp-auth/internal/repository"
	"otp-auth/internal/token"
)

var (
	// ErrUnauthorized covers a missing, malformed or invalid access token, or a deleted user.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned for unverified users and role mismatches.
	ErrForbidden = errors.New("forbidden")
)

// AccessGuard resolves bearer tokens into principals and checks roles.
type AccessGuard struct {
	tokens *token.Service
	users  repository.UserRepository
}

func NewAccessGuard(tokens *token.Service, users repository.UserRepository) *AccessGuard {
	return &AccessGuard{tokens: tokens, users: users}
}

// Authenticate validates an Authorization header value.
func (g *AccessGuard) Authenticate(ctx context.Context, header string) (domain.Principal, error) {
	raw, ok := bearerToken(header)
	if !ok {
		return domain.Principal{}, fmt.Errorf("%w: access token is required", ErrUnauthorized)
	}

	claims, err := g.tokens.VerifyAccess(raw)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: invalid or expired access token", ErrUnauthorized)
	}

	user, err := g.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return domain.Principal{}, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
		}
		return domain.Principal{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsVerified {
		return domain.Principal{}, fmt.Errorf("%w: email not verified", ErrForbidden)
	}

	return domain.Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

// Authorize fails with ErrForbidden unless the principal holds one of roles.
func (g *AccessGuard) Authorize(p domain.Principal, roles ...domain.Role) error {
	if slices.Contains(roles, p.Role) {
		return nil
	}
	return ErrForbidden
}

func bearerToken(header string) (string, bool) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
