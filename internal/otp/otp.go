// Package otp issues and checks the six-digit email verification codes.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"otp-auth/internal/domain"
)

const (
	// DefaultTTL is how long an issued code stays valid.
	DefaultTTL = 10 * time.Minute

	minCode = 100000
	maxCode = 999999
)

// Engine mutates the OTP fields of a user. It never persists.
type Engine struct {
	ttl  time.Duration
	now  func() time.Time
	code func() (int, error)
}

type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCodeSource overrides the random code generator.
func WithCodeSource(src func() (int, error)) Option {
	return func(e *Engine) { e.code = src }
}

func NewEngine(ttl time.Duration, opts ...Option) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	e := &Engine{ttl: ttl, now: time.Now, code: randomCode}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Issue sets a fresh code on the user, replacing any outstanding one.
func (e *Engine) Issue(user *domain.User) (int, error) {
	code, err := e.code()
	if err != nil {
		return 0, fmt.Errorf("generate otp: %w", err)
	}
	exp := e.now().Add(e.ttl).UTC()
	user.OTPCode = code
	user.OTPExpiresAt = &exp
	return code, nil
}

// Verify reports whether supplied matches the outstanding, unexpired code.
func (e *Engine) Verify(user *domain.User, supplied string) bool {
	if !user.HasOTP() {
		return false
	}
	if !e.now().Before(*user.OTPExpiresAt) {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(supplied))
	if err != nil {
		return false
	}
	return n == user.OTPCode
}

func (e *Engine) Clear(user *domain.User) {
	user.OTPCode = 0
	user.OTPExpiresAt = nil
}

func randomCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return 0, err
	}
	return minCode + int(n.Int64()), nil
}
