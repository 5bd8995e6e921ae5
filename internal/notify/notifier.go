// Package notify delivers one-time verification codes to users.
package notify

import (
	"context"
	"errors"
)

// ErrDelivery wraps every failure to hand a code to the delivery channel.
var ErrDelivery = errors.New("otp delivery failed")

// Notifier sends an OTP code to an email address.
type Notifier interface {
	SendOTP(ctx context.Context, to, name string, code int) error
}
