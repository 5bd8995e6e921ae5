package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes codes to the log instead of sending mail. Development only.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendOTP(ctx context.Context, to, name string, code int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	n.logger.WithFields(logrus.Fields{
		"email": to,
		"name":  name,
	}).Infof("verification code %06d", code)
	return nil
}
