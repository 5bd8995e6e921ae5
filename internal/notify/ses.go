package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const otpSubject = "Your OTP Code"

var otpHTML = template.Must(template.New("otp").Parse(
	`<p>Hello {{.Name}},</p>
<p>Your OTP is <b>{{.Code}}</b></p>
<p>It expires in a few minutes. If you did not request it, ignore this email.</p>
`))

// SESClient is the subset of *sesv2.Client used by SESNotifier.
type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends verification codes through Amazon SES.
type SESNotifier struct {
	client SESClient
	from   string
}

// NewSESNotifier builds a notifier sending from sender, optionally labelled with senderName.
func NewSESNotifier(client SESClient, sender, senderName string) (*SESNotifier, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return nil, fmt.Errorf("mail sender is required")
	}
	from := (&mail.Address{Name: strings.TrimSpace(senderName), Address: sender}).String()
	return &SESNotifier{client: client, from: from}, nil
}

func (n *SESNotifier) SendOTP(ctx context.Context, to, name string, code int) error {
	formatted := fmt.Sprintf("%06d", code)

	var html bytes.Buffer
	if err := otpHTML.Execute(&html, struct{ Name, Code string }{name, formatted}); err != nil {
		return fmt.Errorf("%w: render template: %v", ErrDelivery, err)
	}
	text := fmt.Sprintf("Hello %s,\n\nYour OTP is %s\n", name, formatted)

	_, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(otpSubject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html.String()), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(text), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: ses send to %s: %v", ErrDelivery, to, err)
	}
	return nil
}
