// Package resendkit delivers mail through the Resend HTTP API.
package resendkit

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/plainq/mailrelay/mailkit"
	"github.com/resend/resend-go/v2"
)

// ErrAPIKeyRequired is returned by Health when the sender has no API key.
var ErrAPIKeyRequired = errors.New("resend: api key is required")

// emailsAPI is the part of the Resend client used by ResendSender.
type emailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender represents a type that is responsible for sending email messages using the Resend service.
type ResendSender struct {
	apikey string
	emails emailsAPI
}

// Option is a type representing a function that modifies a ResendSender.
type Option func(*ResendSender)

// NewResendSender is a function that creates a new ResendSender instance.
func NewResendSender(apikey string, options ...Option) *ResendSender {
	s := ResendSender{
		apikey: apikey,
		emails: resend.NewClient(apikey).Emails,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Send maps the message to a Resend request. Href attachments are passed
// as remote paths and fetched by Resend itself.
func (s *ResendSender) Send(ctx context.Context, message mailkit.Message) error {
	req := resend.SendEmailRequest{
		From:        message.From,
		To:          slices.Clone(message.To),
		Subject:     message.Subject,
		Bcc:         slices.Clone(message.Bcc),
		Cc:          slices.Clone(message.Cc),
		Html:        message.HTML,
		Text:        message.Text,
		Attachments: make([]*resend.Attachment, 0, len(message.Attachments)),
	}

	if message.ID != "" {
		req.Headers = map[string]string{"X-Entity-Ref-ID": message.ID}
	}

	for _, a := range message.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Content:     a.Content,
			Filename:    a.Filename,
			Path:        a.Href,
			ContentType: a.MediaType(),
		})
	}

	if _, err := s.emails.SendWithContext(ctx, &req); err != nil {
		return fmt.Errorf("resend: sending email: %w", err)
	}

	return nil
}

// Health reports whether the sender is configured. Resend offers no
// side-effect free endpoint to probe with an email sending key.
func (s *ResendSender) Health(context.Context) error {
	if s.apikey == "" {
		return ErrAPIKeyRequired
	}

	return nil
}
