// Package notify renders and delivers user emails.
package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

// Message is one email to one recipient.
type Message struct {
	To      string
	Subject string
	HTML    string
	// Tag identifies the template for provider analytics.
	Tag string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResendSender sends email through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

var _ Sender = (*ResendSender)(nil)

// NewResendSender creates a sender using apiKey and the given From address.
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	req := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	if msg.Tag != "" {
		req.Tags = []resend.Tag{{Name: "template", Value: msg.Tag}}
	}

	if _, err := s.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("sending %q to %s: %w", msg.Subject, msg.To, err)
	}
	return nil
}

// LogSender writes messages to a logger instead of delivering them.
type LogSender struct {
	Log zerolog.Logger
}

var _ Sender = (*LogSender)(nil)

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.Log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("tag", msg.Tag).
		Int("html_bytes", len(msg.HTML)).
		Msg("Email not sent, log sender configured")
	return nil
}
