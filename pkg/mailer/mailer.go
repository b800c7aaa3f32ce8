package mailer

import (
	"context"
	"errors"
	"net/mail"

	"go.uber.org/zap"

	"github.com/noah-isme/course-engine-api/pkg/config"
)

// ErrNoRecipient is returned for messages without a destination address.
var ErrNoRecipient = errors.New("mail message has no recipient")

// Message is a single outbound email.
type Message struct {
	To      mail.Address
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages through a provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New selects the provider configured in cfg. Unknown providers and a
// SendGrid provider without an API key fall back to the console sender.
func New(cfg config.MailConfig, logger *zap.Logger) Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	from := mail.Address{Name: cfg.FromName, Address: cfg.FromAddress}
	switch cfg.Provider {
	case "sendgrid":
		if cfg.SendgridAPIKey != "" {
			return NewSendgridSender(cfg.SendgridAPIKey, from, logger)
		}
		logger.Warn("sendgrid selected without api key, falling back to console mailer")
	}
	return NewConsoleSender(from, logger)
}

func validate(msg Message) error {
	if msg.To.Address == "" {
		return ErrNoRecipient
	}
	return nil
}
