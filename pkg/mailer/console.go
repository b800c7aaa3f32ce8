package mailer

import (
	"context"
	"net/mail"

	"go.uber.org/zap"
)

// ConsoleSender writes messages to the log instead of delivering them.
type ConsoleSender struct {
	from   mail.Address
	logger *zap.Logger
}

// NewConsoleSender constructs a ConsoleSender.
func NewConsoleSender(from mail.Address, logger *zap.Logger) *ConsoleSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSender{from: from, logger: logger}
}

// Send logs the message envelope and plain text body.
func (s *ConsoleSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	s.logger.Info("mail",
		zap.String("from", s.from.String()),
		zap.String("to", msg.To.String()),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}
