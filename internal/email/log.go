package email

import (
	"context"
	"log/slog"

	"newsletter/internal/subscription/models"
)

// LogSender logs messages instead of delivering them. The text body carries
// the confirmation link, which is what local development needs.
type LogSender struct {
	sender models.SubscriberEmail
	logger *slog.Logger
}

func NewLog(sender models.SubscriberEmail, logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{sender: sender, logger: logger}
}

func (s *LogSender) Send(ctx context.Context, recipient models.SubscriberEmail, subject, _, textBody string) error {
	s.logger.InfoContext(ctx, "email not delivered (log provider)",
		"from", s.sender,
		"to", recipient,
		"subject", subject,
		"body", textBody,
	)
	return nil
}
