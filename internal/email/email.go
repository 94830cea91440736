// Package email delivers confirmation emails through the configured provider.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"newsletter/internal/platform/config"
	"newsletter/internal/subscription/models"
)

// Sender delivers one message with text and HTML alternatives.
type Sender interface {
	Send(ctx context.Context, recipient models.SubscriberEmail, subject, htmlBody, textBody string) error
}

// New builds the sender selected by cfg.Provider. The configured sender
// address must itself be a valid subscriber email.
func New(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (Sender, error) {
	from, err := models.ParseSubscriberEmail(cfg.Sender)
	if err != nil {
		return nil, fmt.Errorf("email sender: %w", err)
	}
	switch cfg.Provider {
	case config.EmailPostmark:
		return NewPostmark(cfg.Postmark.BaseURL, from, cfg.Postmark.AuthToken, cfg.Timeout), nil
	case config.EmailSES:
		return NewSES(ctx, from, cfg.SES)
	case config.EmailSMTP:
		return NewSMTP(from, cfg.SMTP, cfg.Timeout), nil
	case config.EmailLog:
		return NewLog(from, logger), nil
	default:
		return nil, fmt.Errorf("unsupported email provider %q", cfg.Provider)
	}
}
