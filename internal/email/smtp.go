package email

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/mail.v2"

	"newsletter/internal/platform/config"
	"newsletter/internal/subscription/models"
)

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPSender sends multipart text/HTML messages over SMTP.
type SMTPSender struct {
	dialer dialer
	sender models.SubscriberEmail
}

func NewSMTP(sender models.SubscriberEmail, cfg config.SMTPConfig, timeout time.Duration) *SMTPSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if timeout > 0 {
		d.Timeout = timeout
	}
	d.StartTLSPolicy = mail.OpportunisticStartTLS
	return &SMTPSender{dialer: d, sender: sender}
}

func (s *SMTPSender) Send(ctx context.Context, recipient models.SubscriberEmail, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := mail.NewMessage()
	m.SetHeader("From", s.sender.String())
	m.SetHeader("To", recipient.String())
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
