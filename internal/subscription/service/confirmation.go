package service

import (
	"context"
	"fmt"
	"net/url"

	"newsletter/internal/subscription/models"
)

const confirmationSubject = "Welcome!"

func (s *Service) confirmationLink(subscriptionToken string) string {
	return s.baseURL + "/subscriptions/confirm?subscription_token=" + url.QueryEscape(subscriptionToken)
}

func (s *Service) sendConfirmation(ctx context.Context, recipient models.SubscriberEmail, subscriptionToken string) error {
	link := s.confirmationLink(subscriptionToken)
	htmlBody := fmt.Sprintf(
		`Welcome to our newsletter!<br />Click <a href="%s">here</a> to confirm your subscription.`,
		link,
	)
	textBody := fmt.Sprintf(
		"Welcome to our newsletter!\nVisit %s to confirm your subscription.",
		link,
	)
	return s.notifier.Send(ctx, recipient, confirmationSubject, htmlBody, textBody)
}
