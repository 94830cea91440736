package email

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"newsletter/internal/subscription/models"
)

// PostmarkClient sends through Postmark's HTTP email API.
type PostmarkClient struct {
	httpClient *resty.Client
	sender     models.SubscriberEmail
	authToken  string
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

type postmarkError struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

func NewPostmark(baseURL string, sender models.SubscriberEmail, authToken string, timeout time.Duration) *PostmarkClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &PostmarkClient{
		httpClient: client,
		sender:     sender,
		authToken:  authToken,
	}
}

func (c *PostmarkClient) Send(ctx context.Context, recipient models.SubscriberEmail, subject, htmlBody, textBody string) error {
	var apiErr postmarkError
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Postmark-Server-Token", c.authToken).
		SetBody(sendEmailRequest{
			From:     c.sender.String(),
			To:       recipient.String(),
			Subject:  subject,
			HtmlBody: htmlBody,
			TextBody: textBody,
		}).
		SetError(&apiErr).
		Post("/email")
	if err != nil {
		return fmt.Errorf("postmark request: %w", err)
	}
	if resp.IsError() {
		if apiErr.Message != "" {
			return fmt.Errorf("postmark returned %d: %s (code %d)", resp.StatusCode(), apiErr.Message, apiErr.ErrorCode)
		}
		return fmt.Errorf("postmark returned %d", resp.StatusCode())
	}
	return nil
}
