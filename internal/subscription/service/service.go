package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"newsletter/internal/outbox"
	"newsletter/internal/platform/metrics"
	"newsletter/internal/subscription/models"
	"newsletter/internal/subscription/token"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/sentinel"
	"newsletter/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Notifier,EventRecorder

// Store persists subscribers and their confirmation tokens.
type Store interface {
	InsertSubscriber(ctx context.Context, subscriber *models.Subscriber) error
	InsertToken(ctx context.Context, token models.SubscriptionToken) error
	FindToken(ctx context.Context, token string) (*models.SubscriptionToken, error)
	ConfirmSubscriber(ctx context.Context, id uuid.UUID) (bool, error)
}

// Notifier delivers one email. Failures are opaque to the workflow.
type Notifier interface {
	Send(ctx context.Context, recipient models.SubscriberEmail, subject, htmlBody, textBody string) error
}

// EventRecorder appends subscription events to the outbox inside the
// surrounding transaction.
type EventRecorder interface {
	Append(ctx context.Context, event outbox.Event) error
}

const (
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionConfirmed = "subscription.confirmed"
)

// Service runs the double opt-in workflow: create a pending subscriber with a
// token, email the confirmation link, and confirm by token.
type Service struct {
	store         Store
	tx            StoreTx
	notifier      Notifier
	events        EventRecorder
	baseURL       string
	generateToken token.Generator
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithEvents records subscription events in the outbox.
func WithEvents(events EventRecorder) Option {
	return func(s *Service) {
		s.events = events
	}
}

func WithTokenGenerator(gen token.Generator) Option {
	return func(s *Service) {
		s.generateToken = gen
	}
}

// New constructs a Service. baseURL is the public origin used in
// confirmation links.
func New(store Store, tx StoreTx, notifier Notifier, baseURL string, opts ...Option) *Service {
	s := &Service{
		store:         store,
		tx:            tx,
		notifier:      notifier,
		baseURL:       strings.TrimRight(baseURL, "/"),
		generateToken: token.Generate,
		logger:        slog.Default(),
		tracer:        otel.Tracer("newsletter/internal/subscription/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the input, stores a pending subscriber and its token in
// one transaction, and sends the confirmation email after commit. A delivery
// failure leaves the subscriber and token in place.
func (s *Service) Create(ctx context.Context, name, email string) error {
	ctx, span := s.tracer.Start(ctx, "subscription.Create")
	defer span.End()

	in, err := models.ParseNewSubscriber(name, email)
	if err != nil {
		s.metrics.IncrementFailure(metrics.ReasonValidation)
		return s.fail(span, err)
	}

	now := requestcontext.Now(ctx)
	subscriber, err := models.NewPendingSubscriber(uuid.New(), in, now)
	if err != nil {
		return s.fail(span, err)
	}
	span.SetAttributes(attribute.String("subscriber.id", subscriber.ID.String()))

	var subscriptionToken string
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertSubscriber(ctx, subscriber); err != nil {
			return err
		}
		subscriptionToken = s.generateToken()
		if err := s.store.InsertToken(ctx, models.SubscriptionToken{
			Token:        subscriptionToken,
			SubscriberID: subscriber.ID,
		}); err != nil {
			return err
		}
		return s.recordEvent(ctx, EventSubscriptionCreated, subscriber, now)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementFailure(metrics.ReasonConflict)
			return s.fail(span, dErrors.Wrap(err, dErrors.CodeConflict, "email is already subscribed"))
		}
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			s.metrics.IncrementFailure(metrics.ReasonTimeout)
			s.logger.WarnContext(ctx, "storing new subscriber timed out",
				"subscriber_id", subscriber.ID,
				"error", err,
			)
			return s.fail(span, err)
		}
		s.metrics.IncrementFailure(metrics.ReasonPersistence)
		s.logger.ErrorContext(ctx, "failed to store new subscriber",
			"subscriber_id", subscriber.ID,
			"error", err,
		)
		return s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store new subscriber"))
	}
	s.metrics.IncrementSubscriptionsCreated()
	s.logger.InfoContext(ctx, "subscriber stored",
		"subscriber_id", subscriber.ID,
		"email", subscriber.Email,
	)

	if err := s.sendConfirmation(ctx, subscriber.Email, subscriptionToken); err != nil {
		s.metrics.IncrementFailure(metrics.ReasonDelivery)
		s.logger.ErrorContext(ctx, "failed to send confirmation email",
			"subscriber_id", subscriber.ID,
			"error", err,
		)
		return s.fail(span, dErrors.Wrap(err, dErrors.CodeDeliveryFailed, "failed to send confirmation email"))
	}
	s.metrics.IncrementConfirmationEmailsSent()
	return nil
}

// Confirm marks the subscriber owning subscriptionToken as confirmed.
// Confirming twice succeeds; the token stays valid after use.
func (s *Service) Confirm(ctx context.Context, subscriptionToken string) error {
	ctx, span := s.tracer.Start(ctx, "subscription.Confirm")
	defer span.End()

	if strings.TrimSpace(subscriptionToken) == "" {
		return s.fail(span, dErrors.New(dErrors.CodeBadRequest, "subscription_token is required"))
	}
	if !token.IsWellFormed(subscriptionToken) {
		return s.fail(span, dErrors.New(dErrors.CodeNotFound, "subscription token not found"))
	}

	now := requestcontext.Now(ctx)
	var subscriberID uuid.UUID
	var changed bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		found, err := s.store.FindToken(ctx, subscriptionToken)
		if err != nil {
			return err
		}
		subscriberID = found.SubscriberID
		changed, err = s.store.ConfirmSubscriber(ctx, found.SubscriberID)
		if err != nil || !changed {
			return err
		}
		return s.recordEvent(ctx, EventSubscriptionConfirmed, &models.Subscriber{
			ID:     found.SubscriberID,
			Status: models.StatusConfirmed,
		}, now)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.fail(span, dErrors.New(dErrors.CodeNotFound, "subscription token not found"))
		}
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			s.logger.WarnContext(ctx, "confirming subscriber timed out", "error", err)
			return s.fail(span, err)
		}
		s.logger.ErrorContext(ctx, "failed to confirm subscriber", "error", err)
		return s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to confirm subscriber"))
	}

	span.SetAttributes(
		attribute.String("subscriber.id", subscriberID.String()),
		attribute.Bool("subscriber.status_changed", changed),
	)
	if changed {
		s.metrics.IncrementSubscriptionsConfirmed()
		s.logger.InfoContext(ctx, "subscriber confirmed", "subscriber_id", subscriberID)
	}
	return nil
}

type subscriptionEvent struct {
	SubscriberID string    `json:"subscriber_id"`
	Status       string    `json:"status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (s *Service) recordEvent(ctx context.Context, eventType string, subscriber *models.Subscriber, now time.Time) error {
	if s.events == nil {
		return nil
	}
	event, err := outbox.NewEvent(eventType, subscriber.ID, subscriptionEvent{
		SubscriberID: subscriber.ID.String(),
		Status:       string(subscriber.Status),
		OccurredAt:   now.UTC(),
	}, now)
	if err != nil {
		return err
	}
	return s.events.Append(ctx, event)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	return err
}
