package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "newsletter/pkg/domain-errors"
)

// SubscriptionStatus is the lifecycle state of a subscriber.
type SubscriptionStatus string

const (
	StatusPendingConfirmation SubscriptionStatus = "pending_confirmation"
	StatusConfirmed           SubscriptionStatus = "confirmed"
)

// IsValid checks the status against the supported values.
func (s SubscriptionStatus) IsValid() bool {
	return s == StatusPendingConfirmation || s == StatusConfirmed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// pending -> confirmed is the only forward move; confirmed -> confirmed is an
// idempotent no-op and is allowed.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	switch next {
	case StatusConfirmed:
		return s == StatusPendingConfirmation || s == StatusConfirmed
	case StatusPendingConfirmation:
		return s == StatusPendingConfirmation
	default:
		return false
	}
}

// NewSubscriber is validated input for the create workflow.
type NewSubscriber struct {
	Email SubscriberEmail
	Name  SubscriberName
}

// ParseNewSubscriber validates both fields from untrusted input.
func ParseNewSubscriber(name, email string) (NewSubscriber, error) {
	parsedName, err := ParseSubscriberName(name)
	if err != nil {
		return NewSubscriber{}, err
	}
	parsedEmail, err := ParseSubscriberEmail(email)
	if err != nil {
		return NewSubscriber{}, err
	}
	return NewSubscriber{Email: parsedEmail, Name: parsedName}, nil
}

// Subscriber is the persisted subscription aggregate.
//
// Invariants:
//   - ID is generated once and never reused
//   - Email is unique across subscribers (enforced by the store)
//   - SubscribedAt is set at creation in UTC and never changes
//   - Status starts pending and moves to confirmed at most once
type Subscriber struct {
	ID           uuid.UUID
	Email        SubscriberEmail
	Name         SubscriberName
	SubscribedAt time.Time
	Status       SubscriptionStatus
}

// NewPendingSubscriber builds a subscriber awaiting confirmation.
func NewPendingSubscriber(id uuid.UUID, in NewSubscriber, now time.Time) (*Subscriber, error) {
	if id == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInternal, "subscriber id cannot be nil")
	}
	return &Subscriber{
		ID:           id,
		Email:        in.Email,
		Name:         in.Name,
		SubscribedAt: now.UTC(),
		Status:       StatusPendingConfirmation,
	}, nil
}

func (s *Subscriber) IsConfirmed() bool {
	return s.Status == StatusConfirmed
}

// Confirm moves the subscriber to confirmed. It returns false when the
// subscriber was already confirmed.
func (s *Subscriber) Confirm() bool {
	if s.Status == StatusConfirmed {
		return false
	}
	s.Status = StatusConfirmed
	return true
}

// SubscriptionToken binds a confirmation secret to one subscriber.
type SubscriptionToken struct {
	Token        string
	SubscriberID uuid.UUID
}

// RestoreSubscriber rebuilds a subscriber from persisted columns. Stored
// values are re-validated so a corrupt row surfaces as an error rather than an
// invalid aggregate.
func RestoreSubscriber(id uuid.UUID, email, name string, subscribedAt time.Time, status string) (*Subscriber, error) {
	parsedEmail, err := ParseSubscriberEmail(email)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored subscriber email is invalid")
	}
	parsedName, err := ParseSubscriberName(name)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored subscriber name is invalid")
	}
	st := SubscriptionStatus(status)
	if !st.IsValid() {
		return nil, dErrors.New(dErrors.CodeInternal, "stored subscriber status is invalid: "+status)
	}
	return &Subscriber{
		ID:           id,
		Email:        parsedEmail,
		Name:         parsedName,
		SubscribedAt: subscribedAt.UTC(),
		Status:       st,
	}, nil
}
