// Package outbox records subscription events in the same transaction as the
// state change that produced them, and relays them to a publisher afterwards.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one outbox row.
type Event struct {
	ID          uuid.UUID
	AggregateID uuid.UUID
	Type        string
	Payload     json.RawMessage
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// NewEvent builds an unpublished event with a JSON payload.
func NewEvent(eventType string, aggregateID uuid.UUID, payload any, now time.Time) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     body,
		CreatedAt:   now.UTC(),
	}, nil
}

// envelope is the wire form handed to publishers.
type envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	CreatedAt   string          `json:"created_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Envelope encodes the event with its metadata for publishing.
func (e Event) Envelope() ([]byte, error) {
	return json.Marshal(envelope{
		ID:          e.ID.String(),
		Type:        e.Type,
		AggregateID: e.AggregateID.String(),
		CreatedAt:   e.CreatedAt.Format(time.RFC3339Nano),
		Payload:     e.Payload,
	})
}
