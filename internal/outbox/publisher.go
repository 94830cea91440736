package outbox

import (
	"context"
	"log/slog"
)

// Publisher delivers one event downstream. A nil error means the event may
// be marked published.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "subscription event",
		"event_id", event.ID,
		"event_type", event.Type,
		"aggregate_id", event.AggregateID,
		"payload", string(event.Payload),
	)
	return nil
}
