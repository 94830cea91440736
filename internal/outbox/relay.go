package outbox

import (
	"context"
	"log/slog"
	"time"

	"newsletter/internal/platform/lock"
	"newsletter/internal/platform/metrics"
	"newsletter/pkg/platform/circuit"
)

// Store is the relay's view of the outbox table.
type Store interface {
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, event Event, at time.Time) error
}

// Relay moves unpublished outbox events to a Publisher. Only the instance
// holding the lock relays, so events are published in order per tick. An
// event whose publish fails stays unpublished and is retried on the next
// tick; events after it in the batch wait as well. Repeated publish
// failures open a circuit breaker that pauses publishing until its cooldown
// passes.
type Relay struct {
	store     Store
	publisher Publisher
	locker    lock.Locker
	breaker   *circuit.Breaker
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type RelayOption func(r *Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) RelayOption {
	return func(r *Relay) {
		r.breaker = b
	}
}

func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		r.now = now
	}
}

func NewRelay(store Store, publisher Publisher, locker lock.Locker, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		locker:    locker,
		breaker:   circuit.New("outbox-publisher"),
		interval:  5 * time.Second,
		batchSize: 100,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays on every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Tick(ctx); err != nil {
			r.logger.WarnContext(ctx, "outbox relay tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick relays one batch and returns how many events were published. It
// returns (0, nil) when another instance holds the lock.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	acquired, err := r.locker.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "failed to release outbox lock", "error", err)
		}
	}()

	events, err := r.store.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if !r.breaker.Allow() {
			r.logger.DebugContext(ctx, "outbox publisher circuit open, skipping batch",
				"pending", len(events)-published,
			)
			break
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			if _, change := r.breaker.RecordFailure(); change.Opened {
				r.logger.ErrorContext(ctx, "outbox publisher circuit opened", "breaker", r.breaker.Name())
			}
			r.logger.WarnContext(ctx, "failed to publish outbox event",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err,
			)
			break
		}
		if _, change := r.breaker.RecordSuccess(); change.Closed {
			r.logger.InfoContext(ctx, "outbox publisher circuit closed", "breaker", r.breaker.Name())
		}
		if err := r.store.MarkPublished(ctx, event, r.now()); err != nil {
			return published, err
		}
		published++
		r.metrics.IncrementOutboxPublished()
	}
	return published, nil
}
