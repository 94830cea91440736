package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/platform/lock"
	"newsletter/internal/platform/metrics"
	"newsletter/pkg/platform/circuit"
)

type recordingPublisher struct {
	published []Event
	failOn    map[uuid.UUID]error
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	if err := p.failOn[event.ID]; err != nil {
		return err
	}
	p.published = append(p.published, event)
	return nil
}

type refusingLock struct{}

func (refusingLock) Acquire(context.Context) (bool, error) { return false, nil }
func (refusingLock) Release(context.Context) error         { return nil }

func seedEvents(t *testing.T, store *MemoryStore, n int) []Event {
	t.Helper()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e, err := NewEvent("subscription.created", uuid.New(), map[string]int{"seq": i}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), e))
		events = append(events, e)
	}
	return events
}

func TestRelayTick(t *testing.T) {
	ctx := context.Background()
	publishedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("publishes in order and marks events", func(t *testing.T) {
		store := NewMemory()
		events := seedEvents(t, store, 3)
		pub := &recordingPublisher{}
		m := metrics.NewWithRegisterer(prometheus.NewRegistry())
		relay := NewRelay(store, pub, &lock.LocalLock{},
			WithMetrics(m),
			WithClock(func() time.Time { return publishedAt }),
		)

		n, err := relay.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		require.Len(t, pub.published, 3)
		for i := range events {
			assert.Equal(t, events[i].ID, pub.published[i].ID)
		}

		left, err := store.CountUnpublished(ctx)
		require.NoError(t, err)
		assert.Zero(t, left)
		for _, e := range store.Events() {
			require.NotNil(t, e.PublishedAt)
			assert.True(t, e.PublishedAt.Equal(publishedAt))
		}
		assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxPublished))

		n, err = relay.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("respects the batch size", func(t *testing.T) {
		store := NewMemory()
		seedEvents(t, store, 5)
		relay := NewRelay(store, &recordingPublisher{}, &lock.LocalLock{}, WithBatchSize(2))

		n, err := relay.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		left, _ := store.CountUnpublished(ctx)
		assert.Equal(t, 3, left)
	})

	t.Run("a failed publish stops the batch and is retried later", func(t *testing.T) {
		store := NewMemory()
		events := seedEvents(t, store, 3)
		pub := &recordingPublisher{failOn: map[uuid.UUID]error{events[1].ID: errors.New("broker down")}}
		relay := NewRelay(store, pub, &lock.LocalLock{})

		n, err := relay.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		left, _ := store.CountUnpublished(ctx)
		assert.Equal(t, 2, left)

		pub.failOn = nil
		n, err = relay.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.Len(t, pub.published, 3)
		assert.Equal(t, events[1].ID, pub.published[1].ID)
	})

	t.Run("an open circuit pauses publishing until the cooldown passes", func(t *testing.T) {
		store := NewMemory()
		events := seedEvents(t, store, 2)
		pub := &recordingPublisher{failOn: map[uuid.UUID]error{events[0].ID: errors.New("broker down")}}
		now := publishedAt
		breaker := circuit.New("test",
			circuit.WithFailureThreshold(1),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(time.Minute),
			circuit.WithClock(func() time.Time { return now }),
		)
		relay := NewRelay(store, pub, &lock.LocalLock{}, WithBreaker(breaker))

		n, err := relay.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.True(t, breaker.IsOpen())

		pub.failOn = nil
		n, err = relay.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "no publish while the circuit is open")
		assert.Empty(t, pub.published)

		now = now.Add(time.Minute)
		n, err = relay.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.False(t, breaker.IsOpen())
	})

	t.Run("does nothing without the lock", func(t *testing.T) {
		store := NewMemory()
		seedEvents(t, store, 2)
		pub := &recordingPublisher{}

		n, err := NewRelay(store, pub, refusingLock{}).Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, pub.published)
	})

	t.Run("releases the lock after each tick", func(t *testing.T) {
		l := &lock.LocalLock{}
		relay := NewRelay(NewMemory(), &recordingPublisher{}, l)
		_, err := relay.Tick(ctx)
		require.NoError(t, err)

		ok, err := l.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	store := NewMemory()
	seedEvents(t, store, 1)
	pub := &recordingPublisher{}
	relay := NewRelay(store, pub, &lock.LocalLock{}, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := store.CountUnpublished(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestEventEnvelope(t *testing.T) {
	aggregate := uuid.New()
	e, err := NewEvent("subscription.confirmed", aggregate, map[string]string{"status": "confirmed"},
		time.Date(2026, 5, 1, 9, 0, 0, 0, time.FixedZone("CEST", 7200)))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.Nil(t, e.PublishedAt)

	raw, err := e.Envelope()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "subscription.confirmed", decoded["type"])
	assert.Equal(t, aggregate.String(), decoded["aggregate_id"])
	assert.Equal(t, "2026-05-01T07:00:00Z", decoded["created_at"])
	assert.Equal(t, map[string]any{"status": "confirmed"}, decoded["payload"])
}

func TestMemoryStoreSnapshot(t *testing.T) {
	store := NewMemory()
	seedEvents(t, store, 1)

	restore := store.Snapshot()
	seedEvents(t, store, 2)
	assert.Len(t, store.Events(), 3)

	restore()
	assert.Len(t, store.Events(), 1)
}
