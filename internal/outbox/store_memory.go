package outbox

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps outbox events in process. It implements the snapshot
// contract of the in-memory transaction runner so appends roll back with the
// subscription writes they accompany.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) ListUnpublished(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		if e.PublishedAt == nil {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, event Event, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == event.ID && s.events[i].PublishedAt == nil {
			ts := at.UTC()
			s.events[i].PublishedAt = &ts
		}
	}
	return nil
}

func (s *MemoryStore) CountUnpublished(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.PublishedAt == nil {
			n++
		}
	}
	return n, nil
}

// Events returns a copy of every recorded event.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Snapshot captures the event list and returns a restore function.
func (s *MemoryStore) Snapshot() func() {
	s.mu.Lock()
	saved := slices.Clone(s.events)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = saved
	}
}
