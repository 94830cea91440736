package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"

	"newsletter/internal/subscription/models"
	"newsletter/pkg/platform/sentinel"
)

// MemoryStore keeps subscribers and tokens in process. Pair it with a
// MemoryTx for atomic multi-step writes.
type MemoryStore struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]models.Subscriber
	byEmail     map[string]uuid.UUID
	tokens      map[string]models.SubscriptionToken
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		subscribers: make(map[uuid.UUID]models.Subscriber),
		byEmail:     make(map[string]uuid.UUID),
		tokens:      make(map[string]models.SubscriptionToken),
	}
}

func (s *MemoryStore) InsertSubscriber(_ context.Context, subscriber *models.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := subscriber.Email.String()
	if _, taken := s.byEmail[email]; taken {
		return fmt.Errorf("subscriber email already exists: %w", sentinel.ErrConflict)
	}
	if _, taken := s.subscribers[subscriber.ID]; taken {
		return fmt.Errorf("subscriber id already exists: %w", sentinel.ErrConflict)
	}
	s.subscribers[subscriber.ID] = *subscriber
	s.byEmail[email] = subscriber.ID
	return nil
}

func (s *MemoryStore) InsertToken(_ context.Context, token models.SubscriptionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[token.SubscriberID]; !ok {
		return fmt.Errorf("insert subscription token: unknown subscriber %s", token.SubscriberID)
	}
	if _, taken := s.tokens[token.Token]; taken {
		return fmt.Errorf("insert subscription token: duplicate token")
	}
	s.tokens[token.Token] = token
	return nil
}

func (s *MemoryStore) FindToken(_ context.Context, token string) (*models.SubscriptionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found, ok := s.tokens[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &found, nil
}

func (s *MemoryStore) FindSubscriberByID(_ context.Context, id uuid.UUID) (*models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subscriber, ok := s.subscribers[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &subscriber, nil
}

func (s *MemoryStore) FindSubscriberByEmail(_ context.Context, email string) (*models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	subscriber := s.subscribers[id]
	return &subscriber, nil
}

func (s *MemoryStore) ConfirmSubscriber(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscriber, ok := s.subscribers[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	changed := subscriber.Confirm()
	s.subscribers[id] = subscriber
	return changed, nil
}

func (s *MemoryStore) CountSubscribers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers), nil
}

func (s *MemoryStore) ListTokens(_ context.Context, subscriberID uuid.UUID) ([]models.SubscriptionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []models.SubscriptionToken
	for _, token := range s.tokens {
		if token.SubscriberID == subscriberID {
			tokens = append(tokens, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Token < tokens[j].Token })
	return tokens, nil
}

// Snapshot implements Snapshotter.
func (s *MemoryStore) Snapshot() func() {
	s.mu.RLock()
	subscribers := maps.Clone(s.subscribers)
	byEmail := maps.Clone(s.byEmail)
	tokens := maps.Clone(s.tokens)
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers = subscribers
		s.byEmail = byEmail
		s.tokens = tokens
	}
}
