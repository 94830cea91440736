// Package lock provides the single-runner locks used by background workers.
package lock

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker is a non-blocking mutual exclusion lock. Acquire reports false when
// another holder owns the lock. Instances are not safe for concurrent use
// from several goroutines; give each worker its own.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// New picks the best available backend: Redis when a client is configured,
// PostgreSQL advisory locks when only a database is, and an in-process lock
// otherwise.
func New(client *redis.Client, db *sql.DB, key string, ttl time.Duration) Locker {
	switch {
	case client != nil:
		return NewRedisLock(client, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return &LocalLock{}
	}
}

// LocalLock guards a worker within one process.
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) Acquire(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *LocalLock) Release(context.Context) error {
	l.mu.Unlock()
	return nil
}
