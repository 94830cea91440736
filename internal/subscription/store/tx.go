package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	dErrors "newsletter/pkg/domain-errors"
	txcontext "newsletter/pkg/platform/tx"
)

// defaultTxTimeout bounds a transaction when the caller set no deadline.
const defaultTxTimeout = 5 * time.Second

func withTxDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

// PostgresTx runs fn inside a database transaction carried in the context.
// Stores built on the same *sql.DB pick it up through pkg/platform/tx.
type PostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresTx(db *sql.DB) *PostgresTx {
	return &PostgresTx{db: db}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel, err := withTxDeadline(ctx, t.timeout)
	defer cancel()
	if err != nil {
		return err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return timeoutOr(ctx, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return timeoutOr(ctx, err)
	}

	if err := tx.Commit(); err != nil {
		return timeoutOr(ctx, err)
	}
	return nil
}

// timeoutOr reports err as a timeout when the transaction context ended
// before fn or the commit returned.
func timeoutOr(ctx context.Context, err error) error {
	if ctx.Err() != nil && !dErrors.HasCode(err, dErrors.CodeTimeout) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return err
}

// Snapshotter is an in-memory participant in a MemoryTx. Snapshot captures
// the current state and returns a function that restores it.
type Snapshotter interface {
	Snapshot() (restore func())
}

// MemoryTx serializes in-memory transactions behind one lock and restores
// every participant when fn fails.
type MemoryTx struct {
	mu           sync.Mutex
	participants []Snapshotter
	timeout      time.Duration
}

func NewMemoryTx(participants ...Snapshotter) *MemoryTx {
	return &MemoryTx{participants: participants}
}

func (t *MemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel, err := withTxDeadline(ctx, t.timeout)
	defer cancel()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	restores := make([]func(), 0, len(t.participants))
	for _, p := range t.participants {
		restores = append(restores, p.Snapshot())
	}
	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		return timeoutOr(ctx, err)
	}
	return nil
}
