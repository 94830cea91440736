package service

import "context"

// StoreTx provides a transactional boundary for subscription store mutations.
// Store calls made with the ctx handed to fn run in one transaction; an error
// from fn rolls everything back. Implementations may wrap a database
// transaction or, in-memory, a coarse lock with snapshot restore.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
