package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	txcontext "newsletter/pkg/platform/tx"
)

// PostgresStore persists outbox events in subscription_outbox. Appends join
// the transaction carried in ctx so events commit or roll back with the
// subscription change that produced them.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO subscription_outbox (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		event.AggregateID,
		event.Type,
		string(event.Payload),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// ListUnpublished returns up to limit unpublished events, oldest first.
func (s *PostgresStore) ListUnpublished(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM subscription_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

// MarkPublished stamps an event as delivered. Marking twice keeps the first
// timestamp.
func (s *PostgresStore) MarkPublished(ctx context.Context, event Event, at time.Time) error {
	query := `
		UPDATE subscription_outbox
		SET published_at = $2
		WHERE id = $1 AND published_at IS NULL
	`
	if _, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, query, event.ID, at.UTC()); err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

// CountUnpublished reports the relay backlog.
func (s *PostgresStore) CountUnpublished(ctx context.Context) (int, error) {
	var n int
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscription_outbox WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox events: %w", err)
	}
	return n, nil
}
