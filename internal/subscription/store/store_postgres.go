package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"newsletter/internal/platform/database"
	"newsletter/internal/subscription/models"
	"newsletter/pkg/platform/sentinel"
	txcontext "newsletter/pkg/platform/tx"
)

// PostgresStore persists subscribers and tokens in PostgreSQL. Every method
// runs on the transaction carried in ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InsertSubscriber(ctx context.Context, subscriber *models.Subscriber) error {
	query := `
		INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, query,
		subscriber.ID,
		subscriber.Email.String(),
		subscriber.Name.String(),
		subscriber.SubscribedAt,
		string(subscriber.Status),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("subscriber email already exists: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertToken(ctx context.Context, token models.SubscriptionToken) error {
	query := `
		INSERT INTO subscription_tokens (subscription_token, subscriber_id)
		VALUES ($1, $2)
	`
	if _, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, query, token.Token, token.SubscriberID); err != nil {
		return fmt.Errorf("insert subscription token: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindToken(ctx context.Context, token string) (*models.SubscriptionToken, error) {
	query := `SELECT subscriber_id FROM subscription_tokens WHERE subscription_token = $1`
	var subscriberID uuid.UUID
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, query, token).Scan(&subscriberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find subscription token: %w", err)
	}
	return &models.SubscriptionToken{Token: token, SubscriberID: subscriberID}, nil
}

func (s *PostgresStore) FindSubscriberByID(ctx context.Context, id uuid.UUID) (*models.Subscriber, error) {
	query := `SELECT id, email, name, subscribed_at, status FROM subscriptions WHERE id = $1`
	return s.findSubscriber(ctx, query, id)
}

func (s *PostgresStore) FindSubscriberByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	query := `SELECT id, email, name, subscribed_at, status FROM subscriptions WHERE email = $1`
	return s.findSubscriber(ctx, query, email)
}

func (s *PostgresStore) findSubscriber(ctx context.Context, query string, arg any) (*models.Subscriber, error) {
	var (
		id           uuid.UUID
		email        string
		name         string
		subscribedAt time.Time
		status       string
	)
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, query, arg).
		Scan(&id, &email, &name, &subscribedAt, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find subscriber: %w", err)
	}
	return models.RestoreSubscriber(id, email, name, subscribedAt, status)
}

// ConfirmSubscriber reports whether the row actually moved to confirmed.
func (s *PostgresStore) ConfirmSubscriber(ctx context.Context, id uuid.UUID) (bool, error) {
	exec := txcontext.Pick(ctx, s.db)
	res, err := exec.ExecContext(ctx,
		`UPDATE subscriptions SET status = $2 WHERE id = $1 AND status <> $2`,
		id, string(models.StatusConfirmed),
	)
	if err != nil {
		return false, fmt.Errorf("confirm subscriber: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm subscriber rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	if err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check subscriber: %w", err)
	}
	if !exists {
		return false, sentinel.ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) CountSubscribers(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListTokens(ctx context.Context, subscriberID uuid.UUID) ([]models.SubscriptionToken, error) {
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx,
		`SELECT subscription_token FROM subscription_tokens WHERE subscriber_id = $1 ORDER BY subscription_token`,
		subscriberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscription tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.SubscriptionToken
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan subscription token: %w", err)
		}
		tokens = append(tokens, models.SubscriptionToken{Token: token, SubscriberID: subscriberID})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscription tokens: %w", err)
	}
	return tokens, nil
}
