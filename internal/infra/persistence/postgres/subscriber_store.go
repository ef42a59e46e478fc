package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwire/inkwire/errs"
	"github.com/inkwire/inkwire/internal/domain/subscriber"
)

// SubscriberStore persists subscribers and their confirmation tokens.
type SubscriberStore struct {
	pool *pgxpool.Pool
}

// NewSubscriberStore constructs a SubscriberStore backed by the provided pool.
func NewSubscriberStore(pool *pgxpool.Pool) *SubscriberStore {
	return &SubscriberStore{pool: pool}
}

const (
	subscriberListConfirmedSQL = `
SELECT email
FROM subscriptions
WHERE status = 'confirmed'
ORDER BY subscribed_at ASC, id ASC;
`

	subscriberInsertSQL = `
INSERT INTO subscriptions (id, email, name, status, subscribed_at)
VALUES ($1, $2, $3, $4, $5);
`

	subscriberStoreTokenSQL = `
INSERT INTO subscription_tokens (subscription_token, subscriber_id)
VALUES ($1, $2);
`

	subscriberConfirmSQL = `
UPDATE subscriptions
SET status = 'confirmed'
FROM subscription_tokens
WHERE subscription_tokens.subscription_token = $1
  AND subscriptions.id = subscription_tokens.subscriber_id
RETURNING subscriptions.id;
`
)

// FetchConfirmed implements subscriber.Source. The rows come back in stable
// subscription order; no partial list is ever returned on failure.
func (s *SubscriberStore) FetchConfirmed(ctx context.Context) ([]string, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("subscriber store: nil pool")
	}
	rows, err := s.pool.Query(ctx, subscriberListConfirmedSQL)
	if err != nil {
		return nil, fmt.Errorf("subscriber store: list confirmed: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("subscriber store: scan email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("subscriber store: iterate confirmed: %w", err)
	}
	return emails, nil
}

// Insert implements subscriber.Store.
func (s *SubscriberStore) Insert(ctx context.Context, sub subscriber.Subscriber) error {
	if s.pool == nil {
		return fmt.Errorf("subscriber store: nil pool")
	}
	email := strings.TrimSpace(sub.Email)
	if email == "" {
		return fmt.Errorf("subscriber store: email required")
	}
	name := strings.TrimSpace(sub.Name)
	if name == "" {
		return fmt.Errorf("subscriber store: name required")
	}
	status := sub.Status
	if status == "" {
		status = subscriber.StatusPending
	}
	if _, err := s.pool.Exec(ctx, subscriberInsertSQL,
		sub.ID, email, name, string(status), sub.SubscribedAt); err != nil {
		return fmt.Errorf("subscriber store: insert: %w", err)
	}
	return nil
}

// StoreToken implements subscriber.Store.
func (s *SubscriberStore) StoreToken(ctx context.Context, subscriberID uuid.UUID, token string) error {
	if s.pool == nil {
		return fmt.Errorf("subscriber store: nil pool")
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("subscriber store: token required")
	}
	if _, err := s.pool.Exec(ctx, subscriberStoreTokenSQL, token, subscriberID); err != nil {
		return fmt.Errorf("subscriber store: store token: %w", err)
	}
	return nil
}

// ConfirmByToken implements subscriber.Store.
func (s *SubscriberStore) ConfirmByToken(ctx context.Context, token string) (uuid.UUID, error) {
	if s.pool == nil {
		return uuid.Nil, fmt.Errorf("subscriber store: nil pool")
	}
	var id uuid.UUID
	row := s.pool.QueryRow(ctx, subscriberConfirmSQL, token)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, errs.New("subscriber", errs.CodeNotFound,
				errs.WithMessage("unknown subscription token"))
		}
		return uuid.Nil, fmt.Errorf("subscriber store: confirm: %w", err)
	}
	return id, nil
}

var _ subscriber.Store = (*SubscriberStore)(nil)
