package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwire/inkwire/internal/domain/idempotency"
)

// IdempotencyStore persists one publish outcome per (identity, key).
//
// Reservation and completion are two separate short statements rather than
// one transaction spanning the dispatch loop; holding a transaction open for
// N notifier calls would starve the pool. The uniqueness constraint on
// (user_id, idempotency_key) is what keeps TryReserve atomic under
// concurrent duplicate submissions, across process instances.
type IdempotencyStore struct {
	pool  *pgxpool.Pool
	lease time.Duration
}

// DefaultReservationLease bounds how long a reserved record blocks retries
// before it may be reclaimed.
const DefaultReservationLease = 10 * time.Minute

// NewIdempotencyStore constructs a store backed by the provided pool. A
// lease <= 0 selects DefaultReservationLease.
func NewIdempotencyStore(pool *pgxpool.Pool, lease time.Duration) *IdempotencyStore {
	if lease <= 0 {
		lease = DefaultReservationLease
	}
	return &IdempotencyStore{pool: pool, lease: lease}
}

const (
	idempotencyInsertSQL = `
INSERT INTO idempotency (user_id, idempotency_key, status, created_at)
VALUES ($1, $2, 'reserved', NOW())
ON CONFLICT (user_id, idempotency_key) DO NOTHING;
`

	idempotencySelectSQL = `
SELECT status, response_status_code, response_headers, response_body
FROM idempotency
WHERE user_id = $1
  AND idempotency_key = $2;
`

	idempotencyReclaimSQL = `
UPDATE idempotency
SET created_at = NOW()
WHERE user_id = $1
  AND idempotency_key = $2
  AND status = 'reserved'
  AND created_at < NOW() - make_interval(secs => $3);
`

	idempotencyCommitSQL = `
UPDATE idempotency
SET status = 'completed',
    response_status_code = $3,
    response_headers = $4::jsonb,
    response_body = $5
WHERE user_id = $1
  AND idempotency_key = $2
  AND status = 'reserved';
`
)

// TryReserve implements idempotency.Store.
func (s *IdempotencyStore) TryReserve(ctx context.Context, userID uuid.UUID, key idempotency.Key) (idempotency.Reservation, error) {
	none := idempotency.Reservation{State: idempotency.StateAlreadyReserved, Saved: nil}
	if s.pool == nil {
		return none, fmt.Errorf("idempotency store: nil pool")
	}

	tag, err := s.pool.Exec(ctx, idempotencyInsertSQL, userID, key.String())
	if err != nil {
		return none, fmt.Errorf("idempotency store: reserve: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return idempotency.Reservation{State: idempotency.StateReserved, Saved: nil}, nil
	}

	var (
		status      string
		statusCode  pgtype.Int2
		headersJSON []byte
		body        []byte
	)
	row := s.pool.QueryRow(ctx, idempotencySelectSQL, userID, key.String())
	if err := row.Scan(&status, &statusCode, &headersJSON, &body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The prior holder vanished between our insert and select; the
			// row was deleted externally. Treat as a transient conflict.
			return none, nil
		}
		return none, fmt.Errorf("idempotency store: load record: %w", err)
	}

	if status == string(idempotency.StatusCompleted) {
		saved, err := decodeSavedResponse(statusCode, headersJSON, body)
		if err != nil {
			return none, err
		}
		return idempotency.Reservation{State: idempotency.StateAlreadyCompleted, Saved: &saved}, nil
	}

	reclaim, err := s.pool.Exec(ctx, idempotencyReclaimSQL, userID, key.String(), s.lease.Seconds())
	if err != nil {
		return none, fmt.Errorf("idempotency store: reclaim: %w", err)
	}
	if reclaim.RowsAffected() == 1 {
		return idempotency.Reservation{State: idempotency.StateReserved, Saved: nil}, nil
	}
	return none, nil
}

// Commit implements idempotency.Store.
func (s *IdempotencyStore) Commit(ctx context.Context, userID uuid.UUID, key idempotency.Key, response idempotency.SavedResponse) error {
	if s.pool == nil {
		return fmt.Errorf("idempotency store: nil pool")
	}
	headers := response.Headers
	if headers == nil {
		headers = []idempotency.HeaderPair{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("idempotency store: encode headers: %w", err)
	}
	tag, err := s.pool.Exec(ctx, idempotencyCommitSQL,
		userID, key.String(), int16(response.StatusCode), headersJSON, response.Body)
	if err != nil {
		return fmt.Errorf("idempotency store: commit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency store: commit: no reserved record for key %q", key.String())
	}
	return nil
}

func decodeSavedResponse(statusCode pgtype.Int2, headersJSON, body []byte) (idempotency.SavedResponse, error) {
	saved := idempotency.SavedResponse{StatusCode: 0, Headers: nil, Body: nil}
	if !statusCode.Valid {
		return saved, fmt.Errorf("idempotency store: completed record missing status code")
	}
	saved.StatusCode = int(statusCode.Int16)
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &saved.Headers); err != nil {
			return saved, fmt.Errorf("idempotency store: decode headers: %w", err)
		}
	}
	if len(body) > 0 {
		saved.Body = make([]byte, len(body))
		copy(saved.Body, body)
	}
	return saved, nil
}

var _ idempotency.Store = (*IdempotencyStore)(nil)
