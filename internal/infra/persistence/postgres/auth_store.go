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
	"github.com/inkwire/inkwire/internal/auth"
)

// AuthStore persists users and their session tokens.
type AuthStore struct {
	pool *pgxpool.Pool
}

// NewAuthStore constructs an AuthStore backed by the provided pool.
func NewAuthStore(pool *pgxpool.Pool) *AuthStore {
	return &AuthStore{pool: pool}
}

const (
	authFindCredentialsSQL = `
SELECT id, password_hash
FROM users
WHERE username = $1;
`

	authCreateSessionSQL = `
INSERT INTO sessions (token, user_id, created_at)
VALUES ($1, $2, NOW());
`

	authLookupSessionSQL = `
SELECT user_id
FROM sessions
WHERE token = $1;
`
)

// FindCredentials implements auth.Store.
func (s *AuthStore) FindCredentials(ctx context.Context, username string) (uuid.UUID, string, error) {
	if s.pool == nil {
		return uuid.Nil, "", fmt.Errorf("auth store: nil pool")
	}
	var (
		userID uuid.UUID
		hash   string
	)
	row := s.pool.QueryRow(ctx, authFindCredentialsSQL, username)
	if err := row.Scan(&userID, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, "", errs.New("auth", errs.CodeNotFound,
				errs.WithMessage("unknown username"))
		}
		return uuid.Nil, "", fmt.Errorf("auth store: find credentials: %w", err)
	}
	return userID, hash, nil
}

// CreateSession implements auth.Store.
func (s *AuthStore) CreateSession(ctx context.Context, token string, userID uuid.UUID) error {
	if s.pool == nil {
		return fmt.Errorf("auth store: nil pool")
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("auth store: token required")
	}
	if _, err := s.pool.Exec(ctx, authCreateSessionSQL, token, userID); err != nil {
		return fmt.Errorf("auth store: create session: %w", err)
	}
	return nil
}

// LookupSession implements auth.Store.
func (s *AuthStore) LookupSession(ctx context.Context, token string) (uuid.UUID, error) {
	if s.pool == nil {
		return uuid.Nil, fmt.Errorf("auth store: nil pool")
	}
	var userID uuid.UUID
	row := s.pool.QueryRow(ctx, authLookupSessionSQL, token)
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, errs.New("auth", errs.CodeNotFound,
				errs.WithMessage("unknown session token"))
		}
		return uuid.Nil, fmt.Errorf("auth store: lookup session: %w", err)
	}
	return userID, nil
}

var _ auth.Store = (*AuthStore)(nil)
