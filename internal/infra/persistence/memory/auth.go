package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/inkwire/inkwire/errs"
	"github.com/inkwire/inkwire/internal/auth"
)

type userRecord struct {
	id   uuid.UUID
	hash string
}

// AuthStore keeps users and sessions in memory. It mirrors the Postgres
// store's lookup semantics for tests and local runs.
type AuthStore struct {
	mu       sync.Mutex
	users    map[string]userRecord
	sessions map[string]uuid.UUID
}

// NewAuthStore constructs an empty AuthStore.
func NewAuthStore() *AuthStore {
	return &AuthStore{
		users:    make(map[string]userRecord),
		sessions: make(map[string]uuid.UUID),
	}
}

// AddUser registers a user with a precomputed password hash.
func (s *AuthStore) AddUser(username string, id uuid.UUID, passwordHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = userRecord{id: id, hash: passwordHash}
}

// FindCredentials implements auth.Store.
func (s *AuthStore) FindCredentials(_ context.Context, username string) (uuid.UUID, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return uuid.Nil, "", errs.New("auth", errs.CodeNotFound,
			errs.WithMessage("unknown username"))
	}
	return user.id, user.hash, nil
}

// CreateSession implements auth.Store.
func (s *AuthStore) CreateSession(_ context.Context, token string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = userID
	return nil
}

// LookupSession implements auth.Store.
func (s *AuthStore) LookupSession(_ context.Context, token string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.sessions[token]
	if !ok {
		return uuid.Nil, errs.New("auth", errs.CodeNotFound,
			errs.WithMessage("unknown session token"))
	}
	return userID, nil
}

var _ auth.Store = (*AuthStore)(nil)
