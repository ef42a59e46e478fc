// Package memory provides in-process store implementations used by tests and
// single-node development runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwire/inkwire/errs"
	"github.com/inkwire/inkwire/internal/domain/idempotency"
)

type idempotencyEntry struct {
	status    idempotency.Status
	response  idempotency.SavedResponse
	createdAt time.Time
}

type idempotencyKey struct {
	userID uuid.UUID
	key    string
}

// IdempotencyStore keeps reservation records in a mutex-guarded map. The
// mutex provides the same atomicity the Postgres uniqueness constraint does
// for the durable store.
type IdempotencyStore struct {
	mu      sync.Mutex
	lease   time.Duration
	clock   func() time.Time
	records map[idempotencyKey]*idempotencyEntry
}

// NewIdempotencyStore creates a store reclaiming reservations older than
// lease. A lease <= 0 disables reclamation.
func NewIdempotencyStore(lease time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		mu:      sync.Mutex{},
		lease:   lease,
		clock:   time.Now,
		records: make(map[idempotencyKey]*idempotencyEntry),
	}
}

// WithClock overrides the internal clock, primarily for testing.
func (s *IdempotencyStore) WithClock(clock func() time.Time) *IdempotencyStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clock != nil {
		s.clock = clock
	}
	return s
}

// TryReserve implements idempotency.Store.
func (s *IdempotencyStore) TryReserve(_ context.Context, userID uuid.UUID, key idempotency.Key) (idempotency.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := idempotencyKey{userID: userID, key: key.String()}
	entry, exists := s.records[id]
	if !exists {
		s.records[id] = &idempotencyEntry{
			status:    idempotency.StatusReserved,
			response:  idempotency.SavedResponse{StatusCode: 0, Headers: nil, Body: nil},
			createdAt: s.clock(),
		}
		return idempotency.Reservation{State: idempotency.StateReserved, Saved: nil}, nil
	}

	if entry.status == idempotency.StatusCompleted {
		saved := entry.response.Clone()
		return idempotency.Reservation{State: idempotency.StateAlreadyCompleted, Saved: &saved}, nil
	}

	if s.lease > 0 && s.clock().Sub(entry.createdAt) > s.lease {
		entry.createdAt = s.clock()
		return idempotency.Reservation{State: idempotency.StateReserved, Saved: nil}, nil
	}
	return idempotency.Reservation{State: idempotency.StateAlreadyReserved, Saved: nil}, nil
}

// Commit implements idempotency.Store.
func (s *IdempotencyStore) Commit(_ context.Context, userID uuid.UUID, key idempotency.Key, response idempotency.SavedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := idempotencyKey{userID: userID, key: key.String()}
	entry, exists := s.records[id]
	if !exists {
		return errs.New("idempotency", errs.CodePersistence,
			errs.WithMessage("commit without reservation"),
			errs.WithField("key", key.String()))
	}
	if entry.status == idempotency.StatusCompleted {
		return errs.New("idempotency", errs.CodePersistence,
			errs.WithMessage("record already completed"),
			errs.WithField("key", key.String()))
	}
	entry.status = idempotency.StatusCompleted
	entry.response = response.Clone()
	return nil
}

var _ idempotency.Store = (*IdempotencyStore)(nil)
