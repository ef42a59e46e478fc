package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status tracks the lifecycle of a stored outcome.
type Status string

const (
	// StatusReserved marks a request that is currently being processed.
	StatusReserved Status = "reserved"
	// StatusCompleted marks a request whose response has been durably saved.
	StatusCompleted Status = "completed"
)

// HeaderPair preserves one response header. Order is significant and names
// may repeat, so headers are kept as a sequence rather than a map.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SavedResponse is the byte-exact response payload replayed on duplicate
// submission.
type SavedResponse struct {
	StatusCode int          `json:"statusCode"`
	Headers    []HeaderPair `json:"headers"`
	Body       []byte       `json:"body"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r SavedResponse) Clone() SavedResponse {
	out := SavedResponse{StatusCode: r.StatusCode, Headers: nil, Body: nil}
	if len(r.Headers) > 0 {
		out.Headers = make([]HeaderPair, len(r.Headers))
		copy(out.Headers, r.Headers)
	}
	if len(r.Body) > 0 {
		out.Body = make([]byte, len(r.Body))
		copy(out.Body, r.Body)
	}
	return out
}

// Record is the persisted outcome for one (identity, key) pair.
type Record struct {
	UserID    uuid.UUID
	Key       Key
	Status    Status
	Response  *SavedResponse
	CreatedAt time.Time
}

// ReservationState enumerates the possible TryReserve outcomes.
type ReservationState int

const (
	// StateReserved means a new reservation was durably created and the
	// caller owns the dispatch.
	StateReserved ReservationState = iota
	// StateAlreadyCompleted means a committed response exists and must be
	// replayed without side effects.
	StateAlreadyCompleted
	// StateAlreadyReserved means another attempt holds an unexpired
	// reservation; the request must fail with a retry-later signal.
	StateAlreadyReserved
)

// Reservation is the result of a TryReserve call. Saved is populated only
// when State is StateAlreadyCompleted.
type Reservation struct {
	State ReservationState
	Saved *SavedResponse
}

// Store persists one outcome per (identity, key) and mediates replay.
//
// TryReserve must be atomic with respect to concurrent callers using the same
// pair; the uniqueness of (identity, key) is the single correctness invariant
// the store enforces. Reservations older than the store's lease may be
// reclaimed by a later TryReserve so a crash mid-dispatch does not strand the
// key forever.
//
// Commit transitions the matching reserved record to completed, attaching the
// response. It must only be called by the holder that received StateReserved
// and fails if the record is missing or already completed.
type Store interface {
	TryReserve(ctx context.Context, userID uuid.UUID, key Key) (Reservation, error)
	Commit(ctx context.Context, userID uuid.UUID, key Key, response SavedResponse) error
}
