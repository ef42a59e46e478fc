// Package subscriber defines the recipient-list contracts consumed by the
// publish pipeline and the signup flow.
package subscriber

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status tracks the confirmation lifecycle of a subscriber.
type Status string

const (
	// StatusPending marks a subscriber who has not confirmed yet.
	StatusPending Status = "pending_confirmation"
	// StatusConfirmed marks a subscriber eligible for delivery.
	StatusConfirmed Status = "confirmed"
)

// Subscriber represents one stored recipient.
type Subscriber struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Status       Status
	SubscribedAt time.Time
}

// Source yields the current confirmed-recipient set as raw, unvalidated
// address strings. Failure means no partial list is available: an incomplete
// fan-out under this name would be silently wrong, so callers must treat a
// Source error as fatal for the whole request.
type Source interface {
	FetchConfirmed(ctx context.Context) ([]string, error)
}

// Store persists subscribers and confirmation tokens.
type Store interface {
	Source

	Insert(ctx context.Context, sub Subscriber) error
	StoreToken(ctx context.Context, subscriberID uuid.UUID, token string) error
	// ConfirmByToken flips the matching subscriber to confirmed. It returns
	// the subscriber id, or a not_found error when the token is unknown.
	ConfirmByToken(ctx context.Context, token string) (uuid.UUID, error)
}
