// Package notify defines the outbound notification contract consumed by the
// publish pipeline.
package notify

import (
	"context"

	"github.com/inkwire/inkwire/internal/domain/recipient"
)

// Message is the content delivered to a single recipient.
type Message struct {
	Title    string
	HTMLBody string
	TextBody string
}

// Notifier sends one message to one address. Each call is independent and
// carries no ordering relationship to other calls; implementations apply
// their own bounded timeout per send. Callers never retry a failed send.
type Notifier interface {
	Send(ctx context.Context, to recipient.EmailAddress, msg Message) error
}
