package observability

import (
	"sync"
	"time"
)

// FailedDelivery records one recipient whose send failed, for operator-side
// inspection. The batch outcome is never affected by these entries.
type FailedDelivery struct {
	Address    string    `json:"address"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

// DeliveryDeadLetter stores failed deliveries in a bounded in-memory queue.
type DeliveryDeadLetter struct {
	mu       sync.Mutex
	capacity int
	entries  []FailedDelivery
}

// NewDeliveryDeadLetter creates a queue with the provided capacity.
// Capacity <= 0 implies unbounded.
func NewDeliveryDeadLetter(capacity int) *DeliveryDeadLetter {
	queue := new(DeliveryDeadLetter)
	queue.capacity = capacity
	queue.entries = make([]FailedDelivery, 0)
	return queue
}

// Offer records a failed delivery, dropping the oldest entry when full.
func (q *DeliveryDeadLetter) Offer(entry FailedDelivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.entries) >= q.capacity {
		copy(q.entries[0:], q.entries[1:])
		q.entries[len(q.entries)-1] = entry
		return
	}
	q.entries = append(q.entries, entry)
}

// Snapshot copies the queued entries without clearing them.
func (q *DeliveryDeadLetter) Snapshot() []FailedDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]FailedDelivery, len(q.entries))
	copy(out, q.entries)
	return out
}

// Drain retrieves and clears all queued entries.
func (q *DeliveryDeadLetter) Drain() []FailedDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := make([]FailedDelivery, len(q.entries))
	copy(drained, q.entries)
	q.entries = q.entries[:0]
	return drained
}

// Len returns the number of queued entries.
func (q *DeliveryDeadLetter) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
