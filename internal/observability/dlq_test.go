package observability

import (
	"fmt"
	"testing"
	"time"
)

func entry(n int) FailedDelivery {
	return FailedDelivery{
		Address:    fmt.Sprintf("reader-%d@example.com", n),
		Reason:     "smtp timeout",
		OccurredAt: time.Now().UTC(),
	}
}

func TestDeadLetterDropsOldestWhenFull(t *testing.T) {
	q := NewDeliveryDeadLetter(2)
	q.Offer(entry(1))
	q.Offer(entry(2))
	q.Offer(entry(3))

	snapshot := q.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("len = %d, want 2", len(snapshot))
	}
	if snapshot[0].Address != "reader-2@example.com" || snapshot[1].Address != "reader-3@example.com" {
		t.Fatalf("oldest entry must be dropped first: %+v", snapshot)
	}
}

func TestDeadLetterSnapshotIsIndependentCopy(t *testing.T) {
	q := NewDeliveryDeadLetter(4)
	q.Offer(entry(1))

	snapshot := q.Snapshot()
	snapshot[0].Address = "mutated@example.com"

	if got := q.Snapshot()[0].Address; got != "reader-1@example.com" {
		t.Fatalf("snapshot mutation leaked into queue: %q", got)
	}
}

func TestDeadLetterDrainEmptiesQueue(t *testing.T) {
	q := NewDeliveryDeadLetter(4)
	q.Offer(entry(1))
	q.Offer(entry(2))

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("drained = %d, want 2", len(drained))
	}
	if q.Len() != 0 {
		t.Fatalf("queue must be empty after drain, len = %d", q.Len())
	}
}
