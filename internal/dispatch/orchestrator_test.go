package dispatch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inkwire/inkwire/errs"
	"github.com/inkwire/inkwire/internal/domain/idempotency"
	"github.com/inkwire/inkwire/internal/domain/recipient"
	"github.com/inkwire/inkwire/internal/domain/subscriber"
	"github.com/inkwire/inkwire/internal/infra/persistence/memory"
	"github.com/inkwire/inkwire/internal/notify"
	"github.com/inkwire/inkwire/internal/observability"
)

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	fail    map[string]error
	started chan struct{}
	release chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		mu:      sync.Mutex{},
		sent:    nil,
		fail:    nil,
		started: nil,
		release: nil,
	}
}

func (n *fakeNotifier) Send(_ context.Context, to recipient.EmailAddress, _ notify.Message) error {
	if n.started != nil {
		select {
		case n.started <- struct{}{}:
		default:
		}
	}
	if n.release != nil {
		<-n.release
	}
	n.mu.Lock()
	n.sent = append(n.sent, to.String())
	n.mu.Unlock()
	if n.fail != nil {
		if err := n.fail[to.String()]; err != nil {
			return err
		}
	}
	return nil
}

func (n *fakeNotifier) sendCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) sentTo() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	copy(out, n.sent)
	return out
}

type staticSource struct {
	emails []string
	err    error
}

func (s staticSource) FetchConfirmed(context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.emails, nil
}

var _ subscriber.Source = staticSource{}

func successResponse() idempotency.SavedResponse {
	return idempotency.SavedResponse{
		StatusCode: 303,
		Headers:    []idempotency.HeaderPair{{Name: "Location", Value: "/admin/newsletters"}},
		Body:       []byte("<a href=\"/admin/newsletters\">See Other</a>"),
	}
}

func sameResponse(a, b idempotency.SavedResponse) bool {
	if a.StatusCode != b.StatusCode || len(a.Headers) != len(b.Headers) {
		return false
	}
	for i := range a.Headers {
		if a.Headers[i] != b.Headers[i] {
			return false
		}
	}
	return bytes.Equal(a.Body, b.Body)
}

func TestPublishDispatchesOncePerRecipientThenReplays(t *testing.T) {
	store := memory.NewIdempotencyStore(0)
	source := staticSource{emails: []string{"a@x.com", "b@x.com"}, err: nil}
	notifier := newFakeNotifier()
	orch := NewOrchestrator(store, source, notifier, successResponse())

	req := PublishRequest{
		UserID:   uuid.New(),
		RawKey:   "abc-123",
		Title:    "Issue #1",
		HTMLBody: "<p>hello</p>",
		TextBody: "hello",
	}

	first, err := orch.Publish(context.Background(), req)
	if err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	if first.Replayed {
		t.Fatalf("first publish must not be a replay")
	}
	if got := notifier.sendCount(); got != 2 {
		t.Fatalf("expected 2 sends on first publish, got %d", got)
	}

	second, err := orch.Publish(context.Background(), req)
	if err != nil {
		t.Fatalf("second publish failed: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("second publish must be a replay")
	}
	if got := notifier.sendCount(); got != 2 {
		t.Fatalf("replay must not dispatch again: %d sends total", got)
	}
	if !sameResponse(first.Response, second.Response) {
		t.Fatalf("replayed response differs from original")
	}
}

func TestPublishIsolatesKeysAndIdentities(t *testing.T) {
	store := memory.NewIdempotencyStore(0)
	source := staticSource{emails: []string{"a@x.com"}, err: nil}
	notifier := newFakeNotifier()
	orch := NewOrchestrator(store, source, notifier, successResponse())

	userA := uuid.New()
	userB := uuid.New()
	cases := []PublishRequest{
		{UserID: userA, RawKey: "key-1", Title: "t", HTMLBody: "h", TextBody: "x"},
		{UserID: userA, RawKey: "key-2", Title: "t", HTMLBody: "h", TextBody: "x"},
		{UserID: userB, RawKey: "key-1", Title: "t", HTMLBody: "h", TextBody: "x"},
	}
	for _, req := range cases {
		result, err := orch.Publish(context.Background(), req)
		if err != nil {
			t.Fatalf("publish (%s,%s) failed: %v", req.UserID, req.RawKey, err)
		}
		if result.Replayed {
			t.Fatalf("publish (%s,%s) must not replay across key/identity boundary", req.UserID, req.RawKey)
		}
	}
	if got := notifier.sendCount(); got != 3 {
		t.Fatalf("expected 3 independent dispatches, got %d", got)
	}
}

func TestPublishSkipsMalformedRecipients(t *testing.T) {
	store := memory.NewIdempotencyStore(0)
	source := staticSource{emails: []string{"a@x.com", "not-an-address", "b@x.com", "c@x.com"}, err: nil}
	notifier := newFakeNotifier()
	orch := NewOrchestrator(store, source, notifier, successResponse(), WithMaxWorkers(1))

	result, err := orch.Publish(context.Background(), PublishRequest{
		UserID: uuid.New(), RawKey: "k", Title: "t", HTMLBody: "h", TextBody: "x",
	})
	if err != nil {
		t.Fatalf("publish failed despite malformed entry: %v", err)
	}
	if result.Response.StatusCode != 303 {
		t.Fatalf("expected success response, got status %d", result.Response.StatusCode)
	}
	sent := notifier.sentTo()
	if len(sent) != 3 {
		t.Fatalf("expected exactly 3 sends, got %d (%v)", len(sent), sent)
	}
	for _, addr := range sent {
		if addr == "not-an-address" {
			t.Fatalf("malformed address must never reach the notifier")
		}
	}
}

func TestPublishDeliveryFailureIsInvisibleToCaller(t *testing.T) {
	store := memory.NewIdempotencyStore(0)
	source := staticSource{emails: []string{"a@x.com", "b@x.com"}, err: nil}
	notifier := newFakeNotifier()
	notifier.fail = map[string]error{"b@x.com": errors.New("smtp 550")}
	deadLetter := observability.NewDeliveryDeadLetter(16)
	orch := NewOrchestrator(store, source, notifier, successResponse(), WithDeadLetter(deadLetter))

	result, err := orch.Publish(context.Background(), PublishRequest{
		UserID: uuid.New(), RawKey: "k", Title: "t", HTMLBody: "h", TextBody: "x",
	})
	if err != nil {
		t.Fatalf("delivery failure must not fail the batch: %v", err)
	}
	if !sameResponse(result.Response, successResponse()) {
		t.Fatalf("success response must be identical regardless of delivery failures")
	}
	if deadLetter.Len() != 1 {
		t.Fatalf("expected 1 dead-lettered delivery, got %d", deadLetter.Len())
	}
	entry := deadLetter.Snapshot()[0]
	if entry.Address != "b@x.com" || !strings.Contains(entry.Reason, "smtp 550") {
		t.Fatalf("unexpected dead letter entry: %+v", entry)
	}
}

func TestPublishRejectsInvalidKeysWithoutSideEffects(t *testing.T) {
	store := memory.NewIdempotencyStore(0)
	source := staticSource{emails: []string{"a@x.com"}, err: nil}
	notifier := newFakeNotifier()
	orch := NewOrchestrator(store, source, notifier, successResponse())

	for _, raw := range []string{"", strings.Repeat("a", 51)} {
		_, err := orch.Publish(context.Background(), PublishRequest{
			UserID: uuid.New(), RawKey: raw, Title: "t", HTMLBody: "h", TextBody: "x",
		})
		if errs.CodeOf(err) != errs.CodeInvalid {
			t.Fatalf("expected invalid_request for key %q, got %v", raw, err)
		}
	}
	if notifier.sendCount() != 0 {
		t.Fatalf("invalid key must not trigger dispatch")
	}

	for _, raw := range []string{"a", strings.Repeat("a", 50)} {
		if _, err := orch.Publish(context.Background(), PublishRequest{
			UserID: uuid.New(), RawKey: raw, Title: "t", HTMLBody: "h", TextBody: "x",
		}); err != nil {
			t.Fatalf("expected key %q to be accepted, got %v", raw, err)
		}
	}
}

func TestConcurrentDuplicateGetsConflict(t *testing.T) {
	store := memory.NewIdempotencyStore(0)
	source := staticSource{emails: []string{"a@x.com"}, err: nil}
	notifier := newFakeNotifier()
	notifier.started = make(chan struct{}, 1)
	notifier.release = make(chan struct{})
	orch := NewOrchestrator(store, source, notifier, successResponse())

	req := PublishRequest{UserID: uuid.New(), RawKey: "dup", Title: "t", HTMLBody: "h", TextBody: "x"}

	var winner Result
	var winnerErr error
	done := make(chan struct{})
	go func() {
		winner, winnerErr = orch.Publish(context.Background(), req)
		close(done)
	}()

	// Wait until the winner holds the reservation and sits mid-dispatch.
	select {
	case <-notifier.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("winner never reached the notifier")
	}

	_, err := orch.Publish(context.Background(), req)
	if !errors.Is(err, ErrReservationHeld) {
		t.Fatalf("expected ErrReservationHeld for concurrent duplicate, got %v", err)
	}
	if errs.CodeOf(err) != errs.CodeConflict {
		t.Fatalf("conflict must carry the conflict code, got %q", errs.CodeOf(err))
	}

	close(notifier.release)
	<-done
	if winnerErr != nil {
		t.Fatalf("winner publish failed: %v", winnerErr)
	}
	if winner.Replayed {
		t.Fatalf("winner must not be a replay")
	}
	if notifier.sendCount() != 1 {
		t.Fatalf("only the winner may dispatch: %d sends", notifier.sendCount())
	}
}

func TestPublishSourceFailureIsFatalAndLeaseReclaims(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	store := memory.NewIdempotencyStore(5 * time.Minute).WithClock(func() time.Time { return now })
	notifier := newFakeNotifier()
	failing := staticSource{emails: nil, err: errors.New("pool exhausted")}
	orch := NewOrchestrator(store, failing, notifier, successResponse(), WithClock(clock))

	req := PublishRequest{UserID: uuid.New(), RawKey: "stuck", Title: "t", HTMLBody: "h", TextBody: "x"}
	_, err := orch.Publish(context.Background(), req)
	if errs.CodeOf(err) != errs.CodeUnavailable {
		t.Fatalf("expected unavailable for source failure, got %v", err)
	}

	// The reservation is stranded until the lease expires.
	healthy := NewOrchestrator(store, staticSource{emails: []string{"a@x.com"}, err: nil}, notifier, successResponse(), WithClock(clock))
	if _, err := healthy.Publish(context.Background(), req); !errors.Is(err, ErrReservationHeld) {
		t.Fatalf("expected conflict while reservation lease is live, got %v", err)
	}

	now = now.Add(6 * time.Minute)
	result, err := healthy.Publish(context.Background(), req)
	if err != nil {
		t.Fatalf("expected reclaimed reservation to dispatch, got %v", err)
	}
	if result.Replayed {
		t.Fatalf("reclaimed dispatch must not be a replay")
	}
	if notifier.sendCount() != 1 {
		t.Fatalf("expected exactly 1 send after reclamation, got %d", notifier.sendCount())
	}
}

type commitFailingStore struct {
	idempotency.Store
}

func (s commitFailingStore) Commit(context.Context, uuid.UUID, idempotency.Key, idempotency.SavedResponse) error {
	return errors.New("connection lost")
}

func TestPublishCommitFailureIsFatal(t *testing.T) {
	store := commitFailingStore{Store: memory.NewIdempotencyStore(0)}
	source := staticSource{emails: []string{"a@x.com"}, err: nil}
	orch := NewOrchestrator(store, source, newFakeNotifier(), successResponse())

	_, err := orch.Publish(context.Background(), PublishRequest{
		UserID: uuid.New(), RawKey: "k", Title: "t", HTMLBody: "h", TextBody: "x",
	})
	if errs.CodeOf(err) != errs.CodePersistence {
		t.Fatalf("expected persistence failure on commit, got %v", err)
	}
}

func TestPublishEmptyRecipientSetStillCommits(t *testing.T) {
	store := memory.NewIdempotencyStore(0)
	orch := NewOrchestrator(store, staticSource{emails: nil, err: nil}, newFakeNotifier(), successResponse())

	req := PublishRequest{UserID: uuid.New(), RawKey: "empty", Title: "t", HTMLBody: "h", TextBody: "x"}
	first, err := orch.Publish(context.Background(), req)
	if err != nil {
		t.Fatalf("publish with no recipients failed: %v", err)
	}
	second, err := orch.Publish(context.Background(), req)
	if err != nil {
		t.Fatalf("replay after empty dispatch failed: %v", err)
	}
	if !second.Replayed || !sameResponse(first.Response, second.Response) {
		t.Fatalf("empty dispatch must still commit a replayable response")
	}
}

type capturingLogger struct {
	mu    sync.Mutex
	warns [][]observability.Field
	fails [][]observability.Field
}

func (l *capturingLogger) Debug(string, ...observability.Field) {}
func (l *capturingLogger) Info(string, ...observability.Field)  {}

func (l *capturingLogger) Warn(_ string, fields ...observability.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fields)
}

func (l *capturingLogger) Error(_ string, fields ...observability.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fails = append(l.fails, fields)
}

func TestRecordOutcomesIsolatesLogFieldsPerOutcome(t *testing.T) {
	logger := &capturingLogger{}
	observability.SetLogger(logger)
	t.Cleanup(func() { observability.SetLogger(nil) })

	orch := NewOrchestrator(memory.NewIdempotencyStore(0), staticSource{}, newFakeNotifier(), successResponse())

	// Spare capacity in the base slice must not let one outcome's appended
	// fields clobber another's.
	base := make([]observability.Field, 1, 8)
	base[0] = observability.Field{Key: "user_id", Value: "u"}

	orch.recordOutcomes(context.Background(), []DeliveryOutcome{
		{Address: "bad entry", Succeeded: false, Skipped: true, ErrorSummary: "unparseable address"},
		{Address: "down@x.com", Succeeded: false, Skipped: false, ErrorSummary: "smtp timeout"},
	}, base)

	if len(logger.warns) != 1 || len(logger.fails) != 1 {
		t.Fatalf("expected one warn and one error entry, got %d/%d", len(logger.warns), len(logger.fails))
	}
	warn := logger.warns[0]
	if len(warn) != 2 || warn[1].Key != "cause" || warn[1].Value != "unparseable address" {
		t.Fatalf("skip entry fields corrupted: %+v", warn)
	}
	errEntry := logger.fails[0]
	if len(errEntry) != 3 || errEntry[1].Value != "down@x.com" || errEntry[2].Value != "smtp timeout" {
		t.Fatalf("failure entry fields corrupted: %+v", errEntry)
	}
}
