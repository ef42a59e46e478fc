// Package dispatch implements the idempotent bulk-dispatch pipeline: reserve,
// fan out, commit, replay.
package dispatch

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/inkwire/inkwire/errs"
	"github.com/inkwire/inkwire/internal/domain/idempotency"
	"github.com/inkwire/inkwire/internal/domain/recipient"
	"github.com/inkwire/inkwire/internal/domain/subscriber"
	"github.com/inkwire/inkwire/internal/notify"
	"github.com/inkwire/inkwire/internal/observability"
)

// ErrReservationHeld signals that another attempt with the same key is being
// processed right now. Callers surface it as a retry-later conflict.
var ErrReservationHeld = errs.New("dispatch", errs.CodeConflict,
	errs.WithMessage("a publish with this idempotency key is already in progress"))

// PublishRequest carries one publish submission. It is transient input and is
// never stored as such.
type PublishRequest struct {
	UserID   uuid.UUID
	RawKey   string
	Title    string
	HTMLBody string
	TextBody string
}

// Result is the terminal outcome of a publish flow. Response holds the exact
// bytes to return; on a replay they are the previously committed bytes.
type Result struct {
	Response idempotency.SavedResponse
	Replayed bool
}

// Orchestrator coordinates key validation, reservation, recipient fan-out,
// and response commit.
type Orchestrator struct {
	store      idempotency.Store
	source     subscriber.Source
	notifier   notify.Notifier
	success    idempotency.SavedResponse
	deadLetter *observability.DeliveryDeadLetter
	maxWorkers int
	clock      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxWorkers bounds fan-out concurrency. Values <= 0 select GOMAXPROCS.
func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) {
		o.maxWorkers = n
	}
}

// WithDeadLetter attaches a queue collecting failed deliveries for operator
// inspection.
func WithDeadLetter(queue *observability.DeliveryDeadLetter) Option {
	return func(o *Orchestrator) {
		o.deadLetter = queue
	}
}

// WithClock overrides the internal clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewOrchestrator wires the pipeline. success is the response committed and
// returned for every successful publish, regardless of individual delivery
// failures.
func NewOrchestrator(store idempotency.Store, source subscriber.Source, notifier notify.Notifier, success idempotency.SavedResponse, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		source:     source,
		notifier:   notifier,
		success:    success.Clone(),
		deadLetter: nil,
		maxWorkers: 0,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Publish runs the end-to-end flow for one submission.
//
// A replayed response is returned byte-for-byte with zero recipient dispatch.
// A held reservation yields ErrReservationHeld with no side effects. A
// recipient-list failure or a reservation/commit failure is fatal to the
// request. Per-recipient delivery failures never are: each is logged with its
// cause chain and recorded as a tagged outcome, and processing continues.
func (o *Orchestrator) Publish(ctx context.Context, req PublishRequest) (Result, error) {
	key, err := idempotency.ParseKey(req.RawKey)
	if err != nil {
		observability.RecordPublish(ctx, observability.PublishResultError)
		return Result{}, err
	}

	logFields := []observability.Field{
		{Key: "user_id", Value: req.UserID.String()},
		{Key: "idempotency_key", Value: key.String()},
	}

	reservation, err := o.store.TryReserve(ctx, req.UserID, key)
	if err != nil {
		observability.RecordPublish(ctx, observability.PublishResultError)
		return Result{}, errs.New("dispatch", errs.CodePersistence,
			errs.WithMessage("reserve idempotency key"), errs.WithCause(err))
	}

	switch reservation.State {
	case idempotency.StateAlreadyCompleted:
		observability.Log().Info("replaying saved publish response", logFields...)
		observability.RecordPublish(ctx, observability.PublishResultReplayed)
		return Result{Response: reservation.Saved.Clone(), Replayed: true}, nil
	case idempotency.StateAlreadyReserved:
		observability.Log().Warn("publish already in progress", logFields...)
		observability.RecordPublish(ctx, observability.PublishResultConflict)
		return Result{}, ErrReservationHeld
	case idempotency.StateReserved:
		// Fall through to dispatch.
	}

	raw, err := o.source.FetchConfirmed(ctx)
	if err != nil {
		observability.RecordPublish(ctx, observability.PublishResultError)
		return Result{}, errs.New("dispatch", errs.CodeUnavailable,
			errs.WithMessage("fetch confirmed recipients"), errs.WithCause(err))
	}

	outcomes := o.fanOut(ctx, raw, notify.Message{
		Title:    req.Title,
		HTMLBody: req.HTMLBody,
		TextBody: req.TextBody,
	})
	o.recordOutcomes(ctx, outcomes, logFields)

	response := o.success.Clone()
	if err := o.store.Commit(ctx, req.UserID, key, response); err != nil {
		observability.RecordPublish(ctx, observability.PublishResultError)
		return Result{}, errs.New("dispatch", errs.CodePersistence,
			errs.WithMessage("commit publish response"), errs.WithCause(err))
	}

	observability.RecordPublish(ctx, observability.PublishResultDispatched)
	return Result{Response: response, Replayed: false}, nil
}

// fanOut delivers the message to every parseable recipient with bounded
// concurrency. Recipients keep their source order in the outcome slice; each
// worker writes only its own index.
func (o *Orchestrator) fanOut(ctx context.Context, raw []string, msg notify.Message) []DeliveryOutcome {
	outcomes := make([]DeliveryOutcome, len(raw))
	if len(raw) == 0 {
		return outcomes
	}

	workerLimit := o.maxWorkers
	if workerLimit <= 0 {
		workerLimit = runtime.GOMAXPROCS(0)
	}
	if workerLimit > len(raw) {
		workerLimit = len(raw)
	}

	p := pool.New().WithMaxGoroutines(workerLimit)
	for idx, entry := range raw {
		i := idx
		rawAddress := entry
		p.Go(func() {
			address, err := recipient.Parse(rawAddress)
			if err != nil {
				outcomes[i] = DeliveryOutcome{
					Address:      rawAddress,
					Succeeded:    false,
					Skipped:      true,
					ErrorSummary: err.Error(),
				}
				return
			}
			if err := o.notifier.Send(ctx, address, msg); err != nil {
				outcomes[i] = DeliveryOutcome{
					Address:      address.String(),
					Succeeded:    false,
					Skipped:      false,
					ErrorSummary: err.Error(),
				}
				return
			}
			outcomes[i] = DeliveryOutcome{Address: address.String(), Succeeded: true, Skipped: false, ErrorSummary: ""}
		})
	}
	p.Wait()
	return outcomes
}

// withFields copies base before appending so outcomes never share a backing
// array through the passed slice's spare capacity.
func withFields(base []observability.Field, extra ...observability.Field) []observability.Field {
	out := make([]observability.Field, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

func (o *Orchestrator) recordOutcomes(ctx context.Context, outcomes []DeliveryOutcome, base []observability.Field) {
	for _, outcome := range outcomes {
		switch {
		case outcome.Succeeded:
			observability.RecordDelivery(ctx, observability.DeliveryResultSent)
		case outcome.Skipped:
			observability.RecordDelivery(ctx, observability.DeliveryResultSkipped)
			observability.Log().Warn("skipping recipient with invalid stored address",
				withFields(base, observability.Field{Key: "cause", Value: outcome.ErrorSummary})...)
		default:
			observability.RecordDelivery(ctx, observability.DeliveryResultFailed)
			observability.Log().Error("newsletter delivery failed",
				withFields(base,
					observability.Field{Key: "recipient", Value: outcome.Address},
					observability.Field{Key: "cause", Value: outcome.ErrorSummary})...)
			if o.deadLetter != nil {
				o.deadLetter.Offer(observability.FailedDelivery{
					Address:    outcome.Address,
					Reason:     outcome.ErrorSummary,
					OccurredAt: o.clock(),
				})
			}
		}
	}
}
