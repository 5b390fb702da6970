/*
engine.go - Entry point for every billing operation

PURPOSE:
  Engine owns a TxStore and exposes the operations the outer surface
  calls: record time, build invoices, drive the ledger, and list what
  is billable. Every mutating operation follows the same shape:

    1. Resolve the actor's capabilities once
    2. Validate input and authorize before touching anything
    3. Do all writes inside one WithTx
    4. Run post-commit work (WIP sync) only after the commit succeeded

POST-COMMIT SYNC:
  A committed time-record write schedules a SyncTask. With an Enqueuer
  configured the task goes to a queue drained by wipsync.Worker; without
  one (or if enqueueing fails) the synchronizer runs inline. Sync
  failures are logged and never fail the time-record write.

USAGE:
  engine := billing.NewEngine(store,
      billing.WithLogger(logger),
      billing.WithEnqueuer(queue),
  )
  tr, err := engine.RecordTime(ctx, actor, billing.TimeInput{...})

SEE ALSO:
  - timerecord.go, invoice.go, ledger.go, query.go: The operations
  - sync.go: The WIP synchronizer
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/billing-engine/scope"
)

// DefaultNumberRetries is how many times CreateInvoice retries an invoice
// number collision before giving up with ErrTransient.
const DefaultNumberRetries = 3

// Enqueuer accepts post-commit sync work.
type Enqueuer interface {
	Enqueue(ctx context.Context, task SyncTask) error
}

type Engine struct {
	store         TxStore
	policy        scope.Policy
	queue         Enqueuer
	sync          *Synchronizer
	logger        *zap.Logger
	now           func() time.Time
	numberRetries int
}

type Option func(*Engine)

// WithPolicy overrides scope.DefaultPolicy.
func WithPolicy(p scope.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithEnqueuer defers WIP sync to a queue. A nil queue means inline sync.
func WithEnqueuer(q Enqueuer) Option {
	return func(e *Engine) { e.queue = q }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithNumberRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.numberRetries = n
		}
	}
}

// NewEngine creates an engine over store.
func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		policy:        scope.DefaultPolicy(),
		logger:        zap.NewNop(),
		now:           time.Now,
		numberRetries: DefaultNumberRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sync = NewSynchronizer(store, e.logger.Named("wipsync"), e.now)
	return e
}

// Synchronizer returns the engine's WIP synchronizer, for queue workers.
func (e *Engine) Synchronizer() *Synchronizer { return e.sync }

// Store returns the underlying store.
func (e *Engine) Store() TxStore { return e.store }

func (e *Engine) resolve(actor scope.Actor) scope.CapabilitySet {
	return scope.Resolve(actor, e.policy)
}

// afterCommit schedules WIP sync for a committed time-record write.
func (e *Engine) afterCommit(ctx context.Context, id TimeRecordID, kind SyncKind) {
	task := SyncTask{
		ID:           uuid.NewString(),
		TimeRecordID: id,
		Kind:         kind,
		EnqueuedAt:   e.now(),
	}

	if e.queue != nil {
		err := e.queue.Enqueue(ctx, task)
		if err == nil {
			return
		}
		e.logger.Warn("enqueue WIP sync failed, syncing inline",
			zap.String("task_id", task.ID),
			zap.Int64("time_record_id", int64(id)),
			zap.Error(err),
		)
	}

	if err := e.sync.Sync(ctx, task); err != nil {
		e.logger.Error("WIP sync failed",
			zap.String("task_id", task.ID),
			zap.Int64("time_record_id", int64(id)),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// invariant logs a violated invariant with a stack trace and returns an
// error wrapping ErrInvariantViolation.
func (e *Engine) invariant(msg string, fields ...zap.Field) error {
	e.logger.Error("invariant violation: "+msg, append(fields, zap.Stack("stack"))...)
	return &invariantError{msg: msg}
}

type invariantError struct{ msg string }

func (e *invariantError) Error() string { return "invariant violation: " + e.msg }
func (e *invariantError) Unwrap() error { return ErrInvariantViolation }
