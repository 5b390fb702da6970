/*
reconciler.go - Periodic WIP reconciliation

PURPOSE:
  Sync failures never fail a time-record write; they are only logged. The
  reconciler is the safety net: on an interval it asks the store for time
  records whose WIP entry is missing or behind, and re-syncs them.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs one pass immediately on start
  - Each pass handles at most BatchSize records
  - With a Queue the records are enqueued as update tasks; without one
    they are synced inline
  - Frozen (billed / written off) entries are never reported stale

CONFIGURATION:
  - Interval:  How often to check (default: 5 minutes)
  - BatchSize: Records per pass (default: 500)

USAGE:
  r := NewReconciler(store, engine.Synchronizer(), queue, cfg, logger)
  r.Start(ctx)
  // ... later
  r.Stop()

SEE ALSO:
  - worker.go: Drains the queue
  - billing/store.go: StaleTimeRecords
*/
package wipsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/billing-engine/billing"
)

// StaleFinder is the slice of billing.Store the reconciler reads.
type StaleFinder interface {
	StaleTimeRecords(ctx context.Context, limit int) ([]billing.TimeRecordID, error)
}

// ReconcilerConfig holds reconciler settings.
type ReconcilerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultReconcilerConfig returns default configuration.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{Interval: 5 * time.Minute, BatchSize: 500}
}

// ReconcileRun summarizes one pass.
type ReconcileRun struct {
	StartedAt time.Time
	Found     int
	Repaired  int
	Failed    int
}

// Reconciler re-syncs time records whose WIP fell behind.
type Reconciler struct {
	store  StaleFinder
	syncer Syncer
	queue  Queue // nil syncs inline
	config ReconcilerConfig
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	last   *ReconcileRun
}

// NewReconciler creates a reconciler. queue may be nil.
func NewReconciler(store StaleFinder, syncer Syncer, queue Queue, config ReconcilerConfig, logger *zap.Logger) *Reconciler {
	def := DefaultReconcilerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, syncer: syncer, queue: queue, config: config, logger: logger}
}

// Start begins periodic passes.
func (rc *Reconciler) Start(ctx context.Context) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	rc.cancel = cancel
	rc.wg.Add(1)
	go rc.run(ctx)

	rc.logger.Info("reconciler started", zap.Duration("interval", rc.config.Interval))
}

// Stop stops the reconciler and waits for a running pass.
func (rc *Reconciler) Stop() {
	rc.mu.Lock()
	cancel := rc.cancel
	rc.cancel = nil
	rc.mu.Unlock()

	if cancel != nil {
		cancel()
		rc.wg.Wait()
		rc.logger.Info("reconciler stopped")
	}
}

// LastRun returns the most recent pass, or nil.
func (rc *Reconciler) LastRun() *ReconcileRun {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.last == nil {
		return nil
	}
	run := *rc.last
	return &run
}

func (rc *Reconciler) run(ctx context.Context) {
	defer rc.wg.Done()

	ticker := time.NewTicker(rc.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	rc.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			rc.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single pass.
func (rc *Reconciler) RunOnce(ctx context.Context) ReconcileRun {
	run := ReconcileRun{StartedAt: time.Now()}
	defer func() {
		rc.mu.Lock()
		rc.last = &run
		rc.mu.Unlock()
	}()

	ids, err := rc.store.StaleTimeRecords(ctx, rc.config.BatchSize)
	if err != nil {
		rc.logger.Error("failed to find stale time records", zap.Error(err))
		return run
	}
	run.Found = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		task := billing.SyncTask{
			ID:           uuid.NewString(),
			TimeRecordID: id,
			Kind:         billing.SyncUpdated,
			EnqueuedAt:   time.Now(),
		}
		if err := rc.dispatch(ctx, task); err != nil {
			run.Failed++
			rc.logger.Warn("failed to reconcile time record",
				zap.Int64("time_record_id", int64(id)),
				zap.Error(err),
			)
			continue
		}
		run.Repaired++
	}

	if run.Found > 0 {
		rc.logger.Info("reconciliation pass",
			zap.Int("found", run.Found),
			zap.Int("repaired", run.Repaired),
			zap.Int("failed", run.Failed),
		)
	}
	return run
}

func (rc *Reconciler) dispatch(ctx context.Context, task billing.SyncTask) error {
	if rc.queue != nil {
		if err := rc.queue.Enqueue(ctx, task); err == nil {
			return nil
		}
	}
	return rc.syncer.Sync(ctx, task)
}
