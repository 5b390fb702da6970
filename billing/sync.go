/*
sync.go - Keeps WIP entries in step with their time records

PURPOSE:
  After a time record commits, its WIP entry must exist and, while the
  entry is still unbilled, mirror the record's billing fields. Once the
  entry is billed or written off it is frozen: later time-record edits
  are accepted but never reach the invoice.

BEHAVIOUR:
  ┌─────────┬──────────────────┬────────────────────────────────────────┐
  │ kind    │ WIP state        │ action                                 │
  ├─────────┼──────────────────┼────────────────────────────────────────┤
  │ any     │ missing          │ create unbilled entry                  │
  │ created │ exists           │ nothing (get-or-create)                │
  │ updated │ unbilled         │ write only the changed fields          │
  │ updated │ billed / w/o     │ nothing, logged                        │
  └─────────┴──────────────────┴────────────────────────────────────────┘

IDEMPOTENCY:
  Tasks may be delivered more than once or concurrently. Creation races
  are settled by the store's one-WIP-per-record uniqueness: the loser
  sees ErrDuplicateWIP and treats it as success.

SEE ALSO:
  - engine.go: Schedules tasks after commit
  - wipsync/worker.go: Drains queued tasks
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type SyncKind string

const (
	SyncCreated SyncKind = "created"
	SyncUpdated SyncKind = "updated"
)

// SyncTask asks for the WIP entry of one time record to be reconciled.
type SyncTask struct {
	ID           string       `json:"id"`
	TimeRecordID TimeRecordID `json:"time_record_id"`
	Kind         SyncKind     `json:"kind"`
	EnqueuedAt   time.Time    `json:"enqueued_at"`
	Attempt      int          `json:"attempt"`
}

type Synchronizer struct {
	store  TxStore
	logger *zap.Logger
	now    func() time.Time
}

func NewSynchronizer(store TxStore, logger *zap.Logger, now func() time.Time) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{store: store, logger: logger, now: now}
}

// Sync reconciles the WIP entry for task.TimeRecordID. It is safe to call
// any number of times for the same task.
func (s *Synchronizer) Sync(ctx context.Context, task SyncTask) error {
	log := s.logger.With(
		zap.String("task_id", task.ID),
		zap.Int64("time_record_id", int64(task.TimeRecordID)),
		zap.String("kind", string(task.Kind)),
	)

	return s.store.WithTx(ctx, func(tx Store) error {
		tr, err := tx.GetTimeRecord(ctx, task.TimeRecordID)
		if err != nil {
			return fmt.Errorf("load time record: %w", err)
		}

		wip, err := tx.GetWIPByTimeRecord(ctx, tr.ID)
		if errors.Is(err, ErrNotFound) {
			return s.create(ctx, tx, *tr, log)
		}
		if err != nil {
			return fmt.Errorf("load WIP entry: %w", err)
		}

		if task.Kind == SyncCreated {
			return nil
		}
		if wip.Status.IsFrozen() {
			log.Info("WIP entry frozen, time record edit not propagated",
				zap.Int64("wip_id", int64(wip.ID)),
				zap.String("status", string(wip.Status)),
			)
			return nil
		}

		changed := wip.Work.Diff(tr.Work)
		if len(changed) == 0 && !wip.UpdatedAt.Before(tr.UpdatedAt) {
			return nil
		}
		// An empty field list still stamps updated_at, which clears the
		// record from StaleTimeRecords.
		at := s.now()
		if at.Before(tr.UpdatedAt) {
			at = tr.UpdatedAt
		}
		if err := tx.UpdateWIPWork(ctx, wip.ID, tr.Work, changed, at); err != nil {
			return fmt.Errorf("update WIP entry: %w", err)
		}
		log.Debug("WIP entry updated",
			zap.Int64("wip_id", int64(wip.ID)),
			zap.Strings("fields", changed),
		)
		return nil
	})
}

func (s *Synchronizer) create(ctx context.Context, tx Store, tr TimeRecord, log *zap.Logger) error {
	entry := NewWIPEntry(tr, s.now())
	err := tx.InsertWIP(ctx, &entry)
	if errors.Is(err, ErrDuplicateWIP) {
		log.Debug("WIP entry created concurrently")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create WIP entry: %w", err)
	}
	log.Debug("WIP entry created", zap.Int64("wip_id", int64(entry.ID)))
	return nil
}
