/*
ledger.go - Ledger state machine and WIP write-off

STATES:
  ┌───────┐  post   ┌────────┐  settle   ┌──────┐
  │ draft │ ──────▶ │ posted │ ────────▶ │ paid │
  └───────┘         └────────┘ ◀──────── └──────┘
      │                         unsettle
      │ delete (reverts WIP to unbilled and resyncs it, removes the invoice)
      ▼
   (gone)

RULES:
  - Post on posted/paid is a no-op (Changed=false); on a missing ledger it
    fails ErrNotDraft
  - Settle on paid is a no-op; on draft it fails ErrNotPosted
  - Unsettle only from paid, clearing paid_at
  - Delete only from draft
  - Status changes are compare-and-set, so concurrent callers cannot both win
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/billing-engine/scope"
)

// Transition is the ledger after a state-machine call. Changed is false
// when the call was an idempotent no-op.
type Transition struct {
	Ledger  LedgerRecord
	Changed bool
}

// PostInvoice moves the ledger draft → posted.
func (e *Engine) PostInvoice(ctx context.Context, actor scope.Actor, id InvoiceID) (*Transition, error) {
	return e.transition(ctx, actor, id, scope.PostOrDeleteInvoice, "post", ErrNotDraft,
		func(ctx context.Context, tx Store, l *LedgerRecord) (bool, error) {
			switch l.Status {
			case LedgerPosted, LedgerPaid:
				return false, nil
			case LedgerDraft:
				return true, e.move(ctx, tx, l, LedgerPosted, l.PaidAt)
			}
			return false, &TransitionError{InvoiceID: id, Op: "post", From: l.Status, Err: ErrNotDraft}
		})
}

// SettleInvoice moves the ledger posted → paid and stamps paid_at.
func (e *Engine) SettleInvoice(ctx context.Context, actor scope.Actor, id InvoiceID) (*Transition, error) {
	return e.transition(ctx, actor, id, scope.MarkPaid, "settle", ErrNotPosted,
		func(ctx context.Context, tx Store, l *LedgerRecord) (bool, error) {
			switch l.Status {
			case LedgerPaid:
				return false, nil
			case LedgerPosted:
				paidAt := e.now()
				return true, e.move(ctx, tx, l, LedgerPaid, &paidAt)
			}
			return false, &TransitionError{InvoiceID: id, Op: "settle", From: l.Status, Err: ErrNotPosted}
		})
}

// UnsettleInvoice moves the ledger paid → posted and clears paid_at.
func (e *Engine) UnsettleInvoice(ctx context.Context, actor scope.Actor, id InvoiceID) (*Transition, error) {
	return e.transition(ctx, actor, id, scope.MarkPaid, "unsettle", ErrNotPaid,
		func(ctx context.Context, tx Store, l *LedgerRecord) (bool, error) {
			if l.Status != LedgerPaid {
				return false, &TransitionError{InvoiceID: id, Op: "unsettle", From: l.Status, Err: ErrNotPaid}
			}
			return true, e.move(ctx, tx, l, LedgerPosted, nil)
		})
}

type ledgerStep func(ctx context.Context, tx Store, l *LedgerRecord) (changed bool, err error)

func (e *Engine) transition(ctx context.Context, actor scope.Actor, id InvoiceID, need scope.Capability, op string, missing error, step ledgerStep) (*Transition, error) {
	caps := e.resolve(actor)
	if !caps.Can(need) {
		return nil, unauthorized(actor, need, "")
	}

	var out Transition
	err := e.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetInvoice(ctx, id); err != nil {
			return fmt.Errorf("invoice %d: %w", id, err)
		}
		ledger, err := tx.GetLedgerByInvoice(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return &TransitionError{InvoiceID: id, Op: op, Err: missing}
		}
		if err != nil {
			return err
		}

		changed, err := step(ctx, tx, ledger)
		if err != nil {
			return err
		}
		out = Transition{Ledger: *ledger, Changed: changed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Changed {
		e.logger.Info("ledger "+op,
			zap.Int64("invoice_id", int64(id)),
			zap.String("status", string(out.Ledger.Status)),
			zap.String("actor", actor.UserID),
		)
	}
	return &out, nil
}

// move applies a compare-and-set status change and updates l in place.
func (e *Engine) move(ctx context.Context, tx Store, l *LedgerRecord, to LedgerStatus, paidAt *time.Time) error {
	ok, err := tx.TransitionLedger(ctx, l.ID, l.Status, to, paidAt)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: ledger %d left %s", ErrConcurrentModification, l.ID, l.Status)
	}
	l.Status = to
	l.PaidAt = paidAt
	return nil
}

// DeleteDraftInvoice reverts an invoice's WIP to unbilled and removes the
// invoice with its lines and ledger.
func (e *Engine) DeleteDraftInvoice(ctx context.Context, actor scope.Actor, id InvoiceID) error {
	caps := e.resolve(actor)
	if !caps.Can(scope.PostOrDeleteInvoice) {
		return unauthorized(actor, scope.PostOrDeleteInvoice, "")
	}

	var reverted []TimeRecordID
	err := e.store.WithTx(ctx, func(tx Store) error {
		reverted = reverted[:0]
		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return fmt.Errorf("invoice %d: %w", id, err)
		}
		ledger, err := tx.GetLedgerByInvoice(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return &TransitionError{InvoiceID: id, Op: "delete", Err: ErrNotDraft}
		}
		if err != nil {
			return err
		}
		if ledger.Status != LedgerDraft {
			return &TransitionError{InvoiceID: id, Op: "delete", From: ledger.Status, Err: ErrNotDraft}
		}

		lines, err := tx.ListInvoiceLines(ctx, id)
		if err != nil {
			return err
		}
		ids := make([]WIPEntryID, len(lines))
		for i, l := range lines {
			ids[i] = l.WIPEntryID
			w, err := tx.GetWIP(ctx, l.WIPEntryID)
			if err != nil {
				return fmt.Errorf("WIP entry %d: %w", l.WIPEntryID, err)
			}
			reverted = append(reverted, w.TimeRecordID())
		}
		n, err := tx.TransitionWIP(ctx, ids, WIPBilled, WIPUnbilled, e.now())
		if err != nil {
			return fmt.Errorf("revert WIP: %w", err)
		}
		if n != len(ids) {
			return e.invariant("invoice line WIP not billed",
				zap.String("number", inv.Number),
				zap.Int("lines", len(ids)),
				zap.Int("reverted", n),
			)
		}
		return tx.DeleteInvoice(ctx, id)
	})
	if err != nil {
		return err
	}

	// Edits made while the entries were billed were never copied over.
	for _, trID := range reverted {
		e.afterCommit(ctx, trID, SyncUpdated)
	}

	e.logger.Info("draft invoice deleted",
		zap.Int64("invoice_id", int64(id)),
		zap.String("actor", actor.UserID),
		zap.Int("reverted", len(reverted)),
	)
	return nil
}

// WriteOffWIP marks an unbilled entry as never to be billed.
func (e *Engine) WriteOffWIP(ctx context.Context, actor scope.Actor, id WIPEntryID) (*WIPEntry, error) {
	caps := e.resolve(actor)
	if !caps.Can(scope.PostOrDeleteInvoice) {
		return nil, unauthorized(actor, scope.PostOrDeleteInvoice, "")
	}

	var out *WIPEntry
	err := e.store.WithTx(ctx, func(tx Store) error {
		w, err := tx.GetWIP(ctx, id)
		if err != nil {
			return fmt.Errorf("WIP %d: %w", id, err)
		}
		if w.Status != WIPUnbilled {
			return fmt.Errorf("%w: WIP %d is %s", ErrWIPNotUnbilled, id, w.Status)
		}
		now := e.now()
		n, err := tx.TransitionWIP(ctx, []WIPEntryID{id}, WIPUnbilled, WIPWrittenOff, now)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("%w: WIP %d", ErrConcurrentModification, id)
		}
		w.Status = WIPWrittenOff
		w.UpdatedAt = now
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
