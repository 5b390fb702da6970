package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

// TimeInput is a new time record. ClientID may be zero, in which case the
// matter's client is used. FeeEarnerID zero means the actor's own person.
type TimeInput struct {
	ClientID    ClientID
	MatterID    MatterID
	FeeEarnerID PersonID
	Activity    string
	Hours       string
	Narrative   string
}

// TimePatch changes an existing time record. Nil fields are left alone.
type TimePatch struct {
	MatterID    *MatterID
	FeeEarnerID *PersonID
	Activity    *string
	Hours       *string
	Narrative   *string
}

// RecordTime validates and stores a time record, then schedules WIP sync.
func (e *Engine) RecordTime(ctx context.Context, actor scope.Actor, in TimeInput) (*TimeRecord, error) {
	caps := e.resolve(actor)
	if !caps.Can(scope.LogTime) {
		return nil, unauthorized(actor, scope.LogTime, "")
	}

	hours, err := parseBillableHours(in.Hours)
	if err != nil {
		return nil, err
	}
	if in.MatterID == 0 {
		return nil, fmt.Errorf("%w: matter is required", ErrInvalidInput)
	}

	feeEarner := in.FeeEarnerID
	if feeEarner == 0 {
		feeEarner = PersonID(actor.PersonID)
	}
	if feeEarner == 0 {
		return nil, fmt.Errorf("%w: fee earner is required", ErrInvalidInput)
	}
	if !caps.CanRecordFor(int64(feeEarner)) {
		return nil, unauthorized(actor, scope.LogTime, "may only record own time")
	}

	now := e.now()
	tr := &TimeRecord{
		Work: Work{
			FeeEarnerID: feeEarner,
			MatterID:    in.MatterID,
			Activity:    strings.TrimSpace(in.Activity),
			Hours:       hours,
			Narrative:   strings.TrimSpace(in.Narrative),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = e.store.WithTx(ctx, func(tx Store) error {
		matter, err := e.openMatter(ctx, tx, in.MatterID, in.ClientID)
		if err != nil {
			return err
		}
		if _, err := tx.GetPerson(ctx, feeEarner); err != nil {
			return fmt.Errorf("fee earner %d: %w", feeEarner, err)
		}
		tr.ClientID = matter.ClientID
		return tx.InsertTimeRecord(ctx, tr)
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, tr.ID, SyncCreated)
	return tr, nil
}

// UpdateTimeRecord applies a patch. Edits are always accepted; whether they
// reach the WIP entry depends on the entry still being unbilled.
func (e *Engine) UpdateTimeRecord(ctx context.Context, actor scope.Actor, id TimeRecordID, patch TimePatch) (*TimeRecord, error) {
	caps := e.resolve(actor)
	if !caps.Can(scope.LogTime) {
		return nil, unauthorized(actor, scope.LogTime, "")
	}

	var hours *money.Hours
	if patch.Hours != nil {
		h, err := parseBillableHours(*patch.Hours)
		if err != nil {
			return nil, err
		}
		hours = &h
	}

	var updated *TimeRecord
	err := e.store.WithTx(ctx, func(tx Store) error {
		tr, err := tx.GetTimeRecord(ctx, id)
		if err != nil {
			return err
		}
		if !caps.CanRecordFor(int64(tr.FeeEarnerID)) {
			return unauthorized(actor, scope.LogTime, "may only edit own time")
		}

		if patch.FeeEarnerID != nil && *patch.FeeEarnerID != tr.FeeEarnerID {
			if !caps.CanRecordFor(int64(*patch.FeeEarnerID)) {
				return unauthorized(actor, scope.LogTime, "may only record own time")
			}
			if _, err := tx.GetPerson(ctx, *patch.FeeEarnerID); err != nil {
				return fmt.Errorf("fee earner %d: %w", *patch.FeeEarnerID, err)
			}
			tr.FeeEarnerID = *patch.FeeEarnerID
		}
		if patch.MatterID != nil && *patch.MatterID != tr.MatterID {
			matter, err := e.openMatter(ctx, tx, *patch.MatterID, 0)
			if err != nil {
				return err
			}
			tr.MatterID = matter.ID
			tr.ClientID = matter.ClientID
		}
		if patch.Activity != nil {
			tr.Activity = strings.TrimSpace(*patch.Activity)
		}
		if patch.Narrative != nil {
			tr.Narrative = strings.TrimSpace(*patch.Narrative)
		}
		if hours != nil {
			tr.Hours = *hours
		}
		tr.UpdatedAt = e.now()

		if err := tx.UpdateTimeRecord(ctx, tr); err != nil {
			return err
		}
		updated = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, updated.ID, SyncUpdated)
	return updated, nil
}

// openMatter loads a matter that can accept time, checking it belongs to
// clientID when one is given.
func (e *Engine) openMatter(ctx context.Context, tx Store, id MatterID, clientID ClientID) (*Matter, error) {
	matter, err := tx.GetMatter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("matter %d: %w", id, err)
	}
	if clientID != 0 && matter.ClientID != clientID {
		return nil, fmt.Errorf("%w: matter %s, client %d", ErrCrossClientMismatch, matter.Number, clientID)
	}
	if matter.IsClosed() {
		return nil, fmt.Errorf("%w: %s", ErrMatterClosed, matter.Number)
	}
	return matter, nil
}

func parseBillableHours(s string) (money.Hours, error) {
	h, err := money.ParseHours(strings.TrimSpace(s))
	if errors.Is(err, money.ErrNegative) {
		return money.Hours{}, ErrInvalidHours
	}
	if err != nil {
		if errors.Is(err, money.ErrInvalidIncrement) {
			return money.Hours{}, err
		}
		return money.Hours{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if h.IsZero() {
		return money.Hours{}, ErrInvalidHours
	}
	return h, nil
}
