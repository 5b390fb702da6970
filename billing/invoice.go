/*
invoice.go - Builds an invoice from selected WIP

PURPOSE:
  Turns a selection of unbilled WIP entries into an Invoice, one
  InvoiceLine per entry, and a draft LedgerRecord, flipping the entries
  to billed. Either all of that commits or none of it does.

ALGORITHM:
  1. Authorize (can_create_invoice; matter must belong to the client and,
     for lead-scoped actors, be led by them)
  2. In one transaction:
     a. Allocate the next invoice number
     b. Re-read the selection, keeping only entries that are still
        unbilled and belong to the client (and matter, if given)
     c. Snapshot each entry's hours and its fee earner's role rate
     d. Flip the entries unbilled → billed with a compare-and-set
     e. Write the draft ledger with the computed totals
  3. If another creator took the same number, retry from 2

RATES:
  A fee earner without a role, or whose role has no rate, bills at 0.00.

SEE ALSO:
  - sequence.go: Number allocation
  - money/money.go: Line and tax rounding
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

// InvoiceInput selects WIP to bill. MatterID zero bills across the client.
type InvoiceInput struct {
	ClientID ClientID
	MatterID MatterID
	WIPIDs   []WIPEntryID
	Date     time.Time
	TaxRate  money.Percent
	Notes    string
}

// CreateInvoice builds and persists an invoice with its draft ledger.
func (e *Engine) CreateInvoice(ctx context.Context, actor scope.Actor, in InvoiceInput) (*InvoiceDetail, error) {
	caps := e.resolve(actor)
	if !caps.Can(scope.CreateInvoice) {
		return nil, unauthorized(actor, scope.CreateInvoice, "")
	}

	ids := dedupeWIP(in.WIPIDs)
	if len(ids) == 0 {
		return nil, ErrNoBillableItems
	}
	if _, err := e.store.GetClient(ctx, in.ClientID); err != nil {
		return nil, fmt.Errorf("client %d: %w", in.ClientID, err)
	}
	if in.MatterID != 0 {
		matter, err := e.store.GetMatter(ctx, in.MatterID)
		if err != nil {
			return nil, fmt.Errorf("matter %d: %w", in.MatterID, err)
		}
		if matter.ClientID != in.ClientID {
			return nil, fmt.Errorf("%w: matter %s, client %d", ErrCrossClientMismatch, matter.Number, in.ClientID)
		}
		if !caps.CanBillMatter(int64(matter.LeadFeeEarnerID)) {
			return nil, unauthorized(actor, scope.CreateInvoice, "not the lead fee earner for "+matter.Number)
		}
	}

	if in.Date.IsZero() {
		in.Date = e.now()
	}
	in.Date = truncateDay(in.Date)

	for attempt := 1; attempt <= e.numberRetries; attempt++ {
		detail, err := e.buildInvoice(ctx, actor, in, ids)
		if errors.Is(err, ErrDuplicateInvoiceNumber) {
			e.logger.Warn("invoice number collision, retrying",
				zap.Int("attempt", attempt),
				zap.Int64("client_id", int64(in.ClientID)),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		e.logger.Info("invoice created",
			zap.String("number", detail.Invoice.Number),
			zap.Int64("invoice_id", int64(detail.Invoice.ID)),
			zap.Int("lines", len(detail.Lines)),
			zap.String("total", detail.Ledger.Totals.Total.String()),
			zap.String("actor", actor.UserID),
		)
		return detail, nil
	}
	return nil, fmt.Errorf("%w: invoice number collided %d times", ErrTransient, e.numberRetries)
}

func (e *Engine) buildInvoice(ctx context.Context, actor scope.Actor, in InvoiceInput, ids []WIPEntryID) (*InvoiceDetail, error) {
	var detail *InvoiceDetail

	err := e.store.WithTx(ctx, func(tx Store) error {
		number, err := NextInvoiceNumber(ctx, tx)
		if err != nil {
			return err
		}

		candidates, err := tx.UnbilledWIP(ctx, ids)
		if err != nil {
			return fmt.Errorf("load WIP: %w", err)
		}
		entries := make([]WIPEntry, 0, len(candidates))
		for _, w := range candidates {
			if w.ClientID != in.ClientID {
				continue
			}
			if in.MatterID != 0 && w.MatterID != in.MatterID {
				continue
			}
			entries = append(entries, w)
		}
		if dropped := len(ids) - len(entries); dropped > 0 {
			e.logger.Info("WIP selection narrowed",
				zap.Int("requested", len(ids)),
				zap.Int("billable", len(entries)),
			)
		}
		if len(entries) == 0 {
			return ErrNoBillableItems
		}

		now := e.now()
		inv := &Invoice{
			Number:    number,
			ClientID:  in.ClientID,
			MatterID:  in.MatterID,
			Date:      in.Date,
			Notes:     strings.TrimSpace(in.Notes),
			TaxRate:   in.TaxRate,
			CreatedBy: actor.UserID,
			CreatedAt: now,
		}
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}

		pricer := newPricer(tx)
		lines := make([]InvoiceLine, 0, len(entries))
		billed := make([]WIPEntryID, 0, len(entries))
		for _, w := range entries {
			rate, err := pricer.rate(ctx, w.FeeEarnerID)
			if err != nil {
				return err
			}
			desc, err := pricer.describe(ctx, w)
			if err != nil {
				return err
			}
			lines = append(lines, InvoiceLine{
				InvoiceID:   inv.ID,
				WIPEntryID:  w.ID,
				Description: desc,
				Hours:       w.Hours,
				Rate:        rate,
				Amount:      money.Extend(w.Hours, rate),
			})
			billed = append(billed, w.ID)
		}
		if err := tx.InsertInvoiceLines(ctx, lines); err != nil {
			return err
		}

		n, err := tx.TransitionWIP(ctx, billed, WIPUnbilled, WIPBilled, now)
		if err != nil {
			return fmt.Errorf("mark WIP billed: %w", err)
		}
		if n != len(billed) {
			return fmt.Errorf("%w: %d of %d WIP entries changed while invoicing", ErrConcurrentModification, len(billed)-n, len(billed))
		}

		ledger := &LedgerRecord{
			InvoiceID: inv.ID,
			ClientID:  inv.ClientID,
			MatterID:  inv.MatterID,
			Totals:    inv.Totals(lines),
			Status:    LedgerDraft,
			CreatedAt: now,
		}
		if err := tx.InsertLedger(ctx, ledger); err != nil {
			return err
		}

		detail = &InvoiceDetail{Invoice: *inv, Lines: lines, Ledger: *ledger}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// =============================================================================
// PRICING
// =============================================================================

// pricer caches role rates and matter numbers for one invoice build.
type pricer struct {
	tx      Store
	rates   map[PersonID]money.Amount
	matters map[MatterID]string
}

func newPricer(tx Store) *pricer {
	return &pricer{
		tx:      tx,
		rates:   make(map[PersonID]money.Amount),
		matters: make(map[MatterID]string),
	}
}

func (p *pricer) rate(ctx context.Context, id PersonID) (money.Amount, error) {
	if r, ok := p.rates[id]; ok {
		return r, nil
	}
	rate := money.Zero
	person, err := p.tx.GetPerson(ctx, id)
	if err != nil {
		return money.Zero, fmt.Errorf("fee earner %d: %w", id, err)
	}
	if person.RoleID != 0 {
		role, err := p.tx.GetRole(ctx, person.RoleID)
		switch {
		case err == nil:
			rate = role.Rate
		case !errors.Is(err, ErrNotFound):
			return money.Zero, fmt.Errorf("role %d: %w", person.RoleID, err)
		}
	}
	p.rates[id] = rate
	return rate, nil
}

// describe is the narrative, or "<matter number> — <activity or Work>".
func (p *pricer) describe(ctx context.Context, w WIPEntry) (string, error) {
	if n := strings.TrimSpace(w.Narrative); n != "" {
		return n, nil
	}
	number, ok := p.matters[w.MatterID]
	if !ok {
		m, err := p.tx.GetMatter(ctx, w.MatterID)
		if err != nil {
			return "", fmt.Errorf("matter %d: %w", w.MatterID, err)
		}
		number = m.Number
		p.matters[w.MatterID] = number
	}
	activity := strings.TrimSpace(w.Activity)
	if activity == "" {
		activity = "Work"
	}
	return number + " — " + activity, nil
}

// ParseTaxRate parses a percentage; empty means 0.
func ParseTaxRate(s string) (money.Percent, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return money.Percent{}, nil
	}
	p, err := money.ParsePercent(s)
	if err != nil {
		return money.Percent{}, fmt.Errorf("%w: %w", ErrInvalidTaxRate, err)
	}
	return p, nil
}

func dedupeWIP(ids []WIPEntryID) []WIPEntryID {
	seen := make(map[WIPEntryID]bool, len(ids))
	out := make([]WIPEntryID, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
