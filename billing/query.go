package billing

import (
	"context"
	"fmt"

	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

// Invoice listing page sizes.
const (
	DefaultPageSize = 25
	MaxPageSize     = 250
)

// DefaultTimeRecordLimit caps ListTimeRecords when no limit is given.
const DefaultTimeRecordLimit = 50

// ListUnbilledWIP returns unbilled entries the actor may see. Actors without
// firm-wide visibility see only their own entries and their delegates'.
func (e *Engine) ListUnbilledWIP(ctx context.Context, actor scope.Actor, filter WIPFilter) ([]WIPEntry, error) {
	caps := e.resolve(actor)
	filter.Status = WIPUnbilled

	if !caps.Can(scope.ViewAllWIP) {
		if !actor.HasPerson() {
			return nil, unauthorized(actor, scope.ViewAllWIP, "no person record")
		}
		if filter.FeeEarnerID != 0 && !caps.CanViewWIPOf(int64(filter.FeeEarnerID)) {
			return nil, unauthorized(actor, scope.ViewAllWIP, "not a delegate")
		}
		filter.FeeEarners = overseen(actor)
	}
	return e.store.ListWIP(ctx, filter)
}

// ListTimeRecords returns recent time records, newest first, with the same
// visibility rules as ListUnbilledWIP.
func (e *Engine) ListTimeRecords(ctx context.Context, actor scope.Actor, filter TimeRecordFilter) ([]TimeRecord, error) {
	caps := e.resolve(actor)
	if filter.Limit <= 0 {
		filter.Limit = DefaultTimeRecordLimit
	}

	if !caps.Can(scope.ViewAllWIP) {
		if !actor.HasPerson() {
			return nil, unauthorized(actor, scope.LogTime, "no person record")
		}
		if filter.FeeEarnerID != 0 && !caps.CanViewWIPOf(int64(filter.FeeEarnerID)) {
			return nil, unauthorized(actor, scope.LogTime, "not a delegate")
		}
		filter.FeeEarners = overseen(actor)
	}
	return e.store.ListTimeRecords(ctx, filter)
}

// ListInvoices returns one page of invoices with aggregate totals over every
// match and a running total per row.
func (e *Engine) ListInvoices(ctx context.Context, actor scope.Actor, filter InvoiceFilter) (*InvoicePage, error) {
	caps := e.resolve(actor)
	if !caps.Can(scope.ViewInvoice) {
		return nil, unauthorized(actor, scope.ViewInvoice, "")
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, filter.Status)
	}

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	rows, err := e.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}

	running := zeroTotals()
	for i := range rows {
		running = running.Add(rows[i].Totals)
		rows[i].Running = running
	}

	start := (page - 1) * size
	if start > len(rows) {
		start = len(rows)
	}
	end := start + size
	if end > len(rows) {
		end = len(rows)
	}

	return &InvoicePage{
		Items:    rows[start:end],
		Page:     page,
		PageSize: size,
		Total:    len(rows),
		Totals:   running,
	}, nil
}

// GetInvoice returns an invoice with its lines and ledger.
func (e *Engine) GetInvoice(ctx context.Context, actor scope.Actor, id InvoiceID) (*InvoiceDetail, error) {
	caps := e.resolve(actor)
	if !caps.Can(scope.ViewInvoice) {
		return nil, unauthorized(actor, scope.ViewInvoice, "")
	}

	inv, err := e.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("invoice %d: %w", id, err)
	}
	lines, err := e.store.ListInvoiceLines(ctx, id)
	if err != nil {
		return nil, err
	}
	ledger, err := e.store.GetLedgerByInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ledger for invoice %d: %w", id, err)
	}
	return &InvoiceDetail{Invoice: *inv, Lines: lines, Ledger: *ledger}, nil
}

func overseen(actor scope.Actor) []PersonID {
	ids := make([]PersonID, 0, len(actor.Delegates)+1)
	ids = append(ids, PersonID(actor.PersonID))
	for _, d := range actor.Delegates {
		ids = append(ids, PersonID(d))
	}
	return ids
}

func zeroTotals() money.Totals {
	return money.Totals{Subtotal: money.Zero, Tax: money.Zero, Total: money.Zero}
}
