/*
Package billing is the WIP → Invoice → Ledger engine.

PURPOSE:
  Turns recorded units of billable work into a financial record that can be
  invoiced, posted and settled, while keeping an immutable trail of what was
  billed and at what rate.

PIPELINE:
  ┌────────────┐  commit  ┌───────────┐  select   ┌─────────┐  post   ┌────────┐  settle  ┌──────┐
  │ TimeRecord │ ───────▶ │ WIP entry │ ────────▶ │ Invoice │ ──────▶ │ posted │ ───────▶ │ paid │
  └────────────┘   sync   │ unbilled  │  build    │ + draft │         └────────┘ ◀─────── └──────┘
                          └───────────┘           │ ledger  │                    unsettle
                                ▲                 └─────────┘
                                └─── delete draft ────┘

KEY CONCEPTS IN THIS FILE (types.go):
  - Master data: Client, Matter, Person, Role (owned by an external collaborator)
  - TimeRecord:  Hours worked by a person on a matter
  - WIPEntry:    The 1:1 unbilled/billed/written-off shadow of a TimeRecord
  - Invoice / InvoiceLine: What was billed, with hours and rate snapshots
  - LedgerRecord: draft → posted → paid status and the authoritative totals

DESIGN PRINCIPLES:
  1. Precision: every quantity is a money.Hours / money.Amount, never a float
  2. Snapshots: invoice lines copy hours and rate; ledgers copy totals
  3. Type safety: each identifier has its own type
  4. No orphan WIP: a WIPEntry can only be built from a TimeRecord

SEE ALSO:
  - store.go: Persistence contract
  - invoice.go: Invoice builder
  - ledger.go: Ledger state machine
*/
package billing

import (
	"time"

	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ClientID      int64
	MatterID      int64
	PersonID      int64
	RoleID        int64
	TimeRecordID  int64
	WIPEntryID    int64
	InvoiceID     int64
	InvoiceLineID int64
	LedgerID      int64
)

// =============================================================================
// MASTER DATA - read-only to the engine
// =============================================================================

type Client struct {
	ID     ClientID
	Number int
	Name   string
}

type Matter struct {
	ID              MatterID
	Number          string
	Description     string
	ClientID        ClientID
	LeadFeeEarnerID PersonID
	OpenedAt        time.Time
	ClosedAt        *time.Time
}

// IsClosed reports whether the matter no longer accepts time.
func (m Matter) IsClosed() bool { return m.ClosedAt != nil }

// Role carries the billing rate and the category resolved when the role was defined.
type Role struct {
	ID       RoleID
	Name     string
	Category scope.Category
	Rate     money.Amount
}

type Person struct {
	ID       PersonID
	Initials string
	Name     string
	UserID   string
	RoleID   RoleID
	// ManagerID is the line manager, zero for none.
	ManagerID PersonID
}

// =============================================================================
// WORK - the billing-relevant fields shared by TimeRecord and WIPEntry
// =============================================================================

// Work is what a fee earner did. Both a TimeRecord and its WIP entry carry it;
// the synchronizer copies it across while the WIP entry is unbilled.
type Work struct {
	ClientID    ClientID
	MatterID    MatterID
	FeeEarnerID PersonID
	Activity    string
	Hours       money.Hours
	Narrative   string
}

// Work field names, used for minimal update sets and audit logging.
const (
	FieldClient    = "client"
	FieldMatter    = "matter"
	FieldFeeEarner = "fee_earner"
	FieldActivity  = "activity"
	FieldHours     = "hours"
	FieldNarrative = "narrative"
)

// Diff returns the names of fields in next that differ from w.
func (w Work) Diff(next Work) []string {
	var changed []string
	if w.ClientID != next.ClientID {
		changed = append(changed, FieldClient)
	}
	if w.MatterID != next.MatterID {
		changed = append(changed, FieldMatter)
	}
	if w.FeeEarnerID != next.FeeEarnerID {
		changed = append(changed, FieldFeeEarner)
	}
	if w.Activity != next.Activity {
		changed = append(changed, FieldActivity)
	}
	if !w.Hours.Equal(next.Hours) {
		changed = append(changed, FieldHours)
	}
	if w.Narrative != next.Narrative {
		changed = append(changed, FieldNarrative)
	}
	return changed
}

// Apply copies the named fields from src into w.
func (w *Work) Apply(src Work, fields []string) {
	for _, f := range fields {
		switch f {
		case FieldClient:
			w.ClientID = src.ClientID
		case FieldMatter:
			w.MatterID = src.MatterID
		case FieldFeeEarner:
			w.FeeEarnerID = src.FeeEarnerID
		case FieldActivity:
			w.Activity = src.Activity
		case FieldHours:
			w.Hours = src.Hours
		case FieldNarrative:
			w.Narrative = src.Narrative
		}
	}
}

// =============================================================================
// TIME RECORD
// =============================================================================

// TimeRecord is hours worked by a person on a matter.
// ClientID is denormalized from the matter and always equals matter.ClientID.
type TimeRecord struct {
	ID TimeRecordID
	Work
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// WIP ENTRY
// =============================================================================

type WIPStatus string

const (
	WIPUnbilled   WIPStatus = "unbilled"
	WIPBilled     WIPStatus = "billed"
	WIPWrittenOff WIPStatus = "written_off"
)

func (s WIPStatus) IsValid() bool {
	switch s {
	case WIPUnbilled, WIPBilled, WIPWrittenOff:
		return true
	}
	return false
}

// IsFrozen reports whether the entry's work fields may no longer change.
func (s WIPStatus) IsFrozen() bool { return s != WIPUnbilled }

// WIPEntry is the billable shadow of exactly one TimeRecord.
//
// The owning time record is unexported: the only ways to obtain a WIPEntry
// are NewWIPEntry (from a TimeRecord) and RestoreWIPEntry (for stores
// rehydrating a persisted row).
type WIPEntry struct {
	ID           WIPEntryID
	timeRecordID TimeRecordID
	Work
	Status    WIPStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewWIPEntry derives an unbilled entry from a committed time record.
func NewWIPEntry(tr TimeRecord, now time.Time) WIPEntry {
	return WIPEntry{
		timeRecordID: tr.ID,
		Work:         tr.Work,
		Status:       WIPUnbilled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RestoreWIPEntry rebuilds a persisted entry.
func RestoreWIPEntry(id WIPEntryID, timeRecordID TimeRecordID, work Work, status WIPStatus, createdAt, updatedAt time.Time) WIPEntry {
	return WIPEntry{
		ID:           id,
		timeRecordID: timeRecordID,
		Work:         work,
		Status:       status,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
}

// TimeRecordID returns the owning time record.
func (w WIPEntry) TimeRecordID() TimeRecordID { return w.timeRecordID }

// =============================================================================
// INVOICE
// =============================================================================

// Invoice is created once by the invoice builder and never edited.
// MatterID is zero for a client-wide invoice.
type Invoice struct {
	ID        InvoiceID
	Number    string
	ClientID  ClientID
	MatterID  MatterID
	Date      time.Time
	Notes     string
	TaxRate   money.Percent
	CreatedBy string
	CreatedAt time.Time
}

// InvoiceLine snapshots the hours and rate of one WIP entry at invoice time.
type InvoiceLine struct {
	ID          InvoiceLineID
	InvoiceID   InvoiceID
	WIPEntryID  WIPEntryID
	Description string
	Hours       money.Hours
	Rate        money.Amount
	Amount      money.Amount
}

// Totals recomputes subtotal, tax and total from lines.
func (inv Invoice) Totals(lines []InvoiceLine) money.Totals {
	amounts := make([]money.Amount, len(lines))
	for i, l := range lines {
		amounts[i] = l.Amount
	}
	return money.ComputeTotals(amounts, inv.TaxRate)
}

// =============================================================================
// LEDGER
// =============================================================================

type LedgerStatus string

const (
	LedgerDraft  LedgerStatus = "draft"
	LedgerPosted LedgerStatus = "posted"
	LedgerPaid   LedgerStatus = "paid"
)

func (s LedgerStatus) IsValid() bool {
	switch s {
	case LedgerDraft, LedgerPosted, LedgerPaid:
		return true
	}
	return false
}

// LedgerRecord is the financial status of one invoice. Totals are copied at
// creation and are the authoritative billed amounts.
type LedgerRecord struct {
	ID        LedgerID
	InvoiceID InvoiceID
	ClientID  ClientID
	MatterID  MatterID
	Totals    money.Totals
	Status    LedgerStatus
	CreatedAt time.Time
	PaidAt    *time.Time
}

// =============================================================================
// READ MODELS
// =============================================================================

// InvoiceDetail is an invoice with everything hanging off it.
type InvoiceDetail struct {
	Invoice Invoice
	Lines   []InvoiceLine
	Ledger  LedgerRecord
}

// InvoiceSummary is one row of an invoice listing.
type InvoiceSummary struct {
	Invoice Invoice
	Status  LedgerStatus
	Totals  money.Totals
	PaidAt  *time.Time
	// Running accumulates Totals over the filtered listing up to this row.
	Running money.Totals
}

// InvoicePage is a page of an invoice listing plus aggregates over every
// matching row, not just this page.
type InvoicePage struct {
	Items    []InvoiceSummary
	Page     int
	PageSize int
	Total    int
	Totals   money.Totals
}
