/*
store.go - Persistence contract for the billing engine

PURPOSE:
  Defines the interface between engine logic and the database. The engine
  never reaches past this file; SQLite and in-memory stores both satisfy it.

KEY INTERFACES:
  Directory:  Read-only master data (clients, matters, people, roles)
  Store:      Billing rows (time records, WIP, invoices, lines, ledgers)
  TxStore:    Store plus WithTx for atomic multi-row operations
  Registry:   Master-data writes, used by the factory and tests only

UNIQUENESS (enforced by every implementation):
  - one WIP entry per time record            → ErrDuplicateWIP
  - one invoice per number                   → ErrDuplicateInvoiceNumber
  - one invoice line per WIP entry           → ErrWIPAlreadyInvoiced
  - one ledger record per invoice            → ErrDuplicateLedger

REFERENTIAL RULES:
  - deleting an invoice cascades to its lines and ledger record
  - deleting a client, matter or person still referenced by billing rows
    fails with ErrReferenced

COMPARE-AND-SET:
  TransitionWIP and TransitionLedger only touch rows currently in the
  expected status and report how many they changed. Callers treat a short
  count as a concurrent modification.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via database/sql
  - billing/store/memory.go: In-memory for tests and demos

SEE ALSO:
  - engine.go: The only consumer
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// TimeRecordFilter narrows ListTimeRecords. Zero fields match everything.
type TimeRecordFilter struct {
	FeeEarnerID PersonID
	MatterID    MatterID
	// FeeEarners, when non-empty, restricts results to these people.
	FeeEarners []PersonID
	Limit      int
}

// WIPFilter narrows ListWIP. Zero fields match everything.
type WIPFilter struct {
	ClientID    ClientID
	MatterID    MatterID
	FeeEarnerID PersonID
	Status      WIPStatus
	FeeEarners  []PersonID
}

// InvoiceFilter narrows ListInvoices. Number matches as a substring.
type InvoiceFilter struct {
	Number   string
	ClientID ClientID
	MatterID MatterID
	Status   LedgerStatus
	From     *time.Time
	To       *time.Time

	Page     int
	PageSize int
}

// =============================================================================
// DIRECTORY - master data, read-only to the engine
// =============================================================================

type Directory interface {
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	GetMatter(ctx context.Context, id MatterID) (*Matter, error)
	GetPerson(ctx context.Context, id PersonID) (*Person, error)
	GetPersonByUser(ctx context.Context, userID string) (*Person, error)
	GetRole(ctx context.Context, id RoleID) (*Role, error)

	// ListDelegates returns the people whose manager is managerID.
	ListDelegates(ctx context.Context, managerID PersonID) ([]Person, error)
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Directory

	// Time records. Insert assigns ID.
	InsertTimeRecord(ctx context.Context, tr *TimeRecord) error
	UpdateTimeRecord(ctx context.Context, tr *TimeRecord) error
	GetTimeRecord(ctx context.Context, id TimeRecordID) (*TimeRecord, error)
	// ListTimeRecords returns newest first.
	ListTimeRecords(ctx context.Context, filter TimeRecordFilter) ([]TimeRecord, error)
	// StaleTimeRecords returns up to limit records, oldest first, whose WIP
	// entry is missing, or is unbilled and last written before the record.
	StaleTimeRecords(ctx context.Context, limit int) ([]TimeRecordID, error)

	// WIP entries. Insert assigns ID.
	InsertWIP(ctx context.Context, w *WIPEntry) error
	GetWIP(ctx context.Context, id WIPEntryID) (*WIPEntry, error)
	GetWIPByTimeRecord(ctx context.Context, id TimeRecordID) (*WIPEntry, error)
	// UpdateWIPWork writes only the named fields of work plus updated_at.
	UpdateWIPWork(ctx context.Context, id WIPEntryID, work Work, fields []string, at time.Time) error
	// UnbilledWIP returns the entries among ids that are currently unbilled,
	// ordered by ID.
	UnbilledWIP(ctx context.Context, ids []WIPEntryID) ([]WIPEntry, error)
	// TransitionWIP moves entries in status from to status to and returns how many moved.
	TransitionWIP(ctx context.Context, ids []WIPEntryID, from, to WIPStatus, at time.Time) (int, error)
	// ListWIP returns matches ordered by ID.
	ListWIP(ctx context.Context, filter WIPFilter) ([]WIPEntry, error)

	// Invoices. Insert assigns ID.
	InsertInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	// LatestInvoice returns the most recently created invoice, or ErrNotFound.
	LatestInvoice(ctx context.Context) (*Invoice, error)
	// DeleteInvoice removes an invoice with its lines and ledger record.
	DeleteInvoice(ctx context.Context, id InvoiceID) error
	// ListInvoices returns every match newest first, joined with its ledger.
	// Page and PageSize on the filter are ignored.
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]InvoiceSummary, error)

	// Lines. Insert assigns IDs in place.
	InsertInvoiceLines(ctx context.Context, lines []InvoiceLine) error
	ListInvoiceLines(ctx context.Context, id InvoiceID) ([]InvoiceLine, error)

	// Ledger. Insert assigns ID.
	InsertLedger(ctx context.Context, l *LedgerRecord) error
	GetLedgerByInvoice(ctx context.Context, id InvoiceID) (*LedgerRecord, error)
	// TransitionLedger moves the ledger from status from to status to,
	// setting paid_at, and reports whether a row changed.
	TransitionLedger(ctx context.Context, id LedgerID, from, to LedgerStatus, paidAt *time.Time) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, it is committed.
	// Only the Store passed to fn may be used inside fn.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// REGISTRY - master-data writes
// =============================================================================

// Registry maintains master data. Save assigns an ID when it is zero and
// otherwise upserts.
type Registry interface {
	SaveRole(ctx context.Context, r *Role) error
	SavePerson(ctx context.Context, p *Person) error
	SaveClient(ctx context.Context, c *Client) error
	SaveMatter(ctx context.Context, m *Matter) error

	// Delete fails with ErrReferenced while billing rows point at the row.
	DeleteClient(ctx context.Context, id ClientID) error
	DeleteMatter(ctx context.Context, id MatterID) error
	DeletePerson(ctx context.Context, id PersonID) error

	// Reset wipes every table.
	Reset(ctx context.Context) error
}
