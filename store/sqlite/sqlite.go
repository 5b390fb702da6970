/*
Package sqlite provides a SQLite-backed billing.TxStore and billing.Registry.

PURPOSE:
  Persists master data and billing rows with the database enforcing the
  uniqueness and referential rules the engine depends on. The engine never
  checks for duplicates itself; it relies on the constraint errors mapped
  here.

KEY TABLES:
  roles, persons, clients, matters: Master data
  time_records:  Hours worked
  wip_entries:   One per time record (UNIQUE time_record_id)
  invoices:      UNIQUE number
  invoice_lines: One per WIP entry (UNIQUE wip_entry_id), cascade on invoice delete
  ledgers:       One per invoice (UNIQUE invoice_id), cascade on invoice delete

CONSTRAINT MAPPING:
  ┌──────────────────────────────────┬─────────────────────────────────┐
  │ SQLite error                     │ billing error                   │
  ├──────────────────────────────────┼─────────────────────────────────┤
  │ UNIQUE invoices.number           │ ErrDuplicateInvoiceNumber       │
  │ UNIQUE wip_entries.time_record_id│ ErrDuplicateWIP                 │
  │ UNIQUE invoice_lines.wip_entry_id│ ErrWIPAlreadyInvoiced           │
  │ UNIQUE ledgers.invoice_id        │ ErrDuplicateLedger              │
  │ FOREIGN KEY on insert/update     │ ErrNotFound                     │
  │ FOREIGN KEY on delete            │ ErrReferenced                   │
  └──────────────────────────────────┴─────────────────────────────────┘

CONCURRENCY:
  The pool is capped at one connection, which serializes transactions the
  way SQLite's single writer would anyway and keeps ":memory:" databases
  shared. Inside WithTx only the Store passed to fn may be used.

ENCODING:
  Decimals are stored as TEXT in their canonical string form, timestamps
  as RFC 3339 UTC, invoice dates as YYYY-MM-DD. Zero foreign keys are NULL.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := billing.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

const dateLayout = "2006-01-02"

// Store implements billing.TxStore and billing.Registry using SQLite.
type Store struct {
	conn
	db *sql.DB
}

var (
	_ billing.TxStore  = (*Store)(nil)
	_ billing.Registry = (*Store)(nil)
)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		rate TEXT NOT NULL DEFAULT '0.00'
	);

	CREATE TABLE IF NOT EXISTS persons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		initials TEXT NOT NULL,
		name TEXT NOT NULL,
		user_id TEXT UNIQUE,
		role_id INTEGER REFERENCES roles(id) ON DELETE SET NULL,
		manager_id INTEGER REFERENCES persons(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_persons_manager ON persons(manager_id);

	CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		number INTEGER NOT NULL UNIQUE,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS matters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		number TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		client_id INTEGER NOT NULL REFERENCES clients(id) ON DELETE RESTRICT,
		lead_fee_earner_id INTEGER NOT NULL REFERENCES persons(id) ON DELETE RESTRICT,
		opened_at TEXT NOT NULL,
		closed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS time_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL REFERENCES clients(id) ON DELETE RESTRICT,
		matter_id INTEGER NOT NULL REFERENCES matters(id) ON DELETE RESTRICT,
		fee_earner_id INTEGER NOT NULL REFERENCES persons(id) ON DELETE RESTRICT,
		activity TEXT NOT NULL DEFAULT '',
		hours TEXT NOT NULL,
		narrative TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_time_records_fee_earner ON time_records(fee_earner_id, created_at);

	-- One WIP entry per time record
	CREATE TABLE IF NOT EXISTS wip_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time_record_id INTEGER NOT NULL UNIQUE REFERENCES time_records(id) ON DELETE RESTRICT,
		client_id INTEGER NOT NULL REFERENCES clients(id) ON DELETE RESTRICT,
		matter_id INTEGER NOT NULL REFERENCES matters(id) ON DELETE RESTRICT,
		fee_earner_id INTEGER NOT NULL REFERENCES persons(id) ON DELETE RESTRICT,
		activity TEXT NOT NULL DEFAULT '',
		hours TEXT NOT NULL,
		narrative TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('unbilled', 'billed', 'written_off')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wip_status_client ON wip_entries(status, client_id, matter_id);

	CREATE TABLE IF NOT EXISTS invoices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		number TEXT NOT NULL UNIQUE,
		client_id INTEGER NOT NULL REFERENCES clients(id) ON DELETE RESTRICT,
		matter_id INTEGER REFERENCES matters(id) ON DELETE RESTRICT,
		date TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		tax_rate TEXT NOT NULL DEFAULT '0.00',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- A WIP entry appears on at most one invoice
	CREATE TABLE IF NOT EXISTS invoice_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		invoice_id INTEGER NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		wip_entry_id INTEGER NOT NULL UNIQUE REFERENCES wip_entries(id) ON DELETE RESTRICT,
		description TEXT NOT NULL,
		hours TEXT NOT NULL,
		rate TEXT NOT NULL,
		amount TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoice_lines_invoice ON invoice_lines(invoice_id);

	CREATE TABLE IF NOT EXISTS ledgers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		invoice_id INTEGER NOT NULL UNIQUE REFERENCES invoices(id) ON DELETE CASCADE,
		client_id INTEGER NOT NULL REFERENCES clients(id) ON DELETE RESTRICT,
		matter_id INTEGER REFERENCES matters(id) ON DELETE RESTRICT,
		subtotal TEXT NOT NULL,
		tax TEXT NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('draft', 'posted', 'paid')),
		created_at TEXT NOT NULL,
		paid_at TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements billing.Store over a querier.
type conn struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// DIRECTORY
// =============================================================================

const personCols = `id, initials, name, user_id, role_id, manager_id`

func scanPerson(sc scanner) (billing.Person, error) {
	var (
		p                 billing.Person
		userID            sql.NullString
		roleID, managerID sql.NullInt64
	)
	if err := sc.Scan(&p.ID, &p.Initials, &p.Name, &userID, &roleID, &managerID); err != nil {
		return p, err
	}
	p.UserID = userID.String
	p.RoleID = billing.RoleID(roleID.Int64)
	p.ManagerID = billing.PersonID(managerID.Int64)
	return p, nil
}

func (c conn) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	var cl billing.Client
	err := c.q.QueryRowContext(ctx, `SELECT id, number, name FROM clients WHERE id = ?`, id).
		Scan(&cl.ID, &cl.Number, &cl.Name)
	if err != nil {
		return nil, rowErr(err, "client", id)
	}
	return &cl, nil
}

const matterCols = `id, number, description, client_id, lead_fee_earner_id, opened_at, closed_at`

func scanMatter(sc scanner) (billing.Matter, error) {
	var (
		m        billing.Matter
		opened   string
		closedAt sql.NullString
	)
	if err := sc.Scan(&m.ID, &m.Number, &m.Description, &m.ClientID, &m.LeadFeeEarnerID, &opened, &closedAt); err != nil {
		return m, err
	}
	m.OpenedAt = parseTime(opened)
	if closedAt.Valid {
		t := parseTime(closedAt.String)
		m.ClosedAt = &t
	}
	return m, nil
}

func (c conn) GetMatter(ctx context.Context, id billing.MatterID) (*billing.Matter, error) {
	m, err := scanMatter(c.q.QueryRowContext(ctx, `SELECT `+matterCols+` FROM matters WHERE id = ?`, id))
	if err != nil {
		return nil, rowErr(err, "matter", id)
	}
	return &m, nil
}

func (c conn) GetPerson(ctx context.Context, id billing.PersonID) (*billing.Person, error) {
	p, err := scanPerson(c.q.QueryRowContext(ctx, `SELECT `+personCols+` FROM persons WHERE id = ?`, id))
	if err != nil {
		return nil, rowErr(err, "person", id)
	}
	return &p, nil
}

func (c conn) GetPersonByUser(ctx context.Context, userID string) (*billing.Person, error) {
	p, err := scanPerson(c.q.QueryRowContext(ctx, `SELECT `+personCols+` FROM persons WHERE user_id = ?`, userID))
	if err != nil {
		return nil, rowErr(err, "user", userID)
	}
	return &p, nil
}

func (c conn) GetRole(ctx context.Context, id billing.RoleID) (*billing.Role, error) {
	var (
		r        billing.Role
		category string
		rate     string
	)
	err := c.q.QueryRowContext(ctx, `SELECT id, name, category, rate FROM roles WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &category, &rate)
	if err != nil {
		return nil, rowErr(err, "role", id)
	}
	r.Category = scope.Category(category)
	if r.Rate, err = money.ParseAmount(rate); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c conn) ListDelegates(ctx context.Context, managerID billing.PersonID) ([]billing.Person, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+personCols+` FROM persons WHERE manager_id = ? AND id != ? ORDER BY id`, managerID, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// TIME RECORDS
// =============================================================================

const timeRecordCols = `id, client_id, matter_id, fee_earner_id, activity, hours, narrative, created_at, updated_at`

func scanTimeRecord(sc scanner) (billing.TimeRecord, error) {
	var (
		tr               billing.TimeRecord
		hours            string
		created, updated string
	)
	err := sc.Scan(&tr.ID, &tr.ClientID, &tr.MatterID, &tr.FeeEarnerID, &tr.Activity, &hours, &tr.Narrative, &created, &updated)
	if err != nil {
		return tr, err
	}
	if tr.Hours, err = money.ParseHours(hours); err != nil {
		return tr, err
	}
	tr.CreatedAt = parseTime(created)
	tr.UpdatedAt = parseTime(updated)
	return tr, nil
}

func (c conn) InsertTimeRecord(ctx context.Context, tr *billing.TimeRecord) error {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO time_records (client_id, matter_id, fee_earner_id, activity, hours, narrative, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ClientID, tr.MatterID, tr.FeeEarnerID, tr.Activity, tr.Hours.String(), tr.Narrative,
		formatTime(tr.CreatedAt), formatTime(tr.UpdatedAt),
	)
	if err != nil {
		return writeErr(err, "insert time record")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	tr.ID = billing.TimeRecordID(id)
	return nil
}

func (c conn) UpdateTimeRecord(ctx context.Context, tr *billing.TimeRecord) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE time_records
		SET client_id = ?, matter_id = ?, fee_earner_id = ?, activity = ?, hours = ?, narrative = ?, updated_at = ?
		WHERE id = ?`,
		tr.ClientID, tr.MatterID, tr.FeeEarnerID, tr.Activity, tr.Hours.String(), tr.Narrative,
		formatTime(tr.UpdatedAt), tr.ID,
	)
	if err != nil {
		return writeErr(err, "update time record")
	}
	return expectRow(res, "time record", tr.ID)
}

func (c conn) GetTimeRecord(ctx context.Context, id billing.TimeRecordID) (*billing.TimeRecord, error) {
	tr, err := scanTimeRecord(c.q.QueryRowContext(ctx, `SELECT `+timeRecordCols+` FROM time_records WHERE id = ?`, id))
	if err != nil {
		return nil, rowErr(err, "time record", id)
	}
	return &tr, nil
}

func (c conn) ListTimeRecords(ctx context.Context, f billing.TimeRecordFilter) ([]billing.TimeRecord, error) {
	var w where
	w.eq("fee_earner_id", int64(f.FeeEarnerID))
	w.eq("matter_id", int64(f.MatterID))
	w.in("fee_earner_id", personIDs(f.FeeEarners))

	query := `SELECT ` + timeRecordCols + ` FROM time_records` + w.sql() + ` ORDER BY created_at DESC, id DESC`
	args := w.args
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.TimeRecord
	for rows.Next() {
		tr, err := scanTimeRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (c conn) StaleTimeRecords(ctx context.Context, limit int) ([]billing.TimeRecordID, error) {
	query := `
		SELECT t.id FROM time_records t
		LEFT JOIN wip_entries w ON w.time_record_id = t.id
		WHERE w.id IS NULL OR (w.status = ? AND w.updated_at < t.updated_at)
		ORDER BY t.updated_at, t.id`
	args := []any{string(billing.WIPUnbilled)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.TimeRecordID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, billing.TimeRecordID(id))
	}
	return out, rows.Err()
}

// =============================================================================
// WIP ENTRIES
// =============================================================================

const wipCols = `id, time_record_id, client_id, matter_id, fee_earner_id, activity, hours, narrative, status, created_at, updated_at`

func scanWIP(sc scanner) (billing.WIPEntry, error) {
	var (
		id               billing.WIPEntryID
		trID             billing.TimeRecordID
		work             billing.Work
		hours, status    string
		created, updated string
	)
	err := sc.Scan(&id, &trID, &work.ClientID, &work.MatterID, &work.FeeEarnerID, &work.Activity, &hours, &work.Narrative, &status, &created, &updated)
	if err != nil {
		return billing.WIPEntry{}, err
	}
	if work.Hours, err = money.ParseHours(hours); err != nil {
		return billing.WIPEntry{}, err
	}
	return billing.RestoreWIPEntry(id, trID, work, billing.WIPStatus(status), parseTime(created), parseTime(updated)), nil
}

func (c conn) queryWIP(ctx context.Context, query string, args ...any) ([]billing.WIPEntry, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.WIPEntry
	for rows.Next() {
		w, err := scanWIP(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (c conn) InsertWIP(ctx context.Context, w *billing.WIPEntry) error {
	if w.TimeRecordID() == 0 {
		return fmt.Errorf("%w: WIP entry without time record", billing.ErrInvariantViolation)
	}
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO wip_entries (time_record_id, client_id, matter_id, fee_earner_id, activity, hours, narrative, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.TimeRecordID(), w.ClientID, w.MatterID, w.FeeEarnerID, w.Activity, w.Hours.String(), w.Narrative,
		string(w.Status), formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if err != nil {
		return writeErr(err, "insert WIP entry")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	w.ID = billing.WIPEntryID(id)
	return nil
}

func (c conn) GetWIP(ctx context.Context, id billing.WIPEntryID) (*billing.WIPEntry, error) {
	w, err := scanWIP(c.q.QueryRowContext(ctx, `SELECT `+wipCols+` FROM wip_entries WHERE id = ?`, id))
	if err != nil {
		return nil, rowErr(err, "WIP entry", id)
	}
	return &w, nil
}

func (c conn) GetWIPByTimeRecord(ctx context.Context, id billing.TimeRecordID) (*billing.WIPEntry, error) {
	w, err := scanWIP(c.q.QueryRowContext(ctx, `SELECT `+wipCols+` FROM wip_entries WHERE time_record_id = ?`, id))
	if err != nil {
		return nil, rowErr(err, "WIP for time record", id)
	}
	return &w, nil
}

var workColumns = map[string]string{
	billing.FieldClient:    "client_id",
	billing.FieldMatter:    "matter_id",
	billing.FieldFeeEarner: "fee_earner_id",
	billing.FieldActivity:  "activity",
	billing.FieldHours:     "hours",
	billing.FieldNarrative: "narrative",
}

func workValue(w billing.Work, field string) any {
	switch field {
	case billing.FieldClient:
		return w.ClientID
	case billing.FieldMatter:
		return w.MatterID
	case billing.FieldFeeEarner:
		return w.FeeEarnerID
	case billing.FieldActivity:
		return w.Activity
	case billing.FieldHours:
		return w.Hours.String()
	case billing.FieldNarrative:
		return w.Narrative
	}
	return nil
}

func (c conn) UpdateWIPWork(ctx context.Context, id billing.WIPEntryID, work billing.Work, fields []string, at time.Time) error {
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, f := range fields {
		col, ok := workColumns[f]
		if !ok {
			return fmt.Errorf("%w: unknown WIP field %q", billing.ErrInvalidInput, f)
		}
		sets = append(sets, col+" = ?")
		args = append(args, workValue(work, f))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(at), id)

	res, err := c.q.ExecContext(ctx, `UPDATE wip_entries SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return writeErr(err, "update WIP entry")
	}
	return expectRow(res, "WIP entry", id)
}

func (c conn) UnbilledWIP(ctx context.Context, ids []billing.WIPEntryID) ([]billing.WIPEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var w where
	w.eq("status", string(billing.WIPUnbilled))
	w.in("id", wipIDs(ids))
	return c.queryWIP(ctx, `SELECT `+wipCols+` FROM wip_entries`+w.sql()+` ORDER BY id`, w.args...)
}

func (c conn) TransitionWIP(ctx context.Context, ids []billing.WIPEntryID, from, to billing.WIPStatus, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var w where
	w.eq("status", string(from))
	w.in("id", wipIDs(ids))
	args := append([]any{string(to), formatTime(at)}, w.args...)

	res, err := c.q.ExecContext(ctx, `UPDATE wip_entries SET status = ?, updated_at = ?`+w.sql(), args...)
	if err != nil {
		return 0, writeErr(err, "transition WIP")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (c conn) ListWIP(ctx context.Context, f billing.WIPFilter) ([]billing.WIPEntry, error) {
	var w where
	w.eq("status", string(f.Status))
	w.eq("client_id", int64(f.ClientID))
	w.eq("matter_id", int64(f.MatterID))
	w.eq("fee_earner_id", int64(f.FeeEarnerID))
	w.in("fee_earner_id", personIDs(f.FeeEarners))
	return c.queryWIP(ctx, `SELECT `+wipCols+` FROM wip_entries`+w.sql()+` ORDER BY id`, w.args...)
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceCols = `i.id, i.number, i.client_id, i.matter_id, i.date, i.notes, i.tax_rate, i.created_by, i.created_at`

func scanInvoice(sc scanner, extra ...any) (billing.Invoice, error) {
	var (
		inv               billing.Invoice
		matterID          sql.NullInt64
		date, tax, create string
	)
	dest := append([]any{&inv.ID, &inv.Number, &inv.ClientID, &matterID, &date, &inv.Notes, &tax, &inv.CreatedBy, &create}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return inv, err
	}
	inv.MatterID = billing.MatterID(matterID.Int64)
	inv.Date, _ = time.Parse(dateLayout, date)
	inv.CreatedAt = parseTime(create)
	var err error
	if inv.TaxRate, err = money.ParsePercent(tax); err != nil {
		return inv, err
	}
	return inv, nil
}

func (c conn) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO invoices (number, client_id, matter_id, date, notes, tax_rate, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.Number, inv.ClientID, nullID(int64(inv.MatterID)), inv.Date.Format(dateLayout),
		inv.Notes, inv.TaxRate.String(), inv.CreatedBy, formatTime(inv.CreatedAt),
	)
	if err != nil {
		return writeErr(err, "insert invoice "+inv.Number)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	inv.ID = billing.InvoiceID(id)
	return nil
}

func (c conn) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	inv, err := scanInvoice(c.q.QueryRowContext(ctx, `SELECT `+invoiceCols+` FROM invoices i WHERE i.id = ?`, id))
	if err != nil {
		return nil, rowErr(err, "invoice", id)
	}
	return &inv, nil
}

func (c conn) LatestInvoice(ctx context.Context) (*billing.Invoice, error) {
	inv, err := scanInvoice(c.q.QueryRowContext(ctx, `SELECT `+invoiceCols+` FROM invoices i ORDER BY i.id DESC LIMIT 1`))
	if err != nil {
		return nil, rowErr(err, "invoice", "latest")
	}
	return &inv, nil
}

func (c conn) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		return deleteErr(err, "invoice", id)
	}
	return expectRow(res, "invoice", id)
}

func (c conn) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.InvoiceSummary, error) {
	var w where
	w.contains("i.number", f.Number)
	w.eq("i.client_id", int64(f.ClientID))
	w.eq("i.matter_id", int64(f.MatterID))
	w.eq("l.status", string(f.Status))
	if f.From != nil {
		w.add("i.date >= ?", f.From.Format(dateLayout))
	}
	if f.To != nil {
		w.add("i.date <= ?", f.To.Format(dateLayout))
	}

	rows, err := c.q.QueryContext(ctx, `
		SELECT `+invoiceCols+`, l.status, l.subtotal, l.tax, l.total, l.paid_at
		FROM invoices i JOIN ledgers l ON l.invoice_id = i.id`+w.sql()+`
		ORDER BY i.id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.InvoiceSummary
	for rows.Next() {
		var (
			s                    billing.InvoiceSummary
			status               string
			subtotal, tax, total string
			paidAt               sql.NullString
		)
		s.Invoice, err = scanInvoice(rows, &status, &subtotal, &tax, &total, &paidAt)
		if err != nil {
			return nil, err
		}
		s.Status = billing.LedgerStatus(status)
		if s.Totals, err = parseTotals(subtotal, tax, total); err != nil {
			return nil, err
		}
		s.PaidAt = nullTime(paidAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// =============================================================================
// INVOICE LINES
// =============================================================================

func (c conn) InsertInvoiceLines(ctx context.Context, lines []billing.InvoiceLine) error {
	for i := range lines {
		l := &lines[i]
		res, err := c.q.ExecContext(ctx, `
			INSERT INTO invoice_lines (invoice_id, wip_entry_id, description, hours, rate, amount)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.InvoiceID, l.WIPEntryID, l.Description, l.Hours.String(), l.Rate.String(), l.Amount.String(),
		)
		if err != nil {
			return writeErr(err, fmt.Sprintf("insert line for WIP %d", l.WIPEntryID))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		l.ID = billing.InvoiceLineID(id)
	}
	return nil
}

func (c conn) ListInvoiceLines(ctx context.Context, id billing.InvoiceID) ([]billing.InvoiceLine, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, invoice_id, wip_entry_id, description, hours, rate, amount
		FROM invoice_lines WHERE invoice_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.InvoiceLine
	for rows.Next() {
		var (
			l                   billing.InvoiceLine
			hours, rate, amount string
		)
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.WIPEntryID, &l.Description, &hours, &rate, &amount); err != nil {
			return nil, err
		}
		if l.Hours, err = money.ParseHours(hours); err != nil {
			return nil, err
		}
		if l.Rate, err = money.ParseAmount(rate); err != nil {
			return nil, err
		}
		if l.Amount, err = money.ParseAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

func (c conn) InsertLedger(ctx context.Context, l *billing.LedgerRecord) error {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO ledgers (invoice_id, client_id, matter_id, subtotal, tax, total, status, created_at, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.InvoiceID, l.ClientID, nullID(int64(l.MatterID)),
		l.Totals.Subtotal.String(), l.Totals.Tax.String(), l.Totals.Total.String(),
		string(l.Status), formatTime(l.CreatedAt), timeOrNull(l.PaidAt),
	)
	if err != nil {
		return writeErr(err, "insert ledger")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = billing.LedgerID(id)
	return nil
}

func (c conn) GetLedgerByInvoice(ctx context.Context, id billing.InvoiceID) (*billing.LedgerRecord, error) {
	var (
		l                    billing.LedgerRecord
		matterID             sql.NullInt64
		subtotal, tax, total string
		status, created      string
		paidAt               sql.NullString
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT id, invoice_id, client_id, matter_id, subtotal, tax, total, status, created_at, paid_at
		FROM ledgers WHERE invoice_id = ?`, id).
		Scan(&l.ID, &l.InvoiceID, &l.ClientID, &matterID, &subtotal, &tax, &total, &status, &created, &paidAt)
	if err != nil {
		return nil, rowErr(err, "ledger for invoice", id)
	}
	l.MatterID = billing.MatterID(matterID.Int64)
	if l.Totals, err = parseTotals(subtotal, tax, total); err != nil {
		return nil, err
	}
	l.Status = billing.LedgerStatus(status)
	l.CreatedAt = parseTime(created)
	l.PaidAt = nullTime(paidAt)
	return &l, nil
}

func (c conn) TransitionLedger(ctx context.Context, id billing.LedgerID, from, to billing.LedgerStatus, paidAt *time.Time) (bool, error) {
	res, err := c.q.ExecContext(ctx,
		`UPDATE ledgers SET status = ?, paid_at = ? WHERE id = ? AND status = ?`,
		string(to), timeOrNull(paidAt), id, string(from))
	if err != nil {
		return false, writeErr(err, "transition ledger")
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// =============================================================================
// REGISTRY (billing.Registry interface)
// =============================================================================

func (s *Store) SaveRole(ctx context.Context, r *billing.Role) error {
	if r.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO roles (name, category, rate) VALUES (?, ?, ?)`,
			r.Name, string(r.Category), r.Rate.String())
		if err != nil {
			return writeErr(err, "insert role")
		}
		id, err := res.LastInsertId()
		r.ID = billing.RoleID(id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, category, rate) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, category = excluded.category, rate = excluded.rate`,
		r.ID, r.Name, string(r.Category), r.Rate.String())
	return writeErr(err, "save role")
}

func (s *Store) SavePerson(ctx context.Context, p *billing.Person) error {
	args := []any{p.Initials, p.Name, nullString(p.UserID), nullID(int64(p.RoleID)), nullID(int64(p.ManagerID))}
	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO persons (initials, name, user_id, role_id, manager_id) VALUES (?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return writeErr(err, "insert person")
		}
		id, err := res.LastInsertId()
		p.ID = billing.PersonID(id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persons (id, initials, name, user_id, role_id, manager_id) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET initials = excluded.initials, name = excluded.name,
			user_id = excluded.user_id, role_id = excluded.role_id, manager_id = excluded.manager_id`,
		append([]any{p.ID}, args...)...)
	return writeErr(err, "save person")
}

func (s *Store) SaveClient(ctx context.Context, cl *billing.Client) error {
	if cl.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO clients (number, name) VALUES (?, ?)`, cl.Number, cl.Name)
		if err != nil {
			return writeErr(err, "insert client")
		}
		id, err := res.LastInsertId()
		cl.ID = billing.ClientID(id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, number, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET number = excluded.number, name = excluded.name`,
		cl.ID, cl.Number, cl.Name)
	return writeErr(err, "save client")
}

func (s *Store) SaveMatter(ctx context.Context, m *billing.Matter) error {
	args := []any{m.Number, m.Description, m.ClientID, m.LeadFeeEarnerID, formatTime(m.OpenedAt), timeOrNull(m.ClosedAt)}
	if m.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO matters (number, description, client_id, lead_fee_earner_id, opened_at, closed_at)
			VALUES (?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return writeErr(err, "insert matter")
		}
		id, err := res.LastInsertId()
		m.ID = billing.MatterID(id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matters (id, number, description, client_id, lead_fee_earner_id, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET number = excluded.number, description = excluded.description,
			client_id = excluded.client_id, lead_fee_earner_id = excluded.lead_fee_earner_id,
			opened_at = excluded.opened_at, closed_at = excluded.closed_at`,
		append([]any{m.ID}, args...)...)
	return writeErr(err, "save matter")
}

func (s *Store) DeleteClient(ctx context.Context, id billing.ClientID) error {
	return s.deleteRow(ctx, "clients", "client", int64(id))
}

func (s *Store) DeleteMatter(ctx context.Context, id billing.MatterID) error {
	return s.deleteRow(ctx, "matters", "matter", int64(id))
}

func (s *Store) DeletePerson(ctx context.Context, id billing.PersonID) error {
	return s.deleteRow(ctx, "persons", "person", int64(id))
}

func (s *Store) deleteRow(ctx context.Context, table, kind string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return deleteErr(err, kind, id)
	}
	return expectRow(res, kind, id)
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"ledgers", "invoice_lines", "invoices", "wip_entries", "time_records",
		"matters", "clients", "persons", "roles", "sqlite_sequence",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
