// Package store provides an in-memory billing.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a billing.TxStore and billing.Registry held in maps.
// WithTx holds the write lock for the whole callback and rolls back by
// restoring a snapshot taken on entry.
type Memory struct {
	mu sync.RWMutex
	s  *tables
}

var (
	_ billing.TxStore  = (*Memory)(nil)
	_ billing.Registry = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{s: newTables()}
}

// WithTx executes fn within a transaction, simulated with snapshot + rollback.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(m.s); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// =============================================================================
// TABLES - unlocked implementation shared by Memory and its tx view
// =============================================================================

type tables struct {
	roles   map[billing.RoleID]billing.Role
	persons map[billing.PersonID]billing.Person
	clients map[billing.ClientID]billing.Client
	matters map[billing.MatterID]billing.Matter

	timeRecords map[billing.TimeRecordID]billing.TimeRecord
	wip         map[billing.WIPEntryID]billing.WIPEntry
	invoices    map[billing.InvoiceID]billing.Invoice
	lines       map[billing.InvoiceLineID]billing.InvoiceLine
	ledgers     map[billing.LedgerID]billing.LedgerRecord

	// Unique indexes.
	wipByRecord    map[billing.TimeRecordID]billing.WIPEntryID
	invoiceNumbers map[string]billing.InvoiceID
	lineByWIP      map[billing.WIPEntryID]billing.InvoiceLineID
	ledgerByInv    map[billing.InvoiceID]billing.LedgerID

	seq int64
}

func newTables() *tables {
	return &tables{
		roles:          make(map[billing.RoleID]billing.Role),
		persons:        make(map[billing.PersonID]billing.Person),
		clients:        make(map[billing.ClientID]billing.Client),
		matters:        make(map[billing.MatterID]billing.Matter),
		timeRecords:    make(map[billing.TimeRecordID]billing.TimeRecord),
		wip:            make(map[billing.WIPEntryID]billing.WIPEntry),
		invoices:       make(map[billing.InvoiceID]billing.Invoice),
		lines:          make(map[billing.InvoiceLineID]billing.InvoiceLine),
		ledgers:        make(map[billing.LedgerID]billing.LedgerRecord),
		wipByRecord:    make(map[billing.TimeRecordID]billing.WIPEntryID),
		invoiceNumbers: make(map[string]billing.InvoiceID),
		lineByWIP:      make(map[billing.WIPEntryID]billing.InvoiceLineID),
		ledgerByInv:    make(map[billing.InvoiceID]billing.LedgerID),
	}
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (t *tables) clone() *tables {
	return &tables{
		roles:          copyMap(t.roles),
		persons:        copyMap(t.persons),
		clients:        copyMap(t.clients),
		matters:        copyMap(t.matters),
		timeRecords:    copyMap(t.timeRecords),
		wip:            copyMap(t.wip),
		invoices:       copyMap(t.invoices),
		lines:          copyMap(t.lines),
		ledgers:        copyMap(t.ledgers),
		wipByRecord:    copyMap(t.wipByRecord),
		invoiceNumbers: copyMap(t.invoiceNumbers),
		lineByWIP:      copyMap(t.lineByWIP),
		ledgerByInv:    copyMap(t.ledgerByInv),
		seq:            t.seq,
	}
}

// next hands out ids from one sequence so ids are unique across tables.
func (t *tables) next() int64 {
	t.seq++
	return t.seq
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, billing.ErrNotFound)
}

// --- directory ---------------------------------------------------------------

func (t *tables) GetClient(_ context.Context, id billing.ClientID) (*billing.Client, error) {
	c, ok := t.clients[id]
	if !ok {
		return nil, notFound("client", id)
	}
	return &c, nil
}

func (t *tables) GetMatter(_ context.Context, id billing.MatterID) (*billing.Matter, error) {
	m, ok := t.matters[id]
	if !ok {
		return nil, notFound("matter", id)
	}
	return &m, nil
}

func (t *tables) GetPerson(_ context.Context, id billing.PersonID) (*billing.Person, error) {
	p, ok := t.persons[id]
	if !ok {
		return nil, notFound("person", id)
	}
	return &p, nil
}

func (t *tables) GetPersonByUser(_ context.Context, userID string) (*billing.Person, error) {
	for _, p := range t.persons {
		if p.UserID != "" && p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, notFound("user", userID)
}

func (t *tables) GetRole(_ context.Context, id billing.RoleID) (*billing.Role, error) {
	r, ok := t.roles[id]
	if !ok {
		return nil, notFound("role", id)
	}
	return &r, nil
}

func (t *tables) ListDelegates(_ context.Context, managerID billing.PersonID) ([]billing.Person, error) {
	var out []billing.Person
	for _, p := range t.persons {
		if p.ManagerID == managerID && p.ID != managerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- time records ------------------------------------------------------------

func (t *tables) checkWorkRefs(w billing.Work) error {
	if _, ok := t.matters[w.MatterID]; !ok {
		return notFound("matter", w.MatterID)
	}
	if _, ok := t.clients[w.ClientID]; !ok {
		return notFound("client", w.ClientID)
	}
	if _, ok := t.persons[w.FeeEarnerID]; !ok {
		return notFound("person", w.FeeEarnerID)
	}
	return nil
}

func (t *tables) InsertTimeRecord(_ context.Context, tr *billing.TimeRecord) error {
	if err := t.checkWorkRefs(tr.Work); err != nil {
		return err
	}
	tr.ID = billing.TimeRecordID(t.next())
	t.timeRecords[tr.ID] = *tr
	return nil
}

func (t *tables) UpdateTimeRecord(_ context.Context, tr *billing.TimeRecord) error {
	if _, ok := t.timeRecords[tr.ID]; !ok {
		return notFound("time record", tr.ID)
	}
	if err := t.checkWorkRefs(tr.Work); err != nil {
		return err
	}
	t.timeRecords[tr.ID] = *tr
	return nil
}

func (t *tables) GetTimeRecord(_ context.Context, id billing.TimeRecordID) (*billing.TimeRecord, error) {
	tr, ok := t.timeRecords[id]
	if !ok {
		return nil, notFound("time record", id)
	}
	return &tr, nil
}

func (t *tables) ListTimeRecords(_ context.Context, f billing.TimeRecordFilter) ([]billing.TimeRecord, error) {
	var out []billing.TimeRecord
	for _, tr := range t.timeRecords {
		if f.FeeEarnerID != 0 && tr.FeeEarnerID != f.FeeEarnerID {
			continue
		}
		if f.MatterID != 0 && tr.MatterID != f.MatterID {
			continue
		}
		if len(f.FeeEarners) > 0 && !containsPerson(f.FeeEarners, tr.FeeEarnerID) {
			continue
		}
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *tables) StaleTimeRecords(_ context.Context, limit int) ([]billing.TimeRecordID, error) {
	var stale []billing.TimeRecord
	for _, tr := range t.timeRecords {
		wipID, ok := t.wipByRecord[tr.ID]
		if ok {
			w := t.wip[wipID]
			if w.Status != billing.WIPUnbilled || !w.UpdatedAt.Before(tr.UpdatedAt) {
				continue
			}
		}
		stale = append(stale, tr)
	}
	sort.Slice(stale, func(i, j int) bool {
		if !stale[i].UpdatedAt.Equal(stale[j].UpdatedAt) {
			return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
		}
		return stale[i].ID < stale[j].ID
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	out := make([]billing.TimeRecordID, len(stale))
	for i, tr := range stale {
		out[i] = tr.ID
	}
	return out, nil
}

// --- WIP ---------------------------------------------------------------------

func (t *tables) InsertWIP(_ context.Context, w *billing.WIPEntry) error {
	trID := w.TimeRecordID()
	if _, ok := t.timeRecords[trID]; !ok {
		return notFound("time record", trID)
	}
	if _, dup := t.wipByRecord[trID]; dup {
		return fmt.Errorf("time record %d: %w", trID, billing.ErrDuplicateWIP)
	}
	if err := t.checkWorkRefs(w.Work); err != nil {
		return err
	}
	w.ID = billing.WIPEntryID(t.next())
	t.wip[w.ID] = *w
	t.wipByRecord[trID] = w.ID
	return nil
}

func (t *tables) GetWIP(_ context.Context, id billing.WIPEntryID) (*billing.WIPEntry, error) {
	w, ok := t.wip[id]
	if !ok {
		return nil, notFound("WIP entry", id)
	}
	return &w, nil
}

func (t *tables) GetWIPByTimeRecord(ctx context.Context, id billing.TimeRecordID) (*billing.WIPEntry, error) {
	wipID, ok := t.wipByRecord[id]
	if !ok {
		return nil, notFound("WIP for time record", id)
	}
	return t.GetWIP(ctx, wipID)
}

func (t *tables) UpdateWIPWork(_ context.Context, id billing.WIPEntryID, work billing.Work, fields []string, at time.Time) error {
	w, ok := t.wip[id]
	if !ok {
		return notFound("WIP entry", id)
	}
	next := w.Work
	next.Apply(work, fields)
	if err := t.checkWorkRefs(next); err != nil {
		return err
	}
	w.Work = next
	w.UpdatedAt = at
	t.wip[id] = w
	return nil
}

func (t *tables) UnbilledWIP(_ context.Context, ids []billing.WIPEntryID) ([]billing.WIPEntry, error) {
	var out []billing.WIPEntry
	for _, id := range ids {
		if w, ok := t.wip[id]; ok && w.Status == billing.WIPUnbilled {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tables) TransitionWIP(_ context.Context, ids []billing.WIPEntryID, from, to billing.WIPStatus, at time.Time) (int, error) {
	n := 0
	for _, id := range ids {
		w, ok := t.wip[id]
		if !ok || w.Status != from {
			continue
		}
		w.Status = to
		w.UpdatedAt = at
		t.wip[id] = w
		n++
	}
	return n, nil
}

func (t *tables) ListWIP(_ context.Context, f billing.WIPFilter) ([]billing.WIPEntry, error) {
	var out []billing.WIPEntry
	for _, w := range t.wip {
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		if f.ClientID != 0 && w.ClientID != f.ClientID {
			continue
		}
		if f.MatterID != 0 && w.MatterID != f.MatterID {
			continue
		}
		if f.FeeEarnerID != 0 && w.FeeEarnerID != f.FeeEarnerID {
			continue
		}
		if len(f.FeeEarners) > 0 && !containsPerson(f.FeeEarners, w.FeeEarnerID) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- invoices ----------------------------------------------------------------

func (t *tables) InsertInvoice(_ context.Context, inv *billing.Invoice) error {
	if _, dup := t.invoiceNumbers[inv.Number]; dup {
		return fmt.Errorf("invoice %s: %w", inv.Number, billing.ErrDuplicateInvoiceNumber)
	}
	if _, ok := t.clients[inv.ClientID]; !ok {
		return notFound("client", inv.ClientID)
	}
	if inv.MatterID != 0 {
		if _, ok := t.matters[inv.MatterID]; !ok {
			return notFound("matter", inv.MatterID)
		}
	}
	inv.ID = billing.InvoiceID(t.next())
	t.invoices[inv.ID] = *inv
	t.invoiceNumbers[inv.Number] = inv.ID
	return nil
}

func (t *tables) GetInvoice(_ context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	inv, ok := t.invoices[id]
	if !ok {
		return nil, notFound("invoice", id)
	}
	return &inv, nil
}

func (t *tables) LatestInvoice(_ context.Context) (*billing.Invoice, error) {
	var latest *billing.Invoice
	for _, inv := range t.invoices {
		inv := inv
		if latest == nil || inv.ID > latest.ID {
			latest = &inv
		}
	}
	if latest == nil {
		return nil, notFound("invoice", "latest")
	}
	return latest, nil
}

func (t *tables) DeleteInvoice(_ context.Context, id billing.InvoiceID) error {
	inv, ok := t.invoices[id]
	if !ok {
		return notFound("invoice", id)
	}
	for lineID, l := range t.lines {
		if l.InvoiceID == id {
			delete(t.lines, lineID)
			delete(t.lineByWIP, l.WIPEntryID)
		}
	}
	if ledgerID, ok := t.ledgerByInv[id]; ok {
		delete(t.ledgers, ledgerID)
		delete(t.ledgerByInv, id)
	}
	delete(t.invoiceNumbers, inv.Number)
	delete(t.invoices, id)
	return nil
}

func (t *tables) ListInvoices(_ context.Context, f billing.InvoiceFilter) ([]billing.InvoiceSummary, error) {
	var out []billing.InvoiceSummary
	for _, inv := range t.invoices {
		if f.Number != "" && !strings.Contains(inv.Number, f.Number) {
			continue
		}
		if f.ClientID != 0 && inv.ClientID != f.ClientID {
			continue
		}
		if f.MatterID != 0 && inv.MatterID != f.MatterID {
			continue
		}
		if f.From != nil && inv.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && inv.Date.After(*f.To) {
			continue
		}
		l, ok := t.ledgers[t.ledgerByInv[inv.ID]]
		if !ok {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, billing.InvoiceSummary{
			Invoice: inv,
			Status:  l.Status,
			Totals:  l.Totals,
			PaidAt:  l.PaidAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Invoice.ID > out[j].Invoice.ID })
	return out, nil
}

func (t *tables) InsertInvoiceLines(_ context.Context, lines []billing.InvoiceLine) error {
	seen := make(map[billing.WIPEntryID]bool, len(lines))
	for _, l := range lines {
		if _, ok := t.invoices[l.InvoiceID]; !ok {
			return notFound("invoice", l.InvoiceID)
		}
		if _, ok := t.wip[l.WIPEntryID]; !ok {
			return notFound("WIP entry", l.WIPEntryID)
		}
		if _, dup := t.lineByWIP[l.WIPEntryID]; dup || seen[l.WIPEntryID] {
			return fmt.Errorf("WIP entry %d: %w", l.WIPEntryID, billing.ErrWIPAlreadyInvoiced)
		}
		seen[l.WIPEntryID] = true
	}
	for i := range lines {
		lines[i].ID = billing.InvoiceLineID(t.next())
		t.lines[lines[i].ID] = lines[i]
		t.lineByWIP[lines[i].WIPEntryID] = lines[i].ID
	}
	return nil
}

func (t *tables) ListInvoiceLines(_ context.Context, id billing.InvoiceID) ([]billing.InvoiceLine, error) {
	var out []billing.InvoiceLine
	for _, l := range t.lines {
		if l.InvoiceID == id {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- ledger ------------------------------------------------------------------

func (t *tables) InsertLedger(_ context.Context, l *billing.LedgerRecord) error {
	if _, ok := t.invoices[l.InvoiceID]; !ok {
		return notFound("invoice", l.InvoiceID)
	}
	if _, dup := t.ledgerByInv[l.InvoiceID]; dup {
		return fmt.Errorf("invoice %d: %w", l.InvoiceID, billing.ErrDuplicateLedger)
	}
	l.ID = billing.LedgerID(t.next())
	t.ledgers[l.ID] = *l
	t.ledgerByInv[l.InvoiceID] = l.ID
	return nil
}

func (t *tables) GetLedgerByInvoice(_ context.Context, id billing.InvoiceID) (*billing.LedgerRecord, error) {
	ledgerID, ok := t.ledgerByInv[id]
	if !ok {
		return nil, notFound("ledger for invoice", id)
	}
	l := t.ledgers[ledgerID]
	return &l, nil
}

func (t *tables) TransitionLedger(_ context.Context, id billing.LedgerID, from, to billing.LedgerStatus, paidAt *time.Time) (bool, error) {
	l, ok := t.ledgers[id]
	if !ok || l.Status != from {
		return false, nil
	}
	l.Status = to
	l.PaidAt = paidAt
	t.ledgers[id] = l
	return true, nil
}

// --- registry ----------------------------------------------------------------

func (t *tables) saveRole(r *billing.Role) {
	if r.ID == 0 {
		r.ID = billing.RoleID(t.next())
	}
	t.roles[r.ID] = *r
}

func (t *tables) savePerson(p *billing.Person) error {
	if p.RoleID != 0 {
		if _, ok := t.roles[p.RoleID]; !ok {
			return notFound("role", p.RoleID)
		}
	}
	if p.ID == 0 {
		p.ID = billing.PersonID(t.next())
	}
	t.persons[p.ID] = *p
	return nil
}

func (t *tables) saveClient(c *billing.Client) {
	if c.ID == 0 {
		c.ID = billing.ClientID(t.next())
	}
	t.clients[c.ID] = *c
}

func (t *tables) saveMatter(m *billing.Matter) error {
	if _, ok := t.clients[m.ClientID]; !ok {
		return notFound("client", m.ClientID)
	}
	if _, ok := t.persons[m.LeadFeeEarnerID]; !ok {
		return notFound("person", m.LeadFeeEarnerID)
	}
	if m.ID == 0 {
		m.ID = billing.MatterID(t.next())
	}
	t.matters[m.ID] = *m
	return nil
}

func (t *tables) referenced(match func(w billing.Work) bool) bool {
	for _, tr := range t.timeRecords {
		if match(tr.Work) {
			return true
		}
	}
	for _, w := range t.wip {
		if match(w.Work) {
			return true
		}
	}
	return false
}

func containsPerson(ids []billing.PersonID, id billing.PersonID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// =============================================================================
// LOCKED ACCESSORS - Memory as a billing.Store outside WithTx
// =============================================================================

func (m *Memory) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetClient(ctx, id)
}

func (m *Memory) GetMatter(ctx context.Context, id billing.MatterID) (*billing.Matter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetMatter(ctx, id)
}

func (m *Memory) GetPerson(ctx context.Context, id billing.PersonID) (*billing.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetPerson(ctx, id)
}

func (m *Memory) GetPersonByUser(ctx context.Context, userID string) (*billing.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetPersonByUser(ctx, userID)
}

func (m *Memory) GetRole(ctx context.Context, id billing.RoleID) (*billing.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetRole(ctx, id)
}

func (m *Memory) ListDelegates(ctx context.Context, managerID billing.PersonID) ([]billing.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListDelegates(ctx, managerID)
}

func (m *Memory) InsertTimeRecord(ctx context.Context, tr *billing.TimeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertTimeRecord(ctx, tr)
}

func (m *Memory) UpdateTimeRecord(ctx context.Context, tr *billing.TimeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateTimeRecord(ctx, tr)
}

func (m *Memory) GetTimeRecord(ctx context.Context, id billing.TimeRecordID) (*billing.TimeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetTimeRecord(ctx, id)
}

func (m *Memory) ListTimeRecords(ctx context.Context, f billing.TimeRecordFilter) ([]billing.TimeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListTimeRecords(ctx, f)
}

func (m *Memory) StaleTimeRecords(ctx context.Context, limit int) ([]billing.TimeRecordID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.StaleTimeRecords(ctx, limit)
}

func (m *Memory) InsertWIP(ctx context.Context, w *billing.WIPEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertWIP(ctx, w)
}

func (m *Memory) GetWIP(ctx context.Context, id billing.WIPEntryID) (*billing.WIPEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetWIP(ctx, id)
}

func (m *Memory) GetWIPByTimeRecord(ctx context.Context, id billing.TimeRecordID) (*billing.WIPEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetWIPByTimeRecord(ctx, id)
}

func (m *Memory) UpdateWIPWork(ctx context.Context, id billing.WIPEntryID, work billing.Work, fields []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateWIPWork(ctx, id, work, fields, at)
}

func (m *Memory) UnbilledWIP(ctx context.Context, ids []billing.WIPEntryID) ([]billing.WIPEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.UnbilledWIP(ctx, ids)
}

func (m *Memory) TransitionWIP(ctx context.Context, ids []billing.WIPEntryID, from, to billing.WIPStatus, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.TransitionWIP(ctx, ids, from, to, at)
}

func (m *Memory) ListWIP(ctx context.Context, f billing.WIPFilter) ([]billing.WIPEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListWIP(ctx, f)
}

func (m *Memory) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertInvoice(ctx, inv)
}

func (m *Memory) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetInvoice(ctx, id)
}

func (m *Memory) LatestInvoice(ctx context.Context) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.LatestInvoice(ctx)
}

func (m *Memory) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.DeleteInvoice(ctx, id)
}

func (m *Memory) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.InvoiceSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListInvoices(ctx, f)
}

func (m *Memory) InsertInvoiceLines(ctx context.Context, lines []billing.InvoiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertInvoiceLines(ctx, lines)
}

func (m *Memory) ListInvoiceLines(ctx context.Context, id billing.InvoiceID) ([]billing.InvoiceLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListInvoiceLines(ctx, id)
}

func (m *Memory) InsertLedger(ctx context.Context, l *billing.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertLedger(ctx, l)
}

func (m *Memory) GetLedgerByInvoice(ctx context.Context, id billing.InvoiceID) (*billing.LedgerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetLedgerByInvoice(ctx, id)
}

func (m *Memory) TransitionLedger(ctx context.Context, id billing.LedgerID, from, to billing.LedgerStatus, paidAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.TransitionLedger(ctx, id, from, to, paidAt)
}

// =============================================================================
// REGISTRY
// =============================================================================

func (m *Memory) SaveRole(_ context.Context, r *billing.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.saveRole(r)
	return nil
}

func (m *Memory) SavePerson(_ context.Context, p *billing.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.savePerson(p)
}

func (m *Memory) SaveClient(_ context.Context, c *billing.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.saveClient(c)
	return nil
}

func (m *Memory) SaveMatter(_ context.Context, mt *billing.Matter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.saveMatter(mt)
}

func (m *Memory) DeleteClient(_ context.Context, id billing.ClientID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.s.clients[id]; !ok {
		return notFound("client", id)
	}
	for _, mt := range m.s.matters {
		if mt.ClientID == id {
			return fmt.Errorf("client %d has matters: %w", id, billing.ErrReferenced)
		}
	}
	for _, inv := range m.s.invoices {
		if inv.ClientID == id {
			return fmt.Errorf("client %d has invoices: %w", id, billing.ErrReferenced)
		}
	}
	delete(m.s.clients, id)
	return nil
}

func (m *Memory) DeleteMatter(_ context.Context, id billing.MatterID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.s.matters[id]; !ok {
		return notFound("matter", id)
	}
	if m.s.referenced(func(w billing.Work) bool { return w.MatterID == id }) {
		return fmt.Errorf("matter %d: %w", id, billing.ErrReferenced)
	}
	for _, inv := range m.s.invoices {
		if inv.MatterID == id {
			return fmt.Errorf("matter %d has invoices: %w", id, billing.ErrReferenced)
		}
	}
	delete(m.s.matters, id)
	return nil
}

func (m *Memory) DeletePerson(_ context.Context, id billing.PersonID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.s.persons[id]; !ok {
		return notFound("person", id)
	}
	if m.s.referenced(func(w billing.Work) bool { return w.FeeEarnerID == id }) {
		return fmt.Errorf("person %d: %w", id, billing.ErrReferenced)
	}
	for _, mt := range m.s.matters {
		if mt.LeadFeeEarnerID == id {
			return fmt.Errorf("person %d leads matters: %w", id, billing.ErrReferenced)
		}
	}
	delete(m.s.persons, id)
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = newTables()
	return nil
}
