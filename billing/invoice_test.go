package billing_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

func TestCreateInvoice_TotalsAndSnapshots(t *testing.T) {
	f := newFixture(t)

	// GIVEN: 5.0h by Sam (100/h) and 2.5h by Pat (200/h) on M-001
	w1 := f.record(t, f.solicitor, f.m1, "5.0", "Drafting", "Draft defence")
	w2 := f.record(t, f.partner, f.m1, "2.5", "Advice", "Conference with client")

	// WHEN: Pat invoices both at 20% tax
	detail := f.invoice(t, f.partner, f.acme, f.m1, "20", w1, w2)

	// THEN: lines snapshot hours and role rates
	require.Len(t, detail.Lines, 2)
	assert.Equal(t, "100.00", detail.Lines[0].Rate.String())
	assert.Equal(t, "500.00", detail.Lines[0].Amount.String())
	assert.Equal(t, "200.00", detail.Lines[1].Rate.String())
	assert.Equal(t, "500.00", detail.Lines[1].Amount.String())
	assert.Equal(t, "Draft defence", detail.Lines[0].Description)

	// AND: the draft ledger carries the totals
	assert.Equal(t, "000001", detail.Invoice.Number)
	assert.Equal(t, billing.LedgerDraft, detail.Ledger.Status)
	assert.Equal(t, "1000.00", detail.Ledger.Totals.Subtotal.String())
	assert.Equal(t, "200.00", detail.Ledger.Totals.Tax.String())
	assert.Equal(t, "1200.00", detail.Ledger.Totals.Total.String())
	assert.Equal(t, detail.Ledger.Totals, detail.Invoice.Totals(detail.Lines))
	assert.Equal(t, "pat", detail.Invoice.CreatedBy)

	// AND: both entries are billed
	assert.Equal(t, billing.WIPBilled, f.wipStatus(t, w1.ID))
	assert.Equal(t, billing.WIPBilled, f.wipStatus(t, w2.ID))
}

func TestCreateInvoice_SequentialNumbers(t *testing.T) {
	f := newFixture(t)

	a := f.record(t, f.partner, f.m1, "1.0", "Advice", "")
	b := f.record(t, f.partner, f.m1, "1.0", "Advice", "")

	first := f.invoice(t, f.partner, f.acme, f.m1, "0", a)
	second := f.invoice(t, f.partner, f.acme, f.m1, "0", b)

	assert.Equal(t, "000001", first.Invoice.Number)
	assert.Equal(t, "000002", second.Invoice.Number)
}

func TestCreateInvoice_RateChangeDoesNotAlterBilledLines(t *testing.T) {
	f := newFixture(t)
	w := f.record(t, f.solicitor, f.m1, "1.0", "Drafting", "")
	detail := f.invoice(t, f.partner, f.acme, f.m1, "0", w)

	role, err := f.store.GetRole(f.ctx, f.sam.RoleID)
	require.NoError(t, err)
	role.Rate = money.MustAmount("999")
	require.NoError(t, f.store.SaveRole(f.ctx, role))

	got, err := f.engine.GetInvoice(f.ctx, f.partner, detail.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", got.Lines[0].Rate.String())
	assert.Equal(t, "100.00", got.Ledger.Totals.Total.String())
}

func TestCreateInvoice_DescriptionFallback(t *testing.T) {
	f := newFixture(t)
	withActivity := f.record(t, f.partner, f.m1, "1.0", "Drafting", "")
	bare := f.record(t, f.partner, f.m1, "1.0", "", "")

	detail := f.invoice(t, f.partner, f.acme, f.m1, "0", withActivity, bare)

	assert.Equal(t, "M-001 — Drafting", detail.Lines[0].Description)
	assert.Equal(t, "M-001 — Work", detail.Lines[1].Description)
}

func TestCreateInvoice_MissingRoleBillsAtZero(t *testing.T) {
	f := newFixture(t)

	// Tom has no role; Pat records on his behalf
	tr, err := f.engine.RecordTime(f.ctx, f.partner, billing.TimeInput{
		MatterID: f.m1.ID, FeeEarnerID: f.tom.ID, Hours: "4.0",
	})
	require.NoError(t, err)
	w, err := f.store.GetWIPByTimeRecord(f.ctx, tr.ID)
	require.NoError(t, err)

	detail := f.invoice(t, f.partner, f.acme, f.m1, "20", *w)
	assert.Equal(t, "0.00", detail.Lines[0].Rate.String())
	assert.Equal(t, "0.00", detail.Ledger.Totals.Total.String())
}

func TestCreateInvoice_ClientWideAcrossMatters(t *testing.T) {
	f := newFixture(t)
	a := f.record(t, f.partner, f.m1, "1.0", "Advice", "")
	b := f.record(t, f.solicitor, f.m3, "1.0", "Drafting", "")

	// Client-wide invoices are not lead-scoped
	detail, err := f.engine.CreateInvoice(f.ctx, f.partner, billing.InvoiceInput{
		ClientID: f.acme.ID,
		WIPIDs:   []billing.WIPEntryID{a.ID, b.ID},
	})
	require.NoError(t, err)
	assert.Len(t, detail.Lines, 2)
	assert.Zero(t, detail.Invoice.MatterID)
}

func TestCreateInvoice_DropsForeignWIP(t *testing.T) {
	f := newFixture(t)
	acme := f.record(t, f.partner, f.m1, "1.0", "Advice", "")
	globex := f.record(t, f.partner, f.m2, "3.0", "Advice", "")

	// WHEN: a Globex entry is smuggled into an Acme invoice
	detail := f.invoice(t, f.partner, f.acme, f.m1, "0", acme, globex)

	// THEN: it is silently left out and stays unbilled
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, acme.ID, detail.Lines[0].WIPEntryID)
	assert.Equal(t, billing.WIPUnbilled, f.wipStatus(t, globex.ID))
}

func TestCreateInvoice_NoBillableItems(t *testing.T) {
	f := newFixture(t)
	globex := f.record(t, f.partner, f.m2, "1.0", "Advice", "")
	billed := f.record(t, f.partner, f.m1, "1.0", "Advice", "")
	f.invoice(t, f.partner, f.acme, f.m1, "0", billed)

	tests := []struct {
		name string
		ids  []billing.WIPEntryID
	}{
		{"empty selection", nil},
		{"only foreign client", []billing.WIPEntryID{globex.ID}},
		{"already billed", []billing.WIPEntryID{billed.ID}},
		{"unknown ids", []billing.WIPEntryID{424242}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateInvoice(f.ctx, f.partner, billing.InvoiceInput{
				ClientID: f.acme.ID, MatterID: f.m1.ID, WIPIDs: tt.ids,
			})
			require.ErrorIs(t, err, billing.ErrNoBillableItems)
		})
	}

	// No invoice besides the first was created
	page, err := f.engine.ListInvoices(f.ctx, f.partner, billing.InvoiceFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestCreateInvoice_Authorization(t *testing.T) {
	f := newFixture(t)
	w1 := f.record(t, f.solicitor, f.m1, "1.0", "Drafting", "")
	w3 := f.record(t, f.solicitor, f.m3, "1.0", "Drafting", "")

	tests := []struct {
		name   string
		actor  scope.Actor
		matter billing.Matter
		wip    billing.WIPEntry
	}{
		{"fee earner", f.solicitor, f.m3, w3},
		{"billing cannot create", f.biller, f.m1, w1},
		{"partner not lead", f.partner, f.m3, w3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateInvoice(f.ctx, tt.actor, billing.InvoiceInput{
				ClientID: f.acme.ID, MatterID: tt.matter.ID, WIPIDs: []billing.WIPEntryID{tt.wip.ID},
			})
			require.ErrorIs(t, err, billing.ErrUnauthorized)
			assert.Equal(t, billing.WIPUnbilled, f.wipStatus(t, tt.wip.ID))
		})
	}

	// Admin bypasses the lead rule
	detail, err := f.engine.CreateInvoice(f.ctx, f.admin, billing.InvoiceInput{
		ClientID: f.acme.ID, MatterID: f.m3.ID, WIPIDs: []billing.WIPEntryID{w3.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "root", detail.Invoice.CreatedBy)
}

func TestCreateInvoice_RelaxedPartnerPolicy(t *testing.T) {
	f := newFixture(t, billing.WithPolicy(scope.Policy{LeadScopeAppliesToPartners: false}))
	w := f.record(t, f.solicitor, f.m3, "1.0", "Drafting", "")

	_, err := f.engine.CreateInvoice(f.ctx, f.partner, billing.InvoiceInput{
		ClientID: f.acme.ID, MatterID: f.m3.ID, WIPIDs: []billing.WIPEntryID{w.ID},
	})
	require.NoError(t, err)
}

func TestCreateInvoice_CrossClientMatter(t *testing.T) {
	f := newFixture(t)
	w := f.record(t, f.partner, f.m2, "1.0", "Advice", "")

	_, err := f.engine.CreateInvoice(f.ctx, f.partner, billing.InvoiceInput{
		ClientID: f.acme.ID, MatterID: f.m2.ID, WIPIDs: []billing.WIPEntryID{w.ID},
	})
	require.ErrorIs(t, err, billing.ErrCrossClientMismatch)
}

func TestCreateInvoice_NumberCollisionExhaustsRetries(t *testing.T) {
	f := newFixture(t, billing.WithNumberRetries(2))
	w := f.record(t, f.partner, f.m1, "1.0", "Advice", "")

	// GIVEN: the newest invoice is 000004 but 000005 already exists,
	// so the derived next number always collides
	for _, number := range []string{"000005", "000004"} {
		inv := &billing.Invoice{Number: number, ClientID: f.acme.ID, Date: testNow, CreatedAt: testNow}
		require.NoError(t, f.store.InsertInvoice(f.ctx, inv))
	}

	// WHEN
	_, err := f.engine.CreateInvoice(f.ctx, f.partner, billing.InvoiceInput{
		ClientID: f.acme.ID, MatterID: f.m1.ID, WIPIDs: []billing.WIPEntryID{w.ID},
	})

	// THEN: a retryable error, and the WIP entry rolled back to unbilled
	require.ErrorIs(t, err, billing.ErrTransient)
	assert.True(t, billing.IsRetryable(err))
	assert.Equal(t, billing.WIPUnbilled, f.wipStatus(t, w.ID))
}

func TestCreateInvoice_DuplicateSelectionBillsOnce(t *testing.T) {
	f := newFixture(t)
	w := f.record(t, f.partner, f.m1, "1.5", "Advice", "")

	detail, err := f.engine.CreateInvoice(f.ctx, f.partner, billing.InvoiceInput{
		ClientID: f.acme.ID, MatterID: f.m1.ID, WIPIDs: []billing.WIPEntryID{w.ID, w.ID},
	})
	require.NoError(t, err)
	assert.Len(t, detail.Lines, 1)
	assert.Equal(t, "300.00", detail.Ledger.Totals.Total.String())
}

func TestCreateInvoice_ConcurrentOverlappingSelections(t *testing.T) {
	f := newFixture(t)

	for round := 0; round < 20; round++ {
		// GIVEN: two entries, one of them wanted by both callers
		shared := f.record(t, f.partner, f.m1, "1.0", "Advice", "")
		extra := f.record(t, f.solicitor, f.m1, "0.5", "Research", "")

		selections := [][]billing.WIPEntryID{
			{shared.ID},
			{shared.ID, extra.ID},
		}
		details := make([]*billing.InvoiceDetail, len(selections))
		errs := make([]error, len(selections))

		// WHEN: both invoice at once
		var wg sync.WaitGroup
		for i, ids := range selections {
			wg.Add(1)
			go func(i int, ids []billing.WIPEntryID) {
				defer wg.Done()
				details[i], errs[i] = f.engine.CreateInvoice(f.ctx, f.partner, billing.InvoiceInput{
					ClientID: f.acme.ID, MatterID: f.m1.ID, WIPIDs: ids,
				})
			}(i, ids)
		}
		wg.Wait()

		// THEN: the shared entry lands on exactly one invoice
		billedShared := 0
		for i := range selections {
			if errs[i] != nil {
				require.ErrorIs(t, errs[i], billing.ErrNoBillableItems, "round %d", round)
				continue
			}
			for _, l := range details[i].Lines {
				if l.WIPEntryID == shared.ID {
					billedShared++
				}
			}
		}
		assert.Equal(t, 1, billedShared, "round %d", round)

		// AND: the caller with the extra entry always gets an invoice
		require.NoError(t, errs[1], "round %d", round)
		assert.Equal(t, billing.WIPBilled, f.wipStatus(t, shared.ID))
		assert.Equal(t, billing.WIPBilled, f.wipStatus(t, extra.ID))
	}
}

func TestParseTaxRate_RejectsSubCentPrecision(t *testing.T) {
	_, err := billing.ParseTaxRate("20.125")
	require.ErrorIs(t, err, billing.ErrInvalidTaxRate)
	require.ErrorIs(t, err, money.ErrPercentPrecision)

	p, err := billing.ParseTaxRate(" 17.5 ")
	require.NoError(t, err)
	assert.Equal(t, "17.50", p.String())

	p, err = billing.ParseTaxRate("")
	require.NoError(t, err)
	assert.True(t, p.Decimal().IsZero())
}
