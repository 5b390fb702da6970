package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
)

func TestResolveActor(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, int64(f.pat.ID), f.partner.PersonID)
	assert.Equal(t, "partner", string(f.partner.Category))
	assert.Equal(t, []int64{int64(f.sam.ID)}, f.partner.Delegates)

	assert.Equal(t, "billing", string(f.biller.Category))
	assert.Empty(t, f.biller.Delegates)

	// Tom has no role
	assert.Equal(t, "", string(f.trainee.Category))

	// Unknown users resolve to a bare actor
	ghost := f.actor(t, "ghost", false)
	assert.False(t, ghost.HasPerson())
	assert.True(t, f.admin.Superuser)
}

func TestListUnbilledWIP_Visibility(t *testing.T) {
	f := newFixture(t)
	pat := f.record(t, f.partner, f.m1, "1.0", "Advice", "")
	sam := f.record(t, f.solicitor, f.m1, "1.0", "Drafting", "")
	tom := f.record(t, f.trainee, f.m1, "1.0", "Research", "")

	ids := func(ws []billing.WIPEntry) []billing.WIPEntryID {
		out := make([]billing.WIPEntryID, len(ws))
		for i, w := range ws {
			out[i] = w.ID
		}
		return out
	}

	// Billing sees everything
	all, err := f.engine.ListUnbilledWIP(f.ctx, f.biller, billing.WIPFilter{})
	require.NoError(t, err)
	assert.Equal(t, []billing.WIPEntryID{pat.ID, sam.ID, tom.ID}, ids(all))

	// Sam sees his own and his delegate Tom's
	mine, err := f.engine.ListUnbilledWIP(f.ctx, f.solicitor, billing.WIPFilter{})
	require.NoError(t, err)
	assert.Equal(t, []billing.WIPEntryID{sam.ID, tom.ID}, ids(mine))

	// Tom only sees his own
	own, err := f.engine.ListUnbilledWIP(f.ctx, f.trainee, billing.WIPFilter{})
	require.NoError(t, err)
	assert.Equal(t, []billing.WIPEntryID{tom.ID}, ids(own))

	// Tom cannot ask for Pat's
	_, err = f.engine.ListUnbilledWIP(f.ctx, f.trainee, billing.WIPFilter{FeeEarnerID: f.pat.ID})
	require.ErrorIs(t, err, billing.ErrUnauthorized)

	// Billed entries drop out
	f.invoice(t, f.partner, f.acme, f.m1, "0", pat)
	all, err = f.engine.ListUnbilledWIP(f.ctx, f.biller, billing.WIPFilter{ClientID: f.acme.ID})
	require.NoError(t, err)
	assert.Equal(t, []billing.WIPEntryID{sam.ID, tom.ID}, ids(all))
}

func TestListTimeRecords_NewestFirstWithLimit(t *testing.T) {
	f := newFixture(t)
	first := f.record(t, f.solicitor, f.m1, "1.0", "A", "")
	second := f.record(t, f.solicitor, f.m1, "1.0", "B", "")
	f.record(t, f.partner, f.m1, "1.0", "C", "")

	got, err := f.engine.ListTimeRecords(f.ctx, f.solicitor, billing.TimeRecordFilter{Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.TimeRecordID(), got[0].ID)
	assert.Equal(t, first.TimeRecordID(), got[1].ID)

	got, err = f.engine.ListTimeRecords(f.ctx, f.biller, billing.TimeRecordFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestListInvoices_PagingAndTotals(t *testing.T) {
	f := newFixture(t)

	// Three invoices: 100, 200, 300 (tax 0)
	for _, h := range []string{"0.5", "1.0", "1.5"} {
		w := f.record(t, f.partner, f.m1, h, "Advice", "")
		f.invoice(t, f.partner, f.acme, f.m1, "0", w)
	}
	w := f.record(t, f.partner, f.m2, "1.0", "Advice", "")
	globex := f.invoice(t, f.partner, f.globex, f.m2, "0", w)
	_, err := f.engine.PostInvoice(f.ctx, f.biller, globex.Invoice.ID)
	require.NoError(t, err)

	// WHEN: listing Acme two per page
	page, err := f.engine.ListInvoices(f.ctx, f.biller, billing.InvoiceFilter{ClientID: f.acme.ID, PageSize: 2})
	require.NoError(t, err)

	// THEN: newest first, aggregates cover every match
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "000003", page.Items[0].Invoice.Number)
	assert.Equal(t, "300.00", page.Items[0].Running.Total.String())
	assert.Equal(t, "500.00", page.Items[1].Running.Total.String())
	assert.Equal(t, "600.00", page.Totals.Total.String())

	page2, err := f.engine.ListInvoices(f.ctx, f.biller, billing.InvoiceFilter{ClientID: f.acme.ID, PageSize: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.Equal(t, "000001", page2.Items[0].Invoice.Number)
	assert.Equal(t, "600.00", page2.Items[0].Running.Total.String())

	// Status and number filters
	posted, err := f.engine.ListInvoices(f.ctx, f.biller, billing.InvoiceFilter{Status: billing.LedgerPosted})
	require.NoError(t, err)
	require.Len(t, posted.Items, 1)
	assert.Equal(t, globex.Invoice.Number, posted.Items[0].Invoice.Number)

	byNumber, err := f.engine.ListInvoices(f.ctx, f.biller, billing.InvoiceFilter{Number: "0002"})
	require.NoError(t, err)
	require.Len(t, byNumber.Items, 1)

	// Fee earners cannot list
	_, err = f.engine.ListInvoices(f.ctx, f.solicitor, billing.InvoiceFilter{})
	require.ErrorIs(t, err, billing.ErrUnauthorized)
}

func TestListInvoices_PageSizeClamp(t *testing.T) {
	f := newFixture(t)

	page, err := f.engine.ListInvoices(f.ctx, f.biller, billing.InvoiceFilter{PageSize: 10_000})
	require.NoError(t, err)
	assert.Equal(t, billing.MaxPageSize, page.PageSize)
	assert.Equal(t, "0.00", page.Totals.Total.String())

	page, err = f.engine.ListInvoices(f.ctx, f.biller, billing.InvoiceFilter{})
	require.NoError(t, err)
	assert.Equal(t, billing.DefaultPageSize, page.PageSize)
}
