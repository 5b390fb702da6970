package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// fixture is a small firm:
//
//	Pat  partner   200/h  user "pat"
//	Sam  solicitor 100/h  user "sam"  manager Pat
//	Tom  no role          user "tom"  manager Sam
//	Bea  billing          user "bea"
//
//	Acme:   M-001 (lead Pat), M-003 (lead Sam), M-004 (closed)
//	Globex: M-002 (lead Pat)
type fixture struct {
	ctx    context.Context
	store  *store.Memory
	engine *billing.Engine
	now    time.Time

	pat, sam, tom, bea billing.Person
	acme, globex       billing.Client
	m1, m2, m3, m4     billing.Matter

	partner, solicitor, trainee, biller, admin scope.Actor
}

func newFixture(t *testing.T, opts ...billing.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()

	f := &fixture{ctx: ctx, store: s, now: testNow}

	partnerRole := billing.Role{Name: "Partner", Category: scope.ClassifyRole("Partner"), Rate: money.MustAmount("200")}
	solicitorRole := billing.Role{Name: "Solicitor", Category: scope.ClassifyRole("Solicitor"), Rate: money.MustAmount("100")}
	billingRole := billing.Role{Name: "Billing Administrator", Category: scope.ClassifyRole("Billing Administrator"), Rate: money.Zero}
	for _, r := range []*billing.Role{&partnerRole, &solicitorRole, &billingRole} {
		require.NoError(t, s.SaveRole(ctx, r))
	}

	f.pat = billing.Person{Initials: "PAT", Name: "Pat Partner", UserID: "pat", RoleID: partnerRole.ID}
	require.NoError(t, s.SavePerson(ctx, &f.pat))
	f.sam = billing.Person{Initials: "SAM", Name: "Sam Solicitor", UserID: "sam", RoleID: solicitorRole.ID, ManagerID: f.pat.ID}
	require.NoError(t, s.SavePerson(ctx, &f.sam))
	f.tom = billing.Person{Initials: "TOM", Name: "Tom Trainee", UserID: "tom", ManagerID: f.sam.ID}
	require.NoError(t, s.SavePerson(ctx, &f.tom))
	f.bea = billing.Person{Initials: "BEA", Name: "Bea Billing", UserID: "bea", RoleID: billingRole.ID}
	require.NoError(t, s.SavePerson(ctx, &f.bea))

	f.acme = billing.Client{Number: 1001, Name: "Acme Ltd"}
	require.NoError(t, s.SaveClient(ctx, &f.acme))
	f.globex = billing.Client{Number: 1002, Name: "Globex plc"}
	require.NoError(t, s.SaveClient(ctx, &f.globex))

	closed := testNow.Add(-24 * time.Hour)
	f.m1 = billing.Matter{Number: "M-001", Description: "Supply dispute", ClientID: f.acme.ID, LeadFeeEarnerID: f.pat.ID, OpenedAt: testNow}
	f.m2 = billing.Matter{Number: "M-002", Description: "Lease", ClientID: f.globex.ID, LeadFeeEarnerID: f.pat.ID, OpenedAt: testNow}
	f.m3 = billing.Matter{Number: "M-003", Description: "Employment", ClientID: f.acme.ID, LeadFeeEarnerID: f.sam.ID, OpenedAt: testNow}
	f.m4 = billing.Matter{Number: "M-004", Description: "Old matter", ClientID: f.acme.ID, LeadFeeEarnerID: f.pat.ID, OpenedAt: testNow, ClosedAt: &closed}
	for _, m := range []*billing.Matter{&f.m1, &f.m2, &f.m3, &f.m4} {
		require.NoError(t, s.SaveMatter(ctx, m))
	}

	opts = append([]billing.Option{billing.WithClock(func() time.Time { return f.now })}, opts...)
	f.engine = billing.NewEngine(s, opts...)

	f.partner = f.actor(t, "pat", false)
	f.solicitor = f.actor(t, "sam", false)
	f.trainee = f.actor(t, "tom", false)
	f.biller = f.actor(t, "bea", false)
	f.admin = f.actor(t, "root", true)
	return f
}

// advance moves the engine clock forward.
func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) actor(t *testing.T, userID string, superuser bool) scope.Actor {
	t.Helper()
	a, err := f.engine.ResolveActor(f.ctx, userID, superuser)
	require.NoError(t, err)
	return a
}

// record logs hours for a person on a matter and returns the resulting WIP entry.
func (f *fixture) record(t *testing.T, who scope.Actor, matter billing.Matter, hours, activity, narrative string) billing.WIPEntry {
	t.Helper()
	tr, err := f.engine.RecordTime(f.ctx, who, billing.TimeInput{
		MatterID:  matter.ID,
		Activity:  activity,
		Hours:     hours,
		Narrative: narrative,
	})
	require.NoError(t, err)

	w, err := f.store.GetWIPByTimeRecord(f.ctx, tr.ID)
	require.NoError(t, err)
	return *w
}

func (f *fixture) invoice(t *testing.T, who scope.Actor, client billing.Client, matter billing.Matter, tax string, wip ...billing.WIPEntry) *billing.InvoiceDetail {
	t.Helper()
	ids := make([]billing.WIPEntryID, len(wip))
	for i, w := range wip {
		ids[i] = w.ID
	}
	detail, err := f.engine.CreateInvoice(f.ctx, who, billing.InvoiceInput{
		ClientID: client.ID,
		MatterID: matter.ID,
		WIPIDs:   ids,
		TaxRate:  money.MustPercent(tax),
	})
	require.NoError(t, err)
	return detail
}

func (f *fixture) wipStatus(t *testing.T, id billing.WIPEntryID) billing.WIPStatus {
	t.Helper()
	w, err := f.store.GetWIP(f.ctx, id)
	require.NoError(t, err)
	return w.Status
}
