/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a firm and
	some billing history. Each scenario loads master data through the
	factory and then drives the engine as the firm's own people would, so
	the data obeys every rule a real request would.

AVAILABLE SCENARIOS:

	small-firm:     Master data only, no time recorded
	billing-cycle:  Small firm with unbilled WIP, a draft, and a paid invoice
	partnership:    Associate partner, cashier and a closed matter

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Load firm definition via factory
 3. Record time as each fee earner
 4. Optionally invoice, post and settle

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "billing-cycle"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
  - factory/presets.go: Firm definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-firm",
		Name:        "Small Firm",
		Description: "Partner, solicitor, trainee and billing administrator; two clients, three matters",
	},
	{
		ID:          "billing-cycle",
		Name:        "Billing Cycle",
		Description: "Small firm with unbilled WIP, a draft invoice and a paid invoice",
	},
	{
		ID:          "partnership",
		Name:        "Partnership",
		Description: "Associate partner, cashier and a closed matter",
	},
}

// scenarioAdmin loads data that needs a superuser (client-wide invoices,
// matters led by non-partners).
var scenarioAdmin = scope.Actor{UserID: "scenario-loader", Superuser: true}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.writeEngineError(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeEngineError(w, r, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "small-firm":
		load = h.loadSmallFirmScenario
	case "billing-cycle":
		load = h.loadBillingCycleScenario
	case "partnership":
		load = h.loadPartnershipScenario
	default:
		return fmt.Errorf("unknown scenario %q: %w", id, billing.ErrNotFound)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return err
	}
	h.currentScenario = id
	h.logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadFirm(ctx context.Context, def string) (*factory.Firm, error) {
	fj, err := h.Firms.ParseFirm(def)
	if err != nil {
		return nil, err
	}
	return h.Firms.Load(ctx, h.Store, fj)
}

func (h *Handler) loadSmallFirmScenario(ctx context.Context) error {
	_, err := h.loadFirm(ctx, factory.SmallFirmJSON)
	return err
}

func (h *Handler) loadBillingCycleScenario(ctx context.Context) error {
	firm, err := h.loadFirm(ctx, factory.SmallFirmJSON)
	if err != nil {
		return err
	}
	m1, m2, m3 := firm.Matters["m1"], firm.Matters["m2"], firm.Matters["m3"]

	entries := []struct {
		user, activity, hours, narrative string
		matter                           billing.Matter
	}{
		{"pat", "Advice", "1.5", "Call with client on lease terms", m1},
		{"sam", "Drafting", "3.0", "Draft renewal lease", m1},
		{"tia", "Research", "2.2", "Rent review precedents", m1},
		{"pat", "Meeting", "2.0", "Board meeting on acquisition", m2},
		{"sam", "Drafting", "1.2", "Letter before action", m3},
		{"tia", "Filing", "0.4", "", m3},
	}

	wipByMatter := make(map[billing.MatterID][]billing.WIPEntryID)
	for _, e := range entries {
		tr, err := h.recordAs(ctx, e.user, billing.TimeInput{
			MatterID:  e.matter.ID,
			Activity:  e.activity,
			Hours:     e.hours,
			Narrative: e.narrative,
		})
		if err != nil {
			return err
		}
		w, err := h.Store.GetWIPByTimeRecord(ctx, tr.ID)
		if err != nil {
			return err
		}
		wipByMatter[e.matter.ID] = append(wipByMatter[e.matter.ID], w.ID)
	}

	pat, err := h.Engine.ResolveActor(ctx, "pat", false)
	if err != nil {
		return err
	}
	bea, err := h.Engine.ResolveActor(ctx, "bea", false)
	if err != nil {
		return err
	}

	// M-001 billed, posted and paid.
	paid, err := h.Engine.CreateInvoice(ctx, pat, billing.InvoiceInput{
		ClientID: m1.ClientID,
		MatterID: m1.ID,
		WIPIDs:   wipByMatter[m1.ID],
		TaxRate:  money.MustPercent("20"),
		Notes:    "Lease renewal, first stage",
	})
	if err != nil {
		return err
	}
	if _, err := h.Engine.PostInvoice(ctx, bea, paid.Invoice.ID); err != nil {
		return err
	}
	if _, err := h.Engine.SettleInvoice(ctx, bea, paid.Invoice.ID); err != nil {
		return err
	}

	// M-003 left as a draft. Sam leads it, so it goes through the admin.
	if _, err := h.Engine.CreateInvoice(ctx, scenarioAdmin, billing.InvoiceInput{
		ClientID: m3.ClientID,
		MatterID: m3.ID,
		WIPIDs:   wipByMatter[m3.ID],
		TaxRate:  money.MustPercent("20"),
	}); err != nil {
		return err
	}

	// M-002 stays unbilled.
	return nil
}

func (h *Handler) loadPartnershipScenario(ctx context.Context) error {
	firm, err := h.loadFirm(ctx, factory.PartnershipJSON)
	if err != nil {
		return err
	}
	p1, p2 := firm.Matters["p1"], firm.Matters["p2"]

	entries := []struct {
		user, activity, hours string
		matter                billing.Matter
	}{
		{"alan", "Hearing", "4.0", p1},
		{"sara", "Bundle", "2.5", p1},
		{"ella", "Advice", "1.0", p2},
		{"sara", "Search", "0.8", p2},
	}
	for _, e := range entries {
		if _, err := h.recordAs(ctx, e.user, billing.TimeInput{
			MatterID: e.matter.ID,
			Activity: e.activity,
			Hours:    e.hours,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) recordAs(ctx context.Context, userID string, in billing.TimeInput) (*billing.TimeRecord, error) {
	actor, err := h.Engine.ResolveActor(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	tr, err := h.Engine.RecordTime(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	// The engine may have queued the sync; scenarios need the WIP now.
	task := billing.SyncTask{TimeRecordID: tr.ID, Kind: billing.SyncCreated}
	if err := h.Engine.Synchronizer().Sync(ctx, task); err != nil {
		return nil, err
	}
	return tr, nil
}
