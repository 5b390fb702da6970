/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Engine. No business rule
  lives here.

ENDPOINTS:
  Time:
    POST   /api/time-records              Record time
    GET    /api/time-records              Recent time records
    PATCH  /api/time-records/{id}         Edit a time record

  WIP:
    GET    /api/wip                       Unbilled WIP
    POST   /api/wip/{id}/write-off        Write off an unbilled entry

  Invoices:
    GET    /api/invoices                  Filtered, paged listing with totals
    POST   /api/invoices                  Create from selected WIP
    GET    /api/invoices/{id}             Invoice, lines and ledger
    DELETE /api/invoices/{id}             Delete a draft
    POST   /api/invoices/{id}/post        draft → posted
    POST   /api/invoices/{id}/settle      posted → paid
    POST   /api/invoices/{id}/unsettle    paid → posted

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

ACTOR:
  The caller is identified by the X-User-ID header (and X-Superuser: true
  for superusers). Authentication is someone else's job; the header is
  trusted and resolved to a scope.Actor once per request.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, query or path parameter
  - 422: Validation errors (struct tags and engine input rules)
  - 403: Missing capability
  - 404: Resource not found
  - 409: State conflict (not a draft, not posted, WIP already billed)
  - 503: Transient failure, safe to retry
  - 500: Internal errors (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/scope"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is a store the API can both run the engine on and seed.
type Backend interface {
	billing.TxStore
	billing.Registry
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *billing.Engine
	Store  Backend
	Firms  *factory.FirmFactory

	logger   *zap.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *billing.Engine, store Backend, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Store:    store,
		Firms:    factory.NewFirmFactory(),
		logger:   logger,
		validate: validator.New(),
	}
}

type actorKey struct{}

// ResolveActor is middleware that attaches the calling actor to the request.
func (h *Handler) ResolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		superuser, _ := strconv.ParseBool(r.Header.Get("X-Superuser"))

		actor, err := h.Engine.ResolveActor(r.Context(), userID, superuser)
		if err != nil {
			h.writeEngineError(w, r, "Failed to resolve actor", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) scope.Actor {
	actor, _ := r.Context().Value(actorKey{}).(scope.Actor)
	return actor
}

// =============================================================================
// TIME RECORD HANDLERS
// =============================================================================

// RecordTime records hours against a matter.
// POST /api/time-records
func (h *Handler) RecordTime(w http.ResponseWriter, r *http.Request) {
	var req RecordTimeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	tr, err := h.Engine.RecordTime(r.Context(), actorFrom(r), billing.TimeInput{
		ClientID:    billing.ClientID(req.ClientID),
		MatterID:    billing.MatterID(req.MatterID),
		FeeEarnerID: billing.PersonID(req.FeeEarnerID),
		Activity:    req.Activity,
		Hours:       req.Hours,
		Narrative:   req.Narrative,
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to record time", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTimeRecordDTO(*tr))
}

// ListTimeRecords returns recent time records, newest first.
// GET /api/time-records?fee_earner_id=&matter_id=&limit=
func (h *Handler) ListTimeRecords(w http.ResponseWriter, r *http.Request) {
	q := queryParams{r: r}
	filter := billing.TimeRecordFilter{
		FeeEarnerID: billing.PersonID(q.id("fee_earner_id")),
		MatterID:    billing.MatterID(q.id("matter_id")),
		Limit:       q.number("limit"),
	}
	if q.err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameter", q.err)
		return
	}

	records, err := h.Engine.ListTimeRecords(r.Context(), actorFrom(r), filter)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list time records", err)
		return
	}

	dtos := make([]TimeRecordDTO, len(records))
	for i, tr := range records {
		dtos[i] = toTimeRecordDTO(tr)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateTimeRecord edits a time record. The WIP entry follows while unbilled.
// PATCH /api/time-records/{id}
func (h *Handler) UpdateTimeRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateTimeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	patch := billing.TimePatch{
		Activity:  req.Activity,
		Hours:     req.Hours,
		Narrative: req.Narrative,
	}
	if req.MatterID != nil {
		m := billing.MatterID(*req.MatterID)
		patch.MatterID = &m
	}
	if req.FeeEarnerID != nil {
		p := billing.PersonID(*req.FeeEarnerID)
		patch.FeeEarnerID = &p
	}

	tr, err := h.Engine.UpdateTimeRecord(r.Context(), actorFrom(r), billing.TimeRecordID(id), patch)
	if err != nil {
		h.writeEngineError(w, r, "Failed to update time record", err)
		return
	}
	writeJSON(w, http.StatusOK, toTimeRecordDTO(*tr))
}

// =============================================================================
// WIP HANDLERS
// =============================================================================

// ListWIP returns unbilled WIP visible to the caller.
// GET /api/wip?client_id=&matter_id=&fee_earner_id=
func (h *Handler) ListWIP(w http.ResponseWriter, r *http.Request) {
	q := queryParams{r: r}
	filter := billing.WIPFilter{
		ClientID:    billing.ClientID(q.id("client_id")),
		MatterID:    billing.MatterID(q.id("matter_id")),
		FeeEarnerID: billing.PersonID(q.id("fee_earner_id")),
	}
	if q.err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameter", q.err)
		return
	}

	entries, err := h.Engine.ListUnbilledWIP(r.Context(), actorFrom(r), filter)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list WIP", err)
		return
	}

	dtos := make([]WIPEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toWIPEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// WriteOffWIP marks an unbilled entry as written off.
// POST /api/wip/{id}/write-off
func (h *Handler) WriteOffWIP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.Engine.WriteOffWIP(r.Context(), actorFrom(r), billing.WIPEntryID(id))
	if err != nil {
		h.writeEngineError(w, r, "Failed to write off WIP", err)
		return
	}
	writeJSON(w, http.StatusOK, toWIPEntryDTO(*entry))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns a page of invoices with aggregate totals.
// GET /api/invoices?number=&client_id=&matter_id=&status=&from=&to=&page=&page_size=
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := queryParams{r: r}
	filter := billing.InvoiceFilter{
		Number:   strings.TrimSpace(r.URL.Query().Get("number")),
		ClientID: billing.ClientID(q.id("client_id")),
		MatterID: billing.MatterID(q.id("matter_id")),
		Status:   billing.LedgerStatus(r.URL.Query().Get("status")),
		From:     q.date("from"),
		To:       q.date("to"),
		Page:     q.number("page"),
		PageSize: q.number("page_size"),
	}
	if q.err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameter", q.err)
		return
	}

	page, err := h.Engine.ListInvoices(r.Context(), actorFrom(r), filter)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoicePageDTO(page))
}

// CreateInvoice bills the selected WIP.
// POST /api/invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	taxRate, err := billing.ParseTaxRate(req.TaxRate)
	if err != nil {
		h.writeEngineError(w, r, "Invalid tax rate", err)
		return
	}
	var date time.Time
	if req.Date != "" {
		// Already checked by the datetime tag.
		date, _ = time.Parse(dateLayout, req.Date)
	}
	ids := make([]billing.WIPEntryID, len(req.WIPIDs))
	for i, id := range req.WIPIDs {
		ids[i] = billing.WIPEntryID(id)
	}

	detail, err := h.Engine.CreateInvoice(r.Context(), actorFrom(r), billing.InvoiceInput{
		ClientID: billing.ClientID(req.ClientID),
		MatterID: billing.MatterID(req.MatterID),
		WIPIDs:   ids,
		Date:     date,
		TaxRate:  taxRate,
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to create invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDetailDTO(detail))
}

// GetInvoice returns an invoice with its lines and ledger.
// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.Engine.GetInvoice(r.Context(), actorFrom(r), billing.InvoiceID(id))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDetailDTO(detail))
}

// DeleteInvoice deletes a draft and returns its WIP to unbilled.
// DELETE /api/invoices/{id}
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteDraftInvoice(r.Context(), actorFrom(r), billing.InvoiceID(id)); err != nil {
		h.writeEngineError(w, r, "Failed to delete invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostInvoice moves a draft to posted.
// POST /api/invoices/{id}/post
func (h *Handler) PostInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "post", h.Engine.PostInvoice)
}

// SettleInvoice marks a posted invoice as paid.
// POST /api/invoices/{id}/settle
func (h *Handler) SettleInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "settle", h.Engine.SettleInvoice)
}

// UnsettleInvoice reverts a paid invoice to posted.
// POST /api/invoices/{id}/unsettle
func (h *Handler) UnsettleInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "unsettle", h.Engine.UnsettleInvoice)
}

type transitionFunc func(context.Context, scope.Actor, billing.InvoiceID) (*billing.Transition, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn transitionFunc) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := fn(r.Context(), actorFrom(r), billing.InvoiceID(id))
	if err != nil {
		h.writeEngineError(w, r, fmt.Sprintf("Failed to %s invoice", op), err)
		return
	}

	dto := TransitionDTO{Ledger: toLedgerDTO(t.Ledger), Changed: t.Changed}
	if !t.Changed {
		dto.Message = fmt.Sprintf("invoice already %s", t.Ledger.Status)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrUnauthorized):
		return http.StatusForbidden
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsConflict(err):
		return http.StatusConflict
	case billing.IsRetryable(err):
		return http.StatusServiceUnavailable
	case billing.IsClientError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}

// decodeAndValidate reads a JSON body into dst and checks its struct tags.
// It writes the error response and returns false on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve))
			for _, fe := range ve {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "Validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", fmt.Errorf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

// queryParams parses optional query parameters, keeping the first error.
type queryParams struct {
	r   *http.Request
	err error
}

func (q *queryParams) number(name string) int {
	raw := q.r.URL.Query().Get(name)
	if raw == "" || q.err != nil {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		q.err = fmt.Errorf("%s: %q is not a number", name, raw)
	}
	return n
}

func (q *queryParams) id(name string) int64 {
	n := q.number(name)
	if n < 0 && q.err == nil {
		q.err = fmt.Errorf("%s must not be negative", name)
	}
	return int64(n)
}

func (q *queryParams) date(name string) *time.Time {
	raw := q.r.URL.Query().Get(name)
	if raw == "" || q.err != nil {
		return nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		q.err = fmt.Errorf("%s: %q is not a YYYY-MM-DD date", name, raw)
		return nil
	}
	return &t
}
