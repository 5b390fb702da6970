/*
handlers_test.go - Tests for API handlers

Tests for:
- Actor resolution from headers
- Request validation (400 vs 422)
- Invoice lifecycle over HTTP (create, post, settle, unsettle, delete)
- Error → status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/store/sqlite"
)

type testServer struct {
	t      *testing.T
	h      *Handler
	router http.Handler
	firm   *factory.Firm
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(billing.NewEngine(store), store, nil)
	fj, err := h.Firms.ParseFirm(factory.SmallFirmJSON)
	require.NoError(t, err)
	firm, err := h.Firms.Load(context.Background(), store, fj)
	require.NoError(t, err)

	return &testServer{t: t, h: h, router: NewRouter(h, RouterOptions{Scenarios: true}), firm: firm}
}

func (s *testServer) do(method, path, user string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) record(user string, matter billing.Matter, hours string) TimeRecordDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/time-records", user, RecordTimeRequest{
		MatterID: int64(matter.ID),
		Activity: "Drafting",
		Hours:    hours,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TimeRecordDTO](s.t, rec)
}

func (s *testServer) wip(user, query string) []WIPEntryDTO {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/api/wip"+query, user, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[[]WIPEntryDTO](s.t, rec)
}

// =============================================================================
// TIME RECORDS
// =============================================================================

func TestRecordTime_CreatesWIP(t *testing.T) {
	s := newTestServer(t)
	m3 := s.firm.Matters["m3"]

	// GIVEN: Sam records time on his matter
	tr := s.record("sam", m3, "1.5")

	// THEN: the record is attributed to Sam and the WIP entry mirrors it
	assert.Equal(t, int64(s.firm.People["sam"].ID), tr.FeeEarnerID)
	assert.Equal(t, int64(m3.ClientID), tr.ClientID)

	entries := s.wip("sam", "")
	require.Len(t, entries, 1)
	assert.Equal(t, tr.ID, entries[0].TimeRecordID)
	assert.Equal(t, "1.5", entries[0].Hours.String())
	assert.Equal(t, "unbilled", entries[0].Status)
}

func TestRecordTime_Validation(t *testing.T) {
	s := newTestServer(t)
	m1 := int64(s.firm.Matters["m1"].ID)

	tests := []struct {
		name   string
		body   any
		status int
		field  string
	}{
		{"malformed body", `{"matter_id":`, http.StatusBadRequest, ""},
		{"missing matter", RecordTimeRequest{Hours: "1.0"}, http.StatusUnprocessableEntity, "MatterID"},
		{"missing hours", RecordTimeRequest{MatterID: m1}, http.StatusUnprocessableEntity, "Hours"},
		{"bad increment", RecordTimeRequest{MatterID: m1, Hours: "1.25"}, http.StatusUnprocessableEntity, ""},
		{"zero hours", RecordTimeRequest{MatterID: m1, Hours: "0"}, http.StatusUnprocessableEntity, ""},
		{"unknown matter", RecordTimeRequest{MatterID: 9999, Hours: "1.0"}, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/time-records", "pat", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
			if tt.field != "" {
				assert.Equal(t, "required", resp.Fields[tt.field])
			}
		})
	}
}

func TestRecordTime_OnlyOwnTime(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: Tia tries to record time as Pat
	rec := s.do(http.MethodPost, "/api/time-records", "tia", RecordTimeRequest{
		MatterID:    int64(s.firm.Matters["m1"].ID),
		FeeEarnerID: int64(s.firm.People["pat"].ID),
		Hours:       "1.0",
	})

	// THEN: forbidden
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateTimeRecord_WIPFollows(t *testing.T) {
	s := newTestServer(t)
	tr := s.record("sam", s.firm.Matters["m3"], "1.0")

	// WHEN: Sam corrects the hours
	rec := s.do(http.MethodPatch, fmt.Sprintf("/api/time-records/%d", tr.ID), "sam", map[string]any{"hours": "2.0"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the unbilled WIP entry carries the new hours
	entries := s.wip("sam", "")
	require.Len(t, entries, 1)
	assert.Equal(t, "2.0", entries[0].Hours.String())

	// AND: the record appears in Sam's list
	rec = s.do(http.MethodGet, "/api/time-records?limit=10", "sam", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TimeRecordDTO](t, rec), 1)
}

// =============================================================================
// INVOICES
// =============================================================================

func TestInvoiceLifecycle(t *testing.T) {
	s := newTestServer(t)
	m1 := s.firm.Matters["m1"]

	// GIVEN: an hour and a half of Pat's time on M-001
	s.record("pat", m1, "1.0")
	s.record("pat", m1, "0.5")
	entries := s.wip("pat", fmt.Sprintf("?matter_id=%d", m1.ID))
	require.Len(t, entries, 2)

	// WHEN: Pat invoices it at 20%
	rec := s.do(http.MethodPost, "/api/invoices", "pat", CreateInvoiceRequest{
		ClientID: int64(m1.ClientID),
		MatterID: int64(m1.ID),
		WIPIDs:   []int64{entries[0].ID, entries[1].ID},
		TaxRate:  "20",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	detail := decode[InvoiceDetailDTO](t, rec)

	// THEN: a numbered draft with totals at Pat's rate
	assert.Equal(t, "000001", detail.Invoice.Number)
	assert.Equal(t, "draft", detail.Ledger.Status)
	assert.Len(t, detail.Lines, 2)
	assert.Equal(t, "300.00", detail.Ledger.Totals.Subtotal.String())
	assert.Equal(t, "60.00", detail.Ledger.Totals.Tax.String())
	assert.Equal(t, "360.00", detail.Ledger.Totals.Total.String())
	assert.Empty(t, s.wip("pat", ""), "billed WIP leaves the unbilled list")

	base := fmt.Sprintf("/api/invoices/%d", detail.Invoice.ID)

	// AND: a fee earner may not post it
	rec = s.do(http.MethodPost, base+"/post", "sam", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// AND: billing posts it, and posting again is informational
	rec = s.do(http.MethodPost, base+"/post", "bea", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tr := decode[TransitionDTO](t, rec)
	assert.True(t, tr.Changed)
	assert.Equal(t, "posted", tr.Ledger.Status)

	rec = s.do(http.MethodPost, base+"/post", "bea", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tr = decode[TransitionDTO](t, rec)
	assert.False(t, tr.Changed)
	assert.Equal(t, "invoice already posted", tr.Message)

	// AND: a posted invoice cannot be deleted
	rec = s.do(http.MethodDelete, base, "bea", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: settle, unsettle
	rec = s.do(http.MethodPost, base+"/settle", "bea", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tr = decode[TransitionDTO](t, rec)
	assert.Equal(t, "paid", tr.Ledger.Status)
	assert.NotNil(t, tr.Ledger.PaidAt)

	rec = s.do(http.MethodPost, base+"/unsettle", "bea", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "posted", decode[TransitionDTO](t, rec).Ledger.Status)

	rec = s.do(http.MethodPost, base+"/unsettle", "bea", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: the read side agrees
	rec = s.do(http.MethodGet, base, "bea", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[InvoiceDetailDTO](t, rec)
	assert.Equal(t, "posted", got.Ledger.Status)
	assert.Nil(t, got.Ledger.PaidAt)

	rec = s.do(http.MethodGet, "/api/invoices?number=0001&status=posted", "bea", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[InvoicePageDTO](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "360.00", page.Totals.Total.String())
}

func TestDeleteDraftInvoice_ReturnsWIP(t *testing.T) {
	s := newTestServer(t)
	m1 := s.firm.Matters["m1"]
	s.record("pat", m1, "2.0")
	entries := s.wip("pat", "")
	require.Len(t, entries, 1)

	rec := s.do(http.MethodPost, "/api/invoices", "pat", CreateInvoiceRequest{
		ClientID: int64(m1.ClientID),
		WIPIDs:   []int64{entries[0].ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	detail := decode[InvoiceDetailDTO](t, rec)

	// WHEN: billing deletes the draft
	rec = s.do(http.MethodDelete, fmt.Sprintf("/api/invoices/%d", detail.Invoice.ID), "bea", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// THEN: the WIP is unbilled again and the invoice is gone
	assert.Len(t, s.wip("pat", ""), 1)
	rec = s.do(http.MethodGet, fmt.Sprintf("/api/invoices/%d", detail.Invoice.ID), "bea", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateInvoice_Validation(t *testing.T) {
	s := newTestServer(t)
	m1 := s.firm.Matters["m1"]
	m2 := s.firm.Matters["m2"]
	s.record("pat", m1, "1.0")
	entries := s.wip("pat", "")
	require.Len(t, entries, 1)

	tests := []struct {
		name   string
		user   string
		req    CreateInvoiceRequest
		status int
	}{
		{"no WIP selected", "pat", CreateInvoiceRequest{ClientID: int64(m1.ClientID)}, http.StatusUnprocessableEntity},
		{"bad date", "pat", CreateInvoiceRequest{ClientID: int64(m1.ClientID), WIPIDs: []int64{entries[0].ID}, Date: "01/02/2024"}, http.StatusUnprocessableEntity},
		{"bad tax rate", "pat", CreateInvoiceRequest{ClientID: int64(m1.ClientID), WIPIDs: []int64{entries[0].ID}, TaxRate: "abc"}, http.StatusUnprocessableEntity},
		{"tax rate too precise", "pat", CreateInvoiceRequest{ClientID: int64(m1.ClientID), WIPIDs: []int64{entries[0].ID}, TaxRate: "20.125"}, http.StatusUnprocessableEntity},
		{"matter of another client", "pat", CreateInvoiceRequest{ClientID: int64(m1.ClientID), MatterID: int64(m2.ID), WIPIDs: []int64{entries[0].ID}}, http.StatusUnprocessableEntity},
		{"fee earner", "sam", CreateInvoiceRequest{ClientID: int64(m1.ClientID), WIPIDs: []int64{entries[0].ID}}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/invoices", tt.user, tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	// Nothing was billed
	assert.Len(t, s.wip("pat", ""), 1)
}

func TestBadPathAndQuery(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/invoices/abc", "bea", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/invoices?page=two", "bea", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/invoices?from=yesterday", "bea", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/wip?client_id=-1", "bea", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/invoices/404", "bea", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ok"))
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{billing.ErrUnauthorized, http.StatusForbidden},
		{fmt.Errorf("matter 3: %w", billing.ErrNotFound), http.StatusNotFound},
		{billing.ErrNotDraft, http.StatusConflict},
		{billing.ErrWIPNotUnbilled, http.StatusConflict},
		{billing.ErrConcurrentModification, http.StatusServiceUnavailable},
		{billing.ErrInvalidHours, http.StatusUnprocessableEntity},
		{billing.ErrCrossClientMismatch, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	h := NewHandler(nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	h.writeEngineError(rec, req, "Failed", errors.New("secret dsn"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}
