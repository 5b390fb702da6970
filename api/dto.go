/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Time:      RecordTimeRequest, UpdateTimeRequest, TimeRecordDTO
  WIP:       WIPEntryDTO
  Invoices:  CreateInvoiceRequest, InvoiceDTO, InvoiceLineDTO, LedgerDTO,
             InvoiceDetailDTO, InvoiceSummaryDTO, InvoicePageDTO,
             TransitionDTO
  Scenarios: ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator/v10 struct tags checked by decodeAndValidate.
  Shape errors (missing ids, bad dates) are caught here; business rules
  (hour increments, cross-client selections) stay in the engine.

  Hours and tax rates travel as strings so that "1.25" reaches the engine
  intact and is rejected there rather than rounded by a float decoder.

SEE ALSO:
  - handlers.go: Uses these types
  - money/money.go: Amount/Hours/Percent JSON encoding
*/
package api

import (
	"time"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RecordTimeRequest is the body of POST /api/time-records.
type RecordTimeRequest struct {
	ClientID    int64  `json:"client_id" validate:"gte=0"`
	MatterID    int64  `json:"matter_id" validate:"required,gt=0"`
	FeeEarnerID int64  `json:"fee_earner_id" validate:"gte=0"`
	Activity    string `json:"activity" validate:"max=100"`
	Hours       string `json:"hours" validate:"required"`
	Narrative   string `json:"narrative" validate:"max=2000"`
}

// UpdateTimeRequest is the body of PATCH /api/time-records/{id}.
// Absent fields are left alone.
type UpdateTimeRequest struct {
	MatterID    *int64  `json:"matter_id" validate:"omitempty,gt=0"`
	FeeEarnerID *int64  `json:"fee_earner_id" validate:"omitempty,gt=0"`
	Activity    *string `json:"activity" validate:"omitempty,max=100"`
	Hours       *string `json:"hours"`
	Narrative   *string `json:"narrative" validate:"omitempty,max=2000"`
}

// CreateInvoiceRequest is the body of POST /api/invoices.
type CreateInvoiceRequest struct {
	ClientID int64   `json:"client_id" validate:"required,gt=0"`
	MatterID int64   `json:"matter_id" validate:"gte=0"`
	WIPIDs   []int64 `json:"wip_ids" validate:"required,min=1,dive,gt=0"`
	Date     string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	TaxRate  string  `json:"tax_rate"`
	Notes    string  `json:"notes" validate:"max=2000"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TimeRecordDTO represents a time record in API responses.
type TimeRecordDTO struct {
	ID          int64       `json:"id"`
	ClientID    int64       `json:"client_id"`
	MatterID    int64       `json:"matter_id"`
	FeeEarnerID int64       `json:"fee_earner_id"`
	Activity    string      `json:"activity"`
	Hours       money.Hours `json:"hours"`
	Narrative   string      `json:"narrative"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

// WIPEntryDTO represents a WIP entry in API responses.
type WIPEntryDTO struct {
	ID           int64       `json:"id"`
	TimeRecordID int64       `json:"time_record_id"`
	ClientID     int64       `json:"client_id"`
	MatterID     int64       `json:"matter_id"`
	FeeEarnerID  int64       `json:"fee_earner_id"`
	Activity     string      `json:"activity"`
	Hours        money.Hours `json:"hours"`
	Narrative    string      `json:"narrative"`
	Status       string      `json:"status"`
}

// InvoiceDTO is the invoice header.
type InvoiceDTO struct {
	ID        int64         `json:"id"`
	Number    string        `json:"number"`
	ClientID  int64         `json:"client_id"`
	MatterID  int64         `json:"matter_id,omitempty"`
	Date      string        `json:"date"`
	TaxRate   money.Percent `json:"tax_rate"`
	Notes     string        `json:"notes,omitempty"`
	CreatedBy string        `json:"created_by"`
	CreatedAt string        `json:"created_at"`
}

// InvoiceLineDTO is one billed WIP entry.
type InvoiceLineDTO struct {
	ID          int64        `json:"id"`
	WIPEntryID  int64        `json:"wip_entry_id"`
	Description string       `json:"description"`
	Hours       money.Hours  `json:"hours"`
	Rate        money.Amount `json:"rate"`
	Amount      money.Amount `json:"amount"`
}

// LedgerDTO is the financial status of an invoice.
type LedgerDTO struct {
	ID      int64        `json:"id"`
	Status  string       `json:"status"`
	Totals  money.Totals `json:"totals"`
	PaidAt  *string      `json:"paid_at,omitempty"`
	Created string       `json:"created_at"`
}

// InvoiceDetailDTO is GET /api/invoices/{id}.
type InvoiceDetailDTO struct {
	Invoice InvoiceDTO       `json:"invoice"`
	Lines   []InvoiceLineDTO `json:"lines"`
	Ledger  LedgerDTO        `json:"ledger"`
}

// InvoiceSummaryDTO is one listing row.
type InvoiceSummaryDTO struct {
	Invoice InvoiceDTO   `json:"invoice"`
	Status  string       `json:"status"`
	Totals  money.Totals `json:"totals"`
	PaidAt  *string      `json:"paid_at,omitempty"`
	Running money.Totals `json:"running"`
}

// InvoicePageDTO is GET /api/invoices.
type InvoicePageDTO struct {
	Items    []InvoiceSummaryDTO `json:"items"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Total    int                 `json:"total"`
	Totals   money.Totals        `json:"totals"`
}

// TransitionDTO is the result of post/settle/unsettle. Changed=false with a
// message is the informational "already in that state" outcome.
type TransitionDTO struct {
	Ledger  LedgerDTO `json:"ledger"`
	Changed bool      `json:"changed"`
	Message string    `json:"message,omitempty"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toTimeRecordDTO(tr billing.TimeRecord) TimeRecordDTO {
	return TimeRecordDTO{
		ID:          int64(tr.ID),
		ClientID:    int64(tr.ClientID),
		MatterID:    int64(tr.MatterID),
		FeeEarnerID: int64(tr.FeeEarnerID),
		Activity:    tr.Activity,
		Hours:       tr.Hours,
		Narrative:   tr.Narrative,
		CreatedAt:   formatTime(tr.CreatedAt),
		UpdatedAt:   formatTime(tr.UpdatedAt),
	}
}

func toWIPEntryDTO(w billing.WIPEntry) WIPEntryDTO {
	return WIPEntryDTO{
		ID:           int64(w.ID),
		TimeRecordID: int64(w.TimeRecordID()),
		ClientID:     int64(w.ClientID),
		MatterID:     int64(w.MatterID),
		FeeEarnerID:  int64(w.FeeEarnerID),
		Activity:     w.Activity,
		Hours:        w.Hours,
		Narrative:    w.Narrative,
		Status:       string(w.Status),
	}
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:        int64(inv.ID),
		Number:    inv.Number,
		ClientID:  int64(inv.ClientID),
		MatterID:  int64(inv.MatterID),
		Date:      inv.Date.Format(dateLayout),
		TaxRate:   inv.TaxRate,
		Notes:     inv.Notes,
		CreatedBy: inv.CreatedBy,
		CreatedAt: formatTime(inv.CreatedAt),
	}
}

func toLedgerDTO(l billing.LedgerRecord) LedgerDTO {
	return LedgerDTO{
		ID:      int64(l.ID),
		Status:  string(l.Status),
		Totals:  l.Totals,
		PaidAt:  formatTimePtr(l.PaidAt),
		Created: formatTime(l.CreatedAt),
	}
}

func toInvoiceDetailDTO(d *billing.InvoiceDetail) InvoiceDetailDTO {
	lines := make([]InvoiceLineDTO, len(d.Lines))
	for i, l := range d.Lines {
		lines[i] = InvoiceLineDTO{
			ID:          int64(l.ID),
			WIPEntryID:  int64(l.WIPEntryID),
			Description: l.Description,
			Hours:       l.Hours,
			Rate:        l.Rate,
			Amount:      l.Amount,
		}
	}
	return InvoiceDetailDTO{
		Invoice: toInvoiceDTO(d.Invoice),
		Lines:   lines,
		Ledger:  toLedgerDTO(d.Ledger),
	}
}

func toInvoicePageDTO(p *billing.InvoicePage) InvoicePageDTO {
	items := make([]InvoiceSummaryDTO, len(p.Items))
	for i, s := range p.Items {
		items[i] = InvoiceSummaryDTO{
			Invoice: toInvoiceDTO(s.Invoice),
			Status:  string(s.Status),
			Totals:  s.Totals,
			PaidAt:  formatTimePtr(s.PaidAt),
			Running: s.Running,
		}
	}
	return InvoicePageDTO{
		Items:    items,
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    p.Total,
		Totals:   p.Totals,
	}
}
