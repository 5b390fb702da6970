/*
errors.go - Error types for the billing engine

PURPOSE:
  Every failure an engine operation can report, in one place. Callers
  branch with errors.Is on the sentinels; the HTTP layer maps them to
  status codes via the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Validation  - bad hours, cross-client matter, closed matter, nothing to bill
  2. Authorization - UnauthorizedError (wraps ErrUnauthorized)
  3. State       - TransitionError (wraps ErrNotDraft / ErrNotPosted / ErrNotPaid)
  4. Store       - not found, uniqueness races, referenced master data
  5. Internal    - invariant violations (logged loudly, never expected)

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP responses
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidIncrement is returned when hours are not a multiple of 0.1.
	ErrInvalidIncrement = money.ErrInvalidIncrement

	// ErrInvalidHours is returned for zero or negative hours.
	ErrInvalidHours = errors.New("hours must be greater than zero")

	// ErrInvalidInput covers malformed requests not caught by a more specific error.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTaxRate is returned for a tax rate outside 0-100 or finer than 0.01.
	ErrInvalidTaxRate = errors.New("tax rate must be between 0 and 100")

	// ErrCrossClientMismatch is returned when a matter does not belong to the given client.
	ErrCrossClientMismatch = errors.New("matter does not belong to client")

	// ErrMatterClosed is returned when recording time against a closed matter.
	ErrMatterClosed = errors.New("matter is closed")

	// ErrNoBillableItems is returned when an invoice would have no lines.
	ErrNoBillableItems = errors.New("no unbilled WIP selected for this client/matter")

	// ErrUnauthorized is returned when the actor lacks a capability.
	ErrUnauthorized = errors.New("unauthorized")

	ErrNotDraft  = errors.New("ledger is not in draft")
	ErrNotPosted = errors.New("ledger is not posted")
	ErrNotPaid   = errors.New("ledger is not paid")

	// ErrWIPNotUnbilled is returned when writing off an entry that is already billed or written off.
	ErrWIPNotUnbilled = errors.New("WIP entry is not unbilled")

	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTransient is returned when a retryable conflict persisted past the retry budget.
	ErrTransient = errors.New("transient conflict, retry the request")

	// ErrInvariantViolation signals state the engine should never have produced.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrConcurrentModification is returned when a compare-and-set update matched fewer rows than expected.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Uniqueness violations reported by stores.
	ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")
	ErrWIPAlreadyInvoiced     = errors.New("WIP entry already on an invoice")
	ErrDuplicateWIP           = errors.New("WIP entry already exists for time record")
	ErrDuplicateLedger        = errors.New("ledger already exists for invoice")

	// ErrReferenced is returned when deleting master data that billing rows still point at.
	ErrReferenced = errors.New("still referenced by billing records")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnauthorizedError names the capability the actor was missing.
type UnauthorizedError struct {
	ActorID    string
	Capability scope.Capability
	Reason     string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unauthorized: %s lacks %s: %s", e.actor(), e.Capability, e.Reason)
	}
	return fmt.Sprintf("unauthorized: %s lacks %s", e.actor(), e.Capability)
}

func (e *UnauthorizedError) actor() string {
	if e.ActorID == "" {
		return "anonymous"
	}
	return e.ActorID
}

func (e *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}

func unauthorized(actor scope.Actor, c scope.Capability, reason string) error {
	return &UnauthorizedError{ActorID: actor.UserID, Capability: c, Reason: reason}
}

// TransitionError reports a ledger state-machine violation.
type TransitionError struct {
	InvoiceID InvoiceID
	Op        string
	From      LedgerStatus
	Err       error
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "missing"
	}
	return fmt.Sprintf("cannot %s invoice %d: ledger %s: %v", e.Op, e.InvoiceID, from, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidIncrement) ||
		errors.Is(err, ErrInvalidHours) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTaxRate) ||
		errors.Is(err, ErrCrossClientMismatch) ||
		errors.Is(err, ErrMatterClosed) ||
		errors.Is(err, ErrNoBillableItems) ||
		errors.Is(err, money.ErrNegative) ||
		errors.Is(err, money.ErrPercentRange)
}

// IsConflict returns true for state-machine and uniqueness failures.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotDraft) ||
		errors.Is(err, ErrNotPosted) ||
		errors.Is(err, ErrNotPaid) ||
		errors.Is(err, ErrWIPNotUnbilled) ||
		errors.Is(err, ErrReferenced) ||
		errors.Is(err, ErrWIPAlreadyInvoiced)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
