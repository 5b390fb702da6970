/*
Package money provides the fixed-point quantities the billing engine works in.

PURPOSE:
  Every number that ends up on an invoice passes through this package.
  Hours, currency amounts and tax percentages are all decimal.Decimal
  underneath. Nothing here touches float64.

KEY TYPES:
  - Hours:   Time worked, held to one decimal place (0.1h = 6 minutes)
  - Amount:  Currency, always rounded half-up to two decimal places
  - Percent: A tax rate expressed as a percentage (20.00 = 20%)
  - Totals:  Subtotal / tax / total triple for an invoice

ROUNDING RULES:
  1. Line amount  = round(hours × rate, 2, half-up)
  2. Tax          = round(subtotal × rate / 100, 2, half-up)
  3. Total        = subtotal + tax
  Half-up here means half away from zero, which is what decimal.Round does.
  Billing amounts are never negative so the two agree.

HOURS GRANULARITY:
  Hours must be an exact multiple of 0.1 at entry time. 3.2 and 3.20 are
  accepted (and stored as "3.2"); 3.25 is rejected with ErrInvalidIncrement.

USAGE:
  h, err := money.ParseHours("2.5")
  rate := money.MustAmount("200")
  line := money.Extend(h, rate)                  // 500.00
  t := money.ComputeTotals([]money.Amount{line}, money.MustPercent("20"))
  // t.Subtotal=500.00 t.Tax=100.00 t.Total=600.00

SEE ALSO:
  - billing/invoice.go: Builds invoice lines and ledger totals with these helpers
*/
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidIncrement is returned when hours are not a multiple of 0.1.
	ErrInvalidIncrement = errors.New("hours must be in 0.1-hour increments")

	// ErrNegative is returned for negative hours, amounts or percentages.
	ErrNegative = errors.New("value must not be negative")

	// ErrPercentRange is returned for a percentage above 100.
	ErrPercentRange = errors.New("percentage must be between 0 and 100")

	// ErrPercentPrecision is returned for a percentage finer than 0.01.
	ErrPercentPrecision = errors.New("percentage must have at most 2 decimal places")
)

var (
	ten     = decimal.NewFromInt(10)
	hundred = decimal.NewFromInt(100)
)

const (
	hoursPlaces  = 1
	amountPlaces = 2
)

// =============================================================================
// HOURS
// =============================================================================

// Hours is a non-negative quantity of time in tenths of an hour.
type Hours struct {
	value decimal.Decimal
}

// NewHours validates d and quantizes it to one decimal place.
func NewHours(d decimal.Decimal) (Hours, error) {
	if d.IsNegative() {
		return Hours{}, ErrNegative
	}
	if !d.Mul(ten).IsInteger() {
		return Hours{}, fmt.Errorf("%w: got %s", ErrInvalidIncrement, d.String())
	}
	return Hours{value: d.Round(hoursPlaces)}, nil
}

// ParseHours parses a decimal string such as "3.2".
func ParseHours(s string) (Hours, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid hours %q: %w", s, err)
	}
	return NewHours(d)
}

// MustHours is ParseHours for literals; it panics on invalid input.
func MustHours(s string) Hours {
	h, err := ParseHours(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hours) Decimal() decimal.Decimal { return h.value }
func (h Hours) String() string           { return h.value.StringFixed(hoursPlaces) }
func (h Hours) IsZero() bool             { return h.value.IsZero() }
func (h Hours) Equal(o Hours) bool       { return h.value.Equal(o.value) }
func (h Hours) Add(o Hours) Hours        { return Hours{value: h.value.Add(o.value)} }

func (h Hours) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

func (h *Hours) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	parsed, err := NewHours(d)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// =============================================================================
// AMOUNT
// =============================================================================

// Amount is a currency value rounded to two decimal places.
type Amount struct {
	value decimal.Decimal
}

// Zero is 0.00.
var Zero = Amount{value: decimal.Zero}

// NewAmount rounds d half-up to two decimal places.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{value: d.Round(amountPlaces)}
}

// ParseAmount parses a decimal string and rounds it to two places.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewAmount(d), nil
}

// MustAmount is ParseAmount for literals; it panics on invalid input.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Decimal() decimal.Decimal { return a.value }
func (a Amount) String() string           { return a.value.StringFixed(amountPlaces) }
func (a Amount) IsZero() bool             { return a.value.IsZero() }
func (a Amount) IsNegative() bool         { return a.value.IsNegative() }
func (a Amount) Equal(o Amount) bool      { return a.value.Equal(o.value) }
func (a Amount) Add(o Amount) Amount      { return NewAmount(a.value.Add(o.value)) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*a = NewAmount(d)
	return nil
}

// Sum adds amounts.
func Sum(amounts []Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Extend returns round(hours × rate, 2, half-up).
func Extend(h Hours, rate Amount) Amount {
	return NewAmount(h.value.Mul(rate.value))
}

// =============================================================================
// PERCENT
// =============================================================================

// Percent is a rate between 0 and 100 inclusive.
type Percent struct {
	value decimal.Decimal
}

// NewPercent validates the range and precision. It never rounds.
func NewPercent(d decimal.Decimal) (Percent, error) {
	if d.IsNegative() {
		return Percent{}, ErrNegative
	}
	if d.GreaterThan(hundred) {
		return Percent{}, ErrPercentRange
	}
	if !d.Equal(d.Truncate(amountPlaces)) {
		return Percent{}, ErrPercentPrecision
	}
	return Percent{value: d}, nil
}

// ParsePercent parses "20" or "20.00".
func ParsePercent(s string) (Percent, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Percent{}, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	return NewPercent(d)
}

// MustPercent is ParsePercent for literals; it panics on invalid input.
func MustPercent(s string) Percent {
	p, err := ParsePercent(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Percent) Decimal() decimal.Decimal { return p.value }
func (p Percent) String() string           { return p.value.StringFixed(amountPlaces) }

func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Percent) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	parsed, err := NewPercent(d)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Of returns round(a × p / 100, 2, half-up).
func (p Percent) Of(a Amount) Amount {
	return NewAmount(a.value.Mul(p.value).Div(hundred))
}

// =============================================================================
// TOTALS
// =============================================================================

// Totals is the billed-amount triple snapshotted onto a ledger record.
type Totals struct {
	Subtotal Amount `json:"subtotal"`
	Tax      Amount `json:"tax"`
	Total    Amount `json:"total"`
}

// ComputeTotals sums line amounts and applies tax.
func ComputeTotals(lines []Amount, taxRate Percent) Totals {
	subtotal := Sum(lines)
	tax := taxRate.Of(subtotal)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

// Add accumulates another triple, used for listing aggregates.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		Subtotal: t.Subtotal.Add(o.Subtotal),
		Tax:      t.Tax.Add(o.Tax),
		Total:    t.Total.Add(o.Total),
	}
}
