package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// invoiceNumberWidth is the zero-padded width of generated invoice numbers.
const invoiceNumberWidth = 6

// NextInvoiceNumber derives the next number from the latest invoice: the
// digits of its number plus one, falling back to its row id when the number
// holds no digits. Must run inside the same transaction that inserts the
// invoice; the unique index on number catches concurrent allocators.
func NextInvoiceNumber(ctx context.Context, tx Store) (string, error) {
	latest, err := tx.LatestInvoice(ctx)
	if errors.Is(err, ErrNotFound) {
		return FormatInvoiceNumber(1), nil
	}
	if err != nil {
		return "", fmt.Errorf("latest invoice: %w", err)
	}

	n, ok := numberDigits(latest.Number)
	if !ok {
		n = int64(latest.ID)
	}
	return FormatInvoiceNumber(n + 1), nil
}

// FormatInvoiceNumber zero-pads n to six digits.
func FormatInvoiceNumber(n int64) string {
	return fmt.Sprintf("%0*d", invoiceNumberWidth, n)
}

func numberDigits(s string) (int64, bool) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
