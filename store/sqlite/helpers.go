package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
)

// =============================================================================
// WHERE BUILDER
// =============================================================================

// where accumulates AND-ed predicates. Zero values are skipped so filters
// translate field by field.
type where struct {
	preds []string
	args  []any
}

func (w *where) add(pred string, args ...any) {
	w.preds = append(w.preds, pred)
	w.args = append(w.args, args...)
}

func (w *where) eq(col string, v any) {
	switch x := v.(type) {
	case int64:
		if x == 0 {
			return
		}
	case string:
		if x == "" {
			return
		}
	}
	w.add(col+" = ?", v)
}

// contains matches col against s as a literal substring.
func (w *where) contains(col, s string) {
	if s == "" {
		return
	}
	w.add(col+` LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(s)+"%")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (w *where) in(col string, ids []any) {
	if len(ids) == 0 {
		return
	}
	w.add(col+" IN ("+strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")+")", ids...)
}

func (w *where) sql() string {
	if len(w.preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.preds, " AND ")
}

func personIDs(ids []billing.PersonID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func wipIDs(ids []billing.WIPEntryID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

var uniqueIndexes = map[string]error{
	"invoices.number":            billing.ErrDuplicateInvoiceNumber,
	"wip_entries.time_record_id": billing.ErrDuplicateWIP,
	"invoice_lines.wip_entry_id": billing.ErrWIPAlreadyInvoiced,
	"ledgers.invoice_id":         billing.ErrDuplicateLedger,
}

func constraintCode(err error) (sqlite3.ErrNoExtended, bool) {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode, true
	}
	return 0, false
}

func isUniqueConstraintError(err error) bool {
	if code, ok := constraintCode(err); ok {
		return code == sqlite3.ErrConstraintUnique || code == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	if code, ok := constraintCode(err); ok {
		return code == sqlite3.ErrConstraintForeignKey
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// writeErr maps constraint violations on insert/update. A nil err stays nil.
func writeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		for index, sentinel := range uniqueIndexes {
			if strings.Contains(err.Error(), index) {
				return fmt.Errorf("%s: %w", op, sentinel)
			}
		}
		return fmt.Errorf("%s: %w: %v", op, billing.ErrInvalidInput, err)
	}
	if isForeignKeyError(err) {
		return fmt.Errorf("%s: referenced row: %w", op, billing.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func deleteErr(err error, kind string, id any) error {
	if isForeignKeyError(err) {
		return fmt.Errorf("%s %v: %w", kind, id, billing.ErrReferenced)
	}
	return fmt.Errorf("failed to delete %s %v: %w", kind, id, err)
}

func rowErr(err error, kind string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", kind, id, billing.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %v: %w", kind, id, err)
}

func expectRow(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", kind, id, billing.ErrNotFound)
	}
	return nil
}

// =============================================================================
// ENCODING
// =============================================================================

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func timeOrNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

func parseTotals(subtotal, tax, total string) (money.Totals, error) {
	var (
		t   money.Totals
		err error
	)
	if t.Subtotal, err = money.ParseAmount(subtotal); err != nil {
		return t, err
	}
	if t.Tax, err = money.ParseAmount(tax); err != nil {
		return t, err
	}
	if t.Total, err = money.ParseAmount(total); err != nil {
		return t, err
	}
	return t, nil
}
