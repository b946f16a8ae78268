// Package sheets defines the spreadsheet export port.
package sheets

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ChangeRow is one transaction change as written to the export sheet.
type ChangeRow struct {
	EventID       string
	Event         string
	CommittedAt   time.Time
	TransactionID string
	UserID        string
	Type          string
	Category      string
	Description   string
	Amount        decimal.Decimal
	CreatedAt     time.Time
}

// Header names the sheet columns in the order Values returns them.
var Header = []string{
	"event_id", "event", "committed_at", "transaction_id", "user_id",
	"type", "category", "description", "amount", "created_at",
}

// Values renders the row as sheet cells.
func (r ChangeRow) Values() []any {
	return []any{
		r.EventID,
		r.Event,
		formatTime(r.CommittedAt),
		r.TransactionID,
		r.UserID,
		r.Type,
		r.Category,
		r.Description,
		r.Amount.StringFixed(2),
		formatTime(r.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ChangeWriter appends change rows to a spreadsheet.
type ChangeWriter interface {
	AppendChange(ctx context.Context, r ChangeRow) (rowRef string, err error)
}
