package core

import "github.com/shopspring/decimal"

// Totals is the dashboard income/expense summary.
type Totals struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
	Balance decimal.Decimal
	Count   int
}

// IncomeShare is income as a percentage of all money moved, 0 when nothing moved.
func (t Totals) IncomeShare() int {
	all := t.Income.Add(t.Expense)
	if !all.IsPositive() {
		return 0
	}
	return int(t.Income.Div(all).Mul(hundred).Round(0).IntPart())
}

// ExpenseShare complements IncomeShare.
func (t Totals) ExpenseShare() int {
	if !t.Income.Add(t.Expense).IsPositive() {
		return 0
	}
	return 100 - t.IncomeShare()
}

// ComputeTotals aggregates transactions by type.
func ComputeTotals(txs []Transaction) Totals {
	var t Totals
	for _, tx := range txs {
		switch {
		case tx.Type.Is(Income):
			t.Income = t.Income.Add(tx.Amount)
		case tx.Type.Is(Expense):
			t.Expense = t.Expense.Add(tx.Amount)
		default:
			continue
		}
		t.Count++
	}
	t.Balance = t.Income.Sub(t.Expense)
	return t
}

// Overview holds the admin panel counters.
type Overview struct {
	Users        int64
	Transactions int64
	Feedback     int64
	Issues       int64
	Volume       decimal.Decimal
	OpenIssues   int64
	PendingNotes int64
}
