package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// LimitStatus drives the progress bar colour.
type LimitStatus string

const (
	LimitNominal LimitStatus = "nominal"
	LimitWarning LimitStatus = "warning"
	LimitAlarm   LimitStatus = "alarm"
)

var (
	hundred          = decimal.NewFromInt(100)
	warningThreshold = decimal.NewFromInt(50)
	alarmThreshold   = decimal.NewFromInt(90)
)

// LimitSummary is a Limit with its derived spend for the current month.
type LimitSummary struct {
	Limit       Limit
	Spent       decimal.Decimal
	Remaining   decimal.Decimal
	DailyBudget decimal.Decimal
	Percent     decimal.Decimal
	DaysLeft    int
	Over        bool
	Status      LimitStatus
}

// BarWidth is Percent clamped to [0, 100] for rendering.
func (s LimitSummary) BarWidth() int {
	p := s.Percent.IntPart()
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}

// MonthStart returns midnight of the first day of now's month in now's location.
func MonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

// DaysLeftInMonth counts today as a remaining day and never returns less than 1.
func DaysLeftInMonth(now time.Time) int {
	y, m, d := now.Date()
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, now.Location()).Day()
	left := last - d + 1
	if left < 1 {
		return 1
	}
	return left
}

// Spent sums expenses dated on or after the first of now's month whose
// category matches the limit. Future-dated rows count toward this month.
func Spent(l Limit, txs []Transaction, now time.Time) decimal.Decimal {
	start := MonthStart(now)
	key := keyOf(l.CategoryKey, l.Category)

	spent := decimal.Zero
	for _, tx := range txs {
		if !tx.Type.Is(Expense) {
			continue
		}
		if keyOf(tx.CategoryKey, tx.Category) != key {
			continue
		}
		if tx.CreatedAt.Before(start) {
			continue
		}
		spent = spent.Add(tx.Amount)
	}
	return spent
}

// Summarize derives remaining, daily budget and status for one limit.
func Summarize(l Limit, txs []Transaction, now time.Time) LimitSummary {
	spent := Spent(l, txs, now)
	remaining := l.Amount.Sub(spent)
	days := DaysLeftInMonth(now)

	percent := decimal.Zero
	if l.Amount.IsPositive() {
		percent = spent.Div(l.Amount).Mul(hundred)
	}
	over := spent.GreaterThan(l.Amount)

	status := LimitNominal
	switch {
	case over || percent.GreaterThanOrEqual(alarmThreshold):
		status = LimitAlarm
	case percent.GreaterThanOrEqual(warningThreshold):
		status = LimitWarning
	}

	return LimitSummary{
		Limit:       l,
		Spent:       spent,
		Remaining:   remaining,
		DailyBudget: decimal.Max(decimal.Zero, remaining).DivRound(decimal.NewFromInt(int64(days)), 2),
		Percent:     percent,
		DaysLeft:    days,
		Over:        over,
		Status:      status,
	}
}

// SummarizeAll keeps the order of limits.
func SummarizeAll(limits []Limit, txs []Transaction, now time.Time) []LimitSummary {
	out := make([]LimitSummary, 0, len(limits))
	for _, l := range limits {
		out = append(out, Summarize(l, txs, now))
	}
	return out
}
