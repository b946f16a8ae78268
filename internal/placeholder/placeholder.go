// Package placeholder supplies the sample rows every wallet view shows when
// the user has nothing stored yet or the read failed. Views flag these rows
// so the page can say "sample data".
package placeholder

import (
	"time"

	"github.com/shopspring/decimal"

	"spendwise/internal/core"
)

// Provider builds sample rows stamped relative to Now.
type Provider struct {
	Now func() time.Time
}

func New() *Provider {
	return &Provider{Now: time.Now}
}

// sample ids are stable so re-rendering does not reshuffle rows.
const samplePrefix = "sample-"

// IsSample reports whether id belongs to a placeholder row.
func IsSample(id string) bool {
	return len(id) > len(samplePrefix) && id[:len(samplePrefix)] == samplePrefix
}

func (p *Provider) now() time.Time {
	if p == nil || p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p *Provider) Transactions() []core.Transaction {
	now := p.now()
	tx := func(id string, amount int64, exp int32, typ core.TransactionType, desc, category string, ago time.Duration) core.Transaction {
		return core.Transaction{
			ID:          samplePrefix + id,
			Amount:      decimal.New(amount, exp),
			Type:        typ,
			Description: desc,
			Category:    category,
			CategoryKey: core.CategoryKey(category),
			CreatedAt:   now.Add(-ago),
		}
	}
	return []core.Transaction{
		tx("t1", 769, -1, core.Expense, "Grocery", "Food", 0),
		tx("t2", 44, 0, core.Expense, "Train ticket", "Travel", time.Minute),
		tx("t3", 200, 0, core.Income, "Salary", "Salary", 2*time.Minute),
	}
}

func (p *Provider) Limits() []core.Limit {
	now := p.now()
	return []core.Limit{
		{ID: samplePrefix + "l1", Category: "Food", CategoryKey: "food", Amount: decimal.NewFromInt(940), CreatedAt: now},
		{ID: samplePrefix + "l2", Category: "Travel", CategoryKey: "travel", Amount: decimal.NewFromInt(200), CreatedAt: now.Add(-time.Minute)},
	}
}

func (p *Provider) Subscriptions() []core.Subscription {
	now := p.now()
	return []core.Subscription{
		{ID: samplePrefix + "s1", Name: "Netflix", Amount: decimal.New(999, -2), Currency: "USD", CreatedAt: now},
		{ID: samplePrefix + "s2", Name: "Spotify", Amount: decimal.New(499, -2), Currency: "USD", CreatedAt: now.Add(-time.Minute)},
		{ID: samplePrefix + "s3", Name: "Adobe Creative Cloud", Amount: decimal.New(1999, -2), Currency: "USD", CreatedAt: now.Add(-2 * time.Minute)},
	}
}

// Seed is a first-time user's starter rows.
type Seed struct {
	Transactions  []core.Transaction
	Limits        []core.Limit
	Subscriptions []core.Subscription
}

// Seed returns the sample rows re-keyed and owned by userID.
func (p *Provider) Seed(userID string) Seed {
	var s Seed
	for _, t := range p.Transactions() {
		t.ID, t.UserID = core.NewID(), userID
		s.Transactions = append(s.Transactions, t)
	}
	for _, l := range p.Limits() {
		l.ID, l.UserID = core.NewID(), userID
		s.Limits = append(s.Limits, l)
	}
	for _, sub := range p.Subscriptions() {
		sub.ID, sub.UserID = core.NewID(), userID
		s.Subscriptions = append(s.Subscriptions, sub)
	}
	return s
}
