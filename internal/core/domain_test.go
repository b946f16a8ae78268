package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"user", RoleUser, false},
		{" Admin ", RoleAdmin, false},
		{"SUPERUSER", RoleSuperuser, false},
		{"root", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRolePrivileges(t *testing.T) {
	if RoleUser.IsAdmin() {
		t.Error("user must not be admin")
	}
	if !RoleAdmin.IsAdmin() || RoleAdmin.IsSuperuser() {
		t.Error("admin is admin but not superuser")
	}
	if !RoleSuperuser.IsAdmin() || !RoleSuperuser.IsSuperuser() {
		t.Error("superuser has every privilege")
	}
}

func TestTransactionTypeIsCaseInsensitive(t *testing.T) {
	for _, raw := range []string{"expense", "Expense", "EXPENSE", " expense "} {
		if !TransactionType(raw).Is(Expense) {
			t.Errorf("%q should be an expense", raw)
		}
	}
	if TransactionType("Income").Is(Expense) {
		t.Error("Income is not an expense")
	}
	if got, err := ParseTransactionType("Income"); err != nil || got != Income {
		t.Errorf("ParseTransactionType(Income) = %q, %v", got, err)
	}
	if _, err := ParseTransactionType("deposit"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("deposit should be rejected, got %v", err)
	}
}

func TestNewTransactionNormalizes(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.FixedZone("CET", 3600))
	tx := NewTransaction("u1", decimal.NewFromInt(5), Expense, "  lunch ", "  Food ", now)

	if tx.ID == "" {
		t.Fatal("id should be assigned")
	}
	if tx.Category != "Food" || tx.CategoryKey != "food" || tx.Description != "lunch" {
		t.Errorf("unexpected normalization: %+v", tx)
	}
	if tx.CreatedAt.Location() != time.UTC || !tx.CreatedAt.Equal(now) {
		t.Errorf("created_at should be the same instant in UTC, got %v", tx.CreatedAt)
	}
}

func TestTransactionValidate(t *testing.T) {
	valid := NewTransaction("u1", decimal.NewFromInt(5), Expense, "lunch", "Food", time.Now())

	tests := []struct {
		name   string
		mutate func(*Transaction)
		want   error
	}{
		{"valid", func(*Transaction) {}, nil},
		{"no owner", func(tx *Transaction) { tx.UserID = "" }, ErrMissingOwner},
		{"zero amount", func(tx *Transaction) { tx.Amount = decimal.Zero }, ErrInvalidAmount},
		{"bad type", func(tx *Transaction) { tx.Type = "transfer" }, ErrInvalidType},
		{"empty description", func(tx *Transaction) { tx.Description = " " }, ErrEmptyDescription},
		{"long description", func(tx *Transaction) { tx.Description = strings.Repeat("x", 201) }, ErrDescriptionTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := valid
			tt.mutate(&tx)
			if err := tx.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLimitAndSubscriptionValidate(t *testing.T) {
	now := time.Now()
	if err := NewLimit("u1", "Food", decimal.NewFromInt(100), now).Validate(); err != nil {
		t.Errorf("valid limit: %v", err)
	}
	if err := NewLimit("u1", "  ", decimal.NewFromInt(100), now).Validate(); !errors.Is(err, ErrEmptyCategory) {
		t.Errorf("empty category: %v", err)
	}
	sub := NewSubscription("u1", "Netflix", decimal.RequireFromString("9.99"), "usd", now)
	if sub.Currency != "USD" {
		t.Errorf("currency should be upper-cased, got %q", sub.Currency)
	}
	if err := sub.Validate(); err != nil {
		t.Errorf("valid subscription: %v", err)
	}
	sub.Currency = ""
	if err := sub.Validate(); !errors.Is(err, ErrEmptyCurrency) {
		t.Errorf("empty currency: %v", err)
	}
}

func TestFeedbackAndIssueValidate(t *testing.T) {
	fb := Feedback{Message: "great app", Email: "a@b.co", Rating: 5}
	if err := fb.Validate(); err != nil {
		t.Errorf("valid feedback: %v", err)
	}
	fb.Rating = 0
	if err := fb.Validate(); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("rating 0: %v", err)
	}
	fb = Feedback{Message: "x", Email: "not-an-email", Rating: 3}
	if err := fb.Validate(); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("bad email: %v", err)
	}

	is := Issue{Description: "crash on save", IssueType: "bug", Priority: PriorityHigh}
	if err := is.Validate(); err != nil {
		t.Errorf("valid issue: %v", err)
	}
	is.IssueType = "feature-request"
	if err := is.Validate(); !errors.Is(err, ErrInvalidIssueType) {
		t.Errorf("bad issue type: %v", err)
	}
}

func TestParseIssueEnums(t *testing.T) {
	if s, err := ParseIssueStatus("In-Progress"); err != nil || s != IssueInProgress {
		t.Errorf("ParseIssueStatus = %q, %v", s, err)
	}
	if _, err := ParseIssueStatus("closed"); err == nil {
		t.Error("closed is not a status")
	}
	if p, err := ParseIssuePriority("HIGH"); err != nil || p != PriorityHigh {
		t.Errorf("ParseIssuePriority = %q, %v", p, err)
	}
	if s, err := ParseFeedbackStatus("resolved"); err != nil || s != FeedbackResolved {
		t.Errorf("ParseFeedbackStatus = %q, %v", s, err)
	}
}
