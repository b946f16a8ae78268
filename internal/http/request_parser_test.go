package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"spendwise/internal/core"
)

func TestRequestBodyParser(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		target      string
		key         string
		want        string
		wantJSON    bool
	}{
		{
			name:        "form body",
			contentType: "application/x-www-form-urlencoded",
			body:        "role=admin",
			target:      "/admin/users/1/role",
			key:         "role",
			want:        "admin",
		},
		{
			name:        "json body",
			contentType: "application/json",
			body:        `{"status":"resolved"}`,
			target:      "/admin/feedback/1/status",
			key:         "status",
			want:        "resolved",
			wantJSON:    true,
		},
		{
			name:     "json detected without header",
			body:     `{"priority":"high"}`,
			target:   "/admin/issues/1/priority",
			key:      "priority",
			want:     "high",
			wantJSON: true,
		},
		{
			name:     "json number",
			body:     `{"rating":4}`,
			target:   "/feedback",
			key:      "rating",
			want:     "4",
			wantJSON: true,
		},
		{
			name:   "query fallback",
			target: "/admin/issues/1/assignee?assignee_id=u-2",
			key:    "assignee_id",
			want:   "u-2",
		},
		{
			name:        "trims and strips control characters",
			contentType: "application/x-www-form-urlencoded",
			body:        "role=%20adm%00in%20",
			target:      "/x",
			key:         "role",
			want:        "admin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			p := NewRequestBodyParser(req)
			if err := p.Parse(); err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := p.Get(tt.key); got != tt.want {
				t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.want)
			}
			if p.IsJSON() != tt.wantJSON {
				t.Errorf("IsJSON() = %v, want %v", p.IsJSON(), tt.wantJSON)
			}
		})
	}
}

func TestRequestBodyParserRejectsBrokenJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"role":`))
	req.Header.Set("Content-Type", "application/json")
	if err := NewRequestBodyParser(req).Parse(); err == nil {
		t.Error("Parse() of truncated JSON should fail")
	}
}

func TestParseTransactionForm(t *testing.T) {
	tests := []struct {
		name    string
		form    url.Values
		wantErr error
	}{
		{
			name: "valid expense",
			form: url.Values{"amount": {"12.50"}, "type": {"expense"}, "description": {"Lunch"}, "category": {"Food"}},
		},
		{
			name: "type is case-insensitive",
			form: url.Values{"amount": {"1000"}, "type": {"Income"}, "description": {"Salary"}},
		},
		{
			name:    "missing amount",
			form:    url.Values{"type": {"expense"}, "description": {"Lunch"}},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "unparseable amount",
			form:    url.Values{"amount": {"twelve"}, "type": {"expense"}, "description": {"Lunch"}},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "unknown type",
			form:    url.Values{"amount": {"5"}, "type": {"transfer"}, "description": {"Move"}},
			wantErr: core.ErrInvalidType,
		},
		{
			name:    "blank description",
			form:    url.Values{"amount": {"5"}, "type": {"expense"}, "description": {"   "}},
			wantErr: core.ErrEmptyDescription,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseTransactionForm(tt.form)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !f.Amount.IsPositive() {
				t.Errorf("Amount = %s, want positive", f.Amount)
			}
		})
	}
}

func TestParseLimitForm(t *testing.T) {
	if _, err := parseLimitForm(url.Values{"amount": {"100"}}); !errors.Is(err, core.ErrEmptyCategory) {
		t.Errorf("missing category error = %v, want ErrEmptyCategory", err)
	}
	if _, err := parseLimitForm(url.Values{"category": {"Food"}, "amount": {"abc"}}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("bad amount error = %v, want ErrInvalidAmount", err)
	}
	f, err := parseLimitForm(url.Values{"category": {" Food "}, "amount": {"100"}})
	if err != nil {
		t.Fatalf("parseLimitForm() error = %v", err)
	}
	if f.Category != "Food" || f.Amount.String() != "100" {
		t.Errorf("got %+v", f)
	}
}

func TestParseSubscriptionFormDefaultsCurrency(t *testing.T) {
	f, err := parseSubscriptionForm(url.Values{"name": {"Music"}, "amount": {"9.99"}})
	if err != nil {
		t.Fatalf("parseSubscriptionForm() error = %v", err)
	}
	if f.Currency != defaultCurrency {
		t.Errorf("Currency = %q, want %q", f.Currency, defaultCurrency)
	}

	f, err = parseSubscriptionForm(url.Values{"name": {"Music"}, "amount": {"9.99"}, "currency": {"eur"}})
	if err != nil {
		t.Fatalf("parseSubscriptionForm() error = %v", err)
	}
	if f.Currency != "EUR" {
		t.Errorf("Currency = %q, want EUR", f.Currency)
	}
}

func TestParseFeedbackFormRating(t *testing.T) {
	if _, err := parseFeedbackForm(url.Values{"message": {"hi"}}); !errors.Is(err, core.ErrInvalidRating) {
		t.Errorf("missing rating error = %v, want ErrInvalidRating", err)
	}
	f, err := parseFeedbackForm(url.Values{"message": {"hi"}, "rating": {"5"}, "category": {"bug"}})
	if err != nil {
		t.Fatalf("parseFeedbackForm() error = %v", err)
	}
	if f.Rating != 5 || f.Category != "bug" {
		t.Errorf("got %+v", f)
	}
}

func TestParseIssueFormDefaultsPriority(t *testing.T) {
	i := parseIssueForm(url.Values{"issue_type": {"bug"}, "description": {"Broken"}})
	if i.Priority != core.PriorityMedium {
		t.Errorf("Priority = %q, want medium", i.Priority)
	}
}

func TestParseFormOrFail(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("a=%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if resp := ParseFormOrFail(httptest.NewRecorder(), req); resp == nil {
		t.Error("malformed form should produce an error response")
	}

	req = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("a=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if resp := ParseFormOrFail(httptest.NewRecorder(), req); resp != nil {
		t.Error("valid form should parse")
	}
}
