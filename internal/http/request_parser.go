// This file implements utilities for parsing and validating HTTP request data.
// Form handlers share one reader per resource so field names and sanitizing
// stay consistent.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"spendwise/internal/core"
)

const maxBodyBytes = 64 << 10

// valueSource is satisfied by url.Values and *RequestBodyParser.
type valueSource interface {
	Get(key string) string
}

// field reads a sanitized, trimmed value.
func field(src valueSource, key string) string {
	return strings.TrimSpace(sanitizeInput(src.Get(key)))
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, so admin actions can be driven
// by htmx forms or scripted clients alike.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser reads at most 64KB of the body once.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}
	if p.err == nil {
		p.formData = r.URL.Query()
	}
	return p
}

// Parse attempts to parse the body as JSON or form data. Query parameters
// fill in keys the body does not carry.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}
	if len(p.body) == 0 {
		return nil
	}

	if strings.HasPrefix(p.contentType, "application/json") || p.body[0] == '{' {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = fmt.Errorf("decode JSON body: %w", err)
		}
		return p.err
	}

	form, err := url.ParseQuery(string(p.body))
	if err != nil {
		p.err = fmt.Errorf("decode form body: %w", err)
		return p.err
	}
	for k, v := range form {
		p.formData[k] = v
	}
	return nil
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val)))
		}
	}
	if p.formData != nil {
		return strings.TrimSpace(sanitizeInput(p.formData.Get(key)))
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts an interface{} to string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// ParseFormOrFail parses the request form and returns an error response on failure.
// Returns nil on success.
func ParseFormOrFail(w http.ResponseWriter, r *http.Request) *HTMXResponseBuilder {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return BadRequestError("Invalid request format")
	}
	return nil
}

// transactionForm carries a parsed add-transaction form.
type transactionForm struct {
	Amount      decimal.Decimal
	Type        core.TransactionType
	Description string
	Category    string
}

func parseTransactionForm(src valueSource) (transactionForm, error) {
	amount, err := core.ParseAmount(field(src, "amount"))
	if err != nil {
		return transactionForm{}, err
	}
	typ, err := core.ParseTransactionType(field(src, "type"))
	if err != nil {
		return transactionForm{}, err
	}
	f := transactionForm{
		Amount:      amount,
		Type:        typ,
		Description: field(src, "description"),
		Category:    field(src, "category"),
	}
	if f.Description == "" {
		return transactionForm{}, core.ErrEmptyDescription
	}
	return f, nil
}

type limitForm struct {
	Category string
	Amount   decimal.Decimal
}

func parseLimitForm(src valueSource) (limitForm, error) {
	category := field(src, "category")
	if category == "" {
		return limitForm{}, core.ErrEmptyCategory
	}
	amount, err := core.ParseAmount(field(src, "amount"))
	if err != nil {
		return limitForm{}, err
	}
	return limitForm{Category: category, Amount: amount}, nil
}

type subscriptionForm struct {
	Name     string
	Amount   decimal.Decimal
	Currency string
}

func parseSubscriptionForm(src valueSource) (subscriptionForm, error) {
	f := subscriptionForm{
		Name:     field(src, "name"),
		Currency: strings.ToUpper(field(src, "currency")),
	}
	if f.Name == "" {
		return subscriptionForm{}, core.ErrEmptyName
	}
	amount, err := core.ParseAmount(field(src, "amount"))
	if err != nil {
		return subscriptionForm{}, err
	}
	f.Amount = amount
	if f.Currency == "" {
		f.Currency = defaultCurrency
	}
	return f, nil
}

func parseFeedbackForm(src valueSource) (core.Feedback, error) {
	rating, err := strconv.Atoi(field(src, "rating"))
	if err != nil {
		return core.Feedback{}, core.ErrInvalidRating
	}
	return core.Feedback{
		Name:     field(src, "name"),
		Email:    field(src, "email"),
		Category: field(src, "category"),
		Message:  field(src, "message"),
		Rating:   rating,
	}, nil
}

// parseIssueForm defaults a missing priority to medium.
func parseIssueForm(src valueSource) core.Issue {
	i := core.Issue{
		Name:        field(src, "name"),
		Email:       field(src, "email"),
		IssueType:   field(src, "issue_type"),
		Description: field(src, "description"),
		Priority:    core.IssuePriority(field(src, "priority")),
	}
	if i.Priority == "" {
		i.Priority = core.PriorityMedium
	}
	return i
}

// validationErrors are the input problems worth echoing back to the user.
var validationErrors = []error{
	core.ErrInvalidAmount,
	core.ErrEmptyDescription,
	core.ErrEmptyCategory,
	core.ErrEmptyName,
	core.ErrEmptyCurrency,
	core.ErrEmptyMessage,
	core.ErrInvalidEmail,
	core.ErrInvalidRating,
	core.ErrInvalidType,
	core.ErrInvalidRole,
	core.ErrInvalidStatus,
	core.ErrInvalidPriority,
	core.ErrInvalidIssueType,
	core.ErrDescriptionTooLong,
}

func isValidation(err error) bool {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
