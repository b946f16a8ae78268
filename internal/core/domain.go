package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Table names in the remote store.
const (
	TableProfiles      = "profiles"
	TableTransactions  = "transactions"
	TableLimits        = "limits"
	TableSubscriptions = "subscriptions"
	TableFeedback      = "feedback"
	TableIssues        = "issues"
)

type (
	Role            string
	TransactionType string
	FeedbackStatus  string
	IssueStatus     string
	IssuePriority   string

	Profile struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		FullName  string    `json:"full_name"`
		Role      Role      `json:"role"`
		CreatedAt time.Time `json:"created_at"`
	}

	Transaction struct {
		ID          string          `json:"id"`
		UserID      string          `json:"user_id"`
		Amount      decimal.Decimal `json:"amount"`
		Type        TransactionType `json:"type"`
		Description string          `json:"description"`
		Category    string          `json:"category"`
		CategoryKey string          `json:"category_key"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	Limit struct {
		ID          string          `json:"id"`
		UserID      string          `json:"user_id"`
		Category    string          `json:"category"`
		CategoryKey string          `json:"category_key"`
		Amount      decimal.Decimal `json:"amount"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	Subscription struct {
		ID        string          `json:"id"`
		UserID    string          `json:"user_id"`
		Name      string          `json:"name"`
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
		CreatedAt time.Time       `json:"created_at"`
	}

	Feedback struct {
		ID        string         `json:"id"`
		UserID    *string        `json:"user_id"`
		Name      string         `json:"name"`
		Email     string         `json:"email"`
		Category  string         `json:"category"`
		Message   string         `json:"message"`
		Rating    int            `json:"rating"`
		Status    FeedbackStatus `json:"status"`
		CreatedAt time.Time      `json:"created_at"`
	}

	Issue struct {
		ID          string        `json:"id"`
		UserID      *string       `json:"user_id"`
		Name        string        `json:"name"`
		Email       string        `json:"email"`
		IssueType   string        `json:"issue_type"`
		Description string        `json:"description"`
		Status      IssueStatus   `json:"status"`
		Priority    IssuePriority `json:"priority"`
		AssigneeID  *string       `json:"assignee_id"`
		CreatedAt   time.Time     `json:"created_at"`
	}
)

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleSuperuser Role = "superuser"

	Income  TransactionType = "income"
	Expense TransactionType = "expense"

	FeedbackPending  FeedbackStatus = "pending"
	FeedbackResolved FeedbackStatus = "resolved"

	IssueOpen       IssueStatus = "open"
	IssueInProgress IssueStatus = "in-progress"
	IssueResolved   IssueStatus = "resolved"

	PriorityLow    IssuePriority = "low"
	PriorityMedium IssuePriority = "medium"
	PriorityHigh   IssuePriority = "high"
)

// Roles lists the assignable roles in ascending privilege.
var Roles = []Role{RoleUser, RoleAdmin, RoleSuperuser}

// FeedbackCategories and IssueTypes are the values offered by the forms.
var (
	FeedbackCategories = []string{"general", "feature", "bug", "other"}
	IssueTypes         = []string{"bug", "performance", "account", "other"}
	IssueStatuses      = []IssueStatus{IssueOpen, IssueInProgress, IssueResolved}
	IssuePriorities    = []IssuePriority{PriorityLow, PriorityMedium, PriorityHigh}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrEmptyCategory      = errors.New("empty category")
	ErrEmptyName          = errors.New("empty name")
	ErrEmptyCurrency      = errors.New("empty currency")
	ErrEmptyMessage       = errors.New("empty message")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrInvalidType        = errors.New("type must be income or expense")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidPriority    = errors.New("invalid priority")
	ErrInvalidIssueType   = errors.New("invalid issue type")
	ErrMissingOwner       = errors.New("missing owner")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
)

// ParseRole accepts any casing and surrounding whitespace.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleUser, RoleAdmin, RoleSuperuser:
		return r, nil
	}
	return "", ErrInvalidRole
}

// IsAdmin reports whether the role may open the admin panel.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperuser
}

// IsSuperuser reports whether the role may change roles and delete users.
func (r Role) IsSuperuser() bool {
	return r == RoleSuperuser
}

// ParseTransactionType is case-insensitive: "Income", "INCOME" and "income"
// are the same type.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case Income, Expense:
		return t, nil
	}
	return "", ErrInvalidType
}

// Is compares transaction types ignoring case, so rows written by older
// clients with "Expense" still match.
func (t TransactionType) Is(other TransactionType) bool {
	return strings.EqualFold(strings.TrimSpace(string(t)), string(other))
}

func ParseIssueStatus(s string) (IssueStatus, error) {
	st := IssueStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range IssueStatuses {
		if st == v {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

func ParseIssuePriority(s string) (IssuePriority, error) {
	p := IssuePriority(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range IssuePriorities {
		if p == v {
			return p, nil
		}
	}
	return "", ErrInvalidPriority
}

func ParseFeedbackStatus(s string) (FeedbackStatus, error) {
	st := FeedbackStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case FeedbackPending, FeedbackResolved:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// NewID returns a fresh row identifier. Rows are keyed client-side so a
// locally applied insert and the stored row share the same id.
func NewID() string {
	return uuid.NewString()
}

// NewTransaction builds a transaction owned by userID, stamped now.
func NewTransaction(userID string, amount decimal.Decimal, typ TransactionType, description, category string, now time.Time) Transaction {
	category = strings.TrimSpace(category)
	return Transaction{
		ID:          NewID(),
		UserID:      userID,
		Amount:      amount,
		Type:        typ,
		Description: strings.TrimSpace(description),
		Category:    category,
		CategoryKey: CategoryKey(category),
		CreatedAt:   now.UTC(),
	}
}

func (t Transaction) Validate() error {
	if t.UserID == "" {
		return ErrMissingOwner
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, err := ParseTransactionType(string(t.Type)); err != nil {
		return err
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return ErrDescriptionTooLong
	}
	return nil
}

// NewLimit builds a monthly ceiling for a category.
func NewLimit(userID, category string, amount decimal.Decimal, now time.Time) Limit {
	category = strings.TrimSpace(category)
	return Limit{
		ID:          NewID(),
		UserID:      userID,
		Category:    category,
		CategoryKey: CategoryKey(category),
		Amount:      amount,
		CreatedAt:   now.UTC(),
	}
}

func (l Limit) Validate() error {
	if l.UserID == "" {
		return ErrMissingOwner
	}
	if strings.TrimSpace(l.Category) == "" {
		return ErrEmptyCategory
	}
	if !l.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func NewSubscription(userID, name string, amount decimal.Decimal, currency string, now time.Time) Subscription {
	return Subscription{
		ID:        NewID(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		Amount:    amount,
		Currency:  strings.ToUpper(strings.TrimSpace(currency)),
		CreatedAt: now.UTC(),
	}
}

func (s Subscription) Validate() error {
	if s.UserID == "" {
		return ErrMissingOwner
	}
	if s.Name == "" {
		return ErrEmptyName
	}
	if !s.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if s.Currency == "" {
		return ErrEmptyCurrency
	}
	return nil
}

func (f Feedback) Validate() error {
	if strings.TrimSpace(f.Message) == "" {
		return ErrEmptyMessage
	}
	if f.Email != "" && !validEmail(f.Email) {
		return ErrInvalidEmail
	}
	if f.Rating < 1 || f.Rating > 5 {
		return ErrInvalidRating
	}
	return nil
}

func (i Issue) Validate() error {
	if strings.TrimSpace(i.Description) == "" {
		return ErrEmptyDescription
	}
	if i.Email != "" && !validEmail(i.Email) {
		return ErrInvalidEmail
	}
	if !contains(IssueTypes, i.IssueType) {
		return ErrInvalidIssueType
	}
	if _, err := ParseIssuePriority(string(i.Priority)); err != nil {
		return err
	}
	return nil
}

func validEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
