// Package baas defines the port to the backend-as-a-service collaborator:
// tables with row-level policies, an auth service, a change-notification
// stream and named remote procedures.
//
// Everything above this package talks to the backend only through Client.
package baas

import (
	"context"
	"encoding/json"
	"time"
)

// Tables is read-with-filter-and-order, insert, update-with-filter,
// delete-with-filter and count over named tables.
//
// dest arguments receive JSON-shaped rows and are decoded with encoding/json
// semantics; rows passed to Insert are encoded the same way.
type Tables interface {
	Select(ctx context.Context, table string, q Query, dest any) error
	Insert(ctx context.Context, table string, rows any) error
	Update(ctx context.Context, table string, values map[string]any, filters ...Filter) error
	Delete(ctx context.Context, table string, filters ...Filter) error
	Count(ctx context.Context, table string, filters ...Filter) (int64, error)
}

// Procedures invokes named server-side operations.
type Procedures interface {
	Call(ctx context.Context, name string, args map[string]any, dest any) error
}

// Auth is the remote identity service.
type Auth interface {
	// SignUp returns a nil session when the service requires email
	// confirmation before the first sign-in.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*User, error)
	UpdateUser(ctx context.Context, accessToken string, metadata map[string]any) (*User, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// OnAuthStateChange registers fn for session transitions and returns a
	// function removing it.
	OnAuthStateChange(fn func(AuthEvent, *Session)) (unsubscribe func())
}

// Realtime delivers row-level change events for a table.
type Realtime interface {
	// Subscribe calls fn for each change to table visible to the caller in
	// ctx. A non-nil filter restricts events to rows where the column
	// equals the value. fn runs on a goroutine owned by the subscription.
	Subscribe(ctx context.Context, table string, filter *Filter, fn func(ChangeEvent)) (Subscription, error)
}

// Subscription is released with Unsubscribe. No new event is delivered once
// it returns, though a callback already running may finish.
type Subscription interface {
	Unsubscribe() error
}

// Client is the full backend surface.
type Client interface {
	Tables
	Procedures
	Auth() Auth
	Realtime() Realtime
	Ping(ctx context.Context) error
	Close() error
}

// User is an authenticated identity.
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"user_metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// FullName reads the display name from user metadata.
func (u *User) FullName() string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	name, _ := u.Metadata["full_name"].(string)
	return name
}

// Session is what the auth service reports after a successful sign-in.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Valid reports whether the session has a token that has not yet expired.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && (s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt))
}

// AuthEvent names a session transition.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventPasswordReset  AuthEvent = "PASSWORD_RECOVERY"
)

// ChangeType is the kind of row change.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent carries the row before and after the change. New is empty for
// deletes, Old is empty for inserts.
type ChangeEvent struct {
	Table     string          `json:"table"`
	Type      ChangeType      `json:"type"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	Timestamp time.Time       `json:"commit_timestamp"`
}

// Decode unmarshals New (or Old for deletes) into dest.
func (e ChangeEvent) Decode(dest any) error {
	raw := e.New
	if e.Type == ChangeDelete || len(raw) == 0 {
		raw = e.Old
	}
	return json.Unmarshal(raw, dest)
}

// Row returns the changed row as a generic map, for filtering.
func (e ChangeEvent) Row() map[string]any {
	var m map[string]any
	_ = e.Decode(&m)
	return m
}

type tokenKey struct{}

// WithAccessToken attaches the caller's access token to ctx. Every Tables,
// Procedures and Realtime call acts as the identity owning that token.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// AccessToken returns the token attached to ctx, or "" for anonymous calls.
func AccessToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
