package rest

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"spendwise/internal/baas"
)

type authClient struct {
	c *Client

	mu        sync.Mutex
	listeners map[int]func(baas.AuthEvent, *baas.Session)
	nextID    int
}

var _ baas.Auth = (*authClient)(nil)

func newAuthClient(c *Client) *authClient {
	return &authClient{c: c, listeners: make(map[int]func(baas.AuthEvent, *baas.Session))}
}

// sessionBody is the token endpoint response. Signup returns either this
// or a bare user when email confirmation is on.
type sessionBody struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *userBody `json:"user"`
}

type userBody struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (u *userBody) toUser() baas.User {
	if u == nil {
		return baas.User{}
	}
	return baas.User{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata, CreatedAt: u.CreatedAt}
}

func (s sessionBody) toSession(now time.Time) *baas.Session {
	if s.AccessToken == "" {
		return nil
	}
	out := &baas.Session{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, User: s.User.toUser()}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		out.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return out
}

func (a *authClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*baas.Session, error) {
	var body sessionBody
	_, err := a.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   map[string]any{"email": email, "password": password, "data": metadata},
		token:  a.c.anonKey,
		dest:   &body,
	})
	if err != nil {
		return nil, err
	}
	session := body.toSession(time.Now())
	if session == nil {
		// Confirmation required; nothing to sign in with yet.
		return nil, nil
	}
	a.emit(baas.EventSignedIn, session)
	return session, nil
}

func (a *authClient) SignIn(ctx context.Context, email, password string) (*baas.Session, error) {
	var body sessionBody
	_, err := a.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]any{"email": email, "password": password},
		token:  a.c.anonKey,
		dest:   &body,
	})
	if err != nil {
		return nil, err
	}
	session := body.toSession(time.Now())
	if session == nil {
		return nil, baas.NewError(http.StatusBadGateway, baas.ErrUnauthorized, "auth service returned no session")
	}
	a.emit(baas.EventSignedIn, session)
	return session, nil
}

func (a *authClient) SignOut(ctx context.Context, accessToken string) error {
	_, err := a.c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/logout", token: accessToken})
	if err != nil {
		return err
	}
	a.emit(baas.EventSignedOut, &baas.Session{})
	return nil
}

func (a *authClient) GetUser(ctx context.Context, accessToken string) (*baas.User, error) {
	var body userBody
	if _, err := a.c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user", token: accessToken, dest: &body}); err != nil {
		return nil, err
	}
	u := body.toUser()
	return &u, nil
}

func (a *authClient) UpdateUser(ctx context.Context, accessToken string, metadata map[string]any) (*baas.User, error) {
	var body userBody
	_, err := a.c.do(ctx, request{
		method: http.MethodPut,
		path:   "/auth/v1/user",
		body:   map[string]any{"data": metadata},
		token:  accessToken,
		dest:   &body,
	})
	if err != nil {
		return nil, err
	}
	u := body.toUser()
	a.emit(baas.EventUserUpdated, &baas.Session{AccessToken: accessToken, User: u})
	return &u, nil
}

func (a *authClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	_, err := a.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/recover",
		query:  query,
		body:   map[string]any{"email": email},
		token:  a.c.anonKey,
	})
	return err
}

func (a *authClient) OnAuthStateChange(fn func(baas.AuthEvent, *baas.Session)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *authClient) emit(ev baas.AuthEvent, s *baas.Session) {
	a.mu.Lock()
	fns := make([]func(baas.AuthEvent, *baas.Session), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(ev, s)
	}
}
