// Package session mirrors the remote auth service for the web app: it turns
// access tokens into identities, caches each user's role, and forwards
// sign-in, sign-up and sign-out to the backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"spendwise/internal/baas"
	"spendwise/internal/cache"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

// ErrNoSession means the request carries no usable access token.
var ErrNoSession = errors.New("no active session")

const (
	identityTTL   = time.Minute
	cacheCapacity = 1024
)

// Identity is a resolved, signed-in caller.
type Identity struct {
	User      baas.User
	Token     string
	ExpiresAt time.Time
}

func (i *Identity) UserID() string {
	if i == nil {
		return ""
	}
	return i.User.ID
}

// DisplayName prefers the profile name over the email.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	if name := strings.TrimSpace(i.User.FullName()); name != "" {
		return name
	}
	return i.User.Email
}

// Context attaches the identity's token so backend calls act as this user.
func (i *Identity) Context(ctx context.Context) context.Context {
	if i == nil {
		return ctx
	}
	return baas.WithAccessToken(ctx, i.Token)
}

// Options configures a Provider.
type Options struct {
	RoleTTL         time.Duration
	ResetRedirectTo string
	Logger          *applog.Logger
	Now             func() time.Time
}

// Provider is safe for concurrent use.
type Provider struct {
	auth       baas.Auth
	tables     baas.Tables
	roles      *cache.LRUCache[core.Role]
	identities *cache.LRUCache[*Identity]
	resetURL   string
	log        *applog.Logger
	now        func() time.Time
	stop       func()
}

// New subscribes to auth state changes on client. Call Close to release
// the listener.
func New(client baas.Client, opts Options) *Provider {
	if opts.RoleTTL <= 0 {
		opts.RoleTTL = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Provider{
		auth:       client.Auth(),
		tables:     client,
		roles:      cache.NewLRUCache[core.Role](cacheCapacity, opts.RoleTTL),
		identities: cache.NewLRUCache[*Identity](cacheCapacity, identityTTL),
		resetURL:   opts.ResetRedirectTo,
		log:        opts.Logger.WithComponent(applog.ComponentSession),
		now:        opts.Now,
	}
	p.stop = p.auth.OnAuthStateChange(p.onAuthStateChange)
	return p
}

// Register hands the provider's caches to a cleanup manager.
func (p *Provider) Register(m *cache.Manager) {
	m.Register(p.roles)
	m.Register(p.identities)
}

func (p *Provider) Close() {
	if p.stop != nil {
		p.stop()
	}
}

func (p *Provider) onAuthStateChange(ev baas.AuthEvent, s *baas.Session) {
	if s == nil {
		return
	}
	switch ev {
	case baas.EventSignedIn, baas.EventTokenRefreshed:
		if s.AccessToken != "" {
			p.identities.Set(s.AccessToken, identityFrom(s))
		}
		p.InvalidateRole(s.User.ID)
	case baas.EventSignedOut:
		if s.AccessToken != "" {
			p.identities.Delete(s.AccessToken)
		}
		p.InvalidateRole(s.User.ID)
	case baas.EventUserUpdated:
		if s.AccessToken != "" {
			p.identities.Delete(s.AccessToken)
		}
		p.InvalidateRole(s.User.ID)
	}
}

func identityFrom(s *baas.Session) *Identity {
	return &Identity{User: s.User, Token: s.AccessToken, ExpiresAt: s.ExpiresAt}
}

// SignUp creates an account. A nil identity with a nil error means the
// service wants the address confirmed first.
func (p *Provider) SignUp(ctx context.Context, email, password, fullName string) (*Identity, error) {
	meta := map[string]any{}
	if name := strings.TrimSpace(fullName); name != "" {
		meta["full_name"] = name
	}
	s, err := p.auth.SignUp(ctx, strings.TrimSpace(email), password, meta)
	if err != nil {
		p.log.WarnContext(ctx, "Sign-up rejected", applog.FieldOperation, applog.OpSignUp, applog.FieldError, baas.Message(err))
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	id := identityFrom(s)
	p.identities.Set(s.AccessToken, id)
	return id, nil
}

// SignIn returns the backend's error unchanged so the form can show its
// message.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	s, err := p.auth.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		p.log.WarnContext(ctx, "Sign-in rejected", applog.FieldOperation, applog.OpSignIn, applog.FieldError, baas.Message(err))
		return nil, err
	}
	if !s.Valid(p.now()) {
		return nil, ErrNoSession
	}
	id := identityFrom(s)
	p.identities.Set(s.AccessToken, id)
	p.log.InfoContext(ctx, "Signed in", applog.FieldUserID, id.UserID())
	return id, nil
}

// SignOut revokes the token. The role is dropped here as well as in the
// listener, since not every backend reports the user on sign-out.
func (p *Provider) SignOut(ctx context.Context, id *Identity) error {
	if id == nil {
		return nil
	}
	err := p.auth.SignOut(ctx, id.Token)
	p.identities.Delete(id.Token)
	p.InvalidateRole(id.UserID())
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	p.log.InfoContext(ctx, "Signed out", applog.FieldUserID, id.UserID())
	return nil
}

// Resolve maps an access token onto its identity, asking the auth service
// on a cache miss.
func (p *Provider) Resolve(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	now := p.now()
	if id, ok := p.identities.Get(token); ok {
		if id.ExpiresAt.IsZero() || now.Before(id.ExpiresAt) {
			return id, nil
		}
		p.identities.Delete(token)
		return nil, ErrNoSession
	}

	user, err := p.auth.GetUser(ctx, token)
	if err != nil {
		if errors.Is(err, baas.ErrUnauthorized) || errors.Is(err, baas.ErrForbidden) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	id := &Identity{User: *user, Token: token, ExpiresAt: tokenExpiry(token)}
	if !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt) {
		return nil, ErrNoSession
	}
	p.identities.Set(token, id)
	return id, nil
}

// tokenExpiry reads exp without verifying; the auth service already vouched
// for the token and this only bounds how long it is cached.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Role returns the cached role, loading it from profiles on a miss. ctx
// must carry the user's token. Lookup failures give the least privileged
// role and are not cached.
func (p *Provider) Role(ctx context.Context, userID string) core.Role {
	if userID == "" || baas.AccessToken(ctx) == "" {
		return core.RoleUser
	}
	if role, ok := p.roles.Get(userID); ok {
		return role
	}

	var rows []struct {
		Role string `json:"role"`
	}
	q := baas.From().Select("role").Where(baas.Eq("id", userID)).Take(1)
	if err := p.tables.Select(ctx, core.TableProfiles, q, &rows); err != nil {
		p.log.WarnContext(ctx, "Role lookup failed", applog.FieldUserID, userID, applog.FieldError, err)
		return core.RoleUser
	}
	role := core.RoleUser
	if len(rows) > 0 {
		if r, err := core.ParseRole(rows[0].Role); err == nil {
			role = r
		}
	}
	p.roles.Set(userID, role)
	return role
}

func (p *Provider) InvalidateRole(userID string) {
	if userID != "" {
		p.roles.Delete(userID)
	}
}

// RequestPasswordReset sends a recovery email linking back to settings.
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return core.ErrInvalidEmail
	}
	return p.auth.ResetPasswordForEmail(ctx, email, p.resetURL)
}

// UpdateProfileName writes the display name to both the auth metadata and
// the caller's profile row.
func (p *Provider) UpdateProfileName(ctx context.Context, id *Identity, fullName string) (*Identity, error) {
	if id == nil {
		return nil, ErrNoSession
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, core.ErrEmptyName
	}
	user, err := p.auth.UpdateUser(ctx, id.Token, map[string]any{"full_name": fullName})
	if err != nil {
		return nil, err
	}
	if err := p.tables.Update(id.Context(ctx), core.TableProfiles,
		map[string]any{"full_name": fullName}, baas.Eq("id", id.UserID())); err != nil {
		return nil, err
	}
	updated := &Identity{User: *user, Token: id.Token, ExpiresAt: id.ExpiresAt}
	p.identities.Set(id.Token, updated)
	return updated, nil
}
