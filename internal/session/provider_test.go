package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"spendwise/internal/baas"
	"spendwise/internal/baas/local"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recovery struct{ email, link string }

func newTestProvider(t *testing.T) (*Provider, *local.Backend, *[]recovery) {
	t.Helper()
	var links []recovery
	b, err := local.Open(local.Options{
		DBPath:     filepath.Join(t.TempDir(), "session.db"),
		JWTSecret:  testSecret,
		SessionTTL: time.Hour,
		BcryptCost: bcrypt.MinCost,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnRecovery: func(email, link string) { links = append(links, recovery{email, link}) },
	})
	if err != nil {
		t.Fatalf("local.Open() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })

	p := New(b, Options{
		RoleTTL:         time.Minute,
		ResetRedirectTo: "http://localhost:8080/settings",
		Logger:          applog.New(applog.Config{Output: io.Discard}),
	})
	t.Cleanup(p.Close)
	return p, b, &links
}

func TestSignInInvalidCredentials(t *testing.T) {
	p, _, _ := newTestProvider(t)

	id, err := p.SignIn(context.Background(), "nobody@example.com", "wrong-password")

	if err == nil {
		t.Fatal("SignIn() should fail")
	}
	if id != nil {
		t.Errorf("identity = %+v, want nil", id)
	}
	if got := baas.Message(err); got != "Invalid login credentials" {
		t.Errorf("message = %q, want the backend's text verbatim", got)
	}
	if !errors.Is(err, baas.ErrInvalidCredentials) && !errors.Is(err, baas.ErrInvalidRequest) {
		t.Errorf("error = %v, want a credentials error", err)
	}
}

func TestSignUpSignInResolve(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	created, err := p.SignUp(ctx, " ann@example.com ", "secret123", "Ann Example")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if created.DisplayName() != "Ann Example" {
		t.Errorf("DisplayName() = %q", created.DisplayName())
	}

	id, err := p.SignIn(ctx, "ann@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if id.UserID() != created.UserID() {
		t.Errorf("signed in as %q, want %q", id.UserID(), created.UserID())
	}

	p.identities.Delete(id.Token)
	resolved, err := p.Resolve(ctx, id.Token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.User.Email != "ann@example.com" || resolved.ExpiresAt.IsZero() {
		t.Errorf("Resolve() = %+v", resolved)
	}
}

func TestResolveRejectsMissingAndBogusTokens(t *testing.T) {
	p, _, _ := newTestProvider(t)

	if _, err := p.Resolve(context.Background(), ""); !errors.Is(err, ErrNoSession) {
		t.Errorf("empty token error = %v, want ErrNoSession", err)
	}
	if _, err := p.Resolve(context.Background(), "not-a-jwt"); !errors.Is(err, ErrNoSession) {
		t.Errorf("bogus token error = %v, want ErrNoSession", err)
	}
}

func TestResolveDropsExpiredCachedIdentity(t *testing.T) {
	p, _, _ := newTestProvider(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	p.identities.Set("tok", &Identity{User: baas.User{ID: "u1"}, Token: "tok", ExpiresAt: now.Add(-time.Second)})

	if _, err := p.Resolve(context.Background(), "tok"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Resolve() error = %v, want ErrNoSession", err)
	}
	if p.identities.Size() != 0 {
		t.Error("expired identity should be evicted")
	}
}

func TestSignOutInvalidatesSessionAndRole(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()
	id, err := p.SignUp(ctx, "bob@example.com", "secret123", "")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if role := p.Role(id.Context(ctx), id.UserID()); role != core.RoleUser {
		t.Fatalf("Role() = %q", role)
	}

	if err := p.SignOut(ctx, id); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, ok := p.roles.Get(id.UserID()); ok {
		t.Error("role should be dropped on sign-out")
	}
	if _, err := p.Resolve(ctx, id.Token); !errors.Is(err, ErrNoSession) {
		t.Errorf("Resolve() after sign-out error = %v, want ErrNoSession", err)
	}
}

func TestRoleCacheAndInvalidation(t *testing.T) {
	p, b, _ := newTestProvider(t)
	ctx := context.Background()
	id, err := p.SignUp(ctx, "carol@example.com", "secret123", "Carol")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	userCtx := id.Context(ctx)

	if role := p.Role(userCtx, id.UserID()); role != core.RoleUser {
		t.Fatalf("Role() = %q, want user", role)
	}
	if err := b.EnsureRole(ctx, "carol@example.com", core.RoleAdmin); err != nil {
		t.Fatalf("EnsureRole() error = %v", err)
	}
	if role := p.Role(userCtx, id.UserID()); role != core.RoleUser {
		t.Errorf("cached Role() = %q, want the cached user role", role)
	}

	p.InvalidateRole(id.UserID())
	if role := p.Role(userCtx, id.UserID()); role != core.RoleAdmin {
		t.Errorf("Role() after invalidation = %q, want admin", role)
	}
}

func TestRoleWithoutTokenIsNotCached(t *testing.T) {
	p, _, _ := newTestProvider(t)

	if role := p.Role(context.Background(), "u1"); role != core.RoleUser {
		t.Errorf("Role() = %q, want user", role)
	}
	if p.roles.Size() != 0 {
		t.Error("anonymous lookups must not populate the cache")
	}
}

func TestUpdateProfileName(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()
	id, err := p.SignUp(ctx, "dan@example.com", "secret123", "Dan")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	if _, err := p.UpdateProfileName(ctx, id, "   "); !errors.Is(err, core.ErrEmptyName) {
		t.Errorf("blank name error = %v, want ErrEmptyName", err)
	}

	updated, err := p.UpdateProfileName(ctx, id, "Daniel")
	if err != nil {
		t.Fatalf("UpdateProfileName() error = %v", err)
	}
	if updated.DisplayName() != "Daniel" {
		t.Errorf("DisplayName() = %q, want Daniel", updated.DisplayName())
	}

	var rows []core.Profile
	if err := p.tables.Select(id.Context(ctx), core.TableProfiles, baas.From().Where(baas.Eq("id", id.UserID())), &rows); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 1 || rows[0].FullName != "Daniel" {
		t.Errorf("profile rows = %+v", rows)
	}

	cached, err := p.Resolve(ctx, id.Token)
	if err != nil || cached.DisplayName() != "Daniel" {
		t.Errorf("Resolve() = %+v, %v", cached, err)
	}
}

func TestRequestPasswordReset(t *testing.T) {
	p, _, links := newTestProvider(t)
	ctx := context.Background()
	if _, err := p.SignUp(ctx, "erin@example.com", "secret123", ""); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	if err := p.RequestPasswordReset(ctx, "not-an-email"); !errors.Is(err, core.ErrInvalidEmail) {
		t.Errorf("invalid email error = %v", err)
	}
	if err := p.RequestPasswordReset(ctx, "erin@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if len(*links) != 1 {
		t.Fatalf("recovery links = %v", *links)
	}
	if !strings.HasPrefix((*links)[0].link, "http://localhost:8080/settings?") {
		t.Errorf("link = %q, want the settings page", (*links)[0].link)
	}
}

func TestTokenExpiryReadsClaims(t *testing.T) {
	if !tokenExpiry("garbage").IsZero() {
		t.Error("unparseable token should have no expiry")
	}
}
