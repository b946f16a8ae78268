package local

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"spendwise/internal/baas"
	"spendwise/internal/core"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestBackend(t *testing.T, opts ...func(*Options)) *Backend {
	t.Helper()
	o := Options{
		DBPath:     filepath.Join(t.TempDir(), "test.db"),
		JWTSecret:  testSecret,
		SessionTTL: time.Hour,
		BcryptCost: bcrypt.MinCost,
	}
	for _, fn := range opts {
		fn(&o)
	}
	b, err := Open(o)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func signUp(t *testing.T, b *Backend, email string) (context.Context, *baas.Session) {
	t.Helper()
	s, err := b.Auth().SignUp(context.Background(), email, "secret123", map[string]any{"full_name": "Test " + email})
	if err != nil {
		t.Fatalf("SignUp(%s) error = %v", email, err)
	}
	return baas.WithAccessToken(context.Background(), s.AccessToken), s
}

func promote(t *testing.T, b *Backend, email string, role core.Role) {
	t.Helper()
	if err := b.EnsureRole(context.Background(), email, role); err != nil {
		t.Fatalf("EnsureRole(%s) error = %v", email, err)
	}
}

func TestOpenRejectsShortSecret(t *testing.T) {
	_, err := Open(Options{DBPath: filepath.Join(t.TempDir(), "x.db"), JWTSecret: "short"})
	if err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestSignUpCreatesProfile(t *testing.T) {
	b := newTestBackend(t)
	ctx, s := signUp(t, b, "Ann@Example.com")

	if s.User.Email != "ann@example.com" {
		t.Errorf("email = %q, want lowercased", s.User.Email)
	}

	var profiles []core.Profile
	if err := b.Select(ctx, core.TableProfiles, baas.From(), &profiles); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("got %d profiles, want 1", len(profiles))
	}
	if profiles[0].Role != core.RoleUser {
		t.Errorf("role = %q, want user", profiles[0].Role)
	}
	if profiles[0].FullName != "Test Ann@Example.com" {
		t.Errorf("full_name = %q", profiles[0].FullName)
	}
}

func TestSignUpErrors(t *testing.T) {
	b := newTestBackend(t)
	signUp(t, b, "ann@example.com")

	tests := []struct {
		name     string
		email    string
		password string
		wantMsg  string
	}{
		{"short password", "bob@example.com", "123", "Password should be at least 6 characters."},
		{"duplicate email", "ANN@example.com", "secret123", "User already registered"},
		{"bad email", "nobody", "secret123", "Unable to validate email address: invalid format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Auth().SignUp(context.Background(), tt.email, tt.password, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := baas.Message(err); got != tt.wantMsg {
				t.Errorf("message = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestSignInAndSignOut(t *testing.T) {
	b := newTestBackend(t)
	signUp(t, b, "ann@example.com")
	auth := b.Auth()

	if _, err := auth.SignIn(context.Background(), "ann@example.com", "wrong-password"); !errors.Is(err, baas.ErrInvalidCredentials) {
		t.Fatalf("SignIn(wrong) error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := auth.SignIn(context.Background(), "missing@example.com", "secret123"); baas.Message(err) != "Invalid login credentials" {
		t.Fatalf("SignIn(missing) message = %q", baas.Message(err))
	}

	s, err := auth.SignIn(context.Background(), "ANN@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	u, err := auth.GetUser(context.Background(), s.AccessToken)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.FullName() != "Test ann@example.com" {
		t.Errorf("FullName() = %q", u.FullName())
	}

	if err := auth.SignOut(context.Background(), s.AccessToken); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, err := auth.GetUser(context.Background(), s.AccessToken); !errors.Is(err, baas.ErrUnauthorized) {
		t.Errorf("GetUser after sign-out error = %v, want ErrUnauthorized", err)
	}
}

func TestSessionExpires(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	b := newTestBackend(t, func(o *Options) { o.Now = clock })
	_, s := signUp(t, b, "ann@example.com")

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	if _, err := b.Auth().GetUser(context.Background(), s.AccessToken); !errors.Is(err, baas.ErrUnauthorized) {
		t.Errorf("GetUser() error = %v, want ErrUnauthorized", err)
	}
}

func TestAuthStateChangeEvents(t *testing.T) {
	b := newTestBackend(t)
	var (
		mu     sync.Mutex
		events []baas.AuthEvent
	)
	unsubscribe := b.Auth().OnAuthStateChange(func(ev baas.AuthEvent, _ *baas.Session) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	ctx, s := signUp(t, b, "ann@example.com")
	if _, err := b.Auth().UpdateUser(ctx, s.AccessToken, map[string]any{"full_name": "Ann"}); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if err := b.Auth().SignOut(ctx, s.AccessToken); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	unsubscribe()
	signUp(t, b, "bob@example.com")

	mu.Lock()
	defer mu.Unlock()
	want := []baas.AuthEvent{baas.EventSignedIn, baas.EventUserUpdated, baas.EventSignedOut}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestResetPasswordForEmail(t *testing.T) {
	var links []string
	b := newTestBackend(t, func(o *Options) {
		o.OnRecovery = func(email, link string) { links = append(links, email+" "+link) }
	})
	signUp(t, b, "ann@example.com")

	if err := b.Auth().ResetPasswordForEmail(context.Background(), "nobody@example.com", ""); err != nil {
		t.Fatalf("unknown email error = %v", err)
	}
	if err := b.Auth().ResetPasswordForEmail(context.Background(), "ann@example.com", "http://localhost/auth/reset"); err != nil {
		t.Fatalf("ResetPasswordForEmail() error = %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("got %d recovery links, want 1", len(links))
	}
	if !strings.Contains(links[0], "http://localhost/auth/reset?") || !strings.Contains(links[0], "type=recovery") {
		t.Errorf("link = %q", links[0])
	}
}

func TestOwnerRowsAreIsolated(t *testing.T) {
	b := newTestBackend(t)
	annCtx, ann := signUp(t, b, "ann@example.com")
	bobCtx, _ := signUp(t, b, "bob@example.com")

	tx := core.NewTransaction(ann.User.ID, decimal.RequireFromString("12.50"), core.Expense, "Lunch", "Food", time.Now())
	if err := b.Insert(annCtx, core.TableTransactions, tx); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	var got []core.Transaction
	if err := b.Select(annCtx, core.TableTransactions, baas.From().Newest(), &got); err != nil {
		t.Fatalf("Select(ann) error = %v", err)
	}
	if len(got) != 1 || !got[0].Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("ann transactions = %+v", got)
	}
	if got[0].CategoryKey != "food" {
		t.Errorf("category_key = %q, want food", got[0].CategoryKey)
	}

	got = nil
	if err := b.Select(bobCtx, core.TableTransactions, baas.From(), &got); err != nil {
		t.Fatalf("Select(bob) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("bob sees %d of ann's transactions", len(got))
	}

	// Bob cannot write rows owned by Ann.
	forged := core.NewTransaction(ann.User.ID, decimal.NewFromInt(1), core.Income, "x", "y", time.Now())
	if err := b.Insert(bobCtx, core.TableTransactions, forged); !errors.Is(err, baas.ErrForbidden) {
		t.Errorf("forged insert error = %v, want ErrForbidden", err)
	}

	// Deletes outside the caller's rows affect nothing.
	if err := b.Delete(bobCtx, core.TableTransactions, baas.Eq("id", tx.ID)); err != nil {
		t.Fatalf("Delete(bob) error = %v", err)
	}
	n, err := b.Count(annCtx, core.TableTransactions)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	if err := b.Delete(annCtx, core.TableTransactions, baas.Eq("id", tx.ID)); err != nil {
		t.Fatalf("Delete(ann) error = %v", err)
	}
	if n, _ := b.Count(annCtx, core.TableTransactions); n != 0 {
		t.Errorf("count after delete = %d, want 0", n)
	}
}

func TestAnonymousCannotReadOwnedTables(t *testing.T) {
	b := newTestBackend(t)
	annCtx, ann := signUp(t, b, "ann@example.com")
	l := core.NewLimit(ann.User.ID, "Food", decimal.NewFromInt(100), time.Now())
	if err := b.Insert(annCtx, core.TableLimits, l); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	var got []core.Limit
	if err := b.Select(context.Background(), core.TableLimits, baas.From(), &got); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("anonymous caller sees %d limits", len(got))
	}
}

func TestAdminReadsEverything(t *testing.T) {
	b := newTestBackend(t)
	annCtx, ann := signUp(t, b, "ann@example.com")
	adminCtx, _ := signUp(t, b, "admin@example.com")
	promote(t, b, "admin@example.com", core.RoleAdmin)

	sub := core.NewSubscription(ann.User.ID, "Netflix", decimal.RequireFromString("9.99"), "usd", time.Now())
	if err := b.Insert(annCtx, core.TableSubscriptions, sub); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	n, err := b.Count(adminCtx, core.TableSubscriptions)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("admin count = %d, want 1", n)
	}
	n, _ = b.Count(adminCtx, core.TableProfiles)
	if n != 2 {
		t.Errorf("admin profile count = %d, want 2", n)
	}
}

func TestFeedbackPolicies(t *testing.T) {
	b := newTestBackend(t)
	annCtx, ann := signUp(t, b, "ann@example.com")
	adminCtx, _ := signUp(t, b, "admin@example.com")
	promote(t, b, "admin@example.com", core.RoleAdmin)

	uid := ann.User.ID
	fb := core.Feedback{ID: core.NewID(), UserID: &uid, Name: "Ann", Email: "ann@example.com",
		Category: "feature", Message: "Dark mode please", Rating: 4}
	if err := b.Insert(annCtx, core.TableFeedback, fb); err != nil {
		t.Fatalf("Insert(feedback) error = %v", err)
	}
	anon := core.Feedback{ID: core.NewID(), Name: "Guest", Email: "guest@example.com",
		Category: "general", Message: "Nice", Rating: 5}
	if err := b.Insert(context.Background(), core.TableFeedback, anon); err != nil {
		t.Fatalf("Insert(anonymous feedback) error = %v", err)
	}

	var seen []core.Feedback
	if err := b.Select(annCtx, core.TableFeedback, baas.From(), &seen); err != nil {
		t.Fatalf("Select(ann) error = %v", err)
	}
	if len(seen) != 0 {
		t.Errorf("non-admin sees %d feedback rows", len(seen))
	}

	if err := b.Select(adminCtx, core.TableFeedback, baas.From().Newest(), &seen); err != nil {
		t.Fatalf("Select(admin) error = %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("admin sees %d feedback rows, want 2", len(seen))
	}
	for _, f := range seen {
		if f.Status != core.FeedbackPending {
			t.Errorf("status = %q, want pending", f.Status)
		}
	}

	if err := b.Update(adminCtx, core.TableFeedback, map[string]any{"status": core.FeedbackResolved}, baas.Eq("id", fb.ID)); err != nil {
		t.Fatalf("Update(status) error = %v", err)
	}
	if err := b.Update(adminCtx, core.TableFeedback, map[string]any{"message": "edited"}, baas.Eq("id", fb.ID)); !errors.Is(err, baas.ErrForbidden) {
		t.Errorf("Update(message) error = %v, want ErrForbidden", err)
	}

	n, _ := b.Count(adminCtx, core.TableFeedback, baas.Eq("status", core.FeedbackResolved))
	if n != 1 {
		t.Errorf("resolved count = %d, want 1", n)
	}
}

func TestProfileUpdateRestrictedToName(t *testing.T) {
	b := newTestBackend(t)
	ctx, s := signUp(t, b, "ann@example.com")

	if err := b.Update(ctx, core.TableProfiles, map[string]any{"full_name": "Ann B"}, baas.Eq("id", s.User.ID)); err != nil {
		t.Fatalf("Update(full_name) error = %v", err)
	}
	if err := b.Update(ctx, core.TableProfiles, map[string]any{"role": "superuser"}, baas.Eq("id", s.User.ID)); !errors.Is(err, baas.ErrForbidden) {
		t.Errorf("Update(role) error = %v, want ErrForbidden", err)
	}
}

func TestUnknownTableAndColumn(t *testing.T) {
	b := newTestBackend(t)
	ctx, _ := signUp(t, b, "ann@example.com")

	var rows []map[string]any
	err := b.Select(ctx, "wallets", baas.From(), &rows)
	if !errors.Is(err, baas.ErrNotFound) {
		t.Errorf("unknown table error = %v, want ErrNotFound", err)
	}
	err = b.Select(ctx, core.TableLimits, baas.From().Where(baas.Eq("colour", "red")), &rows)
	if got := baas.Message(err); got != "Could not find the 'colour' column of 'limits' in the schema cache" {
		t.Errorf("unknown column message = %q", got)
	}
}

func TestSelectOrderFilterAndLimit(t *testing.T) {
	b := newTestBackend(t)
	ctx, s := signUp(t, b, "ann@example.com")
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, desc := range []string{"first", "second", "third"} {
		tx := core.NewTransaction(s.User.ID, decimal.NewFromInt(int64(i+1)), core.Expense, desc, "Food", base.Add(time.Duration(i)*time.Hour))
		if err := b.Insert(ctx, core.TableTransactions, tx); err != nil {
			t.Fatalf("Insert(%s) error = %v", desc, err)
		}
	}

	var got []core.Transaction
	q := baas.From().Where(baas.Gte("created_at", base.Add(30*time.Minute))).Newest().Take(1)
	if err := b.Select(ctx, core.TableTransactions, q, &got); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(got) != 1 || got[0].Description != "third" {
		t.Fatalf("got %+v, want only third", got)
	}

	got = nil
	if err := b.Select(ctx, core.TableTransactions, baas.From().Where(baas.ILike("description", "%CON%")), &got); err != nil {
		t.Fatalf("Select(ilike) error = %v", err)
	}
	if len(got) != 1 || got[0].Description != "second" {
		t.Errorf("ilike got %+v, want second", got)
	}
}

func TestUpdateRequiresFilter(t *testing.T) {
	b := newTestBackend(t)
	ctx, _ := signUp(t, b, "ann@example.com")
	if err := b.Delete(ctx, core.TableTransactions); !errors.Is(err, baas.ErrInvalidRequest) {
		t.Errorf("Delete() without filters error = %v, want ErrInvalidRequest", err)
	}
}

func TestProcedures(t *testing.T) {
	b := newTestBackend(t)
	userCtx, user := signUp(t, b, "ann@example.com")
	adminCtx, admin := signUp(t, b, "admin@example.com")
	rootCtx, root := signUp(t, b, "root@example.com")
	promote(t, b, "admin@example.com", core.RoleAdmin)
	promote(t, b, "root@example.com", core.RoleSuperuser)

	issue := core.Issue{ID: core.NewID(), Name: "Ann", Email: "ann@example.com", IssueType: "bug", Description: "Crash on save"}
	if err := b.Insert(userCtx, core.TableIssues, issue); err != nil {
		t.Fatalf("Insert(issue) error = %v", err)
	}

	t.Run("unknown procedure", func(t *testing.T) {
		err := b.Call(adminCtx, "drop_everything", nil, nil)
		if !errors.Is(err, baas.ErrProcedureNotFound) {
			t.Errorf("error = %v, want ErrProcedureNotFound", err)
		}
	})

	t.Run("user cannot change issue status", func(t *testing.T) {
		err := b.Call(userCtx, baas.ProcUpdateIssueStatus, map[string]any{
			baas.ArgIssueID: issue.ID, baas.ArgNewStatus: "resolved",
		}, nil)
		if !errors.Is(err, baas.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("admin triages issue", func(t *testing.T) {
		calls := []struct {
			name string
			args map[string]any
		}{
			{baas.ProcUpdateIssueStatus, map[string]any{baas.ArgIssueID: issue.ID, baas.ArgNewStatus: "in-progress"}},
			{baas.ProcUpdateIssuePriority, map[string]any{baas.ArgIssueID: issue.ID, baas.ArgNewPriority: "high"}},
			{baas.ProcAssignIssue, map[string]any{baas.ArgIssueID: issue.ID, baas.ArgAssigneeID: admin.User.ID}},
		}
		for _, c := range calls {
			if err := b.Call(adminCtx, c.name, c.args, nil); err != nil {
				t.Fatalf("Call(%s) error = %v", c.name, err)
			}
		}
		var issues []core.Issue
		if err := b.Select(adminCtx, core.TableIssues, baas.From(), &issues); err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if len(issues) != 1 {
			t.Fatalf("got %d issues", len(issues))
		}
		got := issues[0]
		if got.Status != core.IssueInProgress || got.Priority != core.PriorityHigh {
			t.Errorf("issue = %+v", got)
		}
		if got.AssigneeID == nil || *got.AssigneeID != admin.User.ID {
			t.Errorf("assignee = %v, want %s", got.AssigneeID, admin.User.ID)
		}
	})

	t.Run("assignee must be admin", func(t *testing.T) {
		err := b.Call(adminCtx, baas.ProcAssignIssue, map[string]any{
			baas.ArgIssueID: issue.ID, baas.ArgAssigneeID: user.User.ID,
		}, nil)
		if !errors.Is(err, baas.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		err := b.Call(adminCtx, baas.ProcUpdateIssueStatus, map[string]any{
			baas.ArgIssueID: issue.ID, baas.ArgNewStatus: "done",
		}, nil)
		if !errors.Is(err, baas.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("admin cannot change roles", func(t *testing.T) {
		err := b.Call(adminCtx, baas.ProcUpdateUserRole, map[string]any{
			baas.ArgUserID: user.User.ID, baas.ArgNewRole: "admin",
		}, nil)
		if !errors.Is(err, baas.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("superuser changes role", func(t *testing.T) {
		var profile core.Profile
		err := b.Call(rootCtx, baas.ProcUpdateUserRole, map[string]any{
			baas.ArgUserID: user.User.ID, baas.ArgNewRole: "admin",
		}, &profile)
		if err != nil {
			t.Fatalf("Call() error = %v", err)
		}
		if profile.Role != core.RoleAdmin {
			t.Errorf("role = %q, want admin", profile.Role)
		}
	})

	t.Run("superuser cannot delete self", func(t *testing.T) {
		err := b.Call(rootCtx, baas.ProcDeleteUser, map[string]any{baas.ArgUserID: root.User.ID}, nil)
		if !errors.Is(err, baas.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("superuser deletes user", func(t *testing.T) {
		tx := core.NewTransaction(user.User.ID, decimal.NewFromInt(5), core.Expense, "Snack", "Food", time.Now())
		if err := b.Insert(userCtx, core.TableTransactions, tx); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if err := b.Call(rootCtx, baas.ProcDeleteUser, map[string]any{baas.ArgUserID: user.User.ID}, nil); err != nil {
			t.Fatalf("Call(delete_user) error = %v", err)
		}
		if n, _ := b.Count(rootCtx, core.TableTransactions); n != 0 {
			t.Errorf("transactions left = %d, want 0", n)
		}
		if n, _ := b.Count(rootCtx, core.TableIssues); n != 1 {
			t.Errorf("issues left = %d, want 1", n)
		}
		if _, err := b.Auth().SignIn(context.Background(), "ann@example.com", "secret123"); err == nil {
			t.Error("deleted user can still sign in")
		}
	})
}

func TestRealtimeDeliversVisibleChanges(t *testing.T) {
	b := newTestBackend(t)
	annCtx, ann := signUp(t, b, "ann@example.com")
	bobCtx, _ := signUp(t, b, "bob@example.com")

	annEvents := make(chan baas.ChangeEvent, 4)
	bobEvents := make(chan baas.ChangeEvent, 4)
	filter := baas.Eq("user_id", ann.User.ID)
	annSub, err := b.Realtime().Subscribe(annCtx, core.TableLimits, &filter, func(ev baas.ChangeEvent) { annEvents <- ev })
	if err != nil {
		t.Fatalf("Subscribe(ann) error = %v", err)
	}
	defer annSub.Unsubscribe()
	bobSub, err := b.Realtime().Subscribe(bobCtx, core.TableLimits, nil, func(ev baas.ChangeEvent) { bobEvents <- ev })
	if err != nil {
		t.Fatalf("Subscribe(bob) error = %v", err)
	}
	defer bobSub.Unsubscribe()

	l := core.NewLimit(ann.User.ID, "Food", decimal.NewFromInt(100), time.Now())
	if err := b.Insert(annCtx, core.TableLimits, l); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	select {
	case ev := <-annEvents:
		if ev.Type != baas.ChangeInsert {
			t.Errorf("type = %s, want INSERT", ev.Type)
		}
		var got core.Limit
		if err := ev.Decode(&got); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got.ID != l.ID {
			t.Errorf("id = %s, want %s", got.ID, l.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	select {
	case ev := <-bobEvents:
		t.Errorf("bob received %s for ann's row", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

type recordingRelay struct {
	mu     sync.Mutex
	events []baas.ChangeEvent
	err    error
}

func (r *recordingRelay) PublishChange(_ context.Context, ev baas.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestRelayReceivesChangesAndFailuresDoNotFailWrites(t *testing.T) {
	relay := &recordingRelay{err: errors.New("broker down")}
	b := newTestBackend(t, func(o *Options) { o.Relay = relay })
	ctx, s := signUp(t, b, "ann@example.com")

	tx := core.NewTransaction(s.User.ID, decimal.NewFromInt(3), core.Income, "Gift", "Other", time.Now())
	if err := b.Insert(ctx, core.TableTransactions, tx); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := b.Update(ctx, core.TableTransactions, map[string]any{"description": "Birthday gift"}, baas.Eq("id", tx.ID)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()
	if len(relay.events) != 2 {
		t.Fatalf("relayed %d events, want 2", len(relay.events))
	}
	upd := relay.events[1]
	if upd.Type != baas.ChangeUpdate || len(upd.Old) == 0 || len(upd.New) == 0 {
		t.Errorf("update event = %+v", upd)
	}
}

func TestLikeMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"food", "food", true},
		{"%od", "food", true},
		{"fo%", "food", true},
		{"%o%", "food", true},
		{"%x%", "food", false},
		{"f%d", "fad", true},
		{"f%d", "fax", false},
	}
	for _, tt := range tests {
		if got := likeMatch(tt.pattern, tt.s); got != tt.want {
			t.Errorf("likeMatch(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}
