package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"spendwise/internal/baas"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	apikey string
	prefer string
	body   map[string]any
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			apikey: r.Header.Get("apikey"),
			prefer: r.Header.Get("Prefer"),
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		calls = append(calls, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", AnonKey: "anon-key"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, &calls
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{AnonKey: "k"}},
		{"missing key", Config{BaseURL: "https://api.example.test"}},
		{"relative url", Config{BaseURL: "example", AnonKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSelectBuildsQuery(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"1","category":"Food"}]`))
	})

	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	q := baas.From().Select("id", "category").
		Where(baas.Eq("user_id", "u1"), baas.Gte("created_at", since), baas.ILike("category", "%foo%")).
		Newest().Take(5)

	ctx := baas.WithAccessToken(context.Background(), "user-token")
	var rows []map[string]any
	if err := c.Select(ctx, "limits", q, &rows); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 1 || rows[0]["category"] != "Food" {
		t.Errorf("rows = %v", rows)
	}

	got := (*calls)[0]
	if got.method != http.MethodGet || got.path != "/rest/v1/limits" {
		t.Errorf("request = %s %s", got.method, got.path)
	}
	want := "category=ilike.%2Afoo%2A&created_at=gte.2024-05-01T00%3A00%3A00Z&limit=5&order=created_at.desc&select=id%2Ccategory&user_id=eq.u1"
	if got.query != want {
		t.Errorf("query = %s\nwant    %s", got.query, want)
	}
	if got.auth != "Bearer user-token" || got.apikey != "anon-key" {
		t.Errorf("auth = %q apikey = %q", got.auth, got.apikey)
	}
}

func TestAnonymousRequestsUseAnonKey(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	if err := c.Insert(context.Background(), "feedback", map[string]any{"message": "hi"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	got := (*calls)[0]
	if got.auth != "Bearer anon-key" {
		t.Errorf("auth = %q", got.auth)
	}
	if got.prefer != "return=minimal" || got.body["message"] != "hi" {
		t.Errorf("prefer = %q body = %v", got.prefer, got.body)
	}
}

func TestUpdateAndDeleteRequireFilters(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if err := c.Update(context.Background(), "limits", map[string]any{"amount": "5"}); !errors.Is(err, baas.ErrInvalidRequest) {
		t.Errorf("Update() error = %v", err)
	}
	if err := c.Delete(context.Background(), "limits"); !errors.Is(err, baas.ErrInvalidRequest) {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestUpdateSendsPatch(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	var assignee *string
	err := c.Update(context.Background(), "issues", map[string]any{"status": "open"}, baas.Eq("id", "i1"), baas.Eq("assignee_id", assignee))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got := (*calls)[0]
	if got.method != http.MethodPatch || got.query != "assignee_id=is.null&id=eq.i1" {
		t.Errorf("request = %s ?%s", got.method, got.query)
	}
}

func TestCountReadsContentRange(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "0-24/42")
	})
	n, err := c.Count(context.Background(), "transactions", baas.Eq("type", "expense"))
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 42 {
		t.Errorf("Count() = %d, want 42", n)
	}
	if got := (*calls)[0]; got.method != http.MethodHead || got.prefer != "count=exact" {
		t.Errorf("request = %s prefer=%q", got.method, got.prefer)
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{"0-9/10", 10, false},
		{"*/0", 0, false},
		{"0-9/*", 0, true},
		{"", 0, true},
		{"0-9/abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseContentRange(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseContentRange(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseContentRange(%q) = %d, want %d", tt.header, got, tt.want)
		}
	}
}

func TestCallProcedure(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/rpc/missing_fn" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"PGRST202","message":"Could not find the function public.missing_fn in the schema cache"}`))
			return
		}
		w.Write([]byte(`{"id":"u1","role":"admin"}`))
	})

	var out map[string]any
	err := c.Call(context.Background(), baas.ProcUpdateUserRole, map[string]any{baas.ArgUserID: "u1", baas.ArgNewRole: "admin"}, &out)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out["role"] != "admin" {
		t.Errorf("result = %v", out)
	}
	if got := (*calls)[0]; got.path != "/rest/v1/rpc/update_user_role" || got.body["new_role"] != "admin" {
		t.Errorf("request = %s %v", got.path, got.body)
	}

	err = c.Call(context.Background(), "missing_fn", nil, nil)
	if !errors.Is(err, baas.ErrProcedureNotFound) {
		t.Errorf("missing procedure error = %v, want ErrProcedureNotFound", err)
	}
}

func TestErrorShapes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantCode string
		sentinel error
	}{
		{"gotrue v2", 400, `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`, "Invalid login credentials", "invalid_credentials", baas.ErrInvalidCredentials},
		{"gotrue v1", 400, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, "Invalid login credentials", "invalid_grant", baas.ErrInvalidCredentials},
		{"postgrest rls", 403, `{"code":"42501","message":"new row violates row-level security policy for table \"limits\""}`, `new row violates row-level security policy for table "limits"`, "42501", baas.ErrForbidden},
		{"plain text", 500, `upstream exploded`, "upstream exploded", "", nil},
		{"empty", 401, ``, "Unauthorized", "", baas.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			err := c.Select(context.Background(), "limits", baas.From(), nil)
			var be *baas.Error
			if !errors.As(err, &be) {
				t.Fatalf("error = %v, want *baas.Error", err)
			}
			if be.Message != tt.wantMsg || be.Code != tt.wantCode {
				t.Errorf("got message=%q code=%q", be.Message, be.Code)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v) = false", tt.sentinel)
			}
		})
	}
}

func TestSignInAndEvents(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			w.Write([]byte(`{"access_token":"tok","refresh_token":"ref","expires_at":1893456000,"user":{"id":"u1","email":"ann@example.com","user_metadata":{"full_name":"Ann"}}}`))
		case "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		}
	})

	var events []baas.AuthEvent
	c.Auth().OnAuthStateChange(func(ev baas.AuthEvent, _ *baas.Session) { events = append(events, ev) })

	s, err := c.Auth().SignIn(context.Background(), "ann@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if s.AccessToken != "tok" || s.User.FullName() != "Ann" {
		t.Errorf("session = %+v", s)
	}
	if !s.ExpiresAt.Equal(time.Unix(1893456000, 0)) {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}
	if got := (*calls)[0]; got.query != "grant_type=password" || got.auth != "Bearer anon-key" {
		t.Errorf("token request query=%q auth=%q", got.query, got.auth)
	}

	if err := c.Auth().SignOut(context.Background(), "tok"); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if got := (*calls)[1]; got.auth != "Bearer tok" {
		t.Errorf("logout auth = %q", got.auth)
	}
	if len(events) != 2 || events[0] != baas.EventSignedIn || events[1] != baas.EventSignedOut {
		t.Errorf("events = %v", events)
	}
}

func TestSignUpWithConfirmationReturnsNilSession(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"u1","email":"ann@example.com","user_metadata":{"full_name":"Ann"}}`))
	})
	s, err := c.Auth().SignUp(context.Background(), "ann@example.com", "secret123", map[string]any{"full_name": "Ann"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if s != nil {
		t.Errorf("session = %+v, want nil", s)
	}
	data, _ := (*calls)[0].body["data"].(map[string]any)
	if data["full_name"] != "Ann" {
		t.Errorf("signup body = %v", (*calls)[0].body)
	}
}

func TestRealtimeDisabledByDefault(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := c.Realtime().Subscribe(context.Background(), "transactions", nil, func(baas.ChangeEvent) {})
	if !errors.Is(err, baas.ErrRealtimeDisabled) {
		t.Errorf("Subscribe() error = %v, want ErrRealtimeDisabled", err)
	}
}
