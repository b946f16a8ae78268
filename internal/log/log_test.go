package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestJSONLoggerCarriesComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: "json", Component: ComponentApp, Output: &buf})

	logger.WithComponent(ComponentSession).Info("Signed in", FieldUserID, "u1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["component"] != ComponentSession {
		t.Errorf("component = %v, want %s", entry["component"], ComponentSession)
	}
	if strings.Count(buf.String(), `"component"`) != 1 {
		t.Errorf("component should appear once: %s", buf.String())
	}
	if entry[FieldUserID] != "u1" {
		t.Errorf("user_id = %v", entry[FieldUserID])
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Component: ComponentApp, Output: &buf})
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().
		WithUser("").
		WithResource("limits", "").
		WithError(nil).
		WithOperation(OpDelete)

	if _, ok := f[FieldUserID]; ok {
		t.Error("empty user id should be skipped")
	}
	if _, ok := f[FieldRowID]; ok {
		t.Error("empty row id should be skipped")
	}
	if _, ok := f[FieldError]; ok {
		t.Error("nil error should be skipped")
	}
	if f[FieldResource] != "limits" || f[FieldOperation] != OpDelete {
		t.Errorf("fields = %v", f)
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Errorf("ToSlice length = %d", len(f.ToSlice()))
	}
}

func TestMiddlewareAndFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentApp, Output: &buf})

	var got *Logger
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(WithUser(r.Context(), "u-42"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got == nil || got.Component() != ComponentApp {
		t.Fatalf("logger from context = %+v", got)
	}
	got.Info("Loaded wallet")
	if !strings.Contains(buf.String(), `"user_id":"u-42"`) {
		t.Errorf("user id missing from request logger: %s", buf.String())
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Error("missing logger should fall back to the default")
	}
	if ctx := context.Background(); WithUser(ctx, "") != ctx {
		t.Error("anonymous requests should keep their context")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentApp, Output: &buf})

	h := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req_abc" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).InfoContext(r.Context(), "Handled")
		})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), `"request_id":"req_abc"`) {
		t.Errorf("request id missing: %s", buf.String())
	}
}

func TestLogHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusNoContent, `"level":"INFO"`},
		{http.StatusUnprocessableEntity, `"level":"WARN"`},
		{http.StatusBadGateway, `"level":"ERROR"`},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentTrace, Output: &buf})
			r := httptest.NewRequest(http.MethodPost, "/transactions", nil)
			r.Header.Set("HX-Request", "true")

			NewStructuredLogger(logger).LogHTTPEnd(context.Background(), r, tt.status, 15*time.Millisecond, "198.51.100.1")

			out := buf.String()
			for _, want := range []string{tt.level, `"duration_ms":15`, `"htmx":true`} {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %s: %s", want, out)
				}
			}
		})
	}
}

func TestLogWriteFailed(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentApp, Output: &buf})

	NewStructuredLogger(logger).LogWriteFailed(context.Background(), "subscriptions", OpDelete, "u1", "s1", errors.New("denied"))

	out := buf.String()
	for _, want := range []string{`"resource":"subscriptions"`, `"row_id":"s1"`, `"error":"denied"`, `"level":"ERROR"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}
