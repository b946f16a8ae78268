package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"spendwise/internal/core"
	applog "spendwise/internal/log"
	"spendwise/internal/session"
	"spendwise/internal/view"
)

// pageData is what every page template receives.
type pageData struct {
	Title  string
	Nav    string
	User   *session.Identity
	Role   core.Role
	Error  string
	Notice string
	Next   string
	Form   url.Values
	Data   any
}

// IsAdmin gates the admin link in the layout.
func (p pageData) IsAdmin() bool { return p.Role.IsAdmin() }

func (s *Server) newPage(r *http.Request, title, nav string) pageData {
	p := pageData{Title: title, Nav: nav, User: IdentityFrom(r.Context())}
	if role, ok := roleFrom(r.Context()); ok {
		p.Role = role
	} else if p.User != nil {
		p.Role = s.sessions.Role(r.Context(), p.User.UserID())
	}
	return p
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	if s.templates == nil {
		s.templatesMissing(w, r)
		return
	}
	body, err := s.templates.page(name, data)
	if err != nil {
		s.templateFailed(w, r, name, err)
		return
	}
	writeHTML(w, status, body)
}

func (s *Server) renderPartial(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	if s.templates == nil {
		s.templatesMissing(w, r)
		return
	}
	body, err := s.templates.partial(name, data)
	if err != nil {
		s.templateFailed(w, r, name, err)
		return
	}
	writeHTML(w, status, body)
}

func (s *Server) templatesMissing(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentTemplate).ErrorContext(r.Context(), "Templates not loaded",
		applog.FieldPath, r.URL.Path)
	http.Error(w, "templates not loaded", http.StatusInternalServerError)
}

func (s *Server) templateFailed(w http.ResponseWriter, r *http.Request, name string, err error) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentTemplate).ErrorContext(r.Context(), "Template execution failed",
		"template", name,
		applog.FieldError, err)
	InternalServerError("Something went wrong. Please try again.").Write(w)
}

// writeFailed reports a failed action as an error notification. Tables
// named here are told to reload so lists show the reconciled state.
func writeFailed(w http.ResponseWriter, r *http.Request, err error, tables ...string) {
	applog.FromContext(r.Context()).DebugContext(r.Context(), "Action failed",
		applog.FieldPath, r.URL.Path,
		applog.FieldError, err)
	resp := ErrorResponse(statusFor(err), userMessage(err))
	if !isValidation(err) {
		resp.TriggerChanged(tables...)
	}
	resp.Write(w)
}

// workspace opens the caller's wallet state. Only call behind RequireAuth.
func (s *Server) workspace(r *http.Request) *view.Workspace {
	return s.workspaces.Get(r.Context(), IdentityFrom(r.Context()).UserID())
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	writeJSON(w, http.StatusOK, health)
}

// handleReady pings the backend and reports local component state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if err := s.client.Ping(ctx); err != nil {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentBackend).WarnContext(r.Context(), "Backend ping failed",
			applog.FieldError, err)
		checks["backend"] = "failed: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["backend"] = "ok"
	}

	checks["workspaces"] = map[string]interface{}{
		"open":   s.workspaces.Len(),
		"status": "ok",
	}
	checks["rate_limiter"] = map[string]interface{}{
		"active_clients": s.limiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
