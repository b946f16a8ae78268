package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"spendwise/internal/core"
	applog "spendwise/internal/log"
	"spendwise/internal/session"
)

const sessionCookie = "spendwise_session"

type ctxKey int

const (
	identityKey ctxKey = iota
	roleKey
)

func withIdentity(ctx context.Context, id *session.Identity) context.Context {
	return context.WithValue(id.Context(ctx), identityKey, id)
}

// IdentityFrom returns the signed-in caller, or nil for anonymous requests.
func IdentityFrom(ctx context.Context) *session.Identity {
	id, _ := ctx.Value(identityKey).(*session.Identity)
	return id
}

func roleFrom(ctx context.Context) (core.Role, bool) {
	role, ok := ctx.Value(roleKey).(core.Role)
	return role, ok
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id *session.Identity) {
	c := &http.Cookie{
		Name:     sessionCookie,
		Value:    id.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if !id.ExpiresAt.IsZero() {
		c.Expires = id.ExpiresAt
		c.MaxAge = int(time.Until(id.ExpiresAt).Seconds())
	}
	http.SetCookie(w, c)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// loadSession resolves the session cookie into an identity on the request
// context. An unknown or expired token clears the cookie; a failing auth
// service leaves the request anonymous.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := s.sessions.Resolve(r.Context(), c.Value)
		switch {
		case errors.Is(err, session.ErrNoSession):
			s.clearSessionCookie(w)
		case err != nil:
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Session lookup failed", applog.FieldError, err)
		default:
			r = r.WithContext(applog.WithUser(withIdentity(r.Context(), id), id.UserID()))
		}
		next.ServeHTTP(w, r)
	})
}

// redirect sends a 303, or an HX-Redirect for htmx requests so the whole
// page navigates instead of swapping the target into a fragment.
func redirect(w http.ResponseWriter, r *http.Request, location string) {
	if isHTMX(r) {
		NewHTMXResponse().Redirect(location).Write(w)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func loginURL(r *http.Request) string {
	next := r.URL.Path
	if r.URL.RawQuery != "" {
		next += "?" + r.URL.RawQuery
	}
	if isHTMX(r) {
		if current := r.Header.Get("HX-Current-URL"); current != "" {
			if u, err := url.Parse(current); err == nil {
				next = u.RequestURI()
			}
		}
	}
	return "/auth/login?next=" + url.QueryEscape(safeNext(next))
}

// RequireAuth sends anonymous visitors to the login page, remembering where
// they were going.
func (s *Server) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()) == nil {
			redirect(w, r, loginURL(r))
			return
		}
		next(w, r)
	}
}

// RequireAdmin admits admins and superusers. Everyone else signed in is
// sent home before any admin content is rendered.
func (s *Server) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		role := s.sessions.Role(r.Context(), id.UserID())
		if !role.IsAdmin() {
			applog.FromContext(r.Context()).WithComponent(applog.ComponentAdmin).WarnContext(r.Context(), "Admin area refused",
				applog.FieldUserID, id.UserID(),
				applog.FieldRole, string(role),
				applog.FieldPath, r.URL.Path)
			redirect(w, r, "/")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), roleKey, role)))
	})
}
