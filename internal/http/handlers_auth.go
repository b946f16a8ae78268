package http

import (
	"net/http"
	"net/url"

	applog "spendwise/internal/log"
)

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"))
	if IdentityFrom(r.Context()) != nil {
		redirect(w, r, next)
		return
	}
	p := s.newPage(r, "Sign in", "login")
	p.Next = next
	s.render(w, r, http.StatusOK, "login", p)
}

// handleLogin shows the auth service's failure message as-is and keeps the
// typed email so the user only retypes the password.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(w, r); resp != nil {
		resp.Write(w)
		return
	}
	email := field(r.PostForm, "email")
	password := r.PostForm.Get("password")
	next := safeNext(r.PostForm.Get("next"))

	p := s.newPage(r, "Sign in", "login")
	p.Next = next
	p.Form = url.Values{"email": {email}}

	if email == "" || password == "" {
		p.Error = "Email and password are required."
		s.render(w, r, http.StatusUnprocessableEntity, "login", p)
		return
	}

	id, err := s.sessions.SignIn(r.Context(), email, password)
	if err != nil {
		p.Error = userMessage(err)
		s.render(w, r, http.StatusUnauthorized, "login", p)
		return
	}

	s.setSessionCookie(w, id)
	redirect(w, r, next)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	if IdentityFrom(r.Context()) != nil {
		redirect(w, r, "/")
		return
	}
	s.render(w, r, http.StatusOK, "register", s.newPage(r, "Create account", "register"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(w, r); resp != nil {
		resp.Write(w)
		return
	}
	email := field(r.PostForm, "email")
	fullName := field(r.PostForm, "full_name")
	password := r.PostForm.Get("password")

	p := s.newPage(r, "Create account", "register")
	p.Form = url.Values{"email": {email}, "full_name": {fullName}}

	if email == "" || password == "" {
		p.Error = "Email and password are required."
		s.render(w, r, http.StatusUnprocessableEntity, "register", p)
		return
	}

	id, err := s.sessions.SignUp(r.Context(), email, password, fullName)
	if err != nil {
		p.Error = userMessage(err)
		s.render(w, r, statusFor(err), "register", p)
		return
	}
	if id == nil {
		p.Notice = "Check your email to confirm your account, then sign in."
		p.Form = nil
		s.render(w, r, http.StatusOK, "register", p)
		return
	}

	s.setSessionCookie(w, id)
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Account created",
		applog.FieldUserID, id.UserID())
	redirect(w, r, "/")
}

// handleLogout revokes the session and tears down the caller's workspace,
// including its realtime subscription.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := IdentityFrom(r.Context()); id != nil {
		if err := s.sessions.SignOut(r.Context(), id); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Sign-out failed",
				applog.FieldUserID, id.UserID(),
				applog.FieldError, err)
		}
		s.workspaces.Close(id.UserID())
	}
	s.clearSessionCookie(w)
	redirect(w, r, "/auth/login")
}
