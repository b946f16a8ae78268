package http

import (
	"net/http"

	applog "spendwise/internal/log"
)

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "settings", s.newPage(r, "Settings", "settings"))
}

// handleUpdateProfile writes the display name. The resolved identity is
// replaced so the next request already shows the new name.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(w, r); resp != nil {
		resp.Write(w)
		return
	}
	id := IdentityFrom(r.Context())
	updated, err := s.sessions.UpdateProfileName(r.Context(), id, field(r.PostForm, "full_name"))
	if err != nil {
		writeFailed(w, r, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Profile updated",
		applog.FieldUserID, updated.UserID(),
		applog.FieldOperation, applog.OpUpdate)

	NewHTMXResponse().
		Status(http.StatusNoContent).
		Trigger("profile:changed", map[string]string{"name": updated.DisplayName()}).
		TriggerSuccessNotification("Profile updated").
		Write(w)
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	if err := s.sessions.RequestPasswordReset(r.Context(), id.User.Email); err != nil {
		writeFailed(w, r, err)
		return
	}
	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerSuccessNotification("Password reset email sent to " + id.User.Email).
		Write(w)
}
