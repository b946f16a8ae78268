package http

import (
	"net/http"

	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

// Admin list and detail handlers serve the full page on navigation and only
// the table or panel fragment to htmx, which refetches it on "<table>:changed".

func (s *Server) adminPage(w http.ResponseWriter, r *http.Request, page, partial, title, nav string, data any, err error) {
	if isHTMX(r) {
		if err != nil {
			writeFailed(w, r, err)
			return
		}
		s.renderPartial(w, r, http.StatusOK, partial, data)
		return
	}
	p := s.newPage(r, title, nav)
	p.Data = data
	status := http.StatusOK
	if err != nil {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentAdmin).WarnContext(r.Context(), "Admin read failed",
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err)
		p.Error = userMessage(err)
		p.Data = nil
		status = statusFor(err)
	}
	s.render(w, r, status, page, p)
}

// parseAdminBody accepts the htmx form post or a JSON body.
func parseAdminBody(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return nil, false
	}
	return p, true
}

func (s *Server) requireSuperuser(w http.ResponseWriter, r *http.Request) bool {
	role, _ := roleFrom(r.Context())
	if role.IsSuperuser() {
		return true
	}
	applog.FromContext(r.Context()).WithComponent(applog.ComponentAdmin).WarnContext(r.Context(), "Superuser action refused",
		applog.FieldUserID, IdentityFrom(r.Context()).UserID(),
		applog.FieldRole, string(role),
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusForbidden, "Only superusers can manage users.").Write(w)
	return false
}

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.admin.Overview(r.Context())
	p := s.newPage(r, "Admin", "admin")
	status := http.StatusOK
	if err != nil {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentAdmin).WarnContext(r.Context(), "Admin overview failed",
			applog.FieldError, err)
		p.Error = userMessage(err)
		status = statusFor(err)
	} else {
		p.Data = overview
	}
	s.render(w, r, status, "admin_overview", p)
}

type usersView struct {
	Users     []core.Profile
	Roles     []core.Role
	CanManage bool
	SelfID    string
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.admin.Users(r.Context())
	role, _ := roleFrom(r.Context())
	data := usersView{
		Users:     users,
		Roles:     core.Roles,
		CanManage: role.IsSuperuser(),
		SelfID:    IdentityFrom(r.Context()).UserID(),
	}
	s.adminPage(w, r, "admin_users", "admin_users_table", "Users", "admin", data, err)
}

func (s *Server) handleAdminUserRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperuser(w, r) {
		return
	}
	body, ok := parseAdminBody(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("id")
	role, err := core.ParseRole(body.Get("role"))
	if err != nil {
		writeFailed(w, r, err)
		return
	}

	if err := s.admin.UpdateUserRole(r.Context(), userID, role); err != nil {
		writeFailed(w, r, err, core.TableProfiles)
		return
	}

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableProfiles).
		TriggerSuccessNotification("Role changed to " + string(role)).
		Write(w)
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperuser(w, r) {
		return
	}
	userID := r.PathValue("id")
	if userID == IdentityFrom(r.Context()).UserID() {
		UnprocessableEntityError("You cannot delete your own account here.").Write(w)
		return
	}

	if err := s.admin.DeleteUser(r.Context(), userID); err != nil {
		writeFailed(w, r, err, core.TableProfiles)
		return
	}
	s.workspaces.Close(userID)

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableProfiles).
		TriggerSuccessNotification("User deleted").
		Write(w)
}

func (s *Server) handleAdminFeedback(w http.ResponseWriter, r *http.Request) {
	rows, err := s.admin.Feedback(r.Context())
	s.adminPage(w, r, "admin_feedback", "admin_feedback_table", "Feedback", "admin", map[string]any{"Items": rows}, err)
}

func (s *Server) handleAdminFeedbackDetail(w http.ResponseWriter, r *http.Request) {
	f, err := s.admin.FeedbackByID(r.Context(), r.PathValue("id"))
	s.adminPage(w, r, "admin_feedback_show", "admin_feedback_detail", "Feedback", "admin", map[string]any{"Item": f}, err)
}

func (s *Server) handleAdminFeedbackStatus(w http.ResponseWriter, r *http.Request) {
	body, ok := parseAdminBody(w, r)
	if !ok {
		return
	}
	status, err := core.ParseFeedbackStatus(body.Get("status"))
	if err != nil {
		writeFailed(w, r, err)
		return
	}

	if err := s.admin.SetFeedbackStatus(r.Context(), r.PathValue("id"), status); err != nil {
		writeFailed(w, r, err, core.TableFeedback)
		return
	}

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableFeedback).
		TriggerSuccessNotification("Feedback marked " + string(status)).
		Write(w)
}

func (s *Server) handleAdminIssues(w http.ResponseWriter, r *http.Request) {
	rows, err := s.admin.Issues(r.Context())
	s.adminPage(w, r, "admin_issues", "admin_issues_table", "Issues", "admin", map[string]any{"Items": rows}, err)
}

type issueView struct {
	Item       core.Issue
	Assignees  []core.Profile
	Statuses   []core.IssueStatus
	Priorities []core.IssuePriority
}

// handleAdminIssueDetail offers admins and superusers as assignees.
func (s *Server) handleAdminIssueDetail(w http.ResponseWriter, r *http.Request) {
	issue, err := s.admin.IssueByID(r.Context(), r.PathValue("id"))
	data := issueView{Item: issue, Statuses: core.IssueStatuses, Priorities: core.IssuePriorities}
	if err == nil {
		users, uerr := s.admin.Users(r.Context())
		if uerr != nil {
			applog.FromContext(r.Context()).WithComponent(applog.ComponentAdmin).WarnContext(r.Context(), "Assignee list unavailable",
				applog.FieldError, uerr)
		}
		for _, u := range users {
			if u.Role.IsAdmin() {
				data.Assignees = append(data.Assignees, u)
			}
		}
	}
	s.adminPage(w, r, "admin_issue_show", "admin_issue_detail", "Issue", "admin", data, err)
}

func (s *Server) handleAdminIssueStatus(w http.ResponseWriter, r *http.Request) {
	body, ok := parseAdminBody(w, r)
	if !ok {
		return
	}
	status, err := core.ParseIssueStatus(body.Get("status"))
	if err != nil {
		writeFailed(w, r, err)
		return
	}

	if err := s.admin.UpdateIssueStatus(r.Context(), r.PathValue("id"), status); err != nil {
		writeFailed(w, r, err, core.TableIssues)
		return
	}

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableIssues).
		TriggerSuccessNotification("Status set to " + string(status)).
		Write(w)
}

func (s *Server) handleAdminIssuePriority(w http.ResponseWriter, r *http.Request) {
	body, ok := parseAdminBody(w, r)
	if !ok {
		return
	}
	priority, err := core.ParseIssuePriority(body.Get("priority"))
	if err != nil {
		writeFailed(w, r, err)
		return
	}

	if err := s.admin.UpdateIssuePriority(r.Context(), r.PathValue("id"), priority); err != nil {
		writeFailed(w, r, err, core.TableIssues)
		return
	}

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableIssues).
		TriggerSuccessNotification("Priority set to " + string(priority)).
		Write(w)
}

func (s *Server) handleAdminIssueAssignee(w http.ResponseWriter, r *http.Request) {
	body, ok := parseAdminBody(w, r)
	if !ok {
		return
	}
	assignee := body.Get("assignee_id")

	if err := s.admin.AssignIssue(r.Context(), r.PathValue("id"), assignee); err != nil {
		writeFailed(w, r, err, core.TableIssues)
		return
	}

	msg := "Issue assigned"
	if assignee == "" {
		msg = "Assignee cleared"
	}
	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableIssues).
		TriggerSuccessNotification(msg).
		Write(w)
}
