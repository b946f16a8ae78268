package http

import (
	"net/http"
	"net/url"

	"spendwise/internal/core"
)

// Feedback and issue reports are accepted from anonymous visitors too. A
// signed-in caller's name and email fill in blank fields.

func (s *Server) supportPage(r *http.Request, title, nav string) pageData {
	p := s.newPage(r, title, nav)
	if p.User != nil {
		p.Form = url.Values{"name": {p.User.DisplayName()}, "email": {p.User.User.Email}}
	}
	return p
}

func (s *Server) handleFeedbackPage(w http.ResponseWriter, r *http.Request) {
	p := s.supportPage(r, "Give feedback", "feedback")
	p.Data = map[string]any{
		"Categories": core.FeedbackCategories,
		"Ratings":    []int{1, 2, 3, 4, 5},
	}
	s.render(w, r, http.StatusOK, "feedback", p)
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(w, r); resp != nil {
		resp.Write(w)
		return
	}
	f, err := parseFeedbackForm(r.PostForm)
	if err != nil {
		writeFailed(w, r, err)
		return
	}
	id := IdentityFrom(r.Context())
	if id != nil {
		if f.Name == "" {
			f.Name = id.DisplayName()
		}
		if f.Email == "" {
			f.Email = id.User.Email
		}
	}

	if _, err := s.support.SubmitFeedback(r.Context(), id.UserID(), f); err != nil {
		writeFailed(w, r, err)
		return
	}

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerFormReset().
		TriggerSuccessNotification("Thanks for your feedback!").
		Write(w)
}

func (s *Server) handleIssuePage(w http.ResponseWriter, r *http.Request) {
	p := s.supportPage(r, "Report an issue", "issue")
	p.Data = map[string]any{
		"Types":      core.IssueTypes,
		"Priorities": core.IssuePriorities,
	}
	s.render(w, r, http.StatusOK, "issue", p)
}

func (s *Server) handleReportIssue(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(w, r); resp != nil {
		resp.Write(w)
		return
	}
	i := parseIssueForm(r.PostForm)
	id := IdentityFrom(r.Context())
	if id != nil {
		if i.Name == "" {
			i.Name = id.DisplayName()
		}
		if i.Email == "" {
			i.Email = id.User.Email
		}
	}

	if _, err := s.support.ReportIssue(r.Context(), id.UserID(), i); err != nil {
		writeFailed(w, r, err)
		return
	}

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerFormReset().
		TriggerSuccessNotification("Issue reported. We will look into it.").
		Write(w)
}
