package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spendwise/internal/baas"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

// SupportService stores feedback and issue reports. Both work for anonymous
// visitors; a signed-in author is recorded as the row owner.
type SupportService struct {
	tables baas.Tables
	log    *applog.Logger
	now    func() time.Time
}

func NewSupportService(tables baas.Tables, logger *applog.Logger) *SupportService {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &SupportService{tables: tables, log: logger.WithComponent(applog.ComponentApp), now: time.Now}
}

func owner(userID string) *string {
	if userID == "" {
		return nil
	}
	return &userID
}

// SubmitFeedback validates and stores f on behalf of userID ("" when anonymous).
func (s *SupportService) SubmitFeedback(ctx context.Context, userID string, f core.Feedback) (core.Feedback, error) {
	f.ID = core.NewID()
	f.UserID = owner(userID)
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.TrimSpace(f.Email)
	f.Status = core.FeedbackPending
	f.CreatedAt = s.now().UTC()
	if f.Category == "" {
		f.Category = core.FeedbackCategories[0]
	}
	if err := f.Validate(); err != nil {
		return core.Feedback{}, err
	}
	if err := s.tables.Insert(ctx, core.TableFeedback, []core.Feedback{f}); err != nil {
		return core.Feedback{}, fmt.Errorf("store feedback: %w", err)
	}
	s.log.InfoContext(ctx, "Feedback received", applog.FieldRowID, f.ID, applog.FieldCategory, f.Category)
	return f, nil
}

// ReportIssue validates and stores i on behalf of userID.
func (s *SupportService) ReportIssue(ctx context.Context, userID string, i core.Issue) (core.Issue, error) {
	i.ID = core.NewID()
	i.UserID = owner(userID)
	i.Name = strings.TrimSpace(i.Name)
	i.Email = strings.TrimSpace(i.Email)
	i.Status = core.IssueOpen
	i.AssigneeID = nil
	i.CreatedAt = s.now().UTC()
	if i.Priority == "" {
		i.Priority = core.PriorityMedium
	}
	if err := i.Validate(); err != nil {
		return core.Issue{}, err
	}
	if err := s.tables.Insert(ctx, core.TableIssues, []core.Issue{i}); err != nil {
		return core.Issue{}, fmt.Errorf("store issue: %w", err)
	}
	s.log.InfoContext(ctx, "Issue reported", applog.FieldRowID, i.ID, "issue_type", i.IssueType)
	return i, nil
}
