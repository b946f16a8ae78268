package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spendwise/internal/baas"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

const recentItems = 5

// RoleInvalidator drops cached roles after a privileged change.
type RoleInvalidator interface {
	InvalidateRole(userID string)
}

// AdminService backs the admin panel. Every call runs as the identity in
// ctx; the backend's policies decide what an admin may see and change.
type AdminService struct {
	client baas.Client
	roles  RoleInvalidator
	log    *applog.Logger
}

func NewAdminService(client baas.Client, roles RoleInvalidator, logger *applog.Logger) *AdminService {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &AdminService{
		client: client,
		roles:  roles,
		log:    logger.WithComponent(applog.ComponentAdmin),
	}
}

// Overview is the admin landing page data.
type Overview struct {
	Counts       core.Overview
	Users        []core.Profile
	Transactions []core.Transaction
	Feedback     []core.Feedback
	Issues       []core.Issue
}

// Overview reads counts, the transaction volume and the newest rows of each
// table concurrently.
func (s *AdminService) Overview(ctx context.Context) (Overview, error) {
	var (
		out     Overview
		amounts []core.Transaction
	)
	newest := baas.From().Newest().Take(recentItems)

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, table string, filters ...baas.Filter) {
		g.Go(func() error {
			n, err := s.client.Count(gctx, table, filters...)
			if err != nil {
				return fmt.Errorf("count %s: %w", table, err)
			}
			*dst = n
			return nil
		})
	}
	count(&out.Counts.Users, core.TableProfiles)
	count(&out.Counts.Transactions, core.TableTransactions)
	count(&out.Counts.Feedback, core.TableFeedback)
	count(&out.Counts.Issues, core.TableIssues)
	count(&out.Counts.OpenIssues, core.TableIssues, baas.Eq("status", string(core.IssueOpen)))
	count(&out.Counts.PendingNotes, core.TableFeedback, baas.Eq("status", string(core.FeedbackPending)))

	g.Go(func() error {
		return s.client.Select(gctx, core.TableTransactions, baas.From().Select("amount"), &amounts)
	})
	g.Go(func() error { return s.client.Select(gctx, core.TableProfiles, newest, &out.Users) })
	g.Go(func() error { return s.client.Select(gctx, core.TableTransactions, newest, &out.Transactions) })
	g.Go(func() error { return s.client.Select(gctx, core.TableFeedback, newest, &out.Feedback) })
	g.Go(func() error { return s.client.Select(gctx, core.TableIssues, newest, &out.Issues) })

	if err := g.Wait(); err != nil {
		s.log.ErrorContext(ctx, "Admin overview failed", applog.FieldError, err)
		return Overview{}, err
	}

	volume := decimal.Zero
	for _, t := range amounts {
		volume = volume.Add(t.Amount)
	}
	out.Counts.Volume = volume
	return out, nil
}

func (s *AdminService) Users(ctx context.Context) ([]core.Profile, error) {
	var users []core.Profile
	if err := s.client.Select(ctx, core.TableProfiles, baas.From().Newest(), &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *AdminService) Feedback(ctx context.Context) ([]core.Feedback, error) {
	var rows []core.Feedback
	if err := s.client.Select(ctx, core.TableFeedback, baas.From().Newest(), &rows); err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return rows, nil
}

func (s *AdminService) FeedbackByID(ctx context.Context, id string) (core.Feedback, error) {
	var rows []core.Feedback
	q := baas.From().Where(baas.Eq("id", id)).Take(1)
	if err := s.client.Select(ctx, core.TableFeedback, q, &rows); err != nil {
		return core.Feedback{}, fmt.Errorf("read feedback %s: %w", id, err)
	}
	if len(rows) == 0 {
		return core.Feedback{}, fmt.Errorf("feedback %s: %w", id, baas.ErrNotFound)
	}
	return rows[0], nil
}

func (s *AdminService) Issues(ctx context.Context) ([]core.Issue, error) {
	var rows []core.Issue
	if err := s.client.Select(ctx, core.TableIssues, baas.From().Newest(), &rows); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return rows, nil
}

func (s *AdminService) IssueByID(ctx context.Context, id string) (core.Issue, error) {
	var rows []core.Issue
	q := baas.From().Where(baas.Eq("id", id)).Take(1)
	if err := s.client.Select(ctx, core.TableIssues, q, &rows); err != nil {
		return core.Issue{}, fmt.Errorf("read issue %s: %w", id, err)
	}
	if len(rows) == 0 {
		return core.Issue{}, fmt.Errorf("issue %s: %w", id, baas.ErrNotFound)
	}
	return rows[0], nil
}

// SetFeedbackStatus is a direct table update; feedback has no procedure.
func (s *AdminService) SetFeedbackStatus(ctx context.Context, id string, status core.FeedbackStatus) error {
	if _, err := core.ParseFeedbackStatus(string(status)); err != nil {
		return err
	}
	err := s.client.Update(ctx, core.TableFeedback, map[string]any{"status": string(status)}, baas.Eq("id", id))
	if err != nil {
		return fmt.Errorf("update feedback %s: %w", id, err)
	}
	s.log.InfoContext(ctx, "Feedback status changed", applog.FieldRowID, id, "status", string(status))
	return nil
}

func (s *AdminService) UpdateUserRole(ctx context.Context, userID string, role core.Role) error {
	if _, err := core.ParseRole(string(role)); err != nil {
		return err
	}
	err := s.call(ctx, baas.ProcUpdateUserRole, map[string]any{
		baas.ArgUserID:  userID,
		baas.ArgNewRole: string(role),
	})
	if s.roles != nil {
		s.roles.InvalidateRole(userID)
	}
	return err
}

// DeleteUser removes the user and, through the backend, everything they own.
func (s *AdminService) DeleteUser(ctx context.Context, userID string) error {
	err := s.call(ctx, baas.ProcDeleteUser, map[string]any{baas.ArgUserID: userID})
	if s.roles != nil {
		s.roles.InvalidateRole(userID)
	}
	return err
}

// AssignIssue sets or, with an empty assigneeID, clears the assignee.
func (s *AdminService) AssignIssue(ctx context.Context, issueID, assigneeID string) error {
	var assignee any
	if assigneeID != "" {
		assignee = assigneeID
	}
	return s.call(ctx, baas.ProcAssignIssue, map[string]any{
		baas.ArgIssueID:    issueID,
		baas.ArgAssigneeID: assignee,
	})
}

func (s *AdminService) UpdateIssueStatus(ctx context.Context, issueID string, status core.IssueStatus) error {
	if _, err := core.ParseIssueStatus(string(status)); err != nil {
		return err
	}
	return s.call(ctx, baas.ProcUpdateIssueStatus, map[string]any{
		baas.ArgIssueID:   issueID,
		baas.ArgNewStatus: string(status),
	})
}

func (s *AdminService) UpdateIssuePriority(ctx context.Context, issueID string, priority core.IssuePriority) error {
	if _, err := core.ParseIssuePriority(string(priority)); err != nil {
		return err
	}
	return s.call(ctx, baas.ProcUpdateIssuePriority, map[string]any{
		baas.ArgIssueID:     issueID,
		baas.ArgNewPriority: string(priority),
	})
}

// ProcedureMissingError is returned when the backend does not know a
// procedure, usually because the database functions were never deployed.
type ProcedureMissingError struct {
	Name string
	Err  error
}

func (e *ProcedureMissingError) Error() string {
	return fmt.Sprintf("procedure %s is not available; check that it is deployed to the backend", e.Name)
}

func (e *ProcedureMissingError) Unwrap() error { return e.Err }

func (s *AdminService) call(ctx context.Context, name string, args map[string]any) error {
	err := s.client.Call(ctx, name, args, nil)
	if err == nil {
		s.log.InfoContext(ctx, "Procedure called", applog.FieldProcedure, name)
		return nil
	}
	if errors.Is(err, baas.ErrProcedureNotFound) {
		s.log.ErrorContext(ctx, "Procedure not deployed", applog.FieldProcedure, name, applog.FieldError, err)
		return &ProcedureMissingError{Name: name, Err: err}
	}
	s.log.WarnContext(ctx, "Procedure failed", applog.FieldProcedure, name, applog.FieldError, err)
	return fmt.Errorf("%s: %w", name, err)
}
