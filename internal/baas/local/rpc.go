package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"spendwise/internal/baas"
	"spendwise/internal/core"
)

type procedure func(ctx context.Context, b *Backend, c caller, args map[string]any) (any, error)

var procedures = map[string]procedure{
	baas.ProcUpdateUserRole:      updateUserRole,
	baas.ProcDeleteUser:          deleteUser,
	baas.ProcAssignIssue:         assignIssue,
	baas.ProcUpdateIssueStatus:   updateIssueStatus,
	baas.ProcUpdateIssuePriority: updateIssuePriority,
}

// Call runs a named procedure as the caller in ctx.
func (b *Backend) Call(ctx context.Context, name string, args map[string]any, dest any) error {
	fn, ok := procedures[name]
	if !ok {
		return &baas.Error{
			Status:  http.StatusNotFound,
			Code:    "PGRST202",
			Message: fmt.Sprintf("Could not find the function public.%s in the schema cache", name),
			Err:     baas.ErrProcedureNotFound,
		}
	}
	c, err := b.resolveCaller(ctx)
	if err != nil {
		return err
	}
	if !c.authenticated() {
		return authError(http.StatusUnauthorized, "not_authenticated", "JWT required")
	}

	result, err := fn(ctx, b, c, args)
	if err != nil {
		return err
	}
	b.log.InfoContext(ctx, "Procedure executed", "procedure", name, "caller", c.userID)
	if dest == nil || result == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", name, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s result: %w", name, err)
	}
	return nil
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest,
			fmt.Sprintf("missing argument %q", key))
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return strings.TrimSpace(s), nil
}

func insufficientPrivilege(action string) error {
	return &baas.Error{
		Status:  http.StatusForbidden,
		Code:    "42501",
		Message: "insufficient privilege to " + action,
		Err:     baas.ErrForbidden,
	}
}

func notFound(what, id string) error {
	return baas.NewError(http.StatusNotFound, baas.ErrNotFound, fmt.Sprintf("%s %s not found", what, id))
}

// updateRow sets columns on one row by id inside a procedure, bypassing
// table policies, and publishes the change.
func (b *Backend) updateRow(ctx context.Context, table, id string, values map[string]any) (map[string]any, error) {
	t := schema[table]
	var before, after map[string]any
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		before, err = rowByID(ctx, tx, t, id)
		if err != nil {
			return err
		}
		assigns := make([]string, 0, len(values))
		args := make([]any, 0, len(values)+1)
		for col, v := range values {
			assigns = append(assigns, quote(col)+" = ?")
			args = append(args, bindValue(t, col, v))
		}
		args = append(args, id)
		if _, err := tx.ExecContext(ctx,
			"UPDATE "+quote(t.name)+" SET "+strings.Join(assigns, ", ")+" WHERE id = ?", args...); err != nil {
			return mapSQLError(err)
		}
		after, err = rowByID(ctx, tx, t, id)
		return err
	})
	if errors.Is(err, errNoRow) {
		return nil, notFound(strings.TrimSuffix(table, "s"), id)
	}
	if err != nil {
		return nil, err
	}
	b.publish(ctx, changeEvents(t, baas.ChangeUpdate, []map[string]any{before}, []map[string]any{after}, b.now()))
	return after, nil
}

func updateUserRole(ctx context.Context, b *Backend, c caller, args map[string]any) (any, error) {
	if !c.superuser() {
		return nil, insufficientPrivilege("change user roles")
	}
	userID, err := argString(args, baas.ArgUserID)
	if err != nil {
		return nil, err
	}
	raw, err := argString(args, baas.ArgNewRole)
	if err != nil {
		return nil, err
	}
	role, err := core.ParseRole(raw)
	if err != nil {
		return nil, baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, "invalid role: "+raw)
	}
	return b.updateRow(ctx, core.TableProfiles, userID, map[string]any{"role": string(role)})
}

func deleteUser(ctx context.Context, b *Backend, c caller, args map[string]any) (any, error) {
	if !c.superuser() {
		return nil, insufficientPrivilege("delete users")
	}
	userID, err := argString(args, baas.ArgUserID)
	if err != nil {
		return nil, err
	}
	if userID == c.userID {
		return nil, baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, "cannot delete your own account")
	}

	profiles := schema[core.TableProfiles]
	var events []baas.ChangeEvent
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		profile, err := rowByID(ctx, tx, profiles, userID)
		if err != nil {
			return err
		}
		for _, table := range []string{core.TableTransactions, core.TableLimits, core.TableSubscriptions} {
			t := schema[table]
			rows, err := queryRows(ctx, tx, "SELECT * FROM "+quote(t.name)+" WHERE user_id = ?", userID)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+quote(t.name)+" WHERE user_id = ?", userID); err != nil {
				return mapSQLError(err)
			}
			events = append(events, changeEvents(t, baas.ChangeDelete, rows, nil, b.now())...)
		}
		for _, stmt := range []string{
			`UPDATE feedback SET user_id = NULL WHERE user_id = ?`,
			`UPDATE issues SET user_id = NULL WHERE user_id = ?`,
			`UPDATE issues SET assignee_id = NULL WHERE assignee_id = ?`,
			`DELETE FROM profiles WHERE id = ?`,
			`DELETE FROM auth_users WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
				return mapSQLError(err)
			}
		}
		events = append(events, changeEvents(profiles, baas.ChangeDelete, []map[string]any{profile}, nil, b.now())...)
		return nil
	})
	if errors.Is(err, errNoRow) {
		return nil, notFound("user", userID)
	}
	if err != nil {
		return nil, err
	}

	b.publish(ctx, events)
	b.log.InfoContext(ctx, "User deleted", "user_id", userID, "by", c.userID)
	return map[string]any{"deleted": userID}, nil
}

func assignIssue(ctx context.Context, b *Backend, c caller, args map[string]any) (any, error) {
	if !c.admin() {
		return nil, insufficientPrivilege("assign issues")
	}
	issueID, err := argString(args, baas.ArgIssueID)
	if err != nil {
		return nil, err
	}
	var assignee any
	if v, ok := args[baas.ArgAssigneeID]; ok && v != nil && fmt.Sprint(v) != "" {
		id := strings.TrimSpace(fmt.Sprint(v))
		var role string
		err := b.db.QueryRowContext(ctx, `SELECT role FROM profiles WHERE id = ?`, id).Scan(&role)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("assignee", id)
		}
		if err != nil {
			return nil, fmt.Errorf("load assignee: %w", err)
		}
		if r, _ := core.ParseRole(role); !r.IsAdmin() {
			return nil, baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, "assignee must be an admin")
		}
		assignee = id
	}
	return b.updateRow(ctx, core.TableIssues, issueID, map[string]any{"assignee_id": assignee})
}

func updateIssueStatus(ctx context.Context, b *Backend, c caller, args map[string]any) (any, error) {
	if !c.admin() {
		return nil, insufficientPrivilege("update issue status")
	}
	issueID, err := argString(args, baas.ArgIssueID)
	if err != nil {
		return nil, err
	}
	raw, err := argString(args, baas.ArgNewStatus)
	if err != nil {
		return nil, err
	}
	status, err := core.ParseIssueStatus(raw)
	if err != nil {
		return nil, baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, "invalid status: "+raw)
	}
	return b.updateRow(ctx, core.TableIssues, issueID, map[string]any{"status": string(status)})
}

func updateIssuePriority(ctx context.Context, b *Backend, c caller, args map[string]any) (any, error) {
	if !c.admin() {
		return nil, insufficientPrivilege("update issue priority")
	}
	issueID, err := argString(args, baas.ArgIssueID)
	if err != nil {
		return nil, err
	}
	raw, err := argString(args, baas.ArgNewPriority)
	if err != nil {
		return nil, err
	}
	priority, err := core.ParseIssuePriority(raw)
	if err != nil {
		return nil, baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, "invalid priority: "+raw)
	}
	return b.updateRow(ctx, core.TableIssues, issueID, map[string]any{"priority": string(priority)})
}

// EnsureRole sets the role of the account with email, for operator
// bootstrap. It returns ErrNotFound when no such account exists.
func (b *Backend) EnsureRole(ctx context.Context, email string, role core.Role) error {
	var id string
	err := b.db.QueryRowContext(ctx, `SELECT id FROM profiles WHERE email = ? COLLATE NOCASE`,
		strings.TrimSpace(email)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("user", email)
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	_, err = b.updateRow(ctx, core.TableProfiles, id, map[string]any{"role": string(role)})
	return err
}

// ListProfiles returns every profile, newest first, ignoring policies.
func (b *Backend) ListProfiles(ctx context.Context) ([]core.Profile, error) {
	var out []core.Profile
	if err := b.Select(AsService(ctx), core.TableProfiles, baas.From().Newest(), &out); err != nil {
		return nil, err
	}
	return out, nil
}
