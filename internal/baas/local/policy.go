package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"spendwise/internal/baas"
	"spendwise/internal/core"
)

// caller is the identity a request runs as.
type caller struct {
	userID  string
	role    core.Role
	service bool
}

func (c caller) authenticated() bool { return c.service || c.userID != "" }
func (c caller) admin() bool { return c.service || c.role.IsAdmin() }
func (c caller) superuser() bool { return c.service || c.role.IsSuperuser() }

type serviceKey struct{}

// AsService marks ctx as running with the service role, bypassing
// row-level policies. Only operator tooling should use it.
func AsService(ctx context.Context) context.Context {
	return context.WithValue(ctx, serviceKey{}, true)
}

func (b *Backend) resolveCaller(ctx context.Context) (caller, error) {
	if v, _ := ctx.Value(serviceKey{}).(bool); v {
		return caller{service: true, role: core.RoleSuperuser}, nil
	}
	token := baas.AccessToken(ctx)
	if token == "" {
		return caller{}, nil
	}
	claims, err := b.auth.verify(ctx, token)
	if err != nil {
		return caller{}, err
	}
	c := caller{userID: claims.Subject, role: core.RoleUser}

	var role string
	err = b.db.QueryRowContext(ctx, `SELECT role FROM profiles WHERE id = ?`, c.userID).Scan(&role)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return caller{}, fmt.Errorf("load caller role: %w", err)
	default:
		if r, perr := core.ParseRole(role); perr == nil {
			c.role = r
		}
	}
	return c, nil
}

// scope returns the predicates restricting an operation to the rows the
// caller may touch. allowed is false when no row is reachable at all.
func scope(t *tableDef, r rule, c caller) (extra []baas.Filter, allowed bool) {
	if c.service {
		return nil, true
	}
	switch r {
	case anyone:
		return nil, true
	case adminOnly:
		return nil, c.admin()
	case ownerOnly:
		if !c.authenticated() {
			return nil, false
		}
		return []baas.Filter{baas.Eq(t.owner, c.userID)}, true
	case ownerOrAdmin:
		if c.admin() {
			return nil, true
		}
		if !c.authenticated() {
			return nil, false
		}
		return []baas.Filter{baas.Eq(t.owner, c.userID)}, true
	}
	return nil, false
}

// checkInsert enforces the insert rule for one row.
func checkInsert(t *tableDef, c caller, row map[string]any) error {
	if c.service {
		return nil
	}
	owner, _ := row[t.owner].(string)
	switch t.insert {
	case anyone:
		if owner == "" || owner == c.userID {
			return nil
		}
	case ownerOnly:
		if c.authenticated() && owner == c.userID {
			return nil
		}
	case adminOnly:
		if c.admin() {
			return nil
		}
	}
	return rlsViolation(t.name)
}

// checkUpdate rejects columns a direct update may not set.
func checkUpdate(t *tableDef, c caller, values map[string]any) error {
	if c.service {
		return nil
	}
	if t.update == denyAll {
		return permissionDenied(t.name)
	}
	for col := range values {
		if !t.updatable[col] {
			return baas.NewError(http.StatusForbidden, baas.ErrForbidden,
				fmt.Sprintf("permission denied to update column %q of table %q", col, t.name))
		}
	}
	return nil
}

// visible reports whether c may read row, used for change delivery.
func visible(t *tableDef, c caller, row map[string]any) bool {
	extra, ok := scope(t, t.read, c)
	if !ok {
		return false
	}
	for _, f := range extra {
		if !matches(f, row) {
			return false
		}
	}
	return true
}

// matches evaluates a filter against a decoded row.
func matches(f baas.Filter, row map[string]any) bool {
	got := fmt.Sprint(row[f.Column])
	want := fmt.Sprint(f.Value)
	if row[f.Column] == nil {
		got = ""
	}
	switch f.Op {
	case baas.OpEq:
		return got == want
	case baas.OpNeq:
		return got != want
	case baas.OpGte:
		return got >= want
	case baas.OpLte:
		return got <= want
	case baas.OpILike:
		return likeMatch(strings.ToLower(want), strings.ToLower(got))
	}
	return false
}

// likeMatch supports the % wildcard only.
func likeMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i, p := range parts[1:] {
		last := i == len(parts)-2
		if last {
			return strings.HasSuffix(s, p)
		}
		idx := strings.Index(s, p)
		if idx < 0 {
			return false
		}
		s = s[idx+len(p):]
	}
	return true
}

func rlsViolation(table string) error {
	return &baas.Error{
		Status:  http.StatusForbidden,
		Code:    "42501",
		Message: fmt.Sprintf("new row violates row-level security policy for table %q", table),
		Err:     baas.ErrForbidden,
	}
}

func permissionDenied(table string) error {
	return &baas.Error{
		Status:  http.StatusForbidden,
		Code:    "42501",
		Message: fmt.Sprintf("permission denied for table %s", table),
		Err:     baas.ErrForbidden,
	}
}
