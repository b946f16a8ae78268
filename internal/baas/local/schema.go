package local

import (
	"spendwise/internal/core"
)

// rule decides which callers a table operation applies to.
type rule int

const (
	denyAll rule = iota
	ownerOnly
	ownerOrAdmin
	adminOnly
	anyone
)

type tableDef struct {
	name    string
	columns []string
	// owner is the column holding the owning identity; "" for none.
	owner      string
	timestamps map[string]bool
	defaults   map[string]any

	read, insert, update, remove rule
	// updatable lists the columns a direct update may set.
	updatable map[string]bool
}

func (t *tableDef) hasColumn(c string) bool {
	for _, col := range t.columns {
		if col == c {
			return true
		}
	}
	return false
}

func set(cols ...string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

var createdAt = set("created_at")

var schema = map[string]*tableDef{
	core.TableProfiles: {
		name:       core.TableProfiles,
		columns:    []string{"id", "email", "full_name", "role", "created_at"},
		owner:      "id",
		timestamps: createdAt,
		defaults:   map[string]any{"role": string(core.RoleUser), "full_name": ""},
		read:       ownerOrAdmin,
		insert:     denyAll,
		update:     ownerOnly,
		remove:     denyAll,
		updatable:  set("full_name"),
	},
	core.TableTransactions: {
		name:       core.TableTransactions,
		columns:    []string{"id", "user_id", "amount", "type", "description", "category", "category_key", "created_at"},
		owner:      "user_id",
		timestamps: createdAt,
		read:       ownerOrAdmin,
		insert:     ownerOnly,
		update:     ownerOnly,
		remove:     ownerOnly,
		updatable:  set("amount", "type", "description", "category", "category_key"),
	},
	core.TableLimits: {
		name:       core.TableLimits,
		columns:    []string{"id", "user_id", "category", "category_key", "amount", "created_at"},
		owner:      "user_id",
		timestamps: createdAt,
		read:       ownerOrAdmin,
		insert:     ownerOnly,
		update:     ownerOnly,
		remove:     ownerOnly,
		updatable:  set("category", "category_key", "amount"),
	},
	core.TableSubscriptions: {
		name:       core.TableSubscriptions,
		columns:    []string{"id", "user_id", "name", "amount", "currency", "created_at"},
		owner:      "user_id",
		timestamps: createdAt,
		read:       ownerOrAdmin,
		insert:     ownerOnly,
		update:     ownerOnly,
		remove:     ownerOnly,
		updatable:  set("name", "amount", "currency"),
	},
	core.TableFeedback: {
		name:       core.TableFeedback,
		columns:    []string{"id", "user_id", "name", "email", "category", "message", "rating", "status", "created_at"},
		owner:      "user_id",
		timestamps: createdAt,
		defaults:   map[string]any{"status": string(core.FeedbackPending)},
		read:       adminOnly,
		insert:     anyone,
		update:     adminOnly,
		remove:     adminOnly,
		updatable:  set("status"),
	},
	core.TableIssues: {
		name:       core.TableIssues,
		columns:    []string{"id", "user_id", "name", "email", "issue_type", "description", "status", "priority", "assignee_id", "created_at"},
		owner:      "user_id",
		timestamps: createdAt,
		defaults: map[string]any{
			"status":   string(core.IssueOpen),
			"priority": string(core.PriorityMedium),
		},
		read:   adminOnly,
		insert: anyone,
		// status, priority and assignment go through procedures
		update:    denyAll,
		remove:    adminOnly,
		updatable: set(),
	},
}
