// Package view holds each signed-in user's local copy of their wallet
// tables. Writes are applied locally first and then sent to the backend;
// realtime deltas keep the copy current without re-reading.
package view

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"spendwise/internal/baas"
)

// Collection is an ordered, mutex-guarded slice of rows from one table,
// newest first.
type Collection[T any] struct {
	table string
	query baas.Query
	id    func(T) string

	mu     sync.RWMutex
	rows   []T
	loaded bool
	sample bool
}

// NewCollection scopes reads of table to q.
func NewCollection[T any](table string, q baas.Query, id func(T) string) *Collection[T] {
	return &Collection[T]{table: table, query: q, id: id}
}

func (c *Collection[T]) Table() string { return c.table }

// Items returns a copy of the rows.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.rows))
	copy(out, c.rows)
	return out
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

func (c *Collection[T]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Sample reports whether the rows are placeholders rather than stored data.
func (c *Collection[T]) Sample() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sample
}

// Replace swaps the whole slice.
func (c *Collection[T]) Replace(rows []T, sample bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = rows
	c.sample = sample
	c.loaded = true
}

// Fetch reads the table slice without touching local state.
func (c *Collection[T]) Fetch(ctx context.Context, tables baas.Tables) ([]T, error) {
	var rows []T
	if err := tables.Select(ctx, c.table, c.query, &rows); err != nil {
		return nil, fmt.Errorf("read %s: %w", c.table, err)
	}
	return rows, nil
}

// Load reads the table slice and replaces local state with it.
func (c *Collection[T]) Load(ctx context.Context, tables baas.Tables) error {
	rows, err := c.Fetch(ctx, tables)
	if err != nil {
		return err
	}
	c.Replace(rows, false)
	return nil
}

func (c *Collection[T]) snapshot() ([]T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.rows))
	copy(out, c.rows)
	return out, c.sample
}

// reconcile re-reads after a failed write, falling back to the snapshot
// taken before the local change. cause is always returned.
func (c *Collection[T]) reconcile(ctx context.Context, tables baas.Tables, before []T, sample bool, cause error) error {
	if err := c.Load(ctx, tables); err != nil {
		c.Replace(before, sample)
	}
	return cause
}

// Add puts row at the front and inserts it. Placeholder rows are dropped
// first since the user now has real data.
func (c *Collection[T]) Add(ctx context.Context, tables baas.Tables, row T) error {
	before, sample := c.snapshot()

	c.mu.Lock()
	if c.sample {
		c.rows, c.sample = nil, false
	}
	c.rows = append([]T{row}, c.rows...)
	c.loaded = true
	c.mu.Unlock()

	if err := tables.Insert(ctx, c.table, []T{row}); err != nil {
		return c.reconcile(ctx, tables, before, sample, err)
	}
	return nil
}

// Edit applies fn to the row with id locally and sends values as the
// update. It reports baas.ErrNotFound when the row is not held.
func (c *Collection[T]) Edit(ctx context.Context, tables baas.Tables, id string, values map[string]any, fn func(*T)) error {
	before, sample := c.snapshot()

	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%s %s: %w", c.table, id, baas.ErrNotFound)
	}
	row := c.rows[i]
	fn(&row)
	c.rows[i] = row
	c.mu.Unlock()

	if err := tables.Update(ctx, c.table, values, baas.Eq("id", id)); err != nil {
		return c.reconcile(ctx, tables, before, sample, err)
	}
	return nil
}

// Remove deletes exactly the row with id.
func (c *Collection[T]) Remove(ctx context.Context, tables baas.Tables, id string) error {
	before, sample := c.snapshot()

	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%s %s: %w", c.table, id, baas.ErrNotFound)
	}
	c.rows = append(c.rows[:i:i], c.rows[i+1:]...)
	c.mu.Unlock()

	if err := tables.Delete(ctx, c.table, baas.Eq("id", id)); err != nil {
		return c.reconcile(ctx, tables, before, sample, err)
	}
	return nil
}

// Get returns the row with id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.rows[i], true
	}
	var zero T
	return zero, false
}

func (c *Collection[T]) indexLocked(id string) int {
	for i, r := range c.rows {
		if c.id(r) == id {
			return i
		}
	}
	return -1
}

// Apply folds a change event into the local copy. Inserts of rows already
// held (our own optimistic writes coming back) become replacements.
func (c *Collection[T]) Apply(ev baas.ChangeEvent) error {
	if ev.Table != c.table {
		return nil
	}

	var row T
	raw := ev.New
	if ev.Type == baas.ChangeDelete {
		raw = ev.Old
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s %s event without row", c.table, ev.Type)
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("decode %s event: %w", c.table, err)
	}
	id := c.id(row)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sample {
		c.rows, c.sample = nil, false
	}
	c.loaded = true
	i := c.indexLocked(id)

	switch ev.Type {
	case baas.ChangeInsert, baas.ChangeUpdate:
		if i >= 0 {
			c.rows[i] = row
		} else {
			c.rows = append([]T{row}, c.rows...)
		}
	case baas.ChangeDelete:
		if i >= 0 {
			c.rows = append(c.rows[:i:i], c.rows[i+1:]...)
		}
	}
	return nil
}
