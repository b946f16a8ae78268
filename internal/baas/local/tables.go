package local

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"spendwise/internal/baas"
	"spendwise/internal/core"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func lookup(table string) (*tableDef, error) {
	t, ok := schema[table]
	if !ok {
		return nil, &baas.Error{
			Status:  http.StatusNotFound,
			Code:    "42P01",
			Message: fmt.Sprintf("relation \"public.%s\" does not exist", table),
			Err:     baas.ErrNotFound,
		}
	}
	return t, nil
}

func unknownColumn(t *tableDef, col string) error {
	return &baas.Error{
		Status:  http.StatusBadRequest,
		Code:    "PGRST204",
		Message: fmt.Sprintf("Could not find the '%s' column of '%s' in the schema cache", col, t.name),
		Err:     baas.ErrInvalidRequest,
	}
}

func (t *tableDef) checkColumns(cols ...string) error {
	for _, c := range cols {
		if !t.hasColumn(c) {
			return unknownColumn(t, c)
		}
	}
	return nil
}

func quote(ident string) string { return `"` + ident + `"` }

// bindValue converts Go values into what the driver stores.
func bindValue(t *tableDef, col string, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return formatTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return formatTime(*x)
	case json.Number:
		return x.String()
	case string:
		if t.timestamps[col] {
			if ts, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return formatTime(ts)
			}
		}
		return x
	case driver.Valuer:
		if dv, err := x.Value(); err == nil {
			return dv
		}
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return bindValue(t, col, rv.String())
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return bindValue(t, col, rv.Elem().Interface())
	}
	return v
}

// whereClause renders filters as SQL predicates ANDed together.
func whereClause(t *tableDef, filters []baas.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		if err := t.checkColumns(f.Column); err != nil {
			return "", nil, err
		}
		col := quote(f.Column)
		v := bindValue(t, f.Column, f.Value)
		switch f.Op {
		case baas.OpEq:
			if v == nil {
				parts = append(parts, col+" IS NULL")
				continue
			}
			parts = append(parts, col+" = ?")
		case baas.OpNeq:
			if v == nil {
				parts = append(parts, col+" IS NOT NULL")
				continue
			}
			parts = append(parts, col+" <> ?")
		case baas.OpGte:
			parts = append(parts, col+" >= ?")
		case baas.OpLte:
			parts = append(parts, col+" <= ?")
		case baas.OpILike:
			parts = append(parts, col+" LIKE ?")
			v = strings.ReplaceAll(fmt.Sprint(v), "*", "%")
		default:
			return "", nil, baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest,
				fmt.Sprintf("unsupported operator %q", f.Op))
		}
		args = append(args, v)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func queryRows(ctx context.Context, q querier, query string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func decodeInto(rows []map[string]any, dest any) error {
	if dest == nil {
		return nil
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}

// mapSQLError translates constraint failures into backend errors.
func mapSQLError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &baas.Error{Status: http.StatusConflict, Code: "23505", Message: "duplicate key value violates unique constraint", Err: baas.ErrConflict}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return &baas.Error{Status: http.StatusConflict, Code: "23503", Message: "insert or update violates foreign key constraint", Err: baas.ErrConflict}
	case strings.Contains(msg, "CHECK constraint failed"):
		return &baas.Error{Status: http.StatusBadRequest, Code: "23514", Message: "new row violates check constraint", Err: baas.ErrInvalidRequest}
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return &baas.Error{Status: http.StatusBadRequest, Code: "23502", Message: "null value violates not-null constraint", Err: baas.ErrInvalidRequest}
	}
	return err
}

func (b *Backend) Select(ctx context.Context, table string, q baas.Query, dest any) error {
	t, err := lookup(table)
	if err != nil {
		return err
	}
	c, err := b.resolveCaller(ctx)
	if err != nil {
		return err
	}
	extra, ok := scope(t, t.read, c)
	if !ok {
		// Rows hidden by policy look like an empty table.
		return decodeInto([]map[string]any{}, dest)
	}
	if err := t.checkColumns(q.Columns...); err != nil {
		return err
	}

	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, col := range q.Columns {
			quoted[i] = quote(col)
		}
		cols = strings.Join(quoted, ", ")
	}
	where, args, err := whereClause(t, append(append([]baas.Filter(nil), q.Filters...), extra...))
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s%s", cols, quote(t.name), where)
	if len(q.Orders) > 0 {
		keys := make([]string, len(q.Orders))
		for i, o := range q.Orders {
			if err := t.checkColumns(o.Column); err != nil {
				return err
			}
			dir := "DESC"
			if o.Ascending {
				dir = "ASC"
			}
			keys[i] = quote(o.Column) + " " + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(keys, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := queryRows(ctx, b.db, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("select %s: %w", t.name, err)
	}
	return decodeInto(rows, dest)
}

func (b *Backend) Count(ctx context.Context, table string, filters ...baas.Filter) (int64, error) {
	t, err := lookup(table)
	if err != nil {
		return 0, err
	}
	c, err := b.resolveCaller(ctx)
	if err != nil {
		return 0, err
	}
	extra, ok := scope(t, t.read, c)
	if !ok {
		return 0, nil
	}
	where, args, err := whereClause(t, append(append([]baas.Filter(nil), filters...), extra...))
	if err != nil {
		return 0, err
	}
	var n int64
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(t.name)+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.name, err)
	}
	return n, nil
}

// decodeRows accepts a struct, a map or a slice of either.
func decodeRows(rows any) ([]map[string]any, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if len(raw) > 0 && raw[0] == '[' {
		var out []map[string]any
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode rows: %w", err)
		}
		return out, nil
	}
	var one map[string]any
	if err := dec.Decode(&one); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return []map[string]any{one}, nil
}

func blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == "" || x == "0001-01-01T00:00:00Z"
	}
	return false
}

// prepareRow fills server-side defaults and normalises values.
func (b *Backend) prepareRow(t *tableDef, row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(t.columns))
	for col, v := range row {
		if !t.hasColumn(col) {
			return nil, unknownColumn(t, col)
		}
		out[col] = v
	}
	if blank(out["id"]) {
		out["id"] = uuid.NewString()
	}
	for col := range t.timestamps {
		if blank(out[col]) {
			out[col] = b.now()
		}
	}
	for col, def := range t.defaults {
		if blank(out[col]) {
			out[col] = def
		}
	}
	if t.hasColumn("category_key") && blank(out["category_key"]) {
		label, _ := out["category"].(string)
		out["category_key"] = core.CategoryKey(label)
	}
	for col, v := range out {
		out[col] = bindValue(t, col, v)
	}
	return out, nil
}

func (b *Backend) Insert(ctx context.Context, table string, rows any) error {
	t, err := lookup(table)
	if err != nil {
		return err
	}
	c, err := b.resolveCaller(ctx)
	if err != nil {
		return err
	}
	input, err := decodeRows(rows)
	if err != nil {
		return baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, err.Error())
	}

	prepared := make([]map[string]any, 0, len(input))
	for _, row := range input {
		p, err := b.prepareRow(t, row)
		if err != nil {
			return err
		}
		if err := checkInsert(t, c, p); err != nil {
			return err
		}
		prepared = append(prepared, p)
	}

	var events []baas.ChangeEvent
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		ids := make([]any, 0, len(prepared))
		for _, row := range prepared {
			cols := make([]string, 0, len(row))
			for col := range row {
				cols = append(cols, col)
			}
			sort.Strings(cols)
			quoted := make([]string, len(cols))
			args := make([]any, len(cols))
			for i, col := range cols {
				quoted[i] = quote(col)
				args[i] = row[col]
			}
			stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quote(t.name), strings.Join(quoted, ", "), placeholders(len(cols)))
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return mapSQLError(err)
			}
			ids = append(ids, row["id"])
		}
		after, err := selectByIDs(ctx, tx, t, ids)
		if err != nil {
			return err
		}
		events = changeEvents(t, baas.ChangeInsert, nil, after, b.now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", t.name, err)
	}

	b.publish(ctx, events)
	return nil
}

func (b *Backend) Update(ctx context.Context, table string, values map[string]any, filters ...baas.Filter) error {
	t, err := lookup(table)
	if err != nil {
		return err
	}
	c, err := b.resolveCaller(ctx)
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		return baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, "UPDATE requires a WHERE clause")
	}
	if len(values) == 0 {
		return nil
	}
	if err := checkUpdate(t, c, values); err != nil {
		return err
	}
	changes := make(map[string]any, len(values)+1)
	for col, v := range values {
		if err := t.checkColumns(col); err != nil {
			return err
		}
		changes[col] = v
	}
	if label, ok := changes["category"].(string); ok && t.hasColumn("category_key") {
		if _, given := changes["category_key"]; !given {
			changes["category_key"] = core.CategoryKey(label)
		}
	}

	extra, ok := scope(t, t.update, c)
	if !ok {
		return nil
	}
	all := append(append([]baas.Filter(nil), filters...), extra...)
	return b.mutate(ctx, t, all, baas.ChangeUpdate, changes)
}

func (b *Backend) Delete(ctx context.Context, table string, filters ...baas.Filter) error {
	t, err := lookup(table)
	if err != nil {
		return err
	}
	c, err := b.resolveCaller(ctx)
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		return baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, "DELETE requires a WHERE clause")
	}
	if t.remove == denyAll && !c.service {
		return permissionDenied(t.name)
	}
	extra, ok := scope(t, t.remove, c)
	if !ok {
		return nil
	}
	all := append(append([]baas.Filter(nil), filters...), extra...)
	return b.mutate(ctx, t, all, baas.ChangeDelete, nil)
}

// mutate applies an update (changes != nil) or delete to the rows matching
// filters and publishes one event per affected row.
func (b *Backend) mutate(ctx context.Context, t *tableDef, filters []baas.Filter, typ baas.ChangeType, changes map[string]any) error {
	where, args, err := whereClause(t, filters)
	if err != nil {
		return err
	}

	var events []baas.ChangeEvent
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		before, err := queryRows(ctx, tx, "SELECT * FROM "+quote(t.name)+where, args...)
		if err != nil {
			return err
		}
		if len(before) == 0 {
			return nil
		}
		ids := make([]any, len(before))
		for i, row := range before {
			ids[i] = row["id"]
		}
		in := " WHERE id IN (" + placeholders(len(ids)) + ")"

		if typ == baas.ChangeDelete {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+quote(t.name)+in, ids...); err != nil {
				return mapSQLError(err)
			}
			events = changeEvents(t, typ, before, nil, b.now())
			return nil
		}

		cols := make([]string, 0, len(changes))
		for col := range changes {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		assigns := make([]string, len(cols))
		setArgs := make([]any, 0, len(cols)+len(ids))
		for i, col := range cols {
			assigns[i] = quote(col) + " = ?"
			setArgs = append(setArgs, bindValue(t, col, changes[col]))
		}
		setArgs = append(setArgs, ids...)
		stmt := "UPDATE " + quote(t.name) + " SET " + strings.Join(assigns, ", ") + in
		if _, err := tx.ExecContext(ctx, stmt, setArgs...); err != nil {
			return mapSQLError(err)
		}
		after, err := selectByIDs(ctx, tx, t, ids)
		if err != nil {
			return err
		}
		events = changeEvents(t, typ, before, after, b.now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(string(typ)), t.name, err)
	}

	b.publish(ctx, events)
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func selectByIDs(ctx context.Context, q querier, t *tableDef, ids []any) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return queryRows(ctx, q, "SELECT * FROM "+quote(t.name)+" WHERE id IN ("+placeholders(len(ids))+")", ids...)
}

// changeEvents pairs before and after images by id.
func changeEvents(t *tableDef, typ baas.ChangeType, before, after []map[string]any, at time.Time) []baas.ChangeEvent {
	old := make(map[any]map[string]any, len(before))
	for _, row := range before {
		old[row["id"]] = row
	}

	var events []baas.ChangeEvent
	emit := func(oldRow, newRow map[string]any) {
		ev := baas.ChangeEvent{Table: t.name, Type: typ, Timestamp: at}
		if oldRow != nil {
			ev.Old, _ = json.Marshal(oldRow)
		}
		if newRow != nil {
			ev.New, _ = json.Marshal(newRow)
		}
		events = append(events, ev)
	}

	if typ == baas.ChangeDelete {
		for _, row := range before {
			emit(row, nil)
		}
		return events
	}
	for _, row := range after {
		emit(old[row["id"]], row)
	}
	return events
}

// rowByID loads a single row bypassing policies, for procedures.
func rowByID(ctx context.Context, q querier, t *tableDef, id string) (map[string]any, error) {
	rows, err := selectByIDs(ctx, q, t, []any{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNoRow
	}
	return rows[0], nil
}

var errNoRow = errors.New("row not found")
