package baas

import (
	"fmt"
	"strings"
)

// Op is a filter operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGte   Op = "gte"
	OpLte   Op = "lte"
	OpILike Op = "ilike"
)

// Filter is a single column predicate. Filters are ANDed.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }
func ILike(column, pattern string) Filter { return Filter{Column: column, Op: OpILike, Value: pattern} }

// String renders the filter in the hosted service's query-string form,
// e.g. "user_id=eq.42".
func (f Filter) String() string {
	return fmt.Sprintf("%s=%s.%v", f.Column, f.Op, f.Value)
}

// Order is one sort key.
type Order struct {
	Column    string
	Ascending bool
}

// Query describes a select.
type Query struct {
	Columns []string
	Filters []Filter
	Orders  []Order
	Limit   int
}

// From starts a query selecting every column.
func From() Query { return Query{} }

// Select restricts the returned columns.
func (q Query) Select(columns ...string) Query {
	q.Columns = append(append([]string(nil), q.Columns...), columns...)
	return q
}

// Where adds filters.
func (q Query) Where(filters ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

// OrderBy adds a sort key.
func (q Query) OrderBy(column string, ascending bool) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{Column: column, Ascending: ascending})
	return q
}

// Newest orders by created_at descending, the default for every view.
func (q Query) Newest() Query {
	return q.OrderBy("created_at", false)
}

// Take limits the number of rows; 0 means unlimited.
func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// ColumnList is the select list, "*" when unrestricted.
func (q Query) ColumnList() string {
	if len(q.Columns) == 0 {
		return "*"
	}
	return strings.Join(q.Columns, ",")
}
