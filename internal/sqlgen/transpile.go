// Package sqlgen turns a canonical query into a single PostgreSQL
// statement. The pipeline is walked left to right; each operation folds
// into one accumulating SELECT, and a set of visible column names is
// threaded through the walk so later operations know whether a name is
// an alias minted upstream or a fresh field reference.
package sqlgen

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/itrimble/SecureWatch-sub004/internal/kql"
	"github.com/itrimble/SecureWatch-sub004/internal/render"
	"github.com/itrimble/SecureWatch-sub004/internal/schema"
)

// Result is a compiled statement plus any non-fatal compilation notes.
type Result struct {
	SQL      string
	Warnings []string
}

// visibleSet tracks the column names addressable at the current point
// of the pipeline. Empty means the full source row is visible.
type visibleSet map[string]struct{}

func newVisible(names ...string) visibleSet {
	v := make(visibleSet, len(names))
	for _, n := range names {
		v[n] = struct{}{}
	}
	return v
}

func (v visibleSet) has(name string) bool {
	_, ok := v[name]
	return ok
}

func (v visibleSet) add(name string) {
	v[name] = struct{}{}
}

// statement accumulates the clauses of the SELECT being built.
type statement struct {
	selects  []string // empty means SELECT *
	preds    []string
	groupBy  []string
	orderBy  []string
	limit    *int64
	distinct bool
}

// Transpile compiles a normalized query. Unlike normalization, any
// defect here is a hard failure; emitting a statement that silently
// drops part of the query would be worse than refusing.
func Transpile(q *kql.Query) (*Result, error) {
	if q == nil || q.Table == "" {
		return nil, errors.New("sqlgen: query has no source table")
	}
	st := &statement{}
	res := &Result{}
	vis := newVisible()
	for _, op := range q.Operations {
		var err error
		vis, err = apply(st, vis, op, res)
		if err != nil {
			return nil, err
		}
	}
	sql, err := st.build(q.Table)
	if err != nil {
		return nil, err
	}
	res.SQL = sql
	return res, nil
}

func apply(st *statement, vis visibleSet, op kql.Operation, res *Result) (visibleSet, error) {
	switch o := op.(type) {
	case kql.Filter:
		pred, err := conditionSQL(o.Cond, res)
		if err != nil {
			return nil, err
		}
		st.preds = append(st.preds, pred)
		return vis, nil

	case kql.Search:
		st.preds = append(st.preds, searchSQL(o))
		return vis, nil

	case kql.Project:
		st.selects = projection(o.Fields, vis)
		return newVisible(o.Fields...), nil

	case kql.Extend:
		if len(st.selects) == 0 {
			st.selects = []string{"*"}
		}
		for _, col := range o.Columns {
			expr, err := scalarSQL(col.Value, vis)
			if err != nil {
				return nil, fmt.Errorf("sqlgen: column %s: %w", col.Alias, err)
			}
			st.selects = append(st.selects, expr+" AS "+render.QI(col.Alias))
			vis.add(col.Alias)
		}
		return vis, nil

	case kql.Summarize:
		return applySummarize(st, vis, o)

	case kql.Distinct:
		st.distinct = true
		if len(o.Columns) == 0 {
			return vis, nil
		}
		st.selects = projection(o.Columns, vis)
		return newVisible(o.Columns...), nil

	case kql.Sort:
		for _, c := range o.Clauses {
			st.orderBy = append(st.orderBy, orderClause(c, vis))
		}
		return vis, nil

	case kql.Top:
		if o.Count < 0 {
			return nil, fmt.Errorf("sqlgen: negative row cap %d", o.Count)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		st.orderBy = append(st.orderBy, fieldRef(o.Field, vis)+" "+dir)
		n := o.Count
		st.limit = &n
		if o.WithOthers {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("top: the 'others' overflow bucket has no SQL equivalent and was ignored (field %q)", o.Field))
		}
		return vis, nil

	case kql.Limit:
		if o.Count < 0 {
			return nil, fmt.Errorf("sqlgen: negative row cap %d", o.Count)
		}
		n := o.Count
		st.limit = &n
		return vis, nil

	default:
		return nil, fmt.Errorf("sqlgen: unsupported operation %T", op)
	}
}

func applySummarize(st *statement, vis visibleSet, o kql.Summarize) (visibleSet, error) {
	selects := make([]string, 0, len(o.By)+len(o.Aggregations))
	groups := make([]string, 0, len(o.By))
	out := newVisible()

	for _, g := range o.By {
		if g.Expr != nil {
			selects = append(selects, g.Expr.SQL+" AS "+render.QI(g.Expr.Alias))
			groups = append(groups, g.Expr.SQL)
			out.add(g.Expr.Alias)
			continue
		}
		expr := fieldRef(g.Field, vis)
		sel := expr
		if expr != render.QI(g.Field) {
			sel = expr + " AS " + render.QI(g.Field)
		}
		selects = append(selects, sel)
		groups = append(groups, expr)
		out.add(g.Field)
	}

	for _, a := range o.Aggregations {
		if a.Alias == "" {
			return nil, errors.New("sqlgen: aggregation has no alias")
		}
		arg := "*"
		switch {
		case a.Field == "":
			if a.Func != "COUNT" {
				return nil, fmt.Errorf("sqlgen: %s wants an argument", a.Func)
			}
		case vis.has(a.Field):
			arg = render.QI(a.Field)
		default:
			arg = render.AggField(a.Field)
		}
		selects = append(selects, fmt.Sprintf("%s(%s) AS %s", a.Func, arg, render.QI(a.Alias)))
		out.add(a.Alias)
	}

	st.selects = selects
	st.groupBy = groups
	return out, nil
}

// projection renders a field list. Names already visible are plain
// identifiers; fresh side-column paths get extracted and aliased back
// to their dotted spelling so the output column keeps the query's name.
func projection(fields []string, vis visibleSet) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		expr := fieldRef(f, vis)
		if expr != render.QI(f) {
			expr += " AS " + render.QI(f)
		}
		out = append(out, expr)
	}
	return out
}

// fieldRef renders a field either by its visible alias or freshly
// against the source row.
func fieldRef(name string, vis visibleSet) string {
	if vis.has(name) {
		return render.QI(name)
	}
	return render.Field(name)
}

func orderClause(c kql.SortClause, vis visibleSet) string {
	var b strings.Builder
	b.WriteString(fieldRef(c.Field, vis))
	switch c.Dir {
	case "asc":
		b.WriteString(" ASC")
	case "desc":
		b.WriteString(" DESC")
	}
	switch c.Nulls {
	case "first":
		b.WriteString(" NULLS FIRST")
	case "last":
		b.WriteString(" NULLS LAST")
	}
	return b.String()
}

func searchSQL(o kql.Search) string {
	cols := o.Columns
	if len(cols) == 0 {
		cols = schema.SearchColumns
	}
	pattern := render.QL("%" + o.Term + "%")
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, render.Field(c)+" ILIKE "+pattern)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func scalarSQL(s kql.Scalar, vis visibleSet) (string, error) {
	switch v := s.(type) {
	case kql.Column:
		return fieldRef(v.Name, vis), nil
	case kql.Literal:
		return v.SQL(), nil
	case kql.Fragment:
		return v.SQL, nil
	default:
		return "", fmt.Errorf("unsupported scalar %T", s)
	}
}

// build assembles the accumulated clauses into one statement. All
// literals were rendered inline upstream, so the builder never sees a
// placeholder.
func (st *statement) build(table string) (string, error) {
	cols := st.selects
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	qb := sq.Select(cols...).From(render.QI(table))
	if st.distinct {
		qb = qb.Distinct()
	}
	for _, p := range st.preds {
		qb = qb.Where(sq.Expr(p))
	}
	if len(st.groupBy) > 0 {
		qb = qb.GroupBy(st.groupBy...)
	}
	if len(st.orderBy) > 0 {
		qb = qb.OrderBy(st.orderBy...)
	}
	if st.limit != nil {
		qb = qb.Limit(uint64(*st.limit))
	}
	sql, _, err := qb.ToSql()
	if err != nil {
		return "", fmt.Errorf("sqlgen: assemble statement: %w", err)
	}
	return sql + ";", nil
}
