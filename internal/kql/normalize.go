package kql

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/itrimble/SecureWatch-sub004/internal/kqltree"
	"github.com/itrimble/SecureWatch-sub004/internal/render"
)

// Root failures: nothing in the input can be salvaged into a query.
var (
	ErrNoStatements = errors.New("kql: input has no statements")
	ErrNotTabular   = errors.New("kql: first statement is not a tabular pipeline")
	ErrNoSource     = errors.New("kql: pipeline has no source table")
)

// Normalize shapes a parse tree into a canonical Query. Root-level
// defects fail the whole call; a defective operator is logged and
// dropped so the rest of the pipeline still compiles.
func Normalize(tree *kqltree.Tree, log *zap.Logger) (*Query, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if tree == nil || len(tree.Statements) == 0 {
		return nil, ErrNoStatements
	}
	tab := tree.Statements[0].Tabular
	if tab == nil {
		return nil, ErrNotTabular
	}
	if tab.Source == "" {
		return nil, ErrNoSource
	}

	q := &Query{Table: tab.Source}
	for i, op := range tab.Operators {
		tag, payload, err := op.Tag()
		if err != nil {
			log.Warn("dropping malformed operator", zap.Int("position", i), zap.Error(err))
			continue
		}
		fn, ok := operatorNormalizers[tag]
		if !ok {
			log.Warn("dropping unsupported operator", zap.Int("position", i), zap.String("operator", tag))
			continue
		}
		norm, err := fn(payload)
		if err != nil {
			log.Warn("dropping operator", zap.Int("position", i), zap.String("operator", tag), zap.Error(err))
			continue
		}
		q.Operations = append(q.Operations, norm)
	}
	return q, nil
}

var operatorNormalizers = map[string]func(json.RawMessage) (Operation, error){
	"Where":     normalizeWhere,
	"Filter":    normalizeWhere,
	"Project":   normalizeProject,
	"Limit":     normalizeLimit,
	"Take":      normalizeLimit,
	"Summarize": normalizeSummarize,
	"SortBy":    normalizeSort,
	"OrderBy":   normalizeSort,
	"Search":    normalizeSearch,
	"Extend":    normalizeExtend,
	"Distinct":  normalizeDistinct,
	"Top":       normalizeTop,
}

func normalizeWhere(payload json.RawMessage) (Operation, error) {
	var e kqltree.Expr
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	cond, err := exprToCondition(e)
	if err != nil {
		return nil, err
	}
	return Filter{Cond: cond}, nil
}

func normalizeProject(payload json.RawMessage) (Operation, error) {
	var exprs []kqltree.Expr
	if err := json.Unmarshal(payload, &exprs); err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, errors.New("project names no fields")
	}
	fields := make([]string, 0, len(exprs))
	for _, e := range exprs {
		f, err := fieldName(e)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return Project{Fields: fields}, nil
}

func normalizeLimit(payload json.RawMessage) (Operation, error) {
	var e kqltree.Expr
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	lit, err := literalPayload(e)
	if err != nil {
		return nil, err
	}
	if lit.Long == nil {
		return nil, errors.New("row cap is not an integer")
	}
	if *lit.Long < 0 {
		return nil, fmt.Errorf("row cap %d is negative", *lit.Long)
	}
	return Limit{Count: *lit.Long}, nil
}

func normalizeSummarize(payload json.RawMessage) (Operation, error) {
	var p kqltree.SummarizePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	if len(p.Aggregations) == 0 {
		return nil, errors.New("summarize has no aggregations")
	}
	op := Summarize{}
	for _, item := range p.Aggregations {
		agg, err := normalizeAggregation(item)
		if err != nil {
			return nil, err
		}
		op.Aggregations = append(op.Aggregations, agg)
	}
	for _, by := range p.By {
		g, err := normalizeGroupBy(by)
		if err != nil {
			return nil, err
		}
		op.By = append(op.By, g)
	}
	return op, nil
}

func normalizeAggregation(item kqltree.SummarizeItem) (Aggregation, error) {
	tag, payload, err := item.Expr.Tag()
	if err != nil {
		return Aggregation{}, err
	}
	if tag != "FunctionCall" {
		return Aggregation{}, fmt.Errorf("aggregation is a %s, want a function call", tag)
	}
	var fc kqltree.FunctionCall
	if err := json.Unmarshal(payload, &fc); err != nil {
		return Aggregation{}, err
	}
	agg := Aggregation{Alias: item.Alias, Func: AggregateSQL(fc.Name)}
	if agg.Alias == "" {
		agg.Alias = strings.ToLower(fc.Name)
	}
	if len(fc.Args) == 0 {
		if agg.Func != "COUNT" {
			return Aggregation{}, fmt.Errorf("%s wants an argument", fc.Name)
		}
		return agg, nil
	}
	field, err := fieldName(fc.Args[0])
	if err != nil {
		return Aggregation{}, fmt.Errorf("%s: %w", fc.Name, err)
	}
	agg.Field = field
	return agg, nil
}

func normalizeGroupBy(e kqltree.Expr) (GroupBy, error) {
	tag, payload, err := e.Tag()
	if err != nil {
		return GroupBy{}, err
	}
	switch tag {
	case "Column", "Path":
		field, err := fieldName(e)
		if err != nil {
			return GroupBy{}, err
		}
		return GroupBy{Field: field}, nil
	case "FunctionCall":
		var fc kqltree.FunctionCall
		if err := json.Unmarshal(payload, &fc); err != nil {
			return GroupBy{}, err
		}
		if !strings.EqualFold(fc.Name, "bin") {
			return GroupBy{}, fmt.Errorf("cannot group by a %s call", fc.Name)
		}
		sql, err := renderBin(fc.Args)
		if err != nil {
			return GroupBy{}, err
		}
		field, err := fieldName(fc.Args[0])
		if err != nil {
			return GroupBy{}, fmt.Errorf("bin: %w", err)
		}
		return GroupBy{Expr: &GroupByExpr{Alias: finalSegment(field), SQL: sql}}, nil
	default:
		return GroupBy{}, fmt.Errorf("cannot group by a %s expression", tag)
	}
}

func normalizeSort(payload json.RawMessage) (Operation, error) {
	var items []kqltree.SortItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("sort has no clauses")
	}
	op := Sort{}
	for _, item := range items {
		field, err := fieldName(item.Expr)
		if err != nil {
			return nil, err
		}
		dir := strings.ToLower(item.Direction)
		switch dir {
		case "", "asc", "desc":
		default:
			return nil, fmt.Errorf("unknown sort direction %q", item.Direction)
		}
		nulls := strings.ToLower(item.Nulls)
		switch nulls {
		case "", "first", "last":
		default:
			return nil, fmt.Errorf("unknown null ordering %q", item.Nulls)
		}
		op.Clauses = append(op.Clauses, SortClause{Field: field, Dir: dir, Nulls: nulls})
	}
	return op, nil
}

func normalizeSearch(payload json.RawMessage) (Operation, error) {
	var p kqltree.SearchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	if p.Term == "" {
		return nil, errors.New("search has no term")
	}
	op := Search{Term: p.Term}
	for _, e := range p.Columns {
		f, err := fieldName(e)
		if err != nil {
			return nil, err
		}
		op.Columns = append(op.Columns, f)
	}
	return op, nil
}

func normalizeExtend(payload json.RawMessage) (Operation, error) {
	var items []kqltree.ExtendItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("extend adds no columns")
	}
	op := Extend{}
	for _, item := range items {
		if item.Alias == "" {
			return nil, errors.New("extend column has no alias")
		}
		val, err := exprToScalar(item.Expr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", item.Alias, err)
		}
		op.Columns = append(op.Columns, ExtendColumn{Alias: item.Alias, Value: val})
	}
	return op, nil
}

func normalizeDistinct(payload json.RawMessage) (Operation, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return Distinct{}, nil
	}
	var exprs []kqltree.Expr
	if err := json.Unmarshal(payload, &exprs); err != nil {
		return nil, err
	}
	op := Distinct{}
	for _, e := range exprs {
		f, err := fieldName(e)
		if err != nil {
			return nil, err
		}
		op.Columns = append(op.Columns, f)
	}
	return op, nil
}

func normalizeTop(payload json.RawMessage) (Operation, error) {
	var p kqltree.TopPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	lit, err := literalPayload(p.Count)
	if err != nil {
		return nil, err
	}
	if lit.Long == nil {
		return nil, errors.New("row count is not an integer")
	}
	if *lit.Long < 0 {
		return nil, fmt.Errorf("row count %d is negative", *lit.Long)
	}
	field, err := fieldName(p.By)
	if err != nil {
		return nil, err
	}
	op := Top{Count: *lit.Long, Field: field, WithOthers: p.WithOthers}
	switch strings.ToLower(p.Direction) {
	case "", "desc":
		op.Desc = true
	case "asc":
	default:
		return nil, fmt.Errorf("unknown sort direction %q", p.Direction)
	}
	return op, nil
}

// comparisonOps maps grammar comparison names to SQL operators. Equals
// is handled separately so null tests keep their own shape.
var comparisonOps = map[string]string{
	"NotEquals":          "!=",
	"GreaterThan":        ">",
	"GreaterThanOrEqual": ">=",
	"LessThan":           "<",
	"LessThanOrEqual":    "<=",
}

// stringOps maps grammar string-match names to the internal operator
// and case sensitivity. Has is a term match in the source language; the
// store has no term index, so it degrades to a substring test.
var stringOps = map[string]struct {
	op            string
	caseSensitive bool
}{
	"Contains":     {"contains", false},
	"ContainsCs":   {"contains", true},
	"StartsWith":   {"startswith", false},
	"StartsWithCs": {"startswith", true},
	"EndsWith":     {"endswith", false},
	"EndsWithCs":   {"endswith", true},
	"Has":          {"contains", false},
	"HasCs":        {"contains", true},
}

// arithmeticOps maps grammar arithmetic names to SQL operators. These
// only appear in scalar positions.
var arithmeticOps = map[string]string{
	"Add":      "+",
	"Subtract": "-",
	"Multiply": "*",
	"Divide":   "/",
	"Modulo":   "%",
}

func exprToCondition(e kqltree.Expr) (Condition, error) {
	tag, payload, err := e.Tag()
	if err != nil {
		return nil, err
	}
	if tag != "BinaryExpression" {
		return nil, fmt.Errorf("condition is a %s, want a binary expression", tag)
	}
	var be kqltree.BinaryExpr
	if err := json.Unmarshal(payload, &be); err != nil {
		return nil, err
	}

	switch be.Op {
	case "And", "Or":
		left, err := exprToCondition(be.Left)
		if err != nil {
			return nil, err
		}
		right, err := exprToCondition(be.Right)
		if err != nil {
			return nil, err
		}
		return Logical{Op: strings.ToLower(be.Op), Conds: []Condition{left, right}}, nil
	case "Equals":
		field, value, err := fieldAndLiteral(be)
		if err != nil {
			return nil, err
		}
		return Equal{Field: field, Value: value}, nil
	case "MatchesRegex":
		field, value, err := fieldAndLiteral(be)
		if err != nil {
			return nil, err
		}
		if value.Kind != LitString {
			return nil, errors.New("regex pattern is not a string")
		}
		return Regex{Field: field, Pattern: value.Str}, nil
	case "In", "InCis":
		return inCondition(be)
	}

	if op, ok := comparisonOps[be.Op]; ok {
		field, value, err := fieldAndLiteral(be)
		if err != nil {
			return nil, err
		}
		return Compare{Field: field, Op: op, Value: value}, nil
	}
	if sm, ok := stringOps[be.Op]; ok {
		field, value, err := fieldAndLiteral(be)
		if err != nil {
			return nil, err
		}
		if value.Kind != LitString {
			return nil, fmt.Errorf("%s wants a string operand", be.Op)
		}
		return StringMatch{Field: field, Op: sm.op, Value: value.Str, CaseSensitive: sm.caseSensitive}, nil
	}
	return nil, fmt.Errorf("operator %s is not usable as a condition", be.Op)
}

func inCondition(be kqltree.BinaryExpr) (Condition, error) {
	field, err := fieldName(be.Left)
	if err != nil {
		return nil, err
	}
	tag, payload, err := be.Right.Tag()
	if err != nil {
		return nil, err
	}
	if tag != "ArrayLiteral" {
		return nil, fmt.Errorf("membership list is a %s, want an array literal", tag)
	}
	var members []kqltree.Expr
	if err := json.Unmarshal(payload, &members); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, errors.New("membership list is empty")
	}
	// Plain In is the case-sensitive form; InCis is the ~ variant.
	cond := In{Field: field, CaseSensitive: be.Op == "In"}
	for _, m := range members {
		lit, err := literalPayload(m)
		if err != nil {
			return nil, err
		}
		v, err := literalValue(lit)
		if err != nil {
			return nil, err
		}
		cond.Values = append(cond.Values, v)
	}
	return cond, nil
}

func fieldAndLiteral(be kqltree.BinaryExpr) (string, Literal, error) {
	field, err := fieldName(be.Left)
	if err != nil {
		return "", Literal{}, err
	}
	lit, err := literalPayload(be.Right)
	if err != nil {
		return "", Literal{}, err
	}
	value, err := literalValue(lit)
	if err != nil {
		return "", Literal{}, err
	}
	return field, value, nil
}

// fieldName flattens a column or path expression to its dotted name.
func fieldName(e kqltree.Expr) (string, error) {
	tag, payload, err := e.Tag()
	if err != nil {
		return "", err
	}
	switch tag {
	case "Column":
		var name string
		if err := json.Unmarshal(payload, &name); err != nil {
			return "", err
		}
		if name == "" {
			return "", errors.New("column has no name")
		}
		return name, nil
	case "Path":
		var p kqltree.Path
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", err
		}
		base, err := fieldName(p.Base)
		if err != nil {
			return "", err
		}
		parts := []string{base}
		for _, acc := range p.Accessors {
			switch {
			case acc.Member != "":
				parts = append(parts, acc.Member)
			case acc.Index != nil:
				parts = append(parts, fmt.Sprintf("%d", *acc.Index))
			default:
				return "", errors.New("empty path accessor")
			}
		}
		return strings.Join(parts, "."), nil
	default:
		return "", fmt.Errorf("%s expression is not a field reference", tag)
	}
}

func literalPayload(e kqltree.Expr) (*kqltree.Literal, error) {
	tag, payload, err := e.Tag()
	if err != nil {
		return nil, err
	}
	if tag != "Literal" {
		return nil, fmt.Errorf("%s expression is not a literal", tag)
	}
	var lit kqltree.Literal
	if err := json.Unmarshal(payload, &lit); err != nil {
		return nil, err
	}
	return &lit, nil
}

// literalValue narrows a grammar literal to a typed constant. Timespans
// keep their textual spelling; dynamic payloads keep their raw JSON
// text.
func literalValue(lit *kqltree.Literal) (Literal, error) {
	switch {
	case lit.String != nil:
		return StringLit(*lit.String), nil
	case lit.Long != nil:
		return IntLit(*lit.Long), nil
	case lit.Real != nil:
		return RealLit(*lit.Real), nil
	case lit.Bool != nil:
		return BoolLit(*lit.Bool), nil
	case len(lit.Null) > 0:
		return NullLit(), nil
	case lit.Timespan != nil:
		return StringLit(*lit.Timespan), nil
	case len(lit.Dynamic) > 0:
		return StringLit(string(lit.Dynamic)), nil
	default:
		return Literal{}, errors.New("literal carries no payload")
	}
}

// exprToScalar shapes an expression used as a computed-column value.
// Function calls and arithmetic are rendered here; the result travels
// as a finished SQL fragment.
func exprToScalar(e kqltree.Expr) (Scalar, error) {
	tag, payload, err := e.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case "Column", "Path":
		name, err := fieldName(e)
		if err != nil {
			return nil, err
		}
		return Column{Name: name}, nil
	case "Literal":
		var lit kqltree.Literal
		if err := json.Unmarshal(payload, &lit); err != nil {
			return nil, err
		}
		return literalValue(&lit)
	case "FunctionCall", "BinaryExpression":
		sql, err := scalarExprSQL(e)
		if err != nil {
			return nil, err
		}
		return Fragment{SQL: sql}, nil
	default:
		return nil, fmt.Errorf("%s expression is not usable as a value", tag)
	}
}

// scalarExprSQL renders an expression in scalar position to SQL text.
func scalarExprSQL(e kqltree.Expr) (string, error) {
	tag, payload, err := e.Tag()
	if err != nil {
		return "", err
	}
	switch tag {
	case "Column", "Path":
		name, err := fieldName(e)
		if err != nil {
			return "", err
		}
		return render.Field(name), nil
	case "Literal":
		var lit kqltree.Literal
		if err := json.Unmarshal(payload, &lit); err != nil {
			return "", err
		}
		v, err := literalValue(&lit)
		if err != nil {
			return "", err
		}
		return v.SQL(), nil
	case "FunctionCall":
		var fc kqltree.FunctionCall
		if err := json.Unmarshal(payload, &fc); err != nil {
			return "", err
		}
		return renderCall(&fc)
	case "BinaryExpression":
		var be kqltree.BinaryExpr
		if err := json.Unmarshal(payload, &be); err != nil {
			return "", err
		}
		op, ok := arithmeticOps[be.Op]
		if !ok {
			return "", fmt.Errorf("operator %s is not usable as a value", be.Op)
		}
		left, err := scalarExprSQL(be.Left)
		if err != nil {
			return "", err
		}
		right, err := scalarExprSQL(be.Right)
		if err != nil {
			return "", err
		}
		return "(" + left + " " + op + " " + right + ")", nil
	default:
		return "", fmt.Errorf("%s expression is not usable as a value", tag)
	}
}

func finalSegment(field string) string {
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		return field[i+1:]
	}
	return field
}
