// Package kql holds the canonical query model and the normalizer that
// builds it from the grammar's loosely-typed parse tree. Everything
// downstream of this package works with validated, strongly-typed
// values only.
package kql

// Query is one validated pipeline: a source table and the operations
// applied to it, in order.
type Query struct {
	Table      string
	Operations []Operation
}

// Operation is one pipeline stage. The set of implementations is
// closed; the transpiler switches over all of them.
type Operation interface {
	operation()
}

// Filter keeps rows matching a condition.
type Filter struct {
	Cond Condition
}

// Project narrows the row to the named fields.
type Project struct {
	Fields []string
}

// Limit caps the number of rows returned.
type Limit struct {
	Count int64
}

// Summarize groups rows and computes aggregates over each group.
type Summarize struct {
	Aggregations []Aggregation
	By           []GroupBy
}

// Sort orders rows by one or more clauses.
type Sort struct {
	Clauses []SortClause
}

// Search keeps rows where a term appears in any of the target columns.
// An empty Columns list means the store's default search columns.
type Search struct {
	Term    string
	Columns []string
}

// Extend appends computed columns to the row.
type Extend struct {
	Columns []ExtendColumn
}

// Distinct deduplicates rows, optionally narrowing to the named columns
// first.
type Distinct struct {
	Columns []string
}

// Top keeps the Count highest- or lowest-ranked rows by Field.
// WithOthers requests an overflow bucket the SQL target cannot express;
// the transpiler reports it as a warning.
type Top struct {
	Count      int64
	Field      string
	Desc       bool
	WithOthers bool
}

func (Filter) operation()    {}
func (Project) operation()   {}
func (Limit) operation()     {}
func (Summarize) operation() {}
func (Sort) operation()      {}
func (Search) operation()    {}
func (Extend) operation()    {}
func (Distinct) operation()  {}
func (Top) operation()       {}

// Aggregation is one aggregate with its output alias. Field is empty
// only for a bare row count.
type Aggregation struct {
	Alias string
	Func  string // SQL aggregate name, e.g. COUNT
	Field string
}

// GroupBy is one grouping key: either a plain field reference or a
// pre-rendered bucketing expression.
type GroupBy struct {
	Field string
	Expr  *GroupByExpr
}

// GroupByExpr is a rendered grouping expression, such as a time bucket,
// with the alias it is exposed under.
type GroupByExpr struct {
	Alias string
	SQL   string
}

// SortClause is one ordering clause. Dir and Nulls are empty when the
// query leaves them to the target's defaults.
type SortClause struct {
	Field string
	Dir   string // "asc" or "desc"
	Nulls string // "first" or "last"
}

// ExtendColumn is one computed column.
type ExtendColumn struct {
	Alias string
	Value Scalar
}

// Condition is a boolean predicate over one row. The set of
// implementations is closed.
type Condition interface {
	condition()
}

// Equal tests a field against a literal. A null literal renders as an
// IS NULL test.
type Equal struct {
	Field string
	Value Literal
}

// Compare tests a field against a literal with an ordering or
// inequality operator.
type Compare struct {
	Field string
	Op    string // one of != < <= > >=
	Value Literal
}

// StringMatch is a substring, prefix, or suffix test.
type StringMatch struct {
	Field         string
	Op            string // contains, startswith, endswith
	Value         string
	CaseSensitive bool
}

// Logical combines child conditions with AND or OR.
type Logical struct {
	Op    string // and, or
	Conds []Condition
}

// In is a set-membership test against literal values.
type In struct {
	Field         string
	Values        []Literal
	CaseSensitive bool
}

// Regex tests a field against a regular expression.
type Regex struct {
	Field   string
	Pattern string
}

func (Equal) condition()       {}
func (Compare) condition()     {}
func (StringMatch) condition() {}
func (Logical) condition()     {}
func (In) condition()          {}
func (Regex) condition()       {}

// Scalar is a row-level value expression used in computed columns. The
// set of implementations is closed.
type Scalar interface {
	scalar()
}

// Column references a field by name; dotted names address the side
// column.
type Column struct {
	Name string
}

// Fragment is SQL rendered during normalization, such as a mapped
// function call. The transpiler splices it in verbatim.
type Fragment struct {
	SQL string
}

func (Column) scalar()   {}
func (Literal) scalar()  {}
func (Fragment) scalar() {}

// LiteralKind discriminates the typed literal payloads.
type LiteralKind int

const (
	LitString LiteralKind = iota
	LitInt
	LitReal
	LitBool
	LitNull
)

// Literal is a typed constant.
type Literal struct {
	Kind LiteralKind
	Str  string
	Int  int64
	Real float64
	Bool bool
}

// StringLit builds a string literal.
func StringLit(s string) Literal { return Literal{Kind: LitString, Str: s} }

// IntLit builds an integer literal.
func IntLit(n int64) Literal { return Literal{Kind: LitInt, Int: n} }

// RealLit builds a floating-point literal.
func RealLit(f float64) Literal { return Literal{Kind: LitReal, Real: f} }

// BoolLit builds a boolean literal.
func BoolLit(b bool) Literal { return Literal{Kind: LitBool, Bool: b} }

// NullLit builds a null literal.
func NullLit() Literal { return Literal{Kind: LitNull} }
