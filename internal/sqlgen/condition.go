package sqlgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/itrimble/SecureWatch-sub004/internal/kql"
	"github.com/itrimble/SecureWatch-sub004/internal/render"
)

var compareOps = map[string]struct{}{
	"!=": {},
	"<":  {},
	"<=": {},
	">":  {},
	">=": {},
}

// conditionSQL renders a predicate. Every predicate is parenthesized so
// stacked filters and nested logic never need precedence analysis.
// Non-fatal rendering approximations are appended to res.Warnings.
func conditionSQL(c kql.Condition, res *Result) (string, error) {
	switch c := c.(type) {
	case kql.Equal:
		f := render.Field(c.Field)
		if c.Value.Kind == kql.LitNull {
			return "(" + f + " IS NULL)", nil
		}
		return "(" + f + " = " + c.Value.SQL() + ")", nil

	case kql.Compare:
		if _, ok := compareOps[c.Op]; !ok {
			return "", fmt.Errorf("sqlgen: unsupported comparison operator %q", c.Op)
		}
		if c.Value.Kind == kql.LitNull {
			if c.Op == "!=" {
				return "(" + render.Field(c.Field) + " IS NOT NULL)", nil
			}
			return "", errors.New("sqlgen: cannot order against null")
		}
		return "(" + render.Field(c.Field) + " " + c.Op + " " + c.Value.SQL() + ")", nil

	case kql.StringMatch:
		return stringMatchSQL(c)

	case kql.Logical:
		return logicalSQL(c, res)

	case kql.In:
		return inSQL(c, res)

	case kql.Regex:
		return "(" + render.Field(c.Field) + " ~ " + render.QL(c.Pattern) + ")", nil

	default:
		return "", fmt.Errorf("sqlgen: unsupported condition %T", c)
	}
}

func stringMatchSQL(c kql.StringMatch) (string, error) {
	var pattern string
	switch c.Op {
	case "contains":
		pattern = "%" + c.Value + "%"
	case "startswith":
		pattern = c.Value + "%"
	case "endswith":
		pattern = "%" + c.Value
	default:
		return "", fmt.Errorf("sqlgen: unsupported string match %q", c.Op)
	}
	like := "ILIKE"
	if c.CaseSensitive {
		like = "LIKE"
	}
	return "(" + render.Field(c.Field) + " " + like + " " + render.QL(pattern) + ")", nil
}

func logicalSQL(c kql.Logical, res *Result) (string, error) {
	var join string
	switch c.Op {
	case "and":
		join = " AND "
	case "or":
		join = " OR "
	default:
		return "", fmt.Errorf("sqlgen: unsupported logical operator %q", c.Op)
	}
	if len(c.Conds) == 0 {
		return "", errors.New("sqlgen: logical condition has no operands")
	}
	parts := make([]string, 0, len(c.Conds))
	for _, child := range c.Conds {
		s, err := conditionSQL(child, res)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, join) + ")", nil
}

// inSQL renders set membership. Values pass through exactly as
// provided; any casing mismatch between query text and values is the
// caller's concern. The insensitive form is approximated by an exact
// IN and reported, never silently case-folded.
func inSQL(c kql.In, res *Result) (string, error) {
	if len(c.Values) == 0 {
		return "", errors.New("sqlgen: membership list is empty")
	}
	if !c.CaseSensitive {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("in: case-insensitive membership on %q compiles to an exact IN; values are matched as written", c.Field))
	}
	vals := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		vals = append(vals, v.SQL())
	}
	return "(" + render.Field(c.Field) + " IN (" + strings.Join(vals, ", ") + "))", nil
}
