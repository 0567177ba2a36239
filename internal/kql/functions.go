package kql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/araddon/dateparse"

	"github.com/itrimble/SecureWatch-sub004/internal/kqltree"
	"github.com/itrimble/SecureWatch-sub004/internal/render"
)

// aggregateFuncs maps query aggregate names to their SQL spelling.
// Names outside the map pass through uppercased; the store accepts a
// wider set of aggregates than the query language names directly.
var aggregateFuncs = map[string]string{
	"count": "COUNT",
	"sum":   "SUM",
	"avg":   "AVG",
	"min":   "MIN",
	"max":   "MAX",
}

// AggregateSQL returns the SQL aggregate for a query-level name.
func AggregateSQL(name string) string {
	if sql, ok := aggregateFuncs[strings.ToLower(name)]; ok {
		return sql
	}
	return strings.ToUpper(name)
}

// funcHandler renders one recognized scalar function call.
type funcHandler func(fc *kqltree.FunctionCall) (string, error)

// scalarFuncs maps recognized scalar function names to renderers.
// Unmapped names fall back to the uppercased name applied to the
// rendered arguments, so user-defined store functions keep working.
var scalarFuncs map[string]funcHandler

func init() {
	// Built in init to avoid an initialization cycle with renderCall.
	scalarFuncs = map[string]funcHandler{
		"toupper":       wrapSingle("UPPER"),
		"tolower":       wrapSingle("LOWER"),
		"strcat":        renderStrcat,
		"now":           renderNow,
		"ago":           renderAgo,
		"hourofday":     renderHourOfDay,
		"datetime_part": renderDatetimePart,
		"datetime":      renderDatetime,
		"todatetime":    renderDatetime,
		"bin":           renderBinScalar,
	}
}

// renderCall renders a function call expression to SQL.
func renderCall(fc *kqltree.FunctionCall) (string, error) {
	if h, ok := scalarFuncs[strings.ToLower(fc.Name)]; ok {
		return h(fc)
	}
	args, err := renderArgs(fc.Args)
	if err != nil {
		return "", fmt.Errorf("%s: %w", fc.Name, err)
	}
	return strings.ToUpper(fc.Name) + "(" + strings.Join(args, ", ") + ")", nil
}

func renderArgs(exprs []kqltree.Expr) ([]string, error) {
	args := make([]string, 0, len(exprs))
	for i, e := range exprs {
		s, err := scalarExprSQL(e)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		args = append(args, s)
	}
	return args, nil
}

func wrapSingle(sqlName string) funcHandler {
	return func(fc *kqltree.FunctionCall) (string, error) {
		args, err := exactArgs(fc, 1)
		if err != nil {
			return "", err
		}
		return sqlName + "(" + args[0] + ")", nil
	}
}

func exactArgs(fc *kqltree.FunctionCall, n int) ([]string, error) {
	if len(fc.Args) != n {
		return nil, fmt.Errorf("%s: wants %d argument(s), got %d", fc.Name, n, len(fc.Args))
	}
	args, err := renderArgs(fc.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fc.Name, err)
	}
	return args, nil
}

func renderStrcat(fc *kqltree.FunctionCall) (string, error) {
	if len(fc.Args) == 0 {
		return "", fmt.Errorf("%s: wants at least 1 argument", fc.Name)
	}
	args, err := renderArgs(fc.Args)
	if err != nil {
		return "", fmt.Errorf("%s: %w", fc.Name, err)
	}
	return "CONCAT(" + strings.Join(args, ", ") + ")", nil
}

func renderNow(fc *kqltree.FunctionCall) (string, error) {
	if len(fc.Args) != 0 {
		return "", fmt.Errorf("%s: wants no arguments, got %d", fc.Name, len(fc.Args))
	}
	return "NOW()", nil
}

func renderAgo(fc *kqltree.FunctionCall) (string, error) {
	if len(fc.Args) != 1 {
		return "", fmt.Errorf("%s: wants 1 argument, got %d", fc.Name, len(fc.Args))
	}
	span, err := timespanArg(fc.Args[0])
	if err != nil {
		return "", fmt.Errorf("%s: %w", fc.Name, err)
	}
	interval, err := durationInterval(span)
	if err != nil {
		return "", fmt.Errorf("%s: %w", fc.Name, err)
	}
	return "NOW() - INTERVAL " + render.QL(interval), nil
}

func renderHourOfDay(fc *kqltree.FunctionCall) (string, error) {
	args, err := exactArgs(fc, 1)
	if err != nil {
		return "", err
	}
	return "EXTRACT(HOUR FROM " + args[0] + ")", nil
}

// datetimeParts are the field names datetime_part accepts, mapped to
// the EXTRACT keyword.
var datetimeParts = map[string]string{
	"year":   "YEAR",
	"month":  "MONTH",
	"day":    "DAY",
	"hour":   "HOUR",
	"minute": "MINUTE",
	"second": "SECOND",
}

func renderDatetimePart(fc *kqltree.FunctionCall) (string, error) {
	if len(fc.Args) != 2 {
		return "", fmt.Errorf("%s: wants 2 arguments, got %d", fc.Name, len(fc.Args))
	}
	part, err := stringLiteralArg(fc.Args[0])
	if err != nil {
		return "", fmt.Errorf("%s: part: %w", fc.Name, err)
	}
	kw, ok := datetimeParts[strings.ToLower(part)]
	if !ok {
		return "", fmt.Errorf("%s: unknown date part %q", fc.Name, part)
	}
	arg, err := scalarExprSQL(fc.Args[1])
	if err != nil {
		return "", fmt.Errorf("%s: %w", fc.Name, err)
	}
	return "EXTRACT(" + kw + " FROM " + arg + ")", nil
}

// renderDatetime turns a textual timestamp into a typed constant. The
// text is validated here so a bad timestamp fails the operator instead
// of the database.
func renderDatetime(fc *kqltree.FunctionCall) (string, error) {
	if len(fc.Args) != 1 {
		return "", fmt.Errorf("%s: wants 1 argument, got %d", fc.Name, len(fc.Args))
	}
	s, err := stringLiteralArg(fc.Args[0])
	if err != nil {
		return "", fmt.Errorf("%s: %w", fc.Name, err)
	}
	if _, err := dateparse.ParseAny(s); err != nil {
		return "", fmt.Errorf("%s: %q is not a recognizable timestamp", fc.Name, s)
	}
	return render.QL(s) + "::timestamptz", nil
}

func renderBinScalar(fc *kqltree.FunctionCall) (string, error) {
	return renderBin(fc.Args)
}

// renderBin maps a bucketing call to DATE_TRUNC. Arguments are the
// value to bucket and the bucket width; only the width's unit survives
// the translation, DATE_TRUNC has no multi-unit form.
func renderBin(args []kqltree.Expr) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("bin: wants 2 arguments, got %d", len(args))
	}
	arg, err := scalarExprSQL(args[0])
	if err != nil {
		return "", fmt.Errorf("bin: %w", err)
	}
	span, err := timespanArg(args[1])
	if err != nil {
		return "", fmt.Errorf("bin: width: %w", err)
	}
	unit, err := durationUnit(span)
	if err != nil {
		return "", fmt.Errorf("bin: width: %w", err)
	}
	return "DATE_TRUNC(" + render.QL(unit) + ", " + arg + ")", nil
}

// timespanArg accepts either a grammar-level timespan literal or a
// plain string that spells a duration.
func timespanArg(e kqltree.Expr) (string, error) {
	lit, err := literalPayload(e)
	if err != nil {
		return "", err
	}
	switch {
	case lit.Timespan != nil:
		return *lit.Timespan, nil
	case lit.String != nil:
		return *lit.String, nil
	default:
		return "", fmt.Errorf("want a timespan literal")
	}
}

func stringLiteralArg(e kqltree.Expr) (string, error) {
	lit, err := literalPayload(e)
	if err != nil {
		return "", err
	}
	if lit.String == nil {
		return "", fmt.Errorf("want a string literal")
	}
	return *lit.String, nil
}

var durationRe = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)$`)

var durationUnits = map[string]string{
	"ms": "milliseconds",
	"s":  "seconds",
	"m":  "minutes",
	"h":  "hours",
	"d":  "days",
}

// durationInterval turns a duration like "7d" into interval text like
// "7 days".
func durationInterval(span string) (string, error) {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(span))
	if m == nil {
		return "", fmt.Errorf("%q is not a duration", span)
	}
	return m[1] + " " + durationUnits[m[2]], nil
}

// durationUnit returns the DATE_TRUNC field for a duration. The count
// is ignored; DATE_TRUNC only truncates to whole units.
func durationUnit(span string) (string, error) {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(span))
	if m == nil {
		return "", fmt.Errorf("%q is not a duration", span)
	}
	switch m[2] {
	case "ms":
		return "milliseconds", nil
	case "s":
		return "second", nil
	case "m":
		return "minute", nil
	case "h":
		return "hour", nil
	default:
		return "day", nil
	}
}
