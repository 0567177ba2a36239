// Package render holds the low-level SQL spelling rules shared by the
// normalizer and the transpiler: identifier quoting, string-literal
// quoting, and field-reference rendering against the event table.
package render

import (
	"fmt"
	"strings"

	"github.com/itrimble/SecureWatch-sub004/internal/schema"
)

// QI quotes a SQL identifier, doubling any embedded double quotes.
func QI(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QL quotes a SQL string literal, doubling any embedded single quotes.
func QL(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Field renders a field reference. A bare name is a real column and is
// quoted as an identifier. A dotted path lives in the JSONB side column;
// only the final path segment is used as the extraction key, since the
// ingest pipeline flattens nested payloads to a single level.
func Field(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return fmt.Sprintf("%s->>%s", QI(schema.SideColumn), QL(name[i+1:]))
	}
	return QI(name)
}

// AggField renders a field used as an aggregation argument. Side-column
// extractions always come back as text, so keys that look numeric are
// cast before aggregation.
func AggField(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return QI(name)
	}
	expr := Field(name)
	if schema.LooksNumeric(name[i+1:]) {
		return "(" + expr + ")::numeric"
	}
	return expr
}
