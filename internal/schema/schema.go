// Package schema describes the layout of the event store that compiled
// queries run against: a flat relational table with one semi-structured
// JSONB column holding everything the ingest pipeline did not promote to
// a real column.
package schema

import "strings"

// SideColumn is the JSONB column that carries nested event payloads.
// Dotted field paths in a query resolve to keys inside this column.
const SideColumn = "attributes"

// SearchColumns are the textual columns scanned by a search operator
// that does not name its own columns.
var SearchColumns = []string{"message", "hostname", "process_name", "user_id"}

// numericNameHints are substrings of side-column keys that the ingest
// pipeline stores as numbers. Extractions of such keys are cast before
// being fed to an aggregate.
var numericNameHints = []string{"size", "count", "score"}

// LooksNumeric reports whether a side-column key is expected to hold a
// numeric value, based on its name alone.
func LooksNumeric(key string) bool {
	k := strings.ToLower(key)
	for _, hint := range numericNameHints {
		if strings.Contains(k, hint) {
			return true
		}
	}
	return false
}
