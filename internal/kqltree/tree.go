// Package kqltree mirrors the JSON parse tree produced by the upstream
// KQL grammar. The tree is loosely typed on the wire: operators and
// expressions arrive as single-key objects whose key names the variant.
// This package only decodes; shaping into the canonical query model
// happens in the kql package.
package kqltree

import (
	"encoding/json"
	"fmt"
)

// Tree is the root payload produced by the grammar for one input.
type Tree struct {
	Statements []Statement `json:"statements"`
}

// Statement is one top-level statement. Only tabular pipelines carry
// meaning for the compiler; other statement kinds decode with a nil
// Tabular field.
type Statement struct {
	Tabular *Tabular `json:"Tabular"`
}

// Tabular is a pipeline: a source table name followed by operators in
// the order they were written.
type Tabular struct {
	Source    string     `json:"source"`
	Operators []Operator `json:"operators"`
}

// Operator is a tagged operator node: an object with exactly one key
// naming the operator and a payload whose shape depends on the tag.
type Operator map[string]json.RawMessage

// Tag returns the operator's tag and payload. An operator node with
// zero or several keys is malformed.
func (o Operator) Tag() (string, json.RawMessage, error) {
	if len(o) != 1 {
		return "", nil, fmt.Errorf("operator node has %d tags, want 1", len(o))
	}
	for tag, payload := range o {
		return tag, payload, nil
	}
	return "", nil, nil // unreachable
}

// Expr is a tagged expression node, same single-key convention as
// Operator.
type Expr map[string]json.RawMessage

// Tag returns the expression's tag and payload.
func (e Expr) Tag() (string, json.RawMessage, error) {
	if len(e) != 1 {
		return "", nil, fmt.Errorf("expression node has %d tags, want 1", len(e))
	}
	for tag, payload := range e {
		return tag, payload, nil
	}
	return "", nil, nil // unreachable
}

// Literal is the payload of a "Literal" expression. Exactly one field
// is set; Null is a presence marker.
type Literal struct {
	String   *string         `json:"String,omitempty"`
	Long     *int64          `json:"Long,omitempty"`
	Real     *float64        `json:"Real,omitempty"`
	Bool     *bool           `json:"Bool,omitempty"`
	Null     json.RawMessage `json:"Null,omitempty"`
	Timespan *string         `json:"Timespan,omitempty"`
	Dynamic  json.RawMessage `json:"Dynamic,omitempty"`
}

// Path is the payload of a "Path" expression: a base column followed by
// member or index accessors.
type Path struct {
	Base      Expr       `json:"base"`
	Accessors []Accessor `json:"accessors"`
}

// Accessor is one step of a path. Exactly one field is set.
type Accessor struct {
	Member string `json:"Member,omitempty"`
	Index  *int64 `json:"Index,omitempty"`
}

// BinaryExpr is the payload of a "BinaryExpression" node. Op is one of
// the grammar's operator names (Add, Equals, Contains, And, ...).
type BinaryExpr struct {
	Left  Expr   `json:"left"`
	Op    string `json:"op"`
	Right Expr   `json:"right"`
}

// FunctionCall is the payload of a "FunctionCall" node.
type FunctionCall struct {
	Name string `json:"name"`
	Args []Expr `json:"args"`
}

// Operator payloads.

// SummarizePayload carries aggregations and optional grouping
// expressions.
type SummarizePayload struct {
	Aggregations []SummarizeItem `json:"aggregations"`
	By           []Expr          `json:"by"`
}

// SummarizeItem is one aggregation with its output alias.
type SummarizeItem struct {
	Alias string `json:"alias"`
	Expr  Expr   `json:"expr"`
}

// SortItem is one ordering clause of a sort operator.
type SortItem struct {
	Expr      Expr   `json:"expr"`
	Direction string `json:"direction"`
	Nulls     string `json:"nulls"`
}

// SearchPayload is a term scan over either explicit columns or the
// store's default search columns.
type SearchPayload struct {
	Term    string `json:"term"`
	Columns []Expr `json:"columns"`
}

// ExtendItem is one computed column with its alias.
type ExtendItem struct {
	Alias string `json:"alias"`
	Expr  Expr   `json:"expr"`
}

// TopPayload selects the highest- or lowest-ranked rows by one field.
type TopPayload struct {
	Count      Expr   `json:"count"`
	By         Expr   `json:"by"`
	Direction  string `json:"direction"`
	WithOthers bool   `json:"with_others"`
}

// ParseError is what the grammar emits instead of a tree when the input
// does not parse. It travels as an error through the compile pipeline.
type ParseError struct {
	Tag    string `json:"tag"`
	Detail string `json:"detail"`
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Tag
	}
	return e.Tag + ": " + e.Detail
}

// Decode unmarshals a raw grammar payload into a Tree.
func Decode(data []byte) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode parse tree: %w", err)
	}
	return &t, nil
}
