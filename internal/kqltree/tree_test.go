package kqltree

import (
	"encoding/json"
	"testing"
)

func TestDecodePipeline(t *testing.T) {
	raw := `{
		"statements": [
			{"Tabular": {
				"source": "events",
				"operators": [
					{"Where": {"BinaryExpression": {
						"left": {"Column": "event_type_id"},
						"op": "Equals",
						"right": {"Literal": {"String": "4624"}}
					}}},
					{"Limit": {"Literal": {"Long": 10}}}
				]
			}}
		]
	}`
	tree, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tree.Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(tree.Statements))
	}
	tab := tree.Statements[0].Tabular
	if tab == nil {
		t.Fatal("first statement is not tabular")
	}
	if tab.Source != "events" {
		t.Errorf("source = %q, want events", tab.Source)
	}
	if len(tab.Operators) != 2 {
		t.Fatalf("got %d operators, want 2", len(tab.Operators))
	}

	tag, _, err := tab.Operators[0].Tag()
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if tag != "Where" {
		t.Errorf("first operator tag = %q, want Where", tag)
	}
}

func TestDecodeNonTabularStatement(t *testing.T) {
	tree, err := Decode([]byte(`{"statements":[{"LetBinding":{"name":"x"}}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tree.Statements[0].Tabular != nil {
		t.Error("unknown statement kind should leave Tabular nil")
	}
}

func TestOperatorTagRejectsMultipleKeys(t *testing.T) {
	op := Operator{
		"Where": json.RawMessage(`{}`),
		"Limit": json.RawMessage(`{}`),
	}
	if _, _, err := op.Tag(); err == nil {
		t.Error("want error for operator with two tags")
	}
	if _, _, err := (Operator{}).Tag(); err == nil {
		t.Error("want error for operator with no tag")
	}
}

func TestLiteralNullPresence(t *testing.T) {
	var lit Literal
	if err := json.Unmarshal([]byte(`{"Null": null}`), &lit); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(lit.Null) == 0 {
		t.Error("explicit null payload should be present")
	}

	var empty Literal
	if err := json.Unmarshal([]byte(`{}`), &empty); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(empty.Null) != 0 {
		t.Error("absent null payload should stay empty")
	}
}

func TestParseErrorMessage(t *testing.T) {
	err := &ParseError{Tag: "SyntaxError", Detail: "unexpected token '|' at offset 12"}
	want := "SyntaxError: unexpected token '|' at offset 12"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &ParseError{Tag: "SyntaxError"}
	if bare.Error() != "SyntaxError" {
		t.Errorf("Error() = %q, want bare tag", bare.Error())
	}
}
