package handler

import (
	"encoding/json"
	"net/http"
)

// CompileResponse is the success payload of the compile endpoints.
type CompileResponse struct {
	SQL      string   `json:"sql"`
	Warnings []string `json:"warnings,omitempty"`
}

// BatchItem is one entry of a batch compile response. Exactly one of
// the embedded result or Error is set.
type BatchItem struct {
	SQL      string         `json:"sql,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Error    *ErrorResponse `json:"error,omitempty"`
}

// QueryResponse is the payload of the execution endpoint.
type QueryResponse struct {
	SQL      string           `json:"sql"`
	Warnings []string         `json:"warnings,omitempty"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
