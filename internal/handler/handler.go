// Package handler exposes the compiler over HTTP: compile one parse
// tree, compile a batch concurrently, or compile and execute against
// the event store.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/itrimble/SecureWatch-sub004/internal/kql"
	"github.com/itrimble/SecureWatch-sub004/internal/kqltree"
	"github.com/itrimble/SecureWatch-sub004/internal/sqlgen"
)

type Handler struct {
	pool  *pgxpool.Pool // nil when execution is disabled
	table string        // optional source-table override
	log   *zap.Logger
}

func New(pool *pgxpool.Pool, table string, log *zap.Logger) *Handler {
	return &Handler{pool: pool, table: table, log: log}
}

// Register mounts all routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/compile", h.Compile).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/compile/batch", h.CompileBatch).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/query", h.Query).Methods(http.MethodPost)
}

// compileRequest carries either a parse tree or the parser's error
// payload; the parser never produces both.
type compileRequest struct {
	AST   json.RawMessage     `json:"ast,omitempty"`
	Error *kqltree.ParseError `json:"error,omitempty"`
}

type batchRequest struct {
	Queries []compileRequest `json:"queries"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "execution": "disabled"}
	if h.pool != nil {
		status["execution"] = "enabled"
		if err := h.pool.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["execution"] = "unreachable"
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) Compile(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCompileRequest(w, r.Body)
	if !ok {
		return
	}
	res, errResp := h.compileOne(req)
	if errResp != nil {
		writeJSON(w, http.StatusBadRequest, errResp)
		return
	}
	writeJSON(w, http.StatusOK, CompileResponse{SQL: res.SQL, Warnings: res.Warnings})
}

// CompileBatch compiles independent queries concurrently. Items fail
// independently; one bad query never fails the batch.
func (h *Handler) CompileBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Batch has no queries", "")
		return
	}

	items := make([]BatchItem, len(req.Queries))
	g, _ := errgroup.WithContext(r.Context())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, q := range req.Queries {
		i, q := i, q
		g.Go(func() error {
			res, errResp := h.compileOne(q)
			if errResp != nil {
				items[i] = BatchItem{Error: errResp}
				return nil
			}
			items[i] = BatchItem{SQL: res.SQL, Warnings: res.Warnings}
			return nil
		})
	}
	// Batch goroutines report per-item failures through items, never
	// through their return value; a non-nil error here is a bug.
	if err := g.Wait(); err != nil {
		h.log.Error("batch compile", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Batch compilation failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// Query compiles and runs the statement against the event store.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "EXECUTION_DISABLED",
			"Query execution is not configured", "set DATABASE_URL to enable it")
		return
	}
	req, ok := decodeCompileRequest(w, r.Body)
	if !ok {
		return
	}
	res, errResp := h.compileOne(req)
	if errResp != nil {
		writeJSON(w, http.StatusBadRequest, errResp)
		return
	}

	rows, err := h.pool.Query(r.Context(), res.SQL)
	if err != nil {
		h.log.Error("query failed", zap.String("sql", res.SQL), zap.Error(err))
		writeError(w, http.StatusBadGateway, "EXECUTION_ERROR", "Query execution failed", err.Error())
		return
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []map[string]any{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			writeError(w, http.StatusBadGateway, "EXECUTION_ERROR", "Row decode failed", err.Error())
			return
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusBadGateway, "EXECUTION_ERROR", "Query execution failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		SQL:      res.SQL,
		Warnings: res.Warnings,
		Rows:     out,
		RowCount: len(out),
	})
}

func decodeCompileRequest(w http.ResponseWriter, body io.Reader) (compileRequest, bool) {
	var req compileRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
		return req, false
	}
	return req, true
}

// compileOne runs the two compiler stages. Upstream parse errors pass
// through with their detail intact; they are operator-facing.
func (h *Handler) compileOne(req compileRequest) (*sqlgen.Result, *ErrorResponse) {
	if req.Error != nil {
		return nil, &ErrorResponse{Error: "Query did not parse", Code: "PARSE_ERROR", Details: req.Error.Error()}
	}
	if len(req.AST) == 0 {
		return nil, &ErrorResponse{Error: "Request carries neither a parse tree nor a parse error", Code: "INVALID_BODY"}
	}

	tree, err := kqltree.Decode(req.AST)
	if err != nil {
		return nil, &ErrorResponse{Error: "Malformed parse tree", Code: "INVALID_TREE", Details: err.Error()}
	}
	q, err := kql.Normalize(tree, h.log)
	if err != nil {
		if errors.Is(err, kql.ErrNoStatements) || errors.Is(err, kql.ErrNotTabular) || errors.Is(err, kql.ErrNoSource) {
			return nil, &ErrorResponse{Error: "Query has no compilable pipeline", Code: "NORMALIZE_ERROR", Details: err.Error()}
		}
		return nil, &ErrorResponse{Error: "Normalization failed", Code: "NORMALIZE_ERROR", Details: err.Error()}
	}
	if h.table != "" {
		q.Table = h.table
	}
	res, err := sqlgen.Transpile(q)
	if err != nil {
		return nil, &ErrorResponse{Error: "Transpilation failed", Code: "TRANSPILE_ERROR", Details: err.Error()}
	}
	return res, nil
}
