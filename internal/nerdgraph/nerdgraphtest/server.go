// Package nerdgraphtest serves a synthetic NerdGraph endpoint for local
// development and end-to-end tests.
package nerdgraphtest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var aliasPattern = regexp.MustCompile(`(?i)\bAS\s+'((?:[^'\\]|\\.)*)'`)

// Options shapes the synthetic responses.
type Options struct {
	APIKey    string
	AccountID int64
	Points    int
	Step      time.Duration
	DeadNodes []string
	Now       func() time.Time
	Logger    *slog.Logger
}

func (o *Options) withDefaults() {
	if o.Points <= 0 {
		o.Points = 12
	}
	if o.Step <= 0 {
		o.Step = 5 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// NewHandler answers NRQL and entity-search requests. NRQL containing
// TIMESERIES yields interval rows; anything else yields timestamped rows.
// A query containing FAIL produces a GraphQL error.
func NewHandler(opts Options) http.Handler {
	opts.withDefaults()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		serveGraphQL(opts, w, r)
	})
	return logRequests(opts.Logger, mux)
}

func serveGraphQL(opts Options, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if opts.APIKey != "" && r.Header.Get("API-Key") != opts.APIKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrors(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if nrql, ok := req.Variables["nrql"].(string); ok {
		if opts.AccountID != 0 {
			id, _ := req.Variables["accountId"].(float64)
			if int64(id) != opts.AccountID {
				writeErrors(w, fmt.Sprintf("account %v not accessible", req.Variables["accountId"]))
				return
			}
		}
		if strings.Contains(nrql, "FAIL") {
			writeErrors(w, "NRQL Syntax Error")
			return
		}
		writeJSON(w, map[string]any{
			"data": map[string]any{"actor": map[string]any{"account": map[string]any{"nrql": map[string]any{
				"results": nrqlRows(opts, nrql),
			}}}},
		})
		return
	}

	if _, ok := req.Variables["query"].(string); ok {
		entities := make([]map[string]any, len(opts.DeadNodes))
		for i, name := range opts.DeadNodes {
			entities[i] = map[string]any{"name": name, "guid": fmt.Sprintf("MOCK-%d", i+1)}
		}
		writeJSON(w, map[string]any{
			"data": map[string]any{"actor": map[string]any{"entitySearch": map[string]any{"results": map[string]any{
				"entities": entities,
			}}}},
		})
		return
	}

	writeErrors(w, "unsupported query")
}

// nrqlRows generates a deterministic wave for each aliased column.
func nrqlRows(opts Options, nrql string) []map[string]any {
	columns := []string{"value"}
	if matches := aliasPattern.FindAllStringSubmatch(nrql, -1); len(matches) > 0 {
		columns = columns[:0]
		for _, m := range matches {
			columns = append(columns, strings.ReplaceAll(m[1], `\'`, "'"))
		}
	}

	timeseries := strings.Contains(strings.ToUpper(nrql), "TIMESERIES")
	end := opts.Now().Truncate(opts.Step)
	start := end.Add(-time.Duration(opts.Points) * opts.Step)

	rows := make([]map[string]any, opts.Points)
	for i := range rows {
		at := start.Add(time.Duration(i) * opts.Step)
		row := make(map[string]any, len(columns)+2)
		if timeseries {
			row["beginTimeSeconds"] = at.Unix()
			row["endTimeSeconds"] = at.Add(opts.Step).Unix()
		} else {
			row["timestamp"] = at.UnixMilli()
		}
		for j, c := range columns {
			row[c] = math.Round((50+10*math.Sin(float64(i+j)))*100) / 100
		}
		rows[i] = row
	}
	return rows
}

func writeErrors(w http.ResponseWriter, messages ...string) {
	errs := make([]map[string]any, len(messages))
	for i, m := range messages {
		errs[i] = map[string]any{"message": m}
	}
	writeJSON(w, map[string]any{"data": nil, "errors": errs})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Debug("mock request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
