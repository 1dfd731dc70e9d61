package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/nrquery/internal/engine"
	"github.com/miradorstack/nrquery/internal/metrics"
	"github.com/miradorstack/nrquery/internal/result"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeExecutor struct {
	bodies map[string]string
	since  time.Time
}

func (f *fakeExecutor) Execute(_ context.Context, nrql string) result.RawResult {
	body, ok := f.bodies[nrql]
	if !ok {
		return result.RawResult{Query: nrql, StatusCode: http.StatusBadRequest}
	}
	return result.RawResult{Query: nrql, Success: true, StatusCode: http.StatusOK, Body: []byte(body)}
}

func (f *fakeExecutor) ExecuteBatch(ctx context.Context, queries []string) []result.RawResult {
	out := make([]result.RawResult, 0, len(queries))
	for _, q := range queries {
		out = append(out, f.Execute(ctx, q))
	}
	return out
}

func (f *fakeExecutor) DeadNodes(_ context.Context, since time.Time) result.RawResult {
	f.since = since
	body := `{"data":{"actor":{"entitySearch":{"results":{"entities":[{"name":"db-1"},{"name":"db-2"}]}}}}}`
	return result.RawResult{Query: "dead", Success: true, Body: []byte(body)}
}

func newTestServer(t *testing.T) (*Server, *fakeExecutor, *gin.Engine) {
	t.Helper()
	fake := &fakeExecutor{bodies: map[string]string{
		"points": `{"data":{"actor":{"account":{"nrql":{"results":[{"timestamp":1000,"v":3},{"timestamp":2000,"v":5}]}}}}}`,
		"empty":  `{"data":{"actor":{"account":{"nrql":{"results":[]}}}}}`,
	}}
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	srv := NewServer("", engine.NewRunner(nil, fake), reg, nil)
	return srv, fake, srv.routes()
}

func do(t *testing.T, r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	_, _, r := newTestServer(t)
	w := do(t, r, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if decode(t, w)["status"] != "ok" {
		t.Fatalf("unexpected health body %s", w.Body.String())
	}
}

func TestQueryEndpointJSON(t *testing.T) {
	_, _, r := newTestServer(t)
	w := do(t, r, http.MethodPost, "/api/query", `{"queries":["points"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d body=%s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["row_count"] != float64(2) || body["index_kind"] != "timestamp" {
		t.Fatalf("unexpected body %v", body)
	}
	rows := body["rows"].([]any)
	if rows[1].(map[string]any)["v"] != float64(5) {
		t.Fatalf("unexpected rows %v", rows)
	}
	index := body["index"].([]any)
	if index[0] != "1970-01-01T00:00:01Z" {
		t.Fatalf("unexpected index %v", index)
	}
}

func TestQueryEndpointCSV(t *testing.T) {
	_, _, r := newTestServer(t)
	w := do(t, r, http.MethodPost, "/api/query?format=csv", `{"queries":["points"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("csv status = %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "index,") || !strings.HasPrefix(lines[1], "1970-01-01T00:00:01Z,") {
		t.Fatalf("unexpected csv %q", w.Body.String())
	}
}

func TestQueryEndpointErrors(t *testing.T) {
	_, _, r := newTestServer(t)
	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{`, http.StatusBadRequest},
		{"missing queries", `{}`, http.StatusBadRequest},
		{"empty batch", `{"queries":[]}`, http.StatusBadRequest},
		{"empty result", `{"queries":["empty"]}`, http.StatusUnprocessableEntity},
		{"failed query", `{"queries":["points","missing"]}`, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/query", tc.body)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, _, r := newTestServer(t)
	w := do(t, r, http.MethodPost, "/api/stats", `{"queries":["points"],"op":"avg","model":"linear"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d body=%s", w.Code, w.Body.String())
	}
	results := decode(t, w)["results"].(map[string]any)
	if results["v"] != float64(4) {
		t.Fatalf("unexpected results %v", results)
	}

	w = do(t, r, http.MethodPost, "/api/stats", `{"queries":["points"],"op":"floor"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("floor status = %d", w.Code)
	}
	floor := decode(t, w)["results"].(map[string]any)["v"].([]any)
	if len(floor) != 2 || floor[0] != float64(3) {
		t.Fatalf("unexpected floor %v", floor)
	}

	if w := do(t, r, http.MethodPost, "/api/stats", `{"queries":["points"],"op":"mode"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown op status = %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/stats", `{"queries":["points"],"op":"sum","series":["x"]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown series status = %d", w.Code)
	}
}

func TestDeadNodesEndpoint(t *testing.T) {
	srv, fake, r := newTestServer(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return now }

	w := do(t, r, http.MethodGet, "/api/deadnodes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("dead nodes status = %d", w.Code)
	}
	if decode(t, w)["count"] != float64(2) || !fake.since.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("unexpected response %s since=%v", w.Body.String(), fake.since)
	}

	w = do(t, r, http.MethodGet, "/api/deadnodes?since=2+hours+ago", "")
	if w.Code != http.StatusOK || !fake.since.Equal(now.Add(-2*time.Hour)) {
		t.Fatalf("unexpected since handling: %d %v", w.Code, fake.since)
	}

	if w := do(t, r, http.MethodGet, "/api/deadnodes?since=not+a+date+at+all", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, r := newTestServer(t)
	metrics.ObserveCache(true)
	w := do(t, r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "nrquery_cache_requests_total") {
		t.Fatalf("unexpected metrics response %d", w.Code)
	}
}
