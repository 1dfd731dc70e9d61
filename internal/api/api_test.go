package api

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/nrquery/internal/config"
	"github.com/miradorstack/nrquery/internal/engine"
	"github.com/miradorstack/nrquery/internal/result"
)

type fakeExecutor struct {
	bodies map[string]string
	since  time.Time
}

func (f *fakeExecutor) Execute(_ context.Context, nrql string) result.RawResult {
	body, ok := f.bodies[nrql]
	if !ok {
		return result.RawResult{Query: nrql, StatusCode: http.StatusBadRequest}
	}
	return result.RawResult{Query: nrql, Success: true, StatusCode: http.StatusOK, Body: []byte(body), Elapsed: 3 * time.Millisecond}
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
	body := `{"data":{"actor":{"entitySearch":{"results":{"entities":[{"name":"web-1"}]}}}}}`
	return result.RawResult{Query: "dead", Success: true, Body: []byte(body)}
}

func newService(t *testing.T) (*QueryService, *fakeExecutor) {
	t.Helper()
	fake := &fakeExecutor{bodies: map[string]string{
		"points": `{"data":{"actor":{"account":{"nrql":{"results":[{"timestamp":1000,"v":3},{"timestamp":2000,"v":5}]}}}}}`,
		"flat":   `{"data":{"actor":{"account":{"nrql":{"results":[{"v":2},{"v":2}]}}}}}`,
	}}
	return NewQueryService(nil, engine.NewRunner(nil, fake)), fake
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestQueryReturnsRows(t *testing.T) {
	svc, _ := newService(t)
	resp, err := svc.Query(context.Background(), mustStruct(t, map[string]any{"queries": []any{"points"}}))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	out := resp.AsMap()
	if out["index"] != "timestamp" || out["elapsed_ms"] != float64(3) {
		t.Fatalf("unexpected response %v", out)
	}
	rows := out["rows"].([]any)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	first := rows[0].(map[string]any)
	if first["v"] != float64(3) || first["index"] != "1970-01-01T00:00:01Z" {
		t.Fatalf("unexpected first row %v", first)
	}
}

func TestQueryErrorCodes(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *structpb.Struct
		code codes.Code
	}{
		{"nil request", nil, codes.InvalidArgument},
		{"no queries", mustStruct(t, map[string]any{}), codes.InvalidArgument},
		{"bad list", mustStruct(t, map[string]any{"queries": []any{1.0}}), codes.InvalidArgument},
		{"failed query", mustStruct(t, map[string]any{"queries": "missing"}), codes.FailedPrecondition},
		{"partial batch", mustStruct(t, map[string]any{"queries": []any{"points", "missing"}}), codes.FailedPrecondition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Query(ctx, tc.req)
			if status.Code(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestReduce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	resp, err := svc.Reduce(ctx, mustStruct(t, map[string]any{"queries": "points", "op": "avg", "model": "linear"}))
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	out := resp.AsMap()
	results := out["results"].(map[string]any)
	if results["v"] != float64(4) || out["model"] != "linear" || out["op"] != "avg" {
		t.Fatalf("unexpected reduce response %v", out)
	}

	resp, err = svc.Reduce(ctx, mustStruct(t, map[string]any{"queries": "points", "op": "gradient", "series": []any{"v"}}))
	if err != nil {
		t.Fatalf("gradient: %v", err)
	}
	grad := resp.AsMap()["results"].(map[string]any)["v"].([]any)
	if len(grad) != 2 || grad[0] != float64(2) || grad[1] != float64(2) {
		t.Fatalf("unexpected gradient %v", grad)
	}

	if _, err := svc.Reduce(ctx, mustStruct(t, map[string]any{"queries": "points", "op": "median"})); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid op, got %v", err)
	}
	if _, err := svc.Reduce(ctx, mustStruct(t, map[string]any{"queries": "flat", "op": "normalize"})); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected degenerate range, got %v", err)
	}
	if _, err := svc.Reduce(ctx, mustStruct(t, map[string]any{"queries": "points", "op": "sum", "series": "nope"})); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected unknown column, got %v", err)
	}
}

func TestDeadNodesDefaultsToOneDay(t *testing.T) {
	svc, fake := newService(t)
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	resp, err := svc.DeadNodes(context.Background(), mustStruct(t, map[string]any{}))
	if err != nil {
		t.Fatalf("dead nodes: %v", err)
	}
	names := resp.AsMap()["names"].([]any)
	if len(names) != 1 || names[0] != "web-1" {
		t.Fatalf("unexpected names %v", names)
	}
	if !fake.since.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected since %v", fake.since)
	}

	if _, err := svc.DeadNodes(context.Background(), mustStruct(t, map[string]any{"since": "not a date at all"})); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid since, got %v", err)
	}
}

func TestServerServesQueryService(t *testing.T) {
	svc, _ := newService(t)
	srv, err := NewServer(config.ServerConfig{GRPCAddress: "127.0.0.1:0", GracefulTimeout: time.Second}, svc)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = srv.Start() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), srv.GracefulTimeout())
		defer cancel()
		srv.Shutdown(ctx)
	}()

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: QueryServiceName})
	if err != nil || health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected health %v %v", health, err)
	}

	out := new(structpb.Struct)
	in := mustStruct(t, map[string]any{"queries": "points", "op": "sum"})
	if err := conn.Invoke(ctx, "/"+QueryServiceName+"/Reduce", in, out); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := out.AsMap()["results"].(map[string]any)["v"]; got != float64(8) {
		t.Fatalf("unexpected sum %v", got)
	}
}

func TestShutdownReleasesUnstartedListener(t *testing.T) {
	srv, err := NewServer(config.ServerConfig{GRPCAddress: "127.0.0.1:0", GracefulTimeout: time.Second}, NewQueryService(nil, nil))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	addr := srv.Address()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("address %s still bound after shutdown: %v", addr, err)
	}
	_ = lis.Close()
}
