package nerdgraphtest_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miradorstack/nrquery/internal/engine"
	"github.com/miradorstack/nrquery/internal/nerdgraph"
	"github.com/miradorstack/nrquery/internal/nerdgraph/nerdgraphtest"
	"github.com/miradorstack/nrquery/internal/result"
	"github.com/miradorstack/nrquery/internal/stats"
	"github.com/miradorstack/nrquery/internal/weighting"
)

func newRunner(t *testing.T, key string) *engine.Runner {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(nerdgraphtest.NewHandler(nerdgraphtest.Options{
		APIKey:    "secret",
		AccountID: 42,
		Points:    6,
		Step:      time.Minute,
		DeadNodes: []string{"db-1", "db-2"},
		Now:       func() time.Time { return now },
	}))
	t.Cleanup(srv.Close)

	client, err := nerdgraph.NewClient(nerdgraph.Config{
		Endpoint:   srv.URL + "/graphql",
		AccountID:  42,
		APIKey:     key,
		MaxRetries: 0,
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return engine.NewRunner(nil, client)
}

func TestEndToEndTimestampQuery(t *testing.T) {
	runner := newRunner(t, "secret")
	run, err := runner.Run(context.Background(), "SELECT average(cpu) AS 'cpu' FROM SystemSample SINCE 1 hour ago")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Table.Len() != 6 || run.Table.IndexKind() != result.IndexTimestamp {
		t.Fatalf("unexpected table rows=%d kind=%s", run.Table.Len(), run.Table.IndexKind())
	}
	if !run.Table.HasColumn("cpu") {
		t.Fatalf("expected aliased column, got %v", run.Table.Columns())
	}
}

func TestEndToEndMergedStats(t *testing.T) {
	runner := newRunner(t, "secret")
	res, err := runner.Stats(context.Background(), engine.StatsRequest{
		Queries: []string{
			"SELECT average(cpu) AS 'cpu' FROM SystemSample TIMESERIES",
			"SELECT average(cpu) AS 'cpu' FROM SystemSample",
		},
		Op:    stats.OpMax,
		Model: weighting.Linear,
	})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	out, ok := res.Outputs["cpu"]
	if !ok || out.Value < 50 || out.Value > 60 {
		t.Fatalf("unexpected outputs %+v", res.Outputs)
	}
	if len(res.Outputs) != 1 {
		t.Fatalf("time columns should not be reduced: %+v", res.Outputs)
	}
}

func TestEndToEndFailures(t *testing.T) {
	runner := newRunner(t, "secret")
	if _, err := runner.Run(context.Background(), "SELECT FAIL FROM X"); !errors.Is(err, result.ErrQueryFailed) {
		t.Fatalf("expected query failure, got %v", err)
	}

	unauthorized := newRunner(t, "wrong")
	if _, err := unauthorized.Run(context.Background(), "SELECT 1 FROM X"); !errors.Is(err, result.ErrQueryFailed) {
		t.Fatalf("expected unauthorized failure, got %v", err)
	}
}

func TestEndToEndDeadNodes(t *testing.T) {
	runner := newRunner(t, "secret")
	names, err := runner.DeadNodes(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("dead nodes: %v", err)
	}
	if len(names) != 2 || names[0] != "db-1" {
		t.Fatalf("unexpected names %v", names)
	}
}
