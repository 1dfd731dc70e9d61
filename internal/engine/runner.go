package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/nrquery/internal/result"
	"github.com/miradorstack/nrquery/internal/sample"
	"github.com/miradorstack/nrquery/internal/stats"
	"github.com/miradorstack/nrquery/internal/weighting"
)

// ErrEmptyBatch is returned when a run is requested without any query.
var ErrEmptyBatch = errors.New("query batch is empty")

// Executor is the transport the runner depends on.
type Executor interface {
	Execute(ctx context.Context, nrql string) result.RawResult
	ExecuteBatch(ctx context.Context, queries []string) []result.RawResult
	DeadNodes(ctx context.Context, since time.Time) result.RawResult
}

// Run is one normalized query execution.
type Run struct {
	ID      string
	Queries []string
	Table   *result.Table
	Elapsed time.Duration
}

// Runner turns queries into tables, samples and reducer outputs.
type Runner struct {
	logger *slog.Logger
	exec   Executor
}

// NewRunner constructs a Runner.
func NewRunner(logger *slog.Logger, exec Executor) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, exec: exec}
}

// Run executes the queries in order. A single query is normalized directly;
// several are merged and fail together if any one fails.
func (r *Runner) Run(ctx context.Context, queries ...string) (*Run, error) {
	if len(queries) == 0 {
		return nil, ErrEmptyBatch
	}
	if r.exec == nil {
		return nil, fmt.Errorf("query executor not configured")
	}

	run := &Run{ID: uuid.NewString(), Queries: append([]string(nil), queries...)}
	logger := r.logger.With(slog.String("run_id", run.ID), slog.Int("queries", len(queries)))

	if len(queries) == 1 {
		raw := r.exec.Execute(ctx, queries[0])
		table, err := raw.Table()
		if err != nil {
			logger.Warn("query run failed", slog.Any("error", err))
			return nil, err
		}
		run.Table = table
		run.Elapsed = raw.Elapsed
	} else {
		merged, err := result.Merge(r.exec.ExecuteBatch(ctx, queries))
		if err != nil {
			logger.Warn("query run failed", slog.Any("error", err))
			return nil, err
		}
		run.Table = merged.Table
		run.Elapsed = merged.Elapsed
	}

	logger.Debug("query run complete",
		slog.Int("rows", run.Table.Len()),
		slog.String("index", run.Table.IndexKind().String()),
		slog.Duration("elapsed", run.Elapsed),
	)
	return run, nil
}

// Sample runs query and binds its metric column.
func (r *Runner) Sample(ctx context.Context, metric string, owner any, query string) (*sample.Sample, error) {
	run, err := r.Run(ctx, query)
	if err != nil {
		return nil, err
	}
	return sample.New(metric, owner, run.Table)
}

// StatsRequest asks for one reducer over the numeric series of a run.
// An empty Series selects every numeric column except time columns.
type StatsRequest struct {
	Queries []string
	Op      stats.Op
	Model   weighting.Model
	Series  []string
}

// StatsResult holds reducer outputs keyed by series name.
type StatsResult struct {
	RunID   string
	Op      stats.Op
	Model   weighting.Model
	Outputs map[string]stats.Output
}

func (r *Runner) Stats(ctx context.Context, req StatsRequest) (*StatsResult, error) {
	run, err := r.Run(ctx, req.Queries...)
	if err != nil {
		return nil, err
	}
	series, err := SeriesOf(run.Table, req.Series)
	if err != nil {
		return nil, err
	}
	outputs, err := stats.Reduce(req.Op, series, req.Model)
	if err != nil {
		return nil, err
	}
	return &StatsResult{RunID: run.ID, Op: req.Op, Model: req.Model, Outputs: outputs}, nil
}

// SeriesOf extracts named numeric columns from table.
func SeriesOf(table *result.Table, names []string) (stats.Series, error) {
	if len(names) == 0 {
		series := stats.Series{}
		for name, values := range table.Numeric() {
			if !result.IsTimeColumn(name) {
				series[name] = values
			}
		}
		return series, nil
	}
	series := make(stats.Series, len(names))
	for _, name := range names {
		values, err := table.Column(name)
		if err != nil {
			return nil, err
		}
		series[name] = values
	}
	return series, nil
}

// DeadNodes lists the names of entities that stopped reporting after since.
func (r *Runner) DeadNodes(ctx context.Context, since time.Time) ([]string, error) {
	if r.exec == nil {
		return nil, fmt.Errorf("query executor not configured")
	}
	raw := r.exec.DeadNodes(ctx, since)
	entities, err := raw.Entities()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		v, ok := e.Get("name")
		if !ok || v.IsNull() {
			continue
		}
		names = append(names, v.Text())
	}
	return names, nil
}
