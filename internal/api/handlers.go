package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/nrquery/internal/engine"
	"github.com/miradorstack/nrquery/internal/result"
	"github.com/miradorstack/nrquery/internal/stats"
	"github.com/miradorstack/nrquery/internal/utils"
	"github.com/miradorstack/nrquery/internal/weighting"
)

// DefaultDeadNodesSince is the lookback used when a dead-node request names none.
const DefaultDeadNodesSince = "1 day ago"

var errInvalidRequest = errors.New("invalid request")

// QueryService implements QueryServiceServer on top of an engine.Runner.
type QueryService struct {
	logger    *slog.Logger
	runner    *engine.Runner
	latencies *utils.LatencyTracker
	now       func() time.Time
}

// NewQueryService constructs the gRPC facade.
func NewQueryService(logger *slog.Logger, runner *engine.Runner) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		logger:    logger,
		runner:    runner,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}
}

// Query runs {queries: [...]} and returns {run_id, elapsed_ms, index, columns, rows}.
func (s *QueryService) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(req); err != nil {
		return nil, err
	}
	queries, err := stringList(req, "queries")
	if err != nil {
		return nil, toStatus(err)
	}

	start := time.Now()
	run, err := s.runner.Run(ctx, queries...)
	s.observe("Query", time.Since(start))
	if err != nil {
		s.logger.Warn("query failed", slog.Any("error", err))
		return nil, toStatus(err)
	}

	columns := make([]any, 0, len(run.Table.Columns()))
	for _, c := range run.Table.Columns() {
		columns = append(columns, c)
	}
	rows := make([]any, 0, run.Table.Len())
	for _, row := range run.Table.Rows() {
		rows = append(rows, plainRow(row))
	}
	return newStruct(map[string]any{
		"run_id":     run.ID,
		"elapsed_ms": float64(run.Elapsed.Milliseconds()),
		"index":      run.Table.IndexKind().String(),
		"columns":    columns,
		"rows":       rows,
	})
}

// Reduce runs {queries, op, model, series} and returns {run_id, op, model, results}.
// Scalar reducers yield a number per series; elementwise ones a list.
func (s *QueryService) Reduce(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(req); err != nil {
		return nil, err
	}
	queries, err := stringList(req, "queries")
	if err != nil {
		return nil, toStatus(err)
	}
	series, err := stringList(req, "series")
	if err != nil {
		return nil, toStatus(err)
	}
	op, err := stats.ParseOp(stringField(req, "op"))
	if err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", errInvalidRequest, err))
	}

	start := time.Now()
	res, err := s.runner.Stats(ctx, engine.StatsRequest{
		Queries: queries,
		Op:      op,
		Model:   weighting.ParseModel(stringField(req, "model")),
		Series:  series,
	})
	s.observe("Reduce", time.Since(start))
	if err != nil {
		s.logger.Warn("reduce failed", slog.String("op", string(op)), slog.Any("error", err))
		return nil, toStatus(err)
	}

	results := make(map[string]any, len(res.Outputs))
	for name, out := range res.Outputs {
		if op.Scalar() {
			results[name] = plainNumber(out.Value)
			continue
		}
		values := make([]any, len(out.Values))
		for i, v := range out.Values {
			values[i] = plainNumber(v)
		}
		results[name] = values
	}
	return newStruct(map[string]any{
		"run_id":  res.RunID,
		"op":      string(res.Op),
		"model":   res.Model.String(),
		"results": results,
	})
}

// DeadNodes answers {since} with {since, names}. since accepts "N units ago" or RFC3339.
func (s *QueryService) DeadNodes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(req); err != nil {
		return nil, err
	}
	raw := stringField(req, "since")
	if raw == "" {
		raw = DefaultDeadNodesSince
	}
	since, err := utils.ParseRelative(raw, s.now())
	if err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", errInvalidRequest, err))
	}

	start := time.Now()
	names, err := s.runner.DeadNodes(ctx, since)
	s.observe("DeadNodes", time.Since(start))
	if err != nil {
		s.logger.Warn("dead node search failed", slog.Any("error", err))
		return nil, toStatus(err)
	}
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	return newStruct(map[string]any{
		"since": since.UTC().Format(time.RFC3339),
		"names": list,
	})
}

// LatencyP95 returns the p95 request latency across all methods.
func (s *QueryService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *QueryService) ready(req *structpb.Struct) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.runner == nil {
		return status.Error(codes.FailedPrecondition, "runner not configured")
	}
	return nil
}

func (s *QueryService) observe(method string, d time.Duration) {
	if count := s.latencies.Observe(d); count%50 == 0 {
		s.logger.Info("grpc latency",
			slog.String("method", method),
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Uint64("samples", count),
		)
	}
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, engine.ErrEmptyBatch),
		errors.Is(err, result.ErrUnknownColumn),
		errors.Is(err, weighting.ErrDegenerateRange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, result.ErrEmptyResult):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, result.ErrPartialFailure),
		errors.Is(err, result.ErrQueryFailed),
		errors.Is(err, result.ErrUnexpectedShape),
		errors.Is(err, result.ErrMalformedResult):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func stringField(req *structpb.Struct, key string) string {
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// stringList reads key as a list of strings; a lone string is a one-element list.
func stringList(req *structpb.Struct, key string) ([]string, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return []string{kind.StringValue}, nil
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_ListValue:
		out := make([]string, 0, len(kind.ListValue.GetValues()))
		for i, item := range kind.ListValue.GetValues() {
			str, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a string", errInvalidRequest, key, i)
			}
			out = append(out, str.StringValue)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", errInvalidRequest, key)
	}
}

// plainRow converts a table row into structpb-compatible values.
func plainRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch tv := v.(type) {
		case time.Time:
			out[k] = tv.Format(time.RFC3339Nano)
		case float64:
			out[k] = plainNumber(tv)
		default:
			out[k] = v
		}
	}
	return out
}

// plainNumber maps NaN and infinities to null.
func plainNumber(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}
