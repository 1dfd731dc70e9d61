package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/miradorstack/nrquery/internal/metrics"
	"github.com/miradorstack/nrquery/internal/stats"
	"github.com/miradorstack/nrquery/internal/weighting"
)

// Scheduler runs reports on their cron schedules and exports scalar outputs as gauges.
type Scheduler struct {
	cron    *cron.Cron
	runner  *Runner
	logger  *slog.Logger
	timeout time.Duration
}

// NewScheduler creates a scheduler; timeout bounds each report run.
func NewScheduler(runner *Runner, logger *slog.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		logger:  logger,
		timeout: timeout,
	}
}

// Add schedules report. Schedules use the standard five-field cron syntax or @every descriptors.
func (s *Scheduler) Add(report Report) error {
	if err := report.validate(); err != nil {
		return err
	}
	_, err := s.cron.AddFunc(report.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.RunReport(ctx, report)
	})
	if err != nil {
		return fmt.Errorf("schedule report %q: %w", report.Name, err)
	}
	s.logger.Info("report scheduled", slog.String("report", report.Name), slog.String("schedule", report.Schedule))
	return nil
}

// Len returns the number of scheduled reports.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running reports until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunReport executes the report batch once and applies every reducer to it.
// Failures are counted and logged, never retried.
func (s *Scheduler) RunReport(ctx context.Context, report Report) error {
	logger := s.logger.With(slog.String("report", report.Name))

	run, err := s.runner.Run(ctx, report.Queries...)
	if err == nil {
		err = s.export(report, run)
	}
	if err != nil {
		metrics.ReportFailed(report.Name)
		logger.Warn("report run failed", slog.Any("error", err))
		return err
	}
	logger.Debug("report exported", slog.String("run_id", run.ID))
	return nil
}

func (s *Scheduler) export(report Report, run *Run) error {
	series, err := SeriesOf(run.Table, report.Series)
	if err != nil {
		return err
	}
	for _, reducer := range report.Reducers {
		op, err := stats.ParseOp(reducer.Op)
		if err != nil {
			return err
		}
		if !op.Scalar() {
			continue
		}
		outputs, err := stats.Reduce(op, series, weighting.ParseModel(reducer.Model))
		if err != nil {
			return fmt.Errorf("%s: %w", reducer.Label(), err)
		}
		for name, out := range outputs {
			if math.IsNaN(out.Value) {
				continue
			}
			metrics.SetReportValue(report.Name, name, reducer.Label(), out.Value)
		}
	}
	return nil
}
