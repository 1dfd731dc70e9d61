// Package sample binds one metric's series to the statistics engine.
package sample

import (
	"fmt"
	"math"

	"github.com/miradorstack/nrquery/internal/extractors"
	"github.com/miradorstack/nrquery/internal/result"
	"github.com/miradorstack/nrquery/internal/stats"
	"github.com/miradorstack/nrquery/internal/weighting"
)

// Sample is a named metric series with the table it came from.
type Sample struct {
	metric string
	owner  any
	table  *result.Table
	values []float64
}

// New binds column metric of table. owner is carried for callers and never inspected.
func New(metric string, owner any, table *result.Table) (*Sample, error) {
	if table == nil {
		return nil, fmt.Errorf("sample %q: nil table", metric)
	}
	values, err := table.Column(metric)
	if err != nil {
		return nil, fmt.Errorf("sample %q: %w", metric, err)
	}
	return &Sample{metric: metric, owner: owner, table: table, values: values}, nil
}

// FromValues builds a Sample without a backing table.
func FromValues(metric string, owner any, values []float64) *Sample {
	return &Sample{metric: metric, owner: owner, values: append([]float64(nil), values...)}
}

func (s *Sample) Metric() string { return s.metric }

func (s *Sample) Owner() any { return s.owner }

// Table returns the backing table, nil for samples built from raw values.
func (s *Sample) Table() *result.Table { return s.table }

func (s *Sample) Len() int { return len(s.values) }

// Values returns a copy of the series.
func (s *Sample) Values() []float64 { return append([]float64(nil), s.values...) }

// Series exposes the sample under its metric name for the reducers.
func (s *Sample) Series() stats.Series {
	return stats.Series{s.metric: s.Values()}
}

func (s *Sample) Sum() float64 { return stats.Sum(s.Series())[s.metric] }

func (s *Sample) Prod() float64 { return stats.Prod(s.Series())[s.metric] }

func (s *Sample) Min() float64 { return stats.Min(s.Series())[s.metric] }

func (s *Sample) Max() float64 { return stats.Max(s.Series())[s.metric] }

func (s *Sample) Std() float64 { return stats.Std(s.Series())[s.metric] }

func (s *Sample) Var() float64 { return stats.Var(s.Series())[s.metric] }

func (s *Sample) Floor() []float64 { return stats.Floor(s.Series())[s.metric] }

func (s *Sample) Gradient() []float64 { return stats.Gradient(s.Series())[s.metric] }

// Avg returns the average weighted by model.
func (s *Sample) Avg(model weighting.Model) (float64, error) {
	out, err := stats.Avg(s.Series(), model)
	if err != nil {
		return 0, err
	}
	return out[s.metric], nil
}

// Normalize min-max scales the series into [0,1].
func (s *Sample) Normalize() ([]float64, error) {
	out, err := stats.Normalize(s.Series())
	if err != nil {
		return nil, err
	}
	return out[s.metric], nil
}

// Resample averages consecutive buckets of size points, ignoring NaN. A bucket
// with no usable values is NaN; the last bucket may be short.
func (s *Sample) Resample(size int) ([]float64, error) {
	if size <= 0 {
		return nil, fmt.Errorf("resample %q: bucket size must be positive, got %d", s.metric, size)
	}
	out := make([]float64, 0, (len(s.values)+size-1)/size)
	for start := 0; start < len(s.values); start += size {
		end := start + size
		if end > len(s.values) {
			end = len(s.values)
		}
		var sum, n float64
		for _, v := range s.values[start:end] {
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
		if n == 0 {
			out = append(out, math.NaN())
			continue
		}
		out = append(out, sum/n)
	}
	return out, nil
}

// Anomalies runs the z-score detector over the series, attaching the table
// time index when there is one.
func (s *Sample) Anomalies(threshold float64) []extractors.Anomaly {
	var index []result.IndexValue
	if s.table != nil {
		index, _ = s.table.Index()
	}
	points := make([]extractors.Point, len(s.values))
	for i, v := range s.values {
		points[i] = extractors.Point{Position: i, Value: v}
		if i < len(index) && index[i].Valid {
			points[i].Time = index[i].Time
		}
	}
	return extractors.NewZScoreDetector().Detect(points, threshold)
}
