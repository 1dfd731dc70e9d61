package sample

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miradorstack/nrquery/internal/result"
	"github.com/miradorstack/nrquery/internal/weighting"
)

func table(t *testing.T, body string) *result.Table {
	t.Helper()
	records, err := result.DecodeRecords(json.RawMessage(body))
	require.NoError(t, err)
	tbl, err := result.Normalize(records)
	require.NoError(t, err)
	return tbl
}

func TestSampleStatistics(t *testing.T) {
	tbl := table(t, `[{"timestamp":1000,"v":3},{"timestamp":2000,"v":5}]`)
	s, err := New("v", "host-a", tbl)
	require.NoError(t, err)

	require.Equal(t, "v", s.Metric())
	require.Equal(t, "host-a", s.Owner())
	require.Same(t, tbl, s.Table())
	require.Equal(t, 8.0, s.Sum())
	require.Equal(t, 15.0, s.Prod())
	require.Equal(t, 3.0, s.Min())
	require.Equal(t, 5.0, s.Max())
	require.InDelta(t, 1.0, s.Std(), 1e-12)
	require.InDelta(t, 1.0, s.Var(), 1e-12)
	require.Equal(t, []float64{2, 2}, s.Gradient())

	avg, err := s.Avg(weighting.Linear)
	require.NoError(t, err)
	require.InDelta(t, 4.0, avg, 1e-12)

	avg, err = s.Avg(weighting.Exponential)
	require.NoError(t, err)
	require.InDelta(t, 5.0, avg, 1e-12)

	norm, err := s.Normalize()
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1}, norm)
}

func TestSampleUnknownColumn(t *testing.T) {
	tbl := table(t, `[{"v":1}]`)
	_, err := New("missing", nil, tbl)
	require.True(t, errors.Is(err, result.ErrUnknownColumn))
}

func TestSampleIsolatedFromCaller(t *testing.T) {
	values := []float64{1, 2}
	s := FromValues("x", nil, values)
	values[0] = 100
	require.Equal(t, []float64{1, 2}, s.Values())

	out := s.Values()
	out[1] = 100
	require.Equal(t, 3.0, s.Sum())
}

func TestResample(t *testing.T) {
	s := FromValues("x", nil, []float64{1, 3, math.NaN(), math.NaN(), 10})
	out, err := s.Resample(2)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, 2.0, out[0])
	require.True(t, math.IsNaN(out[1]))
	require.Equal(t, 10.0, out[2])

	_, err = s.Resample(0)
	require.Error(t, err)
}

func TestAnomaliesCarryIndexTime(t *testing.T) {
	tbl := table(t, `[
		{"timestamp":1000,"v":1},{"timestamp":2000,"v":1},{"timestamp":3000,"v":1},
		{"timestamp":4000,"v":1},{"timestamp":5000,"v":1},{"timestamp":6000,"v":1},
		{"timestamp":7000,"v":1},{"timestamp":8000,"v":1},{"timestamp":9000,"v":50}
	]`)
	s, err := New("v", nil, tbl)
	require.NoError(t, err)

	anomalies := s.Anomalies(0)
	require.Len(t, anomalies, 1)
	require.Equal(t, 8, anomalies[0].Position)
	require.True(t, anomalies[0].Time.Equal(time.UnixMilli(9000)))
}
