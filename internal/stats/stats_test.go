package stats

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/nrquery/internal/result"
	"github.com/miradorstack/nrquery/internal/weighting"
)

func TestScenarioSumAndLinearAvg(t *testing.T) {
	records, err := result.DecodeRecords(json.RawMessage(`[{"timestamp":1000,"v":3},{"timestamp":2000,"v":5}]`))
	require.NoError(t, err)
	table, err := result.Normalize(records)
	require.NoError(t, err)

	series := Series(table.Numeric()).Select("v")
	require.Equal(t, 8.0, Sum(series)["v"])

	avg, err := Avg(series, weighting.ParseModel("linear"))
	require.NoError(t, err)
	require.InDelta(t, 4.0, avg["v"], 1e-12)
}

func TestNaNHandling(t *testing.T) {
	nan := math.NaN()
	s := Series{"a": {1, nan, 3}}

	require.True(t, math.IsNaN(Sum(s)["a"]))
	require.True(t, math.IsNaN(Prod(s)["a"]))
	require.Equal(t, 1.0, Min(s)["a"])
	require.Equal(t, 3.0, Max(s)["a"])

	avg, err := Avg(s, weighting.Linear)
	require.NoError(t, err)
	require.InDelta(t, 2.0, avg["a"], 1e-12)

	grad := Gradient(s)["a"]
	require.Len(t, grad, 3)
	require.True(t, math.IsNaN(grad[0]))
	require.InDelta(t, 1.0, grad[1], 1e-12)
	require.True(t, math.IsNaN(grad[2]))

	allNaN := Series{"b": {nan, nan}}
	require.True(t, math.IsNaN(Min(allNaN)["b"]))
	require.True(t, math.IsNaN(Max(allNaN)["b"]))
	require.True(t, math.IsNaN(Var(allNaN)["b"]))
}

func TestGradientEdges(t *testing.T) {
	s := Series{
		"ramp":  {1, 2, 4, 7, 11},
		"one":   {5},
		"empty": {},
	}
	grad := Gradient(s)
	require.Equal(t, []float64{1, 1.5, 2.5, 3.5, 4}, grad["ramp"])
	require.Len(t, grad["one"], 1)
	require.True(t, math.IsNaN(grad["one"][0]))
	require.Empty(t, grad["empty"])
}

func TestFloorAndProd(t *testing.T) {
	s := Series{"x": {1.7, -0.5, 2}}
	require.Equal(t, []float64{1, -1, 2}, Floor(s)["x"])
	require.InDelta(t, -1.7, Prod(s)["x"], 1e-12)
}

func TestNormalizeDegenerate(t *testing.T) {
	_, err := Normalize(Series{"flat": {2, 2, 2}})
	require.ErrorIs(t, err, weighting.ErrDegenerateRange)

	out, err := Normalize(Series{"x": {10, 20, 30}})
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0.5, 1}, out["x"])
}

func TestWeightedAvg(t *testing.T) {
	s := Series{"x": {0, 0, 9}}

	avg, err := Avg(s, weighting.Logarithmic)
	require.NoError(t, err)
	// weights 0, ln2/ln3, 1
	w1 := math.Log(2) / math.Log(3)
	require.InDelta(t, 9/(w1+1), avg["x"], 1e-9)

	avg, err = Avg(s, weighting.BellCurve)
	require.NoError(t, err)
	// the only non-zero values carry zero weight at the tail.
	require.InDelta(t, 0, avg["x"], 1e-12)

	_, err = Avg(Series{"one": {4}}, weighting.Exponential)
	require.ErrorIs(t, err, weighting.ErrDegenerateRange)

	avg, err = Avg(Series{"one": {4}}, weighting.Linear)
	require.NoError(t, err)
	require.Equal(t, 4.0, avg["one"])
}

func TestAvgZeroWeightIsNaN(t *testing.T) {
	nan := math.NaN()
	// exponential weights put zero on the first position only.
	avg, err := Avg(Series{"x": {7, nan}}, weighting.Exponential)
	require.NoError(t, err)
	require.True(t, math.IsNaN(avg["x"]))
}

func TestStdVar(t *testing.T) {
	s := Series{"x": {2, 4, 4, 4, 5, 5, 7, 9}}
	require.InDelta(t, 4.0, Var(s)["x"], 1e-12)
	require.InDelta(t, 2.0, Std(s)["x"], 1e-12)
}

func TestStdVarIgnoreNaN(t *testing.T) {
	nan := math.NaN()
	s := Series{"x": {2, nan, 4, 4, 4, 5, 5, 7, 9}, "one": {3, nan}}
	require.InDelta(t, 4.0, Var(s)["x"], 1e-12)
	require.InDelta(t, 2.0, Std(s)["x"], 1e-12)
	require.Equal(t, 0.0, Var(s)["one"])
	require.Equal(t, 0.0, Std(s)["one"])
}

func TestReduceDispatch(t *testing.T) {
	s := Series{"a": {1, 2, 3}, "b": {4, 5, 6}}

	out, err := Reduce(OpSum, s, weighting.Linear)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 6.0, out["a"].Value)
	require.Equal(t, 15.0, out["b"].Value)

	out, err = Reduce(OpGradient, s, weighting.Linear)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 1, 1}, out["b"].Values)

	_, err = Reduce(Op("median"), s, weighting.Linear)
	require.Error(t, err)

	op, err := ParseOp(" AVG ")
	require.NoError(t, err)
	require.Equal(t, OpAvg, op)
	require.True(t, op.Scalar())
	require.False(t, OpNormalize.Scalar())

	_, err = ParseOp("median")
	require.Error(t, err)
}

func TestSelect(t *testing.T) {
	s := Series{"a": {1}, "b": {2}}
	require.Equal(t, []string{"a", "b"}, s.Names())
	require.Equal(t, Series{"b": {2}}, s.Select("b", "missing"))
	require.Equal(t, s, s.Select())
}

func TestStatsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	values := gen.SliceOf(gen.Float64Range(-1e6, 1e6)).SuchThat(func(v []float64) bool {
		if len(v) < 2 {
			return false
		}
		for _, x := range v[1:] {
			if x != v[0] {
				return true
			}
		}
		return false
	})

	properties.Property("normalize is idempotent", prop.ForAll(
		func(v []float64) bool {
			once, err := Normalize(Series{"x": v})
			if err != nil {
				return false
			}
			twice, err := Normalize(Series{"x": once["x"]})
			if err != nil {
				return false
			}
			for i := range v {
				if math.Abs(once["x"][i]-twice["x"][i]) > 1e-9 {
					return false
				}
			}
			return true
		},
		values,
	))

	properties.Property("linear avg equals arithmetic mean", prop.ForAll(
		func(v []float64) bool {
			avg, err := Avg(Series{"x": v}, weighting.Linear)
			if err != nil {
				return false
			}
			var sum float64
			for _, x := range v {
				sum += x
			}
			mean := sum / float64(len(v))
			return math.Abs(avg["x"]-mean) <= 1e-6*math.Max(1, math.Abs(mean))
		},
		values,
	))

	properties.TestingRun(t)
}
