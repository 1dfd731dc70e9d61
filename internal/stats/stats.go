// Package stats applies reducers independently to every named series of a table.
//
// Sum, Prod and Gradient propagate NaN. Min, Max, Avg, Std and Var ignore NaN
// entries and return NaN only when a series has no usable values.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/nrquery/internal/weighting"
)

// Series maps a series name to its values.
type Series map[string][]float64

// Names returns the series names sorted.
func (s Series) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns a Series limited to the given names; unknown names are ignored.
func (s Series) Select(names ...string) Series {
	if len(names) == 0 {
		return s
	}
	out := make(Series, len(names))
	for _, name := range names {
		if values, ok := s[name]; ok {
			out[name] = values
		}
	}
	return out
}

func scalar(s Series, fn func([]float64) float64) map[string]float64 {
	out := make(map[string]float64, len(s))
	for name, values := range s {
		out[name] = fn(values)
	}
	return out
}

func elementwise(s Series, fn func([]float64) []float64) map[string][]float64 {
	out := make(map[string][]float64, len(s))
	for name, values := range s {
		out[name] = fn(values)
	}
	return out
}

// Sum adds every value of each series.
func Sum(s Series) map[string]float64 {
	return scalar(s, floats.Sum)
}

// Prod multiplies every value of each series.
func Prod(s Series) map[string]float64 {
	return scalar(s, floats.Prod)
}

// Floor rounds every value down.
func Floor(s Series) map[string][]float64 {
	return elementwise(s, func(values []float64) []float64 {
		out := make([]float64, len(values))
		for i, v := range values {
			out[i] = math.Floor(v)
		}
		return out
	})
}

// Gradient returns the numerical gradient with unit spacing: central
// differences inside, one-sided differences at the edges.
func Gradient(s Series) map[string][]float64 {
	return elementwise(s, gradient)
}

func gradient(values []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	switch n {
	case 0:
		return out
	case 1:
		out[0] = math.NaN()
		return out
	}
	out[0] = values[1] - values[0]
	out[n-1] = values[n-1] - values[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (values[i+1] - values[i-1]) / 2
	}
	return out
}

// Min returns the smallest non-NaN value of each series.
func Min(s Series) map[string]float64 {
	return scalar(s, nanMin)
}

// Max returns the largest non-NaN value of each series.
func Max(s Series) map[string]float64 {
	return scalar(s, nanMax)
}

func nanMin(values []float64) float64 {
	min := math.NaN()
	for _, v := range values {
		if !math.IsNaN(v) && (math.IsNaN(min) || v < min) {
			min = v
		}
	}
	return min
}

func nanMax(values []float64) float64 {
	max := math.NaN()
	for _, v := range values {
		if !math.IsNaN(v) && (math.IsNaN(max) || v > max) {
			max = v
		}
	}
	return max
}

// Normalize min-max scales each series into [0,1].
func Normalize(s Series) (map[string][]float64, error) {
	out := make(map[string][]float64, len(s))
	for name, values := range s {
		norm, err := weighting.MinMax(values, 0, 1)
		if err != nil {
			return nil, fmt.Errorf("normalize %q: %w", name, err)
		}
		out[name] = norm
	}
	return out, nil
}

// Avg returns the weighted average of each series using weights from model,
// sized to the series. Linear weighting gives the arithmetic mean.
func Avg(s Series, model weighting.Model) (map[string]float64, error) {
	out := make(map[string]float64, len(s))
	for name, values := range s {
		avg, err := weightedAvg(values, model)
		if err != nil {
			return nil, fmt.Errorf("avg %q (%s): %w", name, model, err)
		}
		out[name] = avg
	}
	return out, nil
}

func weightedAvg(values []float64, model weighting.Model) (float64, error) {
	if len(values) == 0 {
		return math.NaN(), nil
	}
	weights, err := weighting.Weights(model, len(values))
	if err != nil {
		return 0, err
	}
	xs := make([]float64, 0, len(values))
	ws := make([]float64, 0, len(values))
	var total float64
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		xs = append(xs, v)
		ws = append(ws, weights[i])
		total += weights[i]
	}
	if total == 0 {
		return math.NaN(), nil
	}
	return stat.Mean(xs, ws), nil
}

// Var returns the population variance of the non-NaN values of each series.
func Var(s Series) map[string]float64 {
	return scalar(s, nanVar)
}

// Std returns the population standard deviation of the non-NaN values of each series.
func Std(s Series) map[string]float64 {
	return scalar(s, func(values []float64) float64 {
		return math.Sqrt(nanVar(values))
	})
}

func nanVar(values []float64) float64 {
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.PopVariance(xs, nil)
}

// Op names a reducer.
type Op string

const (
	OpSum       Op = "sum"
	OpProd      Op = "prod"
	OpFloor     Op = "floor"
	OpGradient  Op = "gradient"
	OpMin       Op = "min"
	OpMax       Op = "max"
	OpNormalize Op = "normalize"
	OpAvg       Op = "avg"
	OpStd       Op = "std"
	OpVar       Op = "var"
)

// Ops lists every supported reducer.
var Ops = []Op{OpSum, OpProd, OpFloor, OpGradient, OpMin, OpMax, OpNormalize, OpAvg, OpStd, OpVar}

// ParseOp resolves a reducer name.
func ParseOp(name string) (Op, error) {
	op := Op(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Ops {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown reducer %q", name)
}

// Scalar reports whether the reducer yields one number per series.
func (op Op) Scalar() bool {
	switch op {
	case OpFloor, OpGradient, OpNormalize:
		return false
	default:
		return true
	}
}

// Output holds a reducer result for one series: either Value or Values is set.
type Output struct {
	Value  float64
	Values []float64
}

// Reduce dispatches op over s. model only affects OpAvg.
func Reduce(op Op, s Series, model weighting.Model) (map[string]Output, error) {
	var (
		scalars map[string]float64
		arrays  map[string][]float64
		err     error
	)
	switch op {
	case OpSum:
		scalars = Sum(s)
	case OpProd:
		scalars = Prod(s)
	case OpMin:
		scalars = Min(s)
	case OpMax:
		scalars = Max(s)
	case OpStd:
		scalars = Std(s)
	case OpVar:
		scalars = Var(s)
	case OpAvg:
		scalars, err = Avg(s, model)
	case OpFloor:
		arrays = Floor(s)
	case OpGradient:
		arrays = Gradient(s)
	case OpNormalize:
		arrays, err = Normalize(s)
	default:
		return nil, fmt.Errorf("unknown reducer %q", op)
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]Output, len(s))
	for name, v := range scalars {
		out[name] = Output{Value: v}
	}
	for name, v := range arrays {
		out[name] = Output{Values: v}
	}
	return out, nil
}
