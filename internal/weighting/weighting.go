// Package weighting builds per-position weight vectors used to bias averages
// toward particular parts of a series.
package weighting

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Model is a closed set of weighting functions.
type Model uint8

const (
	// Linear weights every position equally.
	Linear Model = iota
	// Exponential grows as exp(i), favouring the most recent positions.
	Exponential
	// Logarithmic grows as ln(i+1).
	Logarithmic
	// BellCurve follows the standard normal density centred on the series.
	BellCurve
)

var (
	// ErrDegenerateRange matches *DegenerateRangeError.
	ErrDegenerateRange = errors.New("degenerate range")
	// ErrInvalidLength is returned for non-positive vector lengths.
	ErrInvalidLength = errors.New("weight vector length must be positive")
)

// DegenerateRangeError reports min-max normalization over a constant input.
type DegenerateRangeError struct {
	Value float64
	Len   int
}

func (e *DegenerateRangeError) Error() string {
	return fmt.Sprintf("cannot normalize %d values with constant range %g", e.Len, e.Value)
}

func (e *DegenerateRangeError) Is(target error) bool { return target == ErrDegenerateRange }

// ParseModel maps a model name to a Model. Unrecognised names select Linear.
func ParseModel(name string) Model {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "exponential", "exp":
		return Exponential
	case "logarithmic", "log":
		return Logarithmic
	case "bellcurve", "bell", "gaussian":
		return BellCurve
	default:
		return Linear
	}
}

func (m Model) String() string {
	switch m {
	case Exponential:
		return "exponential"
	case Logarithmic:
		return "log"
	case BellCurve:
		return "bellcurve"
	default:
		return "linear"
	}
}

// Weights returns a weight vector of length n for the model.
func Weights(m Model, n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	switch m {
	case Exponential:
		return MinMax(exponential(n), 0, 1)
	case Logarithmic:
		return MinMax(logarithmic(n), 0, 1)
	case BellCurve:
		return MinMax(bellCurve(n), 0, 1)
	default:
		// Linear, and any value outside the closed set.
		return ones(n), nil
	}
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// exponential returns exp(i) scaled by exp(-(n-1)) so large n does not overflow.
// Min-max normalization is invariant under that positive scale.
func exponential(n int) []float64 {
	out := make([]float64, n)
	top := float64(n - 1)
	for i := range out {
		out[i] = math.Exp(float64(i) - top)
	}
	return out
}

func logarithmic(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Log(float64(i + 1))
	}
	return out
}

// bellCurve samples the standard normal density at the unit-spaced points
// i - n/2 (integer division), which lie in [-n/2, n/2) and are centred on zero
// for odd n.
func bellCurve(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = distuv.UnitNormal.Prob(float64(i - n/2))
	}
	return out
}

// MinMax rescales values into [lo, hi]. NaN entries are ignored when finding
// the range and stay NaN in the output.
func MinMax(values []float64, lo, hi float64) ([]float64, error) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if math.IsInf(min, 1) || max == min {
		value := min
		if math.IsInf(value, 1) {
			value = math.NaN()
		}
		return nil, &DegenerateRangeError{Value: value, Len: len(values)}
	}

	span := hi - lo
	rng := max - min
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = ((v-min)*span)/rng + lo
	}
	return out, nil
}
