package extractors

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultThreshold is the z-score used when callers pass a non-positive threshold.
const DefaultThreshold = 2.5

// Point is one value of a series. Time is the zero value for unindexed rows.
type Point struct {
	Position int
	Time     time.Time
	Value    float64
}

// Anomaly captures a point whose z-score reaches the threshold.
type Anomaly struct {
	Position  int
	Time      time.Time
	Value     float64
	Score     float64
	Threshold float64
}

// ZScoreDetector flags points far from the series mean.
type ZScoreDetector struct{}

// NewZScoreDetector creates a z-score anomaly detector.
func NewZScoreDetector() *ZScoreDetector {
	return &ZScoreDetector{}
}

// Detect returns points with |z| >= threshold. NaN values are skipped.
func (d *ZScoreDetector) Detect(series []Point, threshold float64) []Anomaly {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	values := make([]float64, 0, len(series))
	for _, p := range series {
		if !math.IsNaN(p.Value) {
			values = append(values, p.Value)
		}
	}
	if len(values) == 0 {
		return nil
	}
	mean, stdDev := stat.PopMeanStdDev(values, nil)
	if stdDev == 0 {
		stdDev = 0.01
	}

	anomalies := make([]Anomaly, 0)
	for _, p := range series {
		if math.IsNaN(p.Value) {
			continue
		}
		score := (p.Value - mean) / stdDev
		if math.Abs(score) >= threshold {
			anomalies = append(anomalies, Anomaly{
				Position:  p.Position,
				Time:      p.Time,
				Value:     p.Value,
				Score:     score,
				Threshold: threshold,
			})
		}
	}
	return anomalies
}
