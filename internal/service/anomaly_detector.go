package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

const defaultZScoreSensitivity = 3.0

// StatisticalDetector flags outliers with simple statistics over a
// trailing series: the newest point is judged against the points before
// it. It backs anomaly rules that do not name a detector of their own.
type StatisticalDetector struct {
	logger *zap.Logger
}

func NewStatisticalDetector(logger *zap.Logger) *StatisticalDetector {
	return &StatisticalDetector{logger: logger}
}

// DetectAnomaly reports whether the last point of the series is anomalous
// under the named algorithm ("z_score" when empty, or "iqr").
func (d *StatisticalDetector) DetectAnomaly(_ context.Context, series []float64, algorithm string, sensitivity float64, metricName string) (bool, error) {
	if len(series) < 2 {
		return false, nil
	}
	latest := series[len(series)-1]
	baseline := series[:len(series)-1]

	switch algorithm {
	case "", "z_score", "zscore":
		if sensitivity <= 0 {
			sensitivity = defaultZScoreSensitivity
		}
		mean, stddev := meanStddev(baseline)
		if stddev == 0 {
			// Flat baseline: any departure is an anomaly.
			return latest != mean, nil
		}
		z := math.Abs(latest-mean) / stddev
		if z > sensitivity {
			d.logger.Debug("anomaly detected",
				zap.String("metric", metricName),
				zap.Float64("zscore", z),
				zap.Float64("sensitivity", sensitivity),
			)
			return true, nil
		}
		return false, nil
	case "iqr":
		if sensitivity <= 0 {
			sensitivity = 1.5
		}
		q1, q3 := quartiles(baseline)
		iqr := q3 - q1
		return latest < q1-sensitivity*iqr || latest > q3+sensitivity*iqr, nil
	default:
		return false, fmt.Errorf("unknown anomaly algorithm %q", algorithm)
	}
}

func meanStddev(series []float64) (float64, float64) {
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))

	var sq float64
	for _, v := range series {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(series)))
}

func quartiles(series []float64) (float64, float64) {
	sorted := make([]float64, len(series))
	copy(sorted, series)
	sort.Float64s(sorted)
	return percentile(sorted, 0.25), percentile(sorted, 0.75)
}

// percentile interpolates linearly between the two nearest ranks. The
// input must already be sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
