package sitepacer

import (
	"math"
	"sort"
)

// Statistics summarises a series of latencies, in seconds.
type Statistics struct {
	Count  int
	Mean   float64
	Stddev float64
	P50    float64
	P95    float64
	P99    float64
}

// CalculateStatistics computes mean, sample standard deviation and
// percentiles. An empty series yields the zero value.
func CalculateStatistics(values []float64) Statistics {
	if len(values) == 0 {
		return Statistics{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return Statistics{
		Count:  len(sorted),
		Mean:   mean(sorted),
		Stddev: sampleStdDev(sorted),
		P50:    sorted[len(sorted)*50/100],
		P95:    sorted[len(sorted)*95/100],
		P99:    sorted[len(sorted)*99/100],
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev uses the n-1 denominator. Fewer than two values give 0.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)-1))
}
