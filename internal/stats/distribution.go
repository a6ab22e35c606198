package stats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Distribution summarises a list of values. Every field is nil for an empty list.
type Distribution struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	StdDev *float64 `json:"stdDev"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	P50    *float64 `json:"p50"`
	P90    *float64 `json:"p90"`
	P99    *float64 `json:"p99"`
}

func ptr[T any](v T) *T {
	return &v
}

// Percentile returns the p-th quantile (0 <= p <= 1) of sorted, interpolating
// linearly between the order statistics around index (n-1)*p.
func Percentile(sorted []float64, p float64) *float64 {
	if len(sorted) == 0 {
		return nil
	}

	idx := float64(len(sorted)-1) * p
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return ptr(sorted[lo])
	}

	return ptr(sorted[lo] + (sorted[hi]-sorted[lo])*(idx-float64(lo)))
}

// Describe computes the distribution of values. The standard deviation is the
// population one.
func Describe(values []float64) Distribution {
	d := Distribution{Count: len(values)}
	if len(values) == 0 {
		return d
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mean, std := stat.PopMeanStdDev(sorted, nil)
	d.Mean = ptr(mean)
	d.StdDev = ptr(std)
	d.Min = ptr(floats.Min(sorted))
	d.Max = ptr(floats.Max(sorted))
	d.P50 = Percentile(sorted, 0.5)
	d.P90 = Percentile(sorted, 0.9)
	d.P99 = Percentile(sorted, 0.99)
	return d
}

// mean returns the mean of values, or nil when there are none.
func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	return ptr(stat.Mean(values, nil))
}

// rate returns part/total, or nil when total is zero.
func rate(part, total int) *float64 {
	if total == 0 {
		return nil
	}
	return ptr(float64(part) / float64(total))
}
