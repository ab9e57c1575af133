package billing

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks: k = (n-1)*p/100. An integral rank returns
// that element exactly. values is not modified. An empty slice yields 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	p = math.Max(0, math.Min(100, p))
	k := float64(len(sorted)-1) * (p / 100.0)
	f := math.Floor(k)
	c := math.Ceil(k)
	if f == c {
		return sorted[int(k)]
	}
	d0 := sorted[int(f)]
	d1 := sorted[int(c)]
	return d0 + (d1-d0)*(k-f)
}

// ComputeBaseline summarises a history of daily amounts. It reports false for an
// empty history, in which case no baseline should be written.
//
// Std is the sample standard deviation (n-1) and is exactly 0 for a single sample.
func ComputeBaseline(amounts []float64) (Statistics, bool) {
	if len(amounts) == 0 {
		return Statistics{}, false
	}
	sorted := slices.Clone(amounts)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(amounts, nil)
	if len(amounts) <= 1 {
		std = 0
	}
	return Statistics{
		Mean:        mean,
		Std:         std,
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		P50:         percentileSorted(sorted, 50),
		P95:         percentileSorted(sorted, 95),
		SampleCount: len(amounts),
	}, true
}
