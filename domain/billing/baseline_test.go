package billing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"median interpolated", []float64{10, 20, 30, 40}, 50, 25.0},
		{"zero", []float64{10, 20, 30, 40}, 0, 10.0},
		{"hundred", []float64{10, 20, 30, 40}, 100, 40.0},
		{"single", []float64{5}, 95, 5.0},
		{"exact rank", []float64{1, 2, 3, 4, 5}, 50, 3.0},
		{"unsorted input", []float64{40, 10, 30, 20}, 50, 25.0},
		{"p95", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 95, 9.55},
		{"empty", nil, 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.values, tt.p), 1e-12)
		})
	}
}

func TestPercentileDoesNotMutateInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Percentile(values, 50)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestComputeBaseline(t *testing.T) {
	stats, ok := ComputeBaseline([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.True(t, ok)

	assert.Equal(t, 5.0, stats.Mean)
	assert.InDelta(t, math.Sqrt(32.0/7.0), stats.Std, 1e-12)
	assert.Equal(t, 2.0, stats.Min)
	assert.Equal(t, 9.0, stats.Max)
	assert.Equal(t, 4.5, stats.P50)
	assert.InDelta(t, 8.3, stats.P95, 1e-12)
	assert.Equal(t, 8, stats.SampleCount)
}

func TestComputeBaselineSingleSample(t *testing.T) {
	stats, ok := ComputeBaseline([]float64{42})
	require.True(t, ok)

	assert.Equal(t, 0.0, stats.Std)
	assert.False(t, math.IsNaN(stats.Std))
	assert.Equal(t, 42.0, stats.Mean)
	assert.Equal(t, 42.0, stats.P50)
	assert.Equal(t, 42.0, stats.P95)
	assert.Equal(t, 1, stats.SampleCount)
}

func TestComputeBaselineEmpty(t *testing.T) {
	_, ok := ComputeBaseline(nil)
	assert.False(t, ok)

	_, ok = ComputeBaseline([]float64{})
	assert.False(t, ok)
}

func TestComputeBaselineFlatSeries(t *testing.T) {
	stats, ok := ComputeBaseline([]float64{100, 100, 100, 100, 100})
	require.True(t, ok)
	assert.Equal(t, 0.0, stats.Std)
	assert.Equal(t, 100.0, stats.Mean)
}
