package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRSI_WilderSmoothing(t *testing.T) {
	// changes +2 -1 +2 seed avg gain 4/3 and avg loss 1/3, so RS = 4
	got := CalculateRSI([]float64{44, 46, 45, 47, 46, 48, 50, 49}, 3)
	require.Len(t, got, 8)
	for i := range 3 {
		assert.True(t, math.IsNaN(got[i]), "warm-up bar %d", i)
	}
	want := []float64{80, 61.538462, 77.272727, 85.915493, 66.849315}
	for i, w := range want {
		assert.InDelta(t, w, got[i+3], 1e-6, "bar %d", i+3)
	}
}

func TestCalculateRSI_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		period int
		want   []float64 // NaN marks warm-up
	}{
		{"only gains", []float64{1, 2, 3, 4, 5}, 2, []float64{math.NaN(), math.NaN(), 100, 100, 100}},
		{"only losses", []float64{5, 4, 3, 2}, 2, []float64{math.NaN(), math.NaN(), 0, 0}},
		{"flat counts as no loss", []float64{3, 3, 3, 3}, 2, []float64{math.NaN(), math.NaN(), 100, 100}},
		{"alternating", []float64{1, 2, 1, 2, 1}, 2, []float64{math.NaN(), math.NaN(), 50, 75, 37.5}},
		{"too short", []float64{1, 2}, 2, []float64{math.NaN(), math.NaN()}},
		{"empty", nil, 3, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateRSI(tt.prices, tt.period)
			require.Len(t, got, len(tt.want))
			for i, w := range tt.want {
				if math.IsNaN(w) {
					assert.True(t, math.IsNaN(got[i]), "bar %d", i)
					continue
				}
				assert.InDelta(t, w, got[i], 1e-9, "bar %d", i)
			}
		})
	}

	assert.Nil(t, CalculateRSI([]float64{1, 2, 3}, 0))
}

func BenchmarkCalculateRSI(b *testing.B) {
	prices := make([]float64, 1000)
	for i := range prices {
		prices[i] = 100 + math.Sin(float64(i)/10)*5
	}
	for b.Loop() {
		CalculateRSI(prices, 14)
	}
}
