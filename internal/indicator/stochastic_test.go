package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSeries(t *testing.T, expected, actual []float64, label string) {
	t.Helper()
	require.Equal(t, len(expected), len(actual), "%s length mismatch", label)
	for i := range expected {
		if math.IsNaN(expected[i]) {
			assert.True(t, math.IsNaN(actual[i]), "Expected %s to be NaN at index %d", label, i)
			continue
		}
		// Round to 2 decimal places for comparison
		e := math.Round(expected[i]*100) / 100
		a := math.Round(actual[i]*100) / 100
		assert.InDelta(t, e, a, 0.01, "%s mismatch at index %d", label, i)
	}
}

func TestCalculateStochastic(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name      string
		highs     []float64
		lows      []float64
		closes    []float64
		periodK   int
		smoothK   int
		periodD   int
		expectedK []float64
		expectedD []float64
		expectErr bool
	}{
		{
			name:      "Pine Script full defaults (14, 1, 3)",
			highs:     []float64{15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32},
			lows:      []float64{5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22},
			closes:    []float64{10, 12, 14, 16, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31},
			periodK:   14,
			smoothK:   1,
			periodD:   3,
			expectedK: []float64{nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, 95.65, 95.65, 95.65, 95.65, 95.65},
			expectedD: []float64{nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, 95.65, 95.65, 95.65},
		},
		{
			name:      "With K smoothing (smoothK > 1)",
			highs:     []float64{12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23},
			lows:      []float64{8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
			closes:    []float64{10, 12, 11, 14, 13, 16, 15, 18, 17, 20, 19, 22},
			periodK:   3,
			smoothK:   3,
			periodD:   2,
			expectedK: []float64{nan, nan, nan, nan, 61.11, 72.22, 61.11, 72.22, 61.11, 72.22, 61.11, 72.22},
			expectedD: []float64{nan, nan, nan, nan, nan, 66.67, 66.67, 66.67, 66.67, 66.67, 66.67, 66.67},
		},
		{
			name:      "All decreasing closes",
			highs:     []float64{20, 19, 18, 17, 16, 15, 14, 13},
			lows:      []float64{10, 9, 8, 7, 6, 5, 4, 3},
			closes:    []float64{18, 16, 14, 12, 10, 8, 6, 4},
			periodK:   3,
			smoothK:   1,
			periodD:   2,
			expectedK: []float64{nan, nan, 50.00, 41.67, 33.33, 25.00, 16.67, 8.33},
			expectedD: []float64{nan, nan, nan, 45.83, 37.50, 29.17, 20.83, 12.50},
		},
		{
			name:      "Flat prices",
			highs:     []float64{15, 15, 15, 15, 15, 15, 15},
			lows:      []float64{10, 10, 10, 10, 10, 10, 10},
			closes:    []float64{12, 12, 12, 12, 12, 12, 12},
			periodK:   3,
			smoothK:   1,
			periodD:   2,
			expectedK: []float64{nan, nan, 40.00, 40.00, 40.00, 40.00, 40.00},
			expectedD: []float64{nan, nan, nan, 40.00, 40.00, 40.00, 40.00},
		},
		{
			name:      "No range (high equals low)",
			highs:     []float64{10, 10, 10, 10, 10, 10, 10},
			lows:      []float64{10, 10, 10, 10, 10, 10, 10},
			closes:    []float64{10, 10, 10, 10, 10, 10, 10},
			periodK:   3,
			smoothK:   1,
			periodD:   2,
			expectedK: []float64{nan, nan, 50.00, 50.00, 50.00, 50.00, 50.00},
			expectedD: []float64{nan, nan, nan, 50.00, 50.00, 50.00, 50.00},
		},
		{
			name:      "Extreme values",
			highs:     []float64{100, 200, 300, 400, 500, 600},
			lows:      []float64{1, 2, 3, 4, 5, 6},
			closes:    []float64{50, 150, 30, 350, 50, 500},
			periodK:   3,
			smoothK:   1,
			periodD:   2,
			expectedK: []float64{nan, nan, 9.70, 87.44, 9.46, 83.22},
			expectedD: []float64{nan, nan, nan, 48.57, 48.45, 46.34},
		},
		{
			name:      "Insufficient data",
			highs:     []float64{10, 11},
			lows:      []float64{5, 6},
			closes:    []float64{8, 9},
			periodK:   3,
			smoothK:   1,
			periodD:   2,
			expectedK: []float64{nan, nan},
			expectedD: []float64{nan, nan},
		},
		{
			name:      "Invalid period",
			highs:     []float64{10, 11, 12, 13, 14},
			lows:      []float64{5, 6, 7, 8, 9},
			closes:    []float64{8, 9, 10, 11, 12},
			periodK:   0,
			smoothK:   1,
			periodD:   2,
			expectErr: true,
		},
		{
			name:      "Mismatched lengths",
			highs:     []float64{10, 11},
			lows:      []float64{5},
			closes:    []float64{8, 9},
			periodK:   1,
			smoothK:   1,
			periodD:   1,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CalculateStochastic(tt.highs, tt.lows, tt.closes, tt.periodK, tt.smoothK, tt.periodD)

			if tt.expectErr {
				assert.Error(t, err)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			assertSeries(t, tt.expectedK, result.K, "K")
			assertSeries(t, tt.expectedD, result.D, "D")
		})
	}
}

func TestDefaultStochasticSettings(t *testing.T) {
	k, smooth, d := DefaultStochasticSettings()
	assert.Equal(t, 14, k)
	assert.Equal(t, 3, smooth)
	assert.Equal(t, 3, d)
}
