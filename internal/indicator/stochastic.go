package indicator

import (
	"fmt"
	"math"

	"github.com/amirphl/rule-backtester/internal/candle"
)

// StochasticResult holds the results of stochastic oscillator calculation
type StochasticResult struct {
	K []float64 // %K line values
	D []float64 // %D line values
}

// Stochastic is the slow stochastic oscillator.
type Stochastic struct {
	PeriodK int
	SmoothK int
	PeriodD int
}

func (s Stochastic) Name() string {
	return fmt.Sprintf("STOCH(%d,%d,%d)", s.PeriodK, s.PeriodD, s.SmoothK)
}

// Columns follow the k_d_smooth naming of the charting UI.
func (s Stochastic) Columns() []string {
	props := fmt.Sprintf("_%d_%d_%d", s.PeriodK, s.PeriodD, s.SmoothK)
	return []string{"STOCHk" + props, "STOCHd" + props}
}

func (s Stochastic) Calculate(t *candle.Table) ([][]float64, error) {
	highs, err := column(t, candle.ColHigh)
	if err != nil {
		return nil, err
	}
	lows, err := column(t, candle.ColLow)
	if err != nil {
		return nil, err
	}
	closes, err := column(t, candle.ColClose)
	if err != nil {
		return nil, err
	}
	res, err := CalculateStochastic(highs, lows, closes, s.PeriodK, s.SmoothK, s.PeriodD)
	if err != nil {
		return nil, err
	}
	return [][]float64{res.K, res.D}, nil
}

// CalculateStochastic calculates the Stochastic Oscillator (%K and %D).
// This matches Pine Script's ta.stoch() behavior:
// k = ta.sma(ta.stoch(close, high, low, periodK), smoothK)
// d = ta.sma(k, periodD)
//
// Series shorter than the warm-up come back as all NaN.
func CalculateStochastic(highs, lows, closes []float64, periodK, smoothK, periodD int) (*StochasticResult, error) {
	if periodK <= 0 || smoothK <= 0 || periodD <= 0 {
		return nil, fmt.Errorf("all periods must be positive integers")
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil, fmt.Errorf("high, low and close must have the same length")
	}

	n := len(closes)
	rawStoch := nanSeries(n)

	// %K = 100 * (close - lowest_low) / (highest_high - lowest_low)
	for i := periodK - 1; i < n; i++ {
		startIdx := i - (periodK - 1)
		lowest := lows[startIdx]
		highest := highs[startIdx]
		for j := startIdx + 1; j <= i; j++ {
			lowest = math.Min(lowest, lows[j])
			highest = math.Max(highest, highs[j])
		}

		if highest == lowest {
			rawStoch[i] = 50.0 // Default to middle value when there's no range
		} else {
			rawStoch[i] = 100.0 * (closes[i] - lowest) / (highest - lowest)
		}
	}

	k := CalculateSMA(rawStoch, smoothK)
	return &StochasticResult{K: k, D: CalculateSMA(k, periodD)}, nil
}

// DefaultStochasticSettings returns the default parameters (periodK, smoothK, periodD).
func DefaultStochasticSettings() (periodK, smoothK, periodD int) {
	return 14, 3, 3
}
