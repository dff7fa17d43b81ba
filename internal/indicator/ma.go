package indicator

import (
	"fmt"
	"math"

	"github.com/amirphl/rule-backtester/internal/candle"
)

// SMA is the simple moving average of close.
type SMA struct{ Length int }

func (s SMA) Name() string { return fmt.Sprintf("SMA(%d)", s.Length) }

func (s SMA) Columns() []string { return []string{fmt.Sprintf("SMA_%d", s.Length)} }

func (s SMA) Calculate(t *candle.Table) ([][]float64, error) {
	closes, err := column(t, candle.ColClose)
	if err != nil {
		return nil, err
	}
	return [][]float64{CalculateSMA(closes, s.Length)}, nil
}

// EMA is the exponential moving average of close, seeded with the SMA of
// the first Length values.
type EMA struct{ Length int }

func (e EMA) Name() string { return fmt.Sprintf("EMA(%d)", e.Length) }

func (e EMA) Columns() []string { return []string{fmt.Sprintf("EMA_%d", e.Length)} }

func (e EMA) Calculate(t *candle.Table) ([][]float64, error) {
	closes, err := column(t, candle.ColClose)
	if err != nil {
		return nil, err
	}
	return [][]float64{CalculateEMA(closes, e.Length)}, nil
}

// CalculateSMA returns the rolling mean over period values. The first
// period-1 values, and any window holding a NaN, are NaN.
func CalculateSMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	nans := 0
	for i, v := range values {
		if math.IsNaN(v) {
			nans++
		} else {
			sum += v
		}
		if i >= period {
			old := values[i-period]
			if math.IsNaN(old) {
				nans--
			} else {
				sum -= old
			}
		}
		if i >= period-1 && nans == 0 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// CalculateEMA returns the EMA with alpha 2/(period+1). Leading NaNs are
// skipped; the seed is the mean of the first period defined values.
func CalculateEMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	seedAt := start + period - 1
	if seedAt >= len(values) {
		return out
	}

	sum := 0.0
	for _, v := range values[start : seedAt+1] {
		sum += v
	}
	prev := sum / float64(period)
	out[seedAt] = prev

	alpha := 2 / float64(period+1)
	for i := seedAt + 1; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// rollingStd is the population standard deviation over period values.
func rollingStd(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		variance := 0.0
		for _, v := range window {
			variance += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out
}
