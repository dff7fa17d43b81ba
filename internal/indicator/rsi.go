package indicator

import (
	"fmt"
	"math"

	"github.com/amirphl/rule-backtester/internal/candle"
)

// RSI is Wilder's relative strength index of close.
type RSI struct{ Length int }

func (r RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.Length) }

func (r RSI) Columns() []string { return []string{fmt.Sprintf("RSI_%d", r.Length)} }

func (r RSI) Calculate(t *candle.Table) ([][]float64, error) {
	closes, err := column(t, candle.ColClose)
	if err != nil {
		return nil, err
	}
	return [][]float64{CalculateRSI(closes, r.Length)}, nil
}

// CalculateRSI seeds the average gain and loss with the simple mean of the
// first period changes, then applies Wilder smoothing. The result has the
// length of prices; the first period values are NaN.
func CalculateRSI(prices []float64, period int) []float64 {
	if period <= 0 {
		return nil
	}
	rsi := nanSeries(len(prices))
	if len(prices) <= period {
		return rsi
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	rsi[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss = 0, 0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiValue(avgGain, avgLoss)
	}
	return rsi
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if math.IsNaN(avgGain) || math.IsNaN(avgLoss) {
		return math.NaN()
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
