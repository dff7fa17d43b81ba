package indicator

import (
	"fmt"
	"math"

	"github.com/amirphl/rule-backtester/internal/candle"
)

// MACD is the fast minus slow EMA of close, its signal EMA and the
// histogram between them.
type MACD struct {
	Fast   int
	Slow   int
	Signal int
}

func (m MACD) Name() string { return fmt.Sprintf("MACD(%d,%d,%d)", m.Fast, m.Slow, m.Signal) }

func (m MACD) Columns() []string {
	props := fmt.Sprintf("_%d_%d_%d", m.Fast, m.Slow, m.Signal)
	return []string{"MACD" + props, "MACDh" + props, "MACDs" + props}
}

func (m MACD) Calculate(t *candle.Table) ([][]float64, error) {
	closes, err := column(t, candle.ColClose)
	if err != nil {
		return nil, err
	}
	fast := CalculateEMA(closes, m.Fast)
	slow := CalculateEMA(closes, m.Slow)

	n := len(closes)
	line := nanSeries(n)
	for i := range line {
		if !math.IsNaN(fast[i]) && !math.IsNaN(slow[i]) {
			line[i] = fast[i] - slow[i]
		}
	}
	signal := CalculateEMA(line, m.Signal)
	hist := nanSeries(n)
	for i := range hist {
		if !math.IsNaN(line[i]) && !math.IsNaN(signal[i]) {
			hist[i] = line[i] - signal[i]
		}
	}
	return [][]float64{line, hist, signal}, nil
}
