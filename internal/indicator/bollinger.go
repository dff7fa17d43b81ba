package indicator

import (
	"fmt"
	"math"

	"github.com/amirphl/rule-backtester/internal/candle"
)

// Bollinger bands around the SMA of close: lower, mid, upper, bandwidth (in
// percent of mid) and %B.
type Bollinger struct {
	Length int
	StdDev float64
}

func (b Bollinger) Name() string { return fmt.Sprintf("BBANDS(%d,%g)", b.Length, b.StdDev) }

func (b Bollinger) Columns() []string {
	return []string{
		fmt.Sprintf("BBL_%d", b.Length),
		fmt.Sprintf("BBM_%d", b.Length),
		fmt.Sprintf("BBU_%d", b.Length),
		fmt.Sprintf("BBB_%d", b.Length),
		fmt.Sprintf("BBP_%d", b.Length),
	}
}

func (b Bollinger) Calculate(t *candle.Table) ([][]float64, error) {
	closes, err := column(t, candle.ColClose)
	if err != nil {
		return nil, err
	}
	mid := CalculateSMA(closes, b.Length)
	std := rollingStd(closes, b.Length)

	n := len(closes)
	lower, upper := nanSeries(n), nanSeries(n)
	width, pct := nanSeries(n), nanSeries(n)
	for i := range closes {
		if math.IsNaN(mid[i]) {
			continue
		}
		lower[i] = mid[i] - b.StdDev*std[i]
		upper[i] = mid[i] + b.StdDev*std[i]
		if mid[i] != 0 {
			width[i] = 100 * (upper[i] - lower[i]) / mid[i]
		}
		if upper[i] != lower[i] {
			pct[i] = (closes[i] - lower[i]) / (upper[i] - lower[i])
		}
	}
	return [][]float64{lower, mid, upper, width, pct}, nil
}
