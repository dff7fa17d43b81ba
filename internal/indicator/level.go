package indicator

import (
	"strconv"

	"github.com/amirphl/rule-backtester/internal/candle"
)

// Level is a constant column, LEVEL_<value>, so conditions can compare a
// series against a fixed threshold such as an RSI bound.
type Level struct {
	Value float64
}

func (l Level) Name() string { return "LEVEL(" + l.format() + ")" }

func (l Level) Columns() []string { return []string{"LEVEL_" + l.format()} }

func (l Level) format() string { return strconv.FormatFloat(l.Value, 'f', -1, 64) }

func (l Level) Calculate(t *candle.Table) ([][]float64, error) {
	out := make([]float64, t.Len())
	for i := range out {
		out[i] = l.Value
	}
	return [][]float64{out}, nil
}
