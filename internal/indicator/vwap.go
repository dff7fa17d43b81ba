package indicator

import (
	"fmt"
	"time"

	"github.com/amirphl/rule-backtester/internal/candle"
)

// VWAP is the volume weighted typical price, accumulated from the start of
// the series ("start") or reset at each UTC day ("D") or ISO week ("W").
type VWAP struct{ Anchor string }

func validAnchor(a string) bool {
	switch a {
	case "start", "D", "W":
		return true
	}
	return false
}

func (v VWAP) Name() string { return fmt.Sprintf("VWAP(%s)", v.Anchor) }

func (v VWAP) Columns() []string { return []string{"VWAP_" + v.Anchor} }

func (v VWAP) Calculate(t *candle.Table) ([][]float64, error) {
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
	volumes, err := column(t, candle.ColVolume)
	if err != nil {
		return nil, err
	}

	out := nanSeries(t.Len())
	var pv, vol float64
	var period string
	for i := range out {
		if p := anchorPeriod(t.Time(i), v.Anchor); p != period {
			period = p
			pv, vol = 0, 0
		}
		typical := (highs[i] + lows[i] + closes[i]) / 3
		pv += typical * volumes[i]
		vol += volumes[i]
		if vol > 0 {
			out[i] = pv / vol
		}
	}
	return [][]float64{out}, nil
}

func anchorPeriod(ts time.Time, anchor string) string {
	ts = ts.UTC()
	switch anchor {
	case "D":
		return ts.Format("2006-01-02")
	case "W":
		y, w := ts.ISOWeek()
		return fmt.Sprintf("%d-%02d", y, w)
	default:
		return ""
	}
}
