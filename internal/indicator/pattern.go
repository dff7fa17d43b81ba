package indicator

import (
	"math"
	"strings"

	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/errs"
)

// Candlestick pattern values: bullish matches are +100, bearish -100 and
// bars without a match 0. The first bars a pattern needs to look back on
// are NaN.
const (
	Bullish = 100.0
	Bearish = -100.0
)

// Pattern names accepted by the "cdl" indicator.
const (
	PatternDoji      = "doji"
	PatternHammer    = "hammer"
	PatternEngulfing = "engulfing"
	PatternStar      = "star"
)

// CandlePattern marks a candlestick pattern on every bar as CDL_<NAME>.
//
//   - doji: body under 10% of the range. Dragonfly is bullish, gravestone
//     bearish, standard and long-legged doji are +100.
//   - hammer: small body, lower shadow at least twice the body, almost no
//     upper shadow. Closing below the previous close it is a hammer
//     (bullish), above it a hanging man (bearish).
//   - engulfing: the body engulfs the previous opposite-colored body.
//   - star: morning star (bullish) or evening star (bearish) over three bars.
type CandlePattern struct {
	Pattern string
}

func (p CandlePattern) Name() string { return "CDL(" + p.Pattern + ")" }

func (p CandlePattern) Columns() []string {
	return []string{"CDL_" + strings.ToUpper(p.Pattern)}
}

func (p CandlePattern) Calculate(t *candle.Table) ([][]float64, error) {
	bars := t.Candles()
	out := make([]float64, len(bars))
	var (
		lookback int
		detect   func(bars []candle.Candle, i int) float64
	)
	switch p.Pattern {
	case PatternDoji:
		detect = func(bars []candle.Candle, i int) float64 { return doji(bars[i]) }
	case PatternHammer:
		lookback = 1
		detect = func(bars []candle.Candle, i int) float64 { return hammer(bars[i-1], bars[i]) }
	case PatternEngulfing:
		lookback = 1
		detect = func(bars []candle.Candle, i int) float64 { return engulfing(bars[i-1], bars[i]) }
	case PatternStar:
		lookback = 2
		detect = func(bars []candle.Candle, i int) float64 { return star(bars[i-2], bars[i-1], bars[i]) }
	default:
		return nil, errs.Input("cdl: unknown pattern %q", p.Pattern)
	}
	for i := range bars {
		if i < lookback {
			out[i] = math.NaN()
			continue
		}
		out[i] = detect(bars, i)
	}
	return [][]float64{out}, nil
}

func newCandlePattern(p params) (Indicator, error) {
	name, err := p.str("name", "")
	if err != nil {
		return nil, err
	}
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case PatternDoji, PatternHammer, PatternEngulfing, PatternStar:
		return CandlePattern{Pattern: name}, nil
	case "":
		return nil, errs.Input("missing 'name' parameter for CDL")
	default:
		return nil, errs.Input("cdl: unknown pattern %q (want doji, hammer, engulfing or star)", name)
	}
}

// shape measures a bar relative to its range.
type shape struct {
	body, upper, lower, rng float64
	bullish, bearish        bool
}

// shapeOf returns false for a bar with no range or inconsistent prices, which
// never matches a pattern.
func shapeOf(c candle.Candle) (shape, bool) {
	rng := c.High - c.Low
	if rng <= 0 || c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return shape{}, false
	}
	top, bottom := max(c.Open, c.Close), min(c.Open, c.Close)
	return shape{
		body:    top - bottom,
		upper:   c.High - top,
		lower:   bottom - c.Low,
		rng:     rng,
		bullish: c.Close > c.Open,
		bearish: c.Close < c.Open,
	}, true
}

func (s shape) bodyRatio() float64  { return s.body / s.rng }
func (s shape) upperRatio() float64 { return s.upper / s.rng }
func (s shape) lowerRatio() float64 { return s.lower / s.rng }

func doji(c candle.Candle) float64 {
	s, ok := shapeOf(c)
	if !ok || s.bodyRatio() >= 0.1 {
		return 0
	}
	switch {
	case s.upperRatio() <= 0.05 && s.lowerRatio() > 0.3:
		// dragonfly
		return Bullish
	case s.upperRatio() >= 0.3 && s.lowerRatio() < 0.05:
		// gravestone
		return Bearish
	default:
		return Bullish
	}
}

func hammer(prev, cur candle.Candle) float64 {
	s, ok := shapeOf(cur)
	if !ok || s.body == 0 || s.bodyRatio() > 0.3 || s.lower/s.body < 2 || s.upperRatio() > 0.1 {
		return 0
	}
	switch {
	case prev.Close > cur.Close:
		return Bullish
	case prev.Close < cur.Close:
		return Bearish
	default:
		return 0
	}
}

func engulfing(prev, cur candle.Candle) float64 {
	ps, ok1 := shapeOf(prev)
	cs, ok2 := shapeOf(cur)
	if !ok1 || !ok2 {
		return 0
	}
	engulfs := max(cur.Open, cur.Close) >= max(prev.Open, prev.Close) &&
		min(cur.Open, cur.Close) <= min(prev.Open, prev.Close)
	switch {
	case engulfs && cs.bullish && ps.bearish:
		return Bullish
	case engulfs && cs.bearish && ps.bullish:
		return Bearish
	default:
		return 0
	}
}

func star(first, second, third candle.Candle) float64 {
	fs, ok1 := shapeOf(first)
	ss, ok2 := shapeOf(second)
	ts, ok3 := shapeOf(third)
	if !ok1 || !ok2 || !ok3 || ss.bodyRatio() > 0.3 {
		return 0
	}
	mid := (first.Open + first.Close) / 2
	switch {
	case fs.bearish && second.High < first.Low && ts.bullish && third.Close > mid:
		return Bullish
	case fs.bullish && second.Low > first.High && ts.bearish && third.Close < mid:
		return Bearish
	default:
		return 0
	}
}
