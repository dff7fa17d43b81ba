// Package indicator computes indicator columns and joins them onto a bar table.
package indicator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/errs"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	Name() string
	// Columns names the output series, in the order Calculate returns them.
	Columns() []string
	Calculate(t *candle.Table) ([][]float64, error)
}

// Spec is an indicator request as it arrives from the API or a config file.
type Spec struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Types lists the supported indicator types.
func Types() []string {
	return []string{"sma", "ema", "rsi", "vwap", "bollinger", "macd", "stoch", "heikin_ashi", "cdl", "level"}
}

// New builds the indicator a spec describes.
func New(spec Spec) (Indicator, error) {
	p := params(spec.Params)
	switch strings.ToLower(strings.TrimSpace(spec.Type)) {
	case "sma":
		n, err := p.length(spec.Type)
		if err != nil {
			return nil, err
		}
		return SMA{Length: n}, nil
	case "ema":
		n, err := p.length(spec.Type)
		if err != nil {
			return nil, err
		}
		return EMA{Length: n}, nil
	case "rsi":
		n, err := p.length(spec.Type)
		if err != nil {
			return nil, err
		}
		return RSI{Length: n}, nil
	case "vwap":
		anchor, err := p.str("anchor", "start")
		if err != nil {
			return nil, err
		}
		if !validAnchor(anchor) {
			return nil, errs.Input("vwap: unsupported anchor %q", anchor)
		}
		return VWAP{Anchor: anchor}, nil
	case "bollinger", "bbands":
		n, err := p.length(spec.Type)
		if err != nil {
			return nil, err
		}
		std, err := p.float("std_dev", 2)
		if err != nil {
			return nil, err
		}
		if std <= 0 {
			return nil, errs.Input("bollinger: 'std_dev' must be positive")
		}
		return Bollinger{Length: n, StdDev: std}, nil
	case "macd":
		fast, err := p.positive("fast", 12)
		if err != nil {
			return nil, err
		}
		slow, err := p.positive("slow", 26)
		if err != nil {
			return nil, err
		}
		signal, err := p.positive("signal", 9)
		if err != nil {
			return nil, err
		}
		if fast >= slow {
			return nil, errs.Input("macd: 'fast' must be below 'slow'")
		}
		return MACD{Fast: fast, Slow: slow, Signal: signal}, nil
	case "stoch", "stochastic":
		k, smooth, d := DefaultStochasticSettings()
		var err error
		if k, err = p.positive("k", k); err != nil {
			return nil, err
		}
		if smooth, err = p.positive("smooth_k", smooth); err != nil {
			return nil, err
		}
		if d, err = p.positive("d", d); err != nil {
			return nil, err
		}
		return Stochastic{PeriodK: k, SmoothK: smooth, PeriodD: d}, nil
	case "heikin_ashi", "ha":
		return HeikinAshi{}, nil
	case "cdl", "cdl_pattern":
		return newCandlePattern(p)
	case "level":
		v, ok, err := p.raw("value")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.Input("missing 'value' parameter for LEVEL")
		}
		return Level{Value: v}, nil
	default:
		return nil, errs.Input("unknown indicator: %s", spec.Type)
	}
}

// Apply computes every spec in order and joins the results onto t. It
// returns the names of the columns it added. On error t may hold the
// columns of the specs before the failing one.
func Apply(t *candle.Table, specs ...Spec) ([]string, error) {
	var added []string
	for _, spec := range specs {
		ind, err := New(spec)
		if err != nil {
			return added, err
		}
		series, err := ind.Calculate(t)
		if err != nil {
			if errors.Is(err, errs.ErrInput) || errors.Is(err, errs.ErrComputation) {
				return added, err
			}
			return added, errs.Computation(err, "indicator %s", ind.Name())
		}
		names := ind.Columns()
		if len(series) != len(names) {
			return added, errs.Computation(fmt.Errorf("got %d series for %d columns", len(series), len(names)), "indicator %s", ind.Name())
		}
		for i, name := range names {
			if err := t.SetColumn(name, series[i]); err != nil {
				return added, errs.Computation(err, "indicator %s", ind.Name())
			}
			added = append(added, name)
		}
	}
	return added, nil
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func column(t *candle.Table, name string) ([]float64, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, errs.Input("column %q not found", name)
	}
	return c, nil
}

// params reads loosely typed values: JSON numbers arrive as float64, YAML
// as int, and the UI sometimes sends numeric strings.
type params map[string]any

func (p params) raw(name string) (float64, bool, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch x := v.(type) {
	case float64:
		return x, true, nil
	case float32:
		return float64(x), true, nil
	case int:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, true, errs.Input("parameter %q: %q is not a number", name, x)
		}
		return f, true, nil
	default:
		return 0, true, errs.Input("parameter %q: unsupported value %v", name, v)
	}
}

func (p params) length(kind string) (int, error) {
	f, ok, err := p.raw("length")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.Input("missing 'length' parameter for %s", strings.ToUpper(kind))
	}
	n := int(f)
	if n <= 0 {
		return 0, errs.Input("'length' must be a positive integer")
	}
	return n, nil
}

func (p params) positive(name string, def int) (int, error) {
	f, ok, err := p.raw(name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	if int(f) <= 0 {
		return 0, errs.Input("'%s' must be a positive integer", name)
	}
	return int(f), nil
}

func (p params) float(name string, def float64) (float64, error) {
	f, ok, err := p.raw(name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	return f, nil
}

func (p params) str(name, def string) (string, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.Input("parameter %q must be a string", name)
	}
	return s, nil
}
