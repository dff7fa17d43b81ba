package strategy

import (
	"sort"
	"strconv"
	"strings"

	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/indicator"
)

// Preset is a ready-made strategy together with the indicators whose
// columns its conditions read.
type Preset struct {
	Name       string
	Indicators []indicator.Spec
	Strategy   Strategy
}

type presetBuilder func(p presetParams) (*Preset, error)

var presets = map[string]presetBuilder{
	"sma_cross": func(p presetParams) (*Preset, error) { return maCross("sma_cross", "sma", p, 10, 30) },
	"ema_cross": func(p presetParams) (*Preset, error) { return maCross("ema_cross", "ema", p, 12, 26) },
	"rsi_obos":  rsiObOs,
	"macd":      macdCross,
	"stoch_ha":  stochHeikinAshi,
}

// PresetNames lists the available presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewPreset builds the named preset. Unset params take the preset defaults.
func NewPreset(name string, params map[string]any) (*Preset, error) {
	build, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errs.Input("unknown preset %q (want one of %s)", name, strings.Join(PresetNames(), ", "))
	}
	return build(presetParams(params))
}

// maCross is long while the fast average is above the slow one and short
// while it is below.
func maCross(name, kind string, p presetParams, fast, slow int) (*Preset, error) {
	fast, err := p.int("fast", fast)
	if err != nil {
		return nil, err
	}
	slow, err = p.int("slow", slow)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, errs.Input("%s: 'fast' must be below 'slow'", name)
	}
	specs := []indicator.Spec{
		{Type: kind, Params: map[string]any{"length": fast}},
		{Type: kind, Params: map[string]any{"length": slow}},
	}
	cols, err := columns(specs)
	if err != nil {
		return nil, err
	}
	f, s := cols[0][0], cols[1][0]
	return &Preset{
		Name:       name,
		Indicators: specs,
		Strategy: Strategy{
			Buy:  []Condition{compare(f, GT, s)},
			Sell: []Condition{compare(f, LT, s)},
		},
	}, nil
}

// rsiObOs buys an oversold RSI and sells an overbought one.
func rsiObOs(p presetParams) (*Preset, error) {
	length, err := p.int("length", 14)
	if err != nil {
		return nil, err
	}
	oversold, overbought, err := p.bounds(30, 70)
	if err != nil {
		return nil, err
	}
	specs := []indicator.Spec{
		{Type: "rsi", Params: map[string]any{"length": length}},
		{Type: "level", Params: map[string]any{"value": oversold}},
		{Type: "level", Params: map[string]any{"value": overbought}},
	}
	cols, err := columns(specs)
	if err != nil {
		return nil, err
	}
	rsi := cols[0][0]
	return &Preset{
		Name:       "rsi_obos",
		Indicators: specs,
		Strategy: Strategy{
			Buy:  []Condition{compare(rsi, LT, cols[1][0])},
			Sell: []Condition{compare(rsi, GT, cols[2][0])},
		},
	}, nil
}

// macdCross follows the MACD line against its signal line.
func macdCross(p presetParams) (*Preset, error) {
	params := map[string]any{}
	for _, key := range []string{"fast", "slow", "signal"} {
		if v, ok := p[key]; ok {
			params[key] = v
		}
	}
	specs := []indicator.Spec{{Type: "macd", Params: params}}
	cols, err := columns(specs)
	if err != nil {
		return nil, err
	}
	macd, sig := cols[0][0], cols[0][2]
	return &Preset{
		Name:       "macd",
		Indicators: specs,
		Strategy: Strategy{
			Buy:  []Condition{compare(macd, GT, sig)},
			Sell: []Condition{compare(macd, LT, sig)},
		},
	}, nil
}

// stochHeikinAshi buys when %K is oversold and above %D on a green
// Heikin Ashi bar, and sells the mirror image.
func stochHeikinAshi(p presetParams) (*Preset, error) {
	params := map[string]any{}
	for _, key := range []string{"k", "d", "smooth_k"} {
		if v, ok := p[key]; ok {
			params[key] = v
		}
	}
	oversold, overbought, err := p.bounds(20, 80)
	if err != nil {
		return nil, err
	}
	specs := []indicator.Spec{
		{Type: "stoch", Params: params},
		{Type: "heikin_ashi"},
		{Type: "level", Params: map[string]any{"value": oversold}},
		{Type: "level", Params: map[string]any{"value": overbought}},
	}
	cols, err := columns(specs)
	if err != nil {
		return nil, err
	}
	k, d := cols[0][0], cols[0][1]
	haOpen, haClose := cols[1][0], cols[1][3]
	return &Preset{
		Name:       "stoch_ha",
		Indicators: specs,
		Strategy: Strategy{
			Buy: []Condition{
				compare(k, LT, cols[2][0]),
				compare(k, GT, d),
				compare(haClose, GT, haOpen),
			},
			Sell: []Condition{
				compare(k, GT, cols[3][0]),
				compare(k, LT, d),
				compare(haClose, LT, haOpen),
			},
		},
	}, nil
}

// columns validates specs and returns the column names each one adds.
func columns(specs []indicator.Spec) ([][]string, error) {
	out := make([][]string, len(specs))
	for i, spec := range specs {
		ind, err := indicator.New(spec)
		if err != nil {
			return nil, err
		}
		out[i] = ind.Columns()
	}
	return out, nil
}

func compare(left string, c Comparator, right string) Condition {
	return Condition{Left: Operand{Column: left}, Comparator: c, Right: Operand{Column: right}}
}

type presetParams map[string]any

func (p presetParams) float(name string, def float64) (float64, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, errs.Input("preset parameter %q: %q is not a number", name, x)
		}
		return f, nil
	default:
		return 0, errs.Input("preset parameter %q: unsupported value %v", name, v)
	}
}

func (p presetParams) int(name string, def int) (int, error) {
	f, err := p.float(name, float64(def))
	if err != nil {
		return 0, err
	}
	if f < 1 || f != float64(int(f)) {
		return 0, errs.Input("preset parameter %q must be a positive integer", name)
	}
	return int(f), nil
}

func (p presetParams) bounds(oversold, overbought float64) (float64, float64, error) {
	lo, err := p.float("oversold", oversold)
	if err != nil {
		return 0, 0, err
	}
	hi, err := p.float("overbought", overbought)
	if err != nil {
		return 0, 0, err
	}
	if lo >= hi {
		return 0, 0, errs.Input("'oversold' must be below 'overbought'")
	}
	return lo, hi, nil
}
