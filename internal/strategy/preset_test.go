package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/indicator"
	"github.com/amirphl/rule-backtester/internal/strategy/signal"
)

func presetSignals(t *testing.T, p *Preset, closes []float64) *Signals {
	t.Helper()
	table := testTable(t, closes, nil)
	_, err := indicator.Apply(table, p.Indicators...)
	require.NoError(t, err)
	sig, err := BuildSignals(table, p.Strategy, signal.DefaultBars)
	require.NoError(t, err)
	return sig
}

func series(from, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}

func TestPresetNames(t *testing.T) {
	assert.Equal(t, []string{"ema_cross", "macd", "rsi_obos", "sma_cross", "stoch_ha"}, PresetNames())
	for _, name := range PresetNames() {
		p, err := NewPreset(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name)
		assert.NotEmpty(t, p.Strategy.Buy, name)
		assert.NotEmpty(t, p.Strategy.Sell, name)
	}
}

func TestPreset_MACross(t *testing.T) {
	p, err := NewPreset("SMA_Cross", map[string]any{"fast": 2, "slow": "3"})
	require.NoError(t, err)
	assert.Equal(t, "SMA_2 > SMA_3", p.Strategy.Buy[0].String())
	assert.Equal(t, "SMA_2 < SMA_3", p.Strategy.Sell[0].String())

	sig := presetSignals(t, p, series(1, 1, 10))
	assert.Positive(t, signal.Count(sig.Buy))
	assert.Zero(t, signal.Count(sig.Sell))

	sig = presetSignals(t, p, series(20, -1, 10))
	assert.Zero(t, signal.Count(sig.Buy))
	assert.Positive(t, signal.Count(sig.Sell))
}

func TestPreset_RSIObOs(t *testing.T) {
	p, err := NewPreset("rsi_obos", map[string]any{"length": 5.0})
	require.NoError(t, err)
	assert.Equal(t, "RSI_5 < LEVEL_30", p.Strategy.Buy[0].String())
	assert.Equal(t, "RSI_5 > LEVEL_70", p.Strategy.Sell[0].String())

	sig := presetSignals(t, p, series(100, -1, 20))
	assert.Positive(t, signal.Count(sig.Buy), "falling prices are oversold")
	assert.Zero(t, signal.Count(sig.Sell))

	sig = presetSignals(t, p, series(100, 1, 20))
	assert.Zero(t, signal.Count(sig.Buy))
	assert.Positive(t, signal.Count(sig.Sell), "rising prices are overbought")
}

func TestPreset_StochHeikinAshi(t *testing.T) {
	p, err := NewPreset("stoch_ha", map[string]any{"oversold": 10})
	require.NoError(t, err)
	require.Len(t, p.Strategy.Buy, 3)
	assert.Equal(t, "STOCHk_14_3_3 < LEVEL_10", p.Strategy.Buy[0].String())
	assert.Equal(t, "STOCHk_14_3_3 > STOCHd_14_3_3", p.Strategy.Buy[1].String())
	assert.Equal(t, "HA_close > HA_open", p.Strategy.Buy[2].String())
	assert.Equal(t, "STOCHk_14_3_3 > LEVEL_80", p.Strategy.Sell[0].String())
}

func TestNewPreset_Errors(t *testing.T) {
	tests := []struct {
		name   string
		preset string
		params map[string]any
	}{
		{"unknown", "ichimoku", nil},
		{"fast above slow", "ema_cross", map[string]any{"fast": 30, "slow": 10}},
		{"not a number", "sma_cross", map[string]any{"fast": "ten"}},
		{"fractional length", "rsi_obos", map[string]any{"length": 2.5}},
		{"bounds", "rsi_obos", map[string]any{"oversold": 70, "overbought": 30}},
		{"macd", "macd", map[string]any{"fast": 26, "slow": 12}},
		{"stoch", "stoch_ha", map[string]any{"k": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPreset(tt.preset, tt.params)
			assert.ErrorIs(t, err, errs.ErrInput)
		})
	}
}
