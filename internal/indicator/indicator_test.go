package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/errs"
)

// tableOf builds a table whose bars close at closes, one bar per hour.
func tableOf(t *testing.T, start time.Time, closes ...float64) *candle.Table {
	t.Helper()
	n := len(closes)
	times := make([]time.Time, n)
	open, high, low, volume := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, c := range closes {
		times[i] = start.Add(time.Duration(i) * time.Hour)
		open[i], high[i], low[i], volume[i] = c, c+1, c-1, 10
	}
	table, err := candle.NewTableFromColumns(times, map[string][]float64{
		candle.ColOpen:   open,
		candle.ColHigh:   high,
		candle.ColLow:    low,
		candle.ColClose:  append([]float64(nil), closes...),
		candle.ColVolume: volume,
	}, nil)
	require.NoError(t, err)
	return table
}

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestApply_MovingAverages(t *testing.T) {
	table := tableOf(t, day, 1, 2, 3, 4, 5)
	added, err := Apply(table,
		Spec{Type: "sma", Params: map[string]any{"length": 3.0}},
		Spec{Type: "ema", Params: map[string]any{"length": 3}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"SMA_3", "EMA_3"}, added)

	sma, ok := table.Column("SMA_3")
	require.True(t, ok)
	nan := math.NaN()
	assertSeries(t, []float64{nan, nan, 2, 3, 4}, sma, "SMA")

	ema, _ := table.Column("EMA_3")
	assertSeries(t, []float64{nan, nan, 2, 3, 4}, ema, "EMA")
}

func TestApply_Errors(t *testing.T) {
	table := tableOf(t, day, 1, 2, 3)

	_, err := Apply(table, Spec{Type: "sma"})
	assert.ErrorIs(t, err, errs.ErrInput)
	assert.Contains(t, err.Error(), "length")

	_, err = Apply(table, Spec{Type: "rsi", Params: map[string]any{"length": "0"}})
	assert.ErrorIs(t, err, errs.ErrInput)

	_, err = Apply(table, Spec{Type: "ichimoku"})
	assert.ErrorIs(t, err, errs.ErrInput)

	_, err = Apply(table, Spec{Type: "vwap", Params: map[string]any{"anchor": "Q"}})
	assert.ErrorIs(t, err, errs.ErrInput)

	_, err = Apply(table, Spec{Type: "macd", Params: map[string]any{"fast": 30, "slow": 10}})
	assert.ErrorIs(t, err, errs.ErrInput)

	added, err := Apply(table, Spec{Type: "sma", Params: map[string]any{"length": "2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"SMA_2"}, added)
}

func TestBollinger(t *testing.T) {
	table := tableOf(t, day, 1, 2, 3, 3, 3)
	added, err := Apply(table, Spec{Type: "bollinger", Params: map[string]any{"length": 3}})
	require.NoError(t, err)
	assert.Equal(t, []string{"BBL_3", "BBM_3", "BBU_3", "BBB_3", "BBP_3"}, added)

	std := math.Sqrt(2.0 / 3.0)
	lower, _ := table.Column("BBL_3")
	upper, _ := table.Column("BBU_3")
	pct, _ := table.Column("BBP_3")
	width, _ := table.Column("BBB_3")

	assert.True(t, math.IsNaN(lower[1]))
	assert.InDelta(t, 2-2*std, lower[2], 1e-9)
	assert.InDelta(t, 2+2*std, upper[2], 1e-9)
	assert.InDelta(t, (3-(2-2*std))/(4*std), pct[2], 1e-9)

	// flat window: zero width, %B undefined
	assert.InDelta(t, 0, width[4], 1e-9)
	assert.True(t, math.IsNaN(pct[4]))
}

func TestMACD(t *testing.T) {
	table := tableOf(t, day, 1, 2, 3, 4, 5, 6)
	added, err := Apply(table, Spec{Type: "macd", Params: map[string]any{"fast": 2, "slow": 3, "signal": 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"MACD_2_3_2", "MACDh_2_3_2", "MACDs_2_3_2"}, added)

	nan := math.NaN()
	line, _ := table.Column("MACD_2_3_2")
	signal, _ := table.Column("MACDs_2_3_2")
	hist, _ := table.Column("MACDh_2_3_2")
	assertSeries(t, []float64{nan, nan, 0.5, 0.5, 0.5, 0.5}, line, "MACD")
	assertSeries(t, []float64{nan, nan, nan, 0.5, 0.5, 0.5}, signal, "signal")
	assertSeries(t, []float64{nan, nan, nan, 0, 0, 0}, hist, "hist")
}

func TestVWAP(t *testing.T) {
	// the third bar starts a new UTC day
	start := time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC)
	table := tableOf(t, start, 10, 20, 30, 40)

	_, err := Apply(table, Spec{Type: "vwap"}, Spec{Type: "vwap", Params: map[string]any{"anchor": "D"}})
	require.NoError(t, err)

	cum, _ := table.Column("VWAP_start")
	daily, _ := table.Column("VWAP_D")
	// typical price equals close because high and low are symmetric
	assert.InDelta(t, 10, cum[0], 1e-9)
	assert.InDelta(t, 15, cum[1], 1e-9)
	assert.InDelta(t, 25, cum[3], 1e-9)

	assert.InDelta(t, 15, daily[1], 1e-9)
	assert.InDelta(t, 30, daily[2], 1e-9) // new day resets
	assert.InDelta(t, 35, daily[3], 1e-9)
}

func TestHeikinAshi(t *testing.T) {
	table := tableOf(t, day, 10, 12)
	added, err := Apply(table, Spec{Type: "heikin_ashi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"HA_open", "HA_high", "HA_low", "HA_close"}, added)

	haClose, _ := table.Column("HA_close")
	// bar 0: open 10, high 11, low 9, close 10
	assert.InDelta(t, 10, haClose[0], 1e-9)
	// bar 1: open 12, high 13, low 11, close 12
	assert.InDelta(t, 12, haClose[1], 1e-9)
}

func TestApply_RSIOnTable(t *testing.T) {
	table := tableOf(t, day, 10, 11, 12, 11, 10, 9, 10)
	added, err := Apply(table, Spec{Type: "rsi", Params: map[string]any{"length": 5}})
	require.NoError(t, err)
	assert.Equal(t, []string{"RSI_5"}, added)
	rsi, _ := table.Column("RSI_5")
	assert.True(t, math.IsNaN(rsi[4]))
	assert.InDelta(t, 40, rsi[5], 1e-9)
	assert.InDelta(t, 52, rsi[6], 1e-9)
}
