package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/strategy/position"
)

// closed builds a trade entered on bar entryBar and held for an hour.
func closed(side position.Side, entryBar int, entry, exit, pct float64) Trade {
	return Trade{
		Side:             side,
		EntryTime:        barTime(entryBar),
		EntryPrice:       entry,
		ExitTime:         barTime(entryBar + 1),
		ExitPrice:        exit,
		PercentageChange: pct,
	}
}

func TestReconcile(t *testing.T) {
	long := []Trade{
		closed(position.Long, 1, 100, 110, 0.1),
		closed(position.Long, 5, 100, 95, -0.05),
	}
	short := []Trade{
		closed(position.Short, 0, 100, 90, 0.1),
		closed(position.Short, 5, 100, 105, -0.05),
	}

	ledger, err := Reconcile(long, short)
	require.NoError(t, err)
	require.Len(t, ledger, 4)
	assert.Equal(t, position.Short, ledger[0].Side)
	assert.Equal(t, position.Long, ledger[1].Side)
	// tie on bar 5 keeps the long first
	assert.Equal(t, position.Long, ledger[2].Side)
	assert.Equal(t, position.Short, ledger[3].Side)

	empty, err := Reconcile(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReconcile_RejectsIncompleteTrades(t *testing.T) {
	ok := closed(position.Long, 1, 100, 110, 0.1)

	noTime := ok
	noTime.EntryTime = time.Time{}
	noSide := ok
	noSide.Side = 0
	noExit := ok
	noExit.ExitPrice = 0

	for name, tr := range map[string]Trade{"entry time": noTime, "side": noSide, "exit price": noExit} {
		t.Run(name, func(t *testing.T) {
			_, err := Reconcile([]Trade{ok}, []Trade{tr})
			assert.ErrorIs(t, err, errs.ErrInput)
		})
	}
}

func TestReplay_OneLosingTrade(t *testing.T) {
	ledger := []Trade{closed(position.Long, 0, 200, 194, -0.03)}

	rows, err := Replay(ledger, 10000, 1, 4, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, ResultLoss, r.Result)
	assert.InDelta(t, -100, r.PnL, 1e-9)
	assert.InDelta(t, 9900, r.AccountSizeQuote, 1e-9)
	assert.Equal(t, ResultLoss, r.ResultBase)
	assert.InDelta(t, 50*0.99, r.AccountSizeBase, 1e-9)
	assert.InDelta(t, 50*0.99*194, r.AccountSizeBaseValue, 1e-9)
	assert.InDelta(t, 50*194, r.BuyHold, 1e-9)
	assert.InDelta(t, 60, r.TradeDuration, 1e-9)
}

func TestReplay_WinPaysRiskReward(t *testing.T) {
	rows, err := Replay([]Trade{closed(position.Short, 0, 100, 96, 0.04)}, 10000, 1, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, ResultWin, rows[0].Result)
	assert.InDelta(t, 100*4.0/3.0, rows[0].PnL, 1e-9)
	assert.InDelta(t, 10000+100*4.0/3.0, rows[0].AccountSizeQuote, 1e-9)
}

func TestReplay_OrderMatters(t *testing.T) {
	ledger := []Trade{
		closed(position.Long, 0, 100, 95, -0.05),
		closed(position.Long, 2, 120, 132, 0.1),
		closed(position.Short, 4, 80, 72, 0.1),
	}
	reversed := []Trade{ledger[2], ledger[1], ledger[0]}

	a, err := Replay(ledger, 1000, 10, 10, 5)
	require.NoError(t, err)
	b, err := Replay(reversed, 1000, 10, 10, 5)
	require.NoError(t, err)

	assert.NotEqual(t, a[0].AccountSizeQuote, b[0].AccountSizeQuote)
	assert.NotEqual(t, a[1].AccountSizeQuote, b[1].AccountSizeQuote)
	// the base account is seeded from the first entry price
	assert.NotEqual(t, a[2].AccountSizeBase, b[2].AccountSizeBase)
}

func TestReplay_Validation(t *testing.T) {
	ledger := []Trade{closed(position.Long, 0, 100, 110, 0.1)}
	tests := []struct {
		name                  string
		account, risk, tp, sl float64
	}{
		{"account", 0, 1, 1, 1},
		{"risk", 100, 101, 1, 1},
		{"negative risk", 100, -1, 1, 1},
		{"tp", 100, 1, 0, 1},
		{"sl", 100, 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Replay(ledger, tt.account, tt.risk, tt.tp, tt.sl)
			assert.ErrorIs(t, err, errs.ErrInput)
		})
	}

	rows, err := Replay(nil, 100, 1, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSummarize(t *testing.T) {
	ledger := []Trade{
		closed(position.Long, 0, 100, 102, 0.02),
		closed(position.Long, 2, 100, 99, -0.01),
		closed(position.Short, 4, 100, 101, -0.01),
	}
	rows, err := Replay(ledger, 1000, 10, 2, 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.InDelta(t, 1200, rows[0].AccountSizeQuote, 1e-9)
	assert.InDelta(t, 1080, rows[1].AccountSizeQuote, 1e-9)
	assert.InDelta(t, 972, rows[2].AccountSizeQuote, 1e-9)

	s := Summarize(rows, 1000)
	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 1, s.TotalWins)
	assert.Equal(t, 2, s.TotalLosses)
	assert.InDelta(t, 1.0/3, s.WinRate, 1e-12)
	assert.InDelta(t, 2.0/3, s.LossRate, 1e-12)
	assert.Equal(t, 2, s.LongTrades)
	assert.Equal(t, 1, s.ShortTrades)
	assert.InDelta(t, 0.5, s.LongWinRate, 1e-12)
	assert.Equal(t, 0.0, s.ShortWinRate)
	assert.InDelta(t, 60, s.AvgTradeDuration, 1e-9)
	assert.InDelta(t, 180, s.TotalDuration, 1e-9)
	assert.InDelta(t, 0, s.TotalProfit, 1e-12)
	assert.InDelta(t, 0.01, s.LongProfit, 1e-12)
	assert.InDelta(t, -0.01, s.ShortProfit, 1e-12)
	assert.InDelta(t, -28, s.MaxDrawdown, 1e-9)
	assert.InDelta(t, -0.028, s.MaxDrawdownPct, 1e-12)
	assert.InDelta(t, -228, s.PeakToTroughDrawdown, 1e-9)
	assert.InDelta(t, -0.19, s.PeakToTroughDrawdownPct, 1e-12)
	assert.Equal(t, 1000.0, s.InitialAccountSize)
	assert.InDelta(t, 972, s.MinAccountSize, 1e-9)
	assert.InDelta(t, 1200, s.MaxAccountSize, 1e-9)
	assert.InDelta(t, 972, s.FinalAccountSize, 1e-9)
	assert.InDelta(t, rows[2].BuyHold, s.FinalBuyHold, 1e-9)

	m := s.Map()
	assert.Equal(t, 3.0, m["total_trades"])
	assert.InDelta(t, 972, m["final_account_size"], 1e-9)
	assert.Contains(t, m, "max_drawdown_pct")
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, 5000)
	assert.Zero(t, s.TotalTrades)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.LongWinRate)
	assert.Zero(t, s.ShortWinRate)
	assert.Zero(t, s.AvgTradeDuration)
	assert.Zero(t, s.MaxDrawdown)
	assert.Equal(t, 5000.0, s.FinalAccountSize)
	assert.Equal(t, 5000.0, s.MinAccountSize)
}

func TestSummarize_OneSidedWinRate(t *testing.T) {
	rows, err := Replay([]Trade{closed(position.Long, 0, 100, 110, 0.1)}, 1000, 1, 10, 5)
	require.NoError(t, err)
	s := Summarize(rows, 1000)
	assert.Equal(t, 1.0, s.LongWinRate)
	assert.Equal(t, 0.0, s.ShortWinRate)
	assert.Zero(t, s.MaxDrawdown, "never below the initial size")
}
