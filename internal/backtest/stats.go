package backtest

import (
	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/strategy/position"
)

const (
	ResultWin  = "win"
	ResultLoss = "loss"
)

// LedgerRow is a trade with the account state after replaying it.
type LedgerRow struct {
	Trade
	Result               string  `json:"result"`
	PnL                  float64 `json:"pnl"`
	AccountSizeQuote     float64 `json:"account_size_quote"`
	ResultBase           string  `json:"result_base"`
	PnLBase              float64 `json:"pnl_base"`
	AccountSizeBase      float64 `json:"account_size_base"`
	AccountSizeBaseValue float64 `json:"account_size_base_value"`
	BuyHold              float64 `json:"buyhold"`
	TradeDuration        float64 `json:"trade_duration"` // minutes
}

// account compounds a fixed-risk balance trade by trade.
type account struct {
	size       float64
	riskAmt    float64
	riskReward float64
}

func (a *account) apply(win bool) (pnl float64, result string) {
	maxLoss := a.size * (a.riskAmt / 100)
	if win {
		pnl, result = maxLoss*a.riskReward, ResultWin
	} else {
		pnl, result = -maxLoss, ResultLoss
	}
	a.size += pnl
	return pnl, result
}

// Replay compounds the ledger in order into two independent accounts: one in
// quote currency starting at accountSize and one in base units starting at
// accountSize / first entry price. Each trade risks riskAmt percent of the
// current balance and wins tp/sl times that.
func Replay(ledger []Trade, accountSize, riskAmt, tp, sl float64) ([]LedgerRow, error) {
	if accountSize <= 0 {
		return nil, errs.Input("account_size must be positive, got %v", accountSize)
	}
	if riskAmt < 0 || riskAmt > 100 {
		return nil, errs.Input("risk_amt must be within [0, 100], got %v", riskAmt)
	}
	if tp <= 0 || sl <= 0 {
		return nil, errs.Input("tp and sl must be positive, got tp=%v sl=%v", tp, sl)
	}
	if len(ledger) == 0 {
		return nil, nil
	}

	firstEntry := ledger[0].EntryPrice
	if firstEntry <= 0 {
		return nil, errs.Input("first trade has no entry price")
	}
	quote := &account{size: accountSize, riskAmt: riskAmt, riskReward: tp / sl}
	base := &account{size: accountSize / firstEntry, riskAmt: riskAmt, riskReward: tp / sl}
	holding := accountSize / firstEntry

	rows := make([]LedgerRow, 0, len(ledger))
	for _, tr := range ledger {
		row := LedgerRow{Trade: tr}
		row.PnL, row.Result = quote.apply(tr.Win())
		row.AccountSizeQuote = quote.size
		row.PnLBase, row.ResultBase = base.apply(tr.Win())
		row.AccountSizeBase = base.size
		row.AccountSizeBaseValue = base.size * tr.ExitPrice
		row.BuyHold = holding * tr.ExitPrice
		row.TradeDuration = tr.ExitTime.Sub(tr.EntryTime).Minutes()
		rows = append(rows, row.finite())
	}
	return rows, nil
}

func (r LedgerRow) finite() LedgerRow {
	for _, v := range []*float64{
		&r.EntryPrice, &r.TPTarget, &r.SLTarget, &r.SLDistance, &r.ExitPrice, &r.PercentageChange,
		&r.PnL, &r.AccountSizeQuote, &r.PnLBase, &r.AccountSizeBase, &r.AccountSizeBaseValue,
		&r.BuyHold, &r.TradeDuration,
	} {
		*v = candle.Finite(*v)
	}
	return r
}

// Summary aggregates a replayed ledger.
type Summary struct {
	TotalTrades  int     `json:"total_trades"`
	TotalWins    int     `json:"total_wins"`
	TotalLosses  int     `json:"total_losses"`
	WinRate      float64 `json:"win_rate"`
	LossRate     float64 `json:"loss_rate"`
	LongTrades   int     `json:"long_trades"`
	ShortTrades  int     `json:"short_trades"`
	LongWinRate  float64 `json:"long_win_rate"`
	ShortWinRate float64 `json:"short_win_rate"`

	AvgTradeDuration float64 `json:"avg_trade_duration"` // minutes
	TotalDuration    float64 `json:"total_duration"`     // minutes

	TotalProfit float64 `json:"total_profit"` // sum of perc_chg
	LongProfit  float64 `json:"long_profit"`
	ShortProfit float64 `json:"short_profit"`

	MaxDrawdown             float64 `json:"max_drawdown"`
	MaxDrawdownPct          float64 `json:"max_drawdown_pct"`
	PeakToTroughDrawdown    float64 `json:"peak_to_trough_drawdown"`
	PeakToTroughDrawdownPct float64 `json:"peak_to_trough_drawdown_pct"`

	InitialAccountSize        float64 `json:"initial_account_size"`
	MinAccountSize            float64 `json:"min_account_size"`
	MaxAccountSize            float64 `json:"max_account_size"`
	FinalAccountSize          float64 `json:"final_account_size"`
	FinalAccountSizeBase      float64 `json:"final_account_size_base"`
	FinalAccountSizeBaseValue float64 `json:"final_account_size_base_value"`
	FinalBuyHold              float64 `json:"final_buyhold"`
}

// Summarize computes the aggregate metrics of rows replayed from initial.
// Drawdowns are zero or negative. With no rows every account figure is the
// initial size.
func Summarize(rows []LedgerRow, initial float64) Summary {
	s := Summary{
		InitialAccountSize: initial,
		MinAccountSize:     initial,
		MaxAccountSize:     initial,
		FinalAccountSize:   initial,
	}
	if len(rows) == 0 {
		return s.finite()
	}

	var longWins, shortWins int
	lowest, peak := initial, initial
	s.MinAccountSize = rows[0].AccountSizeQuote
	s.MaxAccountSize = rows[0].AccountSizeQuote
	for _, r := range rows {
		s.TotalTrades++
		switch {
		case r.PercentageChange > 0:
			s.TotalWins++
		case r.PercentageChange < 0:
			s.TotalLosses++
		}
		s.TotalDuration += r.TradeDuration
		s.TotalProfit += r.PercentageChange
		if r.Side == position.Long {
			s.LongTrades++
			s.LongProfit += r.PercentageChange
			if r.Win() {
				longWins++
			}
		} else {
			s.ShortTrades++
			s.ShortProfit += r.PercentageChange
			if r.Win() {
				shortWins++
			}
		}

		acct := r.AccountSizeQuote
		s.MinAccountSize = min(s.MinAccountSize, acct)
		s.MaxAccountSize = max(s.MaxAccountSize, acct)
		lowest = min(lowest, acct)
		peak = max(peak, acct)
		if dd := acct - peak; dd < s.PeakToTroughDrawdown {
			s.PeakToTroughDrawdown = dd
			s.PeakToTroughDrawdownPct = ratio(dd, peak)
		}
	}

	last := rows[len(rows)-1]
	s.FinalAccountSize = last.AccountSizeQuote
	s.FinalAccountSizeBase = last.AccountSizeBase
	s.FinalAccountSizeBaseValue = last.AccountSizeBaseValue
	s.FinalBuyHold = last.BuyHold

	s.WinRate = ratio(float64(s.TotalWins), float64(s.TotalTrades))
	s.LossRate = ratio(float64(s.TotalLosses), float64(s.TotalTrades))
	s.LongWinRate = ratio(float64(longWins), float64(s.LongTrades))
	s.ShortWinRate = ratio(float64(shortWins), float64(s.ShortTrades))
	s.AvgTradeDuration = ratio(s.TotalDuration, float64(s.TotalTrades))
	s.MaxDrawdown = lowest - initial
	s.MaxDrawdownPct = ratio(s.MaxDrawdown, initial)
	return s.finite()
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func (s Summary) finite() Summary {
	for _, v := range []*float64{
		&s.WinRate, &s.LossRate, &s.LongWinRate, &s.ShortWinRate,
		&s.AvgTradeDuration, &s.TotalDuration,
		&s.TotalProfit, &s.LongProfit, &s.ShortProfit,
		&s.MaxDrawdown, &s.MaxDrawdownPct, &s.PeakToTroughDrawdown, &s.PeakToTroughDrawdownPct,
		&s.InitialAccountSize, &s.MinAccountSize, &s.MaxAccountSize, &s.FinalAccountSize,
		&s.FinalAccountSizeBase, &s.FinalAccountSizeBaseValue, &s.FinalBuyHold,
	} {
		*v = candle.Finite(*v)
	}
	return s
}

// Map flattens the summary into the key-value form reported to clients.
func (s Summary) Map() map[string]float64 {
	return map[string]float64{
		"total_trades":                  float64(s.TotalTrades),
		"total_wins":                    float64(s.TotalWins),
		"total_losses":                  float64(s.TotalLosses),
		"win_rate":                      s.WinRate,
		"loss_rate":                     s.LossRate,
		"long_trades":                   float64(s.LongTrades),
		"short_trades":                  float64(s.ShortTrades),
		"long_win_rate":                 s.LongWinRate,
		"short_win_rate":                s.ShortWinRate,
		"avg_trade_duration":            s.AvgTradeDuration,
		"total_duration":                s.TotalDuration,
		"total_profit":                  s.TotalProfit,
		"long_profit":                   s.LongProfit,
		"short_profit":                  s.ShortProfit,
		"max_drawdown":                  s.MaxDrawdown,
		"max_drawdown_pct":              s.MaxDrawdownPct,
		"peak_to_trough_drawdown":       s.PeakToTroughDrawdown,
		"peak_to_trough_drawdown_pct":   s.PeakToTroughDrawdownPct,
		"initial_account_size":          s.InitialAccountSize,
		"min_account_size":              s.MinAccountSize,
		"max_account_size":              s.MaxAccountSize,
		"final_account_size":            s.FinalAccountSize,
		"final_account_size_base":       s.FinalAccountSizeBase,
		"final_account_size_base_value": s.FinalAccountSizeBaseValue,
		"final_buyhold":                 s.FinalBuyHold,
	}
}
