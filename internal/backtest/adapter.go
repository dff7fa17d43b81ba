package backtest

import (
	"encoding/json"
	"fmt"

	"github.com/amirphl/rule-backtester/internal/db"
	"github.com/amirphl/rule-backtester/internal/strategy/position"
)

// ToRun converts a result into its stored form.
func ToRun(req Request, res *Result) (db.Run, error) {
	params, err := json.Marshal(req)
	if err != nil {
		return db.Run{}, fmt.Errorf("failed to encode request: %w", err)
	}
	run := db.Run{
		ID:        res.RunID,
		CreatedAt: res.CreatedAt,
		Ticker:    req.Ticker,
		Timeframe: req.Freq,
		Status:    res.Status,
		Params:    params,
		Summary:   res.Summary.Map(),
		Trades:    make([]db.Trade, 0, len(res.Rows)),
	}
	for i, r := range res.Rows {
		run.Trades = append(run.Trades, db.Trade{
			Seq:                  i,
			Side:                 r.Side.String(),
			EntryTime:            r.EntryTime,
			ExitTime:             r.ExitTime,
			EntryPrice:           r.EntryPrice,
			ExitPrice:            r.ExitPrice,
			TPTarget:             r.TPTarget,
			SLTarget:             r.SLTarget,
			SLDistance:           r.SLDistance,
			PercentageChange:     r.PercentageChange,
			Result:               r.Result,
			PnL:                  r.PnL,
			AccountSizeQuote:     r.AccountSizeQuote,
			AccountSizeBase:      r.AccountSizeBase,
			AccountSizeBaseValue: r.AccountSizeBaseValue,
			BuyHold:              r.BuyHold,
		})
	}
	return run, nil
}

// TradesFromRun rebuilds the ledger of a stored run.
func TradesFromRun(run *db.Run) ([]Trade, error) {
	out := make([]Trade, 0, len(run.Trades))
	for _, t := range run.Trades {
		side, err := position.ParseSide(t.Side)
		if err != nil {
			return nil, fmt.Errorf("run %s trade %d: %w", run.ID, t.Seq, err)
		}
		out = append(out, Trade{
			Side:             side,
			EntryTime:        t.EntryTime,
			EntryPrice:       t.EntryPrice,
			TPTarget:         t.TPTarget,
			SLTarget:         t.SLTarget,
			SLDistance:       t.SLDistance,
			ExitTime:         t.ExitTime,
			ExitPrice:        t.ExitPrice,
			PercentageChange: t.PercentageChange,
		})
	}
	return out, nil
}
