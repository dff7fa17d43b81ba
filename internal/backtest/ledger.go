package backtest

import (
	"math"
	"sort"

	"github.com/amirphl/rule-backtester/internal/errs"
)

// Reconcile merges the long and short trades into one ledger ordered by
// entry time. Ties keep input order, longs before shorts.
func Reconcile(long, short []Trade) ([]Trade, error) {
	ledger := make([]Trade, 0, len(long)+len(short))
	ledger = append(ledger, long...)
	ledger = append(ledger, short...)

	for i, tr := range ledger {
		switch {
		case tr.EntryTime.IsZero():
			return nil, errs.Input("trade %d has no entry time", i)
		case !tr.Side.Valid():
			return nil, errs.Input("trade %d has no side", i)
		case !validPrice(tr.EntryPrice) || !validPrice(tr.ExitPrice):
			return nil, errs.Input("trade %d is missing entry or exit price", i)
		}
	}

	sort.SliceStable(ledger, func(i, j int) bool {
		return ledger[i].EntryTime.Before(ledger[j].EntryTime)
	})
	return ledger, nil
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
