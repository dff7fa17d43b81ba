// Package strategy evaluates rule-based entry conditions into signals.
package strategy

import (
	"golang.org/x/sync/errgroup"

	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/strategy/signal"
)

// Strategy is a pair of condition sets: buy conditions open longs, sell
// conditions open shorts.
type Strategy struct {
	Buy  []Condition `json:"buy_conditions" yaml:"buy_conditions"`
	Sell []Condition `json:"sell_conditions" yaml:"sell_conditions"`
}

// Signals holds the per-bar condition series and the debounced entry
// signals of both sides.
type Signals struct {
	BuyConditions  []bool
	SellConditions []bool
	Buy            []bool
	Sell           []bool
}

// Any reports whether either side fires at least once.
func (s *Signals) Any() bool {
	return signal.Count(s.Buy) > 0 || signal.Count(s.Sell) > 0
}

// BuildSignals evaluates both sides concurrently and debounces each over
// bars consecutive bars. The table is only read.
func BuildSignals(t *candle.Table, s Strategy, bars int) (*Signals, error) {
	out := &Signals{}
	var g errgroup.Group
	g.Go(func() error {
		cond, err := Evaluate(t, s.Buy)
		if err != nil {
			return err
		}
		out.BuyConditions = cond
		out.Buy = signal.Debounce(cond, bars)
		return nil
	})
	g.Go(func() error {
		cond, err := Evaluate(t, s.Sell)
		if err != nil {
			return err
		}
		out.SellConditions = cond
		out.Sell = signal.Debounce(cond, bars)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
