// Package backtest runs a rule-based strategy over a bar table: it simulates
// fixed-bracket trades, reconciles them into a ledger, replays the ledger
// into account balances and derives chart markers.
package backtest

import (
	"math"
	"time"

	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/strategy"
	"github.com/amirphl/rule-backtester/internal/strategy/position"
	"github.com/amirphl/rule-backtester/internal/strategy/signal"
)

// ColEntryPrice is the fill price of an entry signalled on a bar: the open
// of the next bar.
const ColEntryPrice = "entry_price"

// TieBreak decides which target wins when a bar breaches both.
type TieBreak string

const (
	StopLossFirst   TieBreak = "stop_loss_first"
	TakeProfitFirst TieBreak = "take_profit_first"
)

// Policy holds the simulation choices that are not part of a strategy.
type Policy struct {
	// DebounceBars is how many consecutive true bars an entry needs.
	// Zero means signal.DefaultBars.
	DebounceBars int `json:"debounce_bars,omitempty" yaml:"debounce_bars,omitempty"`
	// TieBreak defaults to StopLossFirst.
	TieBreak TieBreak `json:"tie_break,omitempty" yaml:"tie_break,omitempty"`
	// ExitOnFillBar checks exits on the bar an entry fills on. Trades closed
	// there have exit_time == entry_time.
	ExitOnFillBar bool `json:"exit_on_fill_bar,omitempty" yaml:"exit_on_fill_bar,omitempty"`
	// ExitOnLastBar checks exits on the final bar too. No entries are taken
	// there either way.
	ExitOnLastBar bool `json:"exit_on_last_bar,omitempty" yaml:"exit_on_last_bar,omitempty"`
	// ReenterOnExitBar lets a side open again on the bar it closed on.
	ReenterOnExitBar bool `json:"reenter_on_exit_bar,omitempty" yaml:"reenter_on_exit_bar,omitempty"`
}

func (p Policy) withDefaults() Policy {
	if p.DebounceBars <= 0 {
		p.DebounceBars = signal.DefaultBars
	}
	if p.TieBreak == "" {
		p.TieBreak = StopLossFirst
	}
	return p
}

// Validate rejects unknown tie-break values.
func (p Policy) Validate() error {
	switch p.TieBreak {
	case "", StopLossFirst, TakeProfitFirst:
		return nil
	default:
		return errs.Input("unknown tie_break %q", p.TieBreak)
	}
}

// Trade is one closed position.
type Trade struct {
	Side             position.Side `json:"side"`
	EntryTime        time.Time     `json:"entry_time"`
	EntryPrice       float64       `json:"entry_price"`
	TPTarget         float64       `json:"tp_target"`
	SLTarget         float64       `json:"sl_target"`
	SLDistance       float64       `json:"sl_distance"`
	ExitTime         time.Time     `json:"exit_time"`
	ExitPrice        float64       `json:"exit_price"`
	PercentageChange float64       `json:"perc_chg"`
}

// Win reports whether the trade closed at its take-profit.
func (t Trade) Win() bool { return t.PercentageChange > 0 }

// OpenPosition is a position still open when the bars ran out.
type OpenPosition struct {
	Side       position.Side `json:"side"`
	EntryTime  time.Time     `json:"entry_time"`
	EntryPrice float64       `json:"entry_price"`
	TPTarget   float64       `json:"tp_target"`
	SLTarget   float64       `json:"sl_target"`
	SLDistance float64       `json:"sl_distance"`
}

// Simulation is the raw output of Simulate, per side in exit order.
type Simulation struct {
	Long  []Trade
	Short []Trade
	Open  []OpenPosition
}

// AddEntryPrice sets the entry_price column to the next bar's open. The last
// bar has no next bar and gets NaN.
func AddEntryPrice(t *candle.Table) error {
	open, ok := t.Column(candle.ColOpen)
	if !ok {
		return &strategy.ColumnNotFoundError{Column: candle.ColOpen}
	}
	entry := make([]float64, len(open))
	for i := range entry {
		if i+1 < len(open) {
			entry[i] = open[i+1]
		} else {
			entry[i] = math.NaN()
		}
	}
	return t.SetColumn(ColEntryPrice, entry)
}

// side is the state machine of one direction: flat while open is nil.
type side struct {
	dir       position.Side
	open      *OpenPosition
	checkFrom int
	closedAt  int
	trades    []Trade
}

func (s *side) enter(i int, price float64, at time.Time, tp, sl float64, p Policy) {
	pos := &OpenPosition{Side: s.dir, EntryTime: at, EntryPrice: price}
	if s.dir == position.Long {
		pos.TPTarget = price * (1 + tp/100)
		pos.SLTarget = price * (1 - sl/100)
		pos.SLDistance = price - pos.SLTarget
	} else {
		pos.TPTarget = price * (1 - tp/100)
		pos.SLTarget = price * (1 + sl/100)
		pos.SLDistance = pos.SLTarget - price
	}
	s.open = pos
	// the entry fills on bar i+1
	s.checkFrom = i + 2
	if p.ExitOnFillBar {
		s.checkFrom = i + 1
	}
}

func (s *side) exit(i int, high, low float64, at time.Time, tp, sl float64, tie TieBreak) {
	if s.open == nil || i < s.checkFrom {
		return
	}
	pos := s.open
	var stopHit, targetHit bool
	if s.dir == position.Long {
		stopHit = low < pos.SLTarget
		targetHit = high > pos.TPTarget
	} else {
		stopHit = high > pos.SLTarget
		targetHit = low < pos.TPTarget
	}
	if !stopHit && !targetHit {
		return
	}

	tr := Trade{
		Side:       pos.Side,
		EntryTime:  pos.EntryTime,
		EntryPrice: pos.EntryPrice,
		TPTarget:   pos.TPTarget,
		SLTarget:   pos.SLTarget,
		SLDistance: pos.SLDistance,
		ExitTime:   at,
	}
	if stopHit && (!targetHit || tie != TakeProfitFirst) {
		tr.ExitPrice = pos.SLTarget
		tr.PercentageChange = -sl / 100
	} else {
		tr.ExitPrice = pos.TPTarget
		tr.PercentageChange = tp / 100
	}
	s.trades = append(s.trades, tr)
	s.open = nil
	s.closedAt = i
}

// Simulate walks the bars once with one independent position slot per side.
// On every bar it checks long exit, short exit, long entry, short entry in
// that order. An entry signalled on bar i fills at entry_price[i] with
// entry_time of bar i+1. Exits fill exactly at the breached target.
//
// The table must carry the entry_price column (see AddEntryPrice). tp and sl
// are percentages.
func Simulate(t *candle.Table, sig *strategy.Signals, tp, sl float64, p Policy) (*Simulation, error) {
	if tp <= 0 || sl <= 0 {
		return nil, errs.Input("tp and sl must be positive, got tp=%v sl=%v", tp, sl)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.withDefaults()

	n := t.Len()
	if n < 2 {
		return nil, errs.Input("need at least 2 bars, got %d", n)
	}
	if sig == nil || len(sig.Buy) != n || len(sig.Sell) != n {
		return nil, errs.Input("signal series do not match %d bars", n)
	}
	cols := make(map[string][]float64, 3)
	for _, name := range []string{candle.ColHigh, candle.ColLow, ColEntryPrice} {
		c, ok := t.Column(name)
		if !ok {
			return nil, &strategy.ColumnNotFoundError{Column: name}
		}
		cols[name] = c
	}
	high, low, entry := cols[candle.ColHigh], cols[candle.ColLow], cols[ColEntryPrice]

	long := &side{dir: position.Long, closedAt: -1}
	short := &side{dir: position.Short, closedAt: -1}
	canEnter := func(s *side, i int) bool {
		return s.open == nil && (p.ReenterOnExitBar || s.closedAt != i)
	}

	last := n - 1
	for i := 0; i <= last; i++ {
		if i == last && !p.ExitOnLastBar {
			break
		}
		at := t.Time(i)
		long.exit(i, high[i], low[i], at, tp, sl, p.TieBreak)
		short.exit(i, high[i], low[i], at, tp, sl, p.TieBreak)
		if i == last || math.IsNaN(entry[i]) {
			continue
		}
		fill := t.Time(i + 1)
		if sig.Buy[i] && canEnter(long, i) {
			long.enter(i, entry[i], fill, tp, sl, p)
		}
		if sig.Sell[i] && canEnter(short, i) {
			short.enter(i, entry[i], fill, tp, sl, p)
		}
	}

	out := &Simulation{Long: long.trades, Short: short.trades}
	for _, s := range []*side{long, short} {
		if s.open != nil {
			out.Open = append(out.Open, *s.open)
		}
	}
	return out, nil
}
