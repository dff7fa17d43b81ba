package backtest

import (
	"sort"
	"time"

	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/strategy/position"
)

const (
	MarkerEntry = "entry"
	MarkerExit  = "exit"
)

// Marker is a chart annotation for one end of a trade.
type Marker struct {
	Time     time.Time     `json:"time"`
	Price    float64       `json:"price"`
	Side     position.Side `json:"side"`
	Type     string        `json:"type"`
	Result   string        `json:"result"` // "w" or "l"
	Position string        `json:"position"`
	Color    string        `json:"color"`
	Shape    string        `json:"shape"`
	Text     string        `json:"text"`
	Trade    int           `json:"trade"` // ledger index
}

// Markers emits an entry and an exit marker per trade, sorted by time. Ties
// keep ledger order.
func Markers(ledger []Trade) []Marker {
	out := make([]Marker, 0, 2*len(ledger))
	for i, tr := range ledger {
		result := "l"
		if tr.Win() {
			result = "w"
		}
		long := tr.Side == position.Long
		color := "red"
		if long {
			color = "green"
		}

		entry := Marker{
			Time:     tr.EntryTime,
			Price:    tr.EntryPrice,
			Side:     tr.Side,
			Type:     MarkerEntry,
			Result:   result,
			Position: "aboveBar",
			Color:    color,
			Shape:    "arrowDown",
			Text:     "s",
			Trade:    i,
		}
		if long {
			entry.Position, entry.Shape, entry.Text = "belowBar", "arrowUp", "b"
		}

		exit := Marker{
			Time:     tr.ExitTime,
			Price:    tr.ExitPrice,
			Side:     tr.Side,
			Type:     MarkerExit,
			Result:   result,
			Position: "belowBar",
			Color:    color,
			Shape:    "circle",
			Text:     result,
			Trade:    i,
		}
		if long == tr.Win() {
			exit.Position = "aboveBar"
		}
		out = append(out, entry, exit)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// TradesFromMarkers pairs entry and exit markers back into trades, in ledger
// order. Only side, times and prices are recovered.
func TradesFromMarkers(markers []Marker) ([]Trade, error) {
	type pair struct {
		entry, exit *Marker
	}
	pairs := make(map[int]*pair)
	maxIdx := -1
	for i := range markers {
		m := &markers[i]
		p, ok := pairs[m.Trade]
		if !ok {
			p = &pair{}
			pairs[m.Trade] = p
		}
		switch m.Type {
		case MarkerEntry:
			if p.entry != nil {
				return nil, errs.Input("trade %d has two entry markers", m.Trade)
			}
			p.entry = m
		case MarkerExit:
			if p.exit != nil {
				return nil, errs.Input("trade %d has two exit markers", m.Trade)
			}
			p.exit = m
		default:
			return nil, errs.Input("unknown marker type %q", m.Type)
		}
		maxIdx = max(maxIdx, m.Trade)
	}

	trades := make([]Trade, 0, len(pairs))
	for idx := 0; idx <= maxIdx; idx++ {
		p, ok := pairs[idx]
		if !ok {
			return nil, errs.Input("no markers for trade %d", idx)
		}
		if p.entry == nil || p.exit == nil {
			return nil, errs.Input("trade %d is missing its entry or exit marker", idx)
		}
		if p.entry.Side != p.exit.Side {
			return nil, errs.Input("trade %d markers disagree on side", idx)
		}
		trades = append(trades, Trade{
			Side:       p.entry.Side,
			EntryTime:  p.entry.Time,
			EntryPrice: p.entry.Price,
			ExitTime:   p.exit.Time,
			ExitPrice:  p.exit.Price,
		})
	}
	return trades, nil
}
