package candle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/rule-backtester/internal/errs"
)

// Base columns every table carries.
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
)

// Float64 marshals non-finite values as 0.
type Float64 float64

func (f Float64) MarshalJSON() ([]byte, error) {
	return json.Marshal(Finite(float64(f)))
}

// Finite maps NaN and ±Inf to 0.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Table is a time-indexed set of aligned numeric columns: the OHLCV bars plus
// any indicator columns joined onto them.
type Table struct {
	times []time.Time
	order []string
	cols  map[string][]float64
}

// NewTable builds a table from candles sorted by time. Timestamps must be
// unique and strictly increasing.
func NewTable(candles []Candle) (*Table, error) {
	times := make([]time.Time, len(candles))
	open := make([]float64, len(candles))
	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	volume := make([]float64, len(candles))
	for i, c := range candles {
		times[i] = c.Timestamp
		open[i], high[i], low[i], closes[i], volume[i] = c.Open, c.High, c.Low, c.Close, c.Volume
	}
	return NewTableFromColumns(times, map[string][]float64{
		ColOpen:   open,
		ColHigh:   high,
		ColLow:    low,
		ColClose:  closes,
		ColVolume: volume,
	}, nil)
}

// NewTableFromColumns builds a table from raw columns. order fixes the column
// order of the extra (non-OHLCV) columns; columns missing from order are
// appended in no particular order.
func NewTableFromColumns(times []time.Time, cols map[string][]float64, order []string) (*Table, error) {
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, errs.Input("timestamps must be unique and increasing: %s follows %s",
				times[i].Format(time.RFC3339), times[i-1].Format(time.RFC3339))
		}
	}
	for _, base := range []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume} {
		if _, ok := cols[base]; !ok {
			return nil, errs.Input("column %q is required", base)
		}
	}

	t := &Table{
		times: append([]time.Time(nil), times...),
		cols:  make(map[string][]float64, len(cols)),
	}
	add := func(name string) error {
		if _, done := t.cols[name]; done {
			return nil
		}
		values, ok := cols[name]
		if !ok {
			return nil
		}
		return t.SetColumn(name, values)
	}
	for _, name := range append([]string{ColOpen, ColHigh, ColLow, ColClose, ColVolume}, order...) {
		if err := add(name); err != nil {
			return nil, err
		}
	}
	for name := range cols {
		if err := add(name); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) Len() int { return len(t.times) }

func (t *Table) Time(i int) time.Time { return t.times[i] }

func (t *Table) Times() []time.Time { return t.times }

// Column returns the named column. The slice is shared with the table.
func (t *Table) Column(name string) ([]float64, bool) {
	c, ok := t.cols[name]
	return c, ok
}

// SetColumn adds or replaces a column.
func (t *Table) SetColumn(name string, values []float64) error {
	if len(values) != len(t.times) {
		return errs.Input("column %q has %d values, table has %d rows", name, len(values), len(t.times))
	}
	if _, exists := t.cols[name]; !exists {
		t.order = append(t.order, name)
	}
	t.cols[name] = append([]float64(nil), values...)
	return nil
}

// Columns returns column names in insertion order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.order...)
}

// Clone returns a deep copy, so concurrent backtests never share columns.
func (t *Table) Clone() *Table {
	c := &Table{
		times: append([]time.Time(nil), t.times...),
		order: append([]string(nil), t.order...),
		cols:  make(map[string][]float64, len(t.cols)),
	}
	for name, values := range t.cols {
		c.cols[name] = append([]float64(nil), values...)
	}
	return c
}

// Candle rebuilds the OHLCV bar at row i.
func (t *Table) Candle(i int) Candle {
	return Candle{
		Timestamp: t.times[i],
		Open:      t.cols[ColOpen][i],
		High:      t.cols[ColHigh][i],
		Low:       t.cols[ColLow][i],
		Close:     t.cols[ColClose][i],
		Volume:    t.cols[ColVolume][i],
	}
}

// Candles rebuilds all OHLCV bars.
func (t *Table) Candles() []Candle {
	out := make([]Candle, t.Len())
	for i := range out {
		out[i] = t.Candle(i)
	}
	return out
}

// Row is one JSON record of the table.
type Row map[string]any

// Rows materializes the table as records keyed by column name, with "time"
// formatted as RFC3339 and non-finite numbers emitted as 0.
func (t *Table) Rows() []Row {
	rows := make([]Row, t.Len())
	for i := range rows {
		row := make(Row, len(t.order)+1)
		row["time"] = t.times[i].Format(time.RFC3339)
		for _, name := range t.order {
			row[name] = Float64(t.cols[name][i])
		}
		rows[i] = row
	}
	return rows
}

// TableFromRows is the inverse of Rows: it rebuilds a table from JSON records
// keyed by column name. Each record needs a "time" field (a string in any
// layout ReadCSV accepts, or unix seconds/milliseconds). Numeric strings and
// booleans are accepted as values; other non-numeric fields are dropped. A
// value missing from a record is NaN. Records are sorted by time.
func TableFromRows(rows []Row) (*Table, error) {
	if len(rows) == 0 {
		return nil, errs.Input("prepared dataframe is empty")
	}
	type record struct {
		ts  time.Time
		row Row
	}
	recs := make([]record, len(rows))
	for i, row := range rows {
		ts, err := rowTime(row["time"])
		if err != nil {
			return nil, errs.Input("row %d: time: %v", i, err)
		}
		recs[i] = record{ts: ts, row: row}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ts.Before(recs[j].ts) })

	// A column is kept when every value it has is numeric.
	numeric := map[string]bool{}
	for _, r := range recs {
		for name, v := range r.row {
			if name == "time" {
				continue
			}
			_, ok := rowFloat(v)
			if prev, seen := numeric[name]; !seen {
				numeric[name] = ok
			} else {
				numeric[name] = prev && ok
			}
		}
	}
	var order []string
	for name, ok := range numeric {
		if ok {
			order = append(order, name)
		}
	}
	sort.Strings(order)

	times := make([]time.Time, len(recs))
	cols := make(map[string][]float64, len(order))
	for _, name := range order {
		cols[name] = make([]float64, len(recs))
	}
	for i, r := range recs {
		times[i] = r.ts
		for _, name := range order {
			v, present := r.row[name]
			if !present {
				cols[name][i] = math.NaN()
				continue
			}
			cols[name][i], _ = rowFloat(v)
		}
	}
	return NewTableFromColumns(times, cols, order)
}

func rowTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case string:
		return parseTime(x)
	case float64:
		return parseTime(strconv.FormatInt(int64(x), 10))
	case json.Number:
		return parseTime(x.String())
	case nil:
		return time.Time{}, errors.New("missing")
	default:
		return time.Time{}, fmt.Errorf("unsupported value %v", v)
	}
}

// rowFloat reads a record value. null decodes as NaN.
func rowFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), true
	case float64:
		return x, true
	case Float64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
