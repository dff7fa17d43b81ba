package candle

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/amirphl/rule-backtester/internal/errs"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime accepts the layouts above or a unix timestamp in seconds or
// milliseconds.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("unrecognized time format")
	}
	if n > 1e11 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// ReadCSV reads OHLCV rows. The first row is a header; the first six columns
// of every row are time, open, high, low, close, volume and anything after
// them is ignored. Rows are returned sorted by time. UTF-8 and UTF-16 input
// with a byte order mark is decoded, as spreadsheet exports often carry one.
func ReadCSV(r io.Reader, symbol string) ([]Candle, error) {
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var candles []Candle
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, errs.Input("csv line %d: %v", line, err)
		}
		if line == 1 {
			continue
		}
		if len(record) < 6 {
			return nil, errs.Input("csv line %d: expected 6 columns, got %d", line, len(record))
		}

		ts, err := parseTime(record[0])
		if err != nil {
			return nil, errs.Input("csv line %d: time %q: %v", line, record[0], err)
		}
		var vals [5]float64
		for k := range vals {
			vals[k], err = strconv.ParseFloat(strings.TrimSpace(record[k+1]), 64)
			if err != nil {
				return nil, errs.Input("csv line %d: column %d: %v", line, k+2, err)
			}
		}

		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			Symbol:    symbol,
			Source:    "csv",
		})
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

// LoadCSV reads OHLCV rows from a file.
func LoadCSV(path, symbol string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.Input("csv file not found at path: %s", path)
		}
		return nil, errs.Input("open csv %s: %v", path, err)
	}
	defer f.Close()
	return ReadCSV(f, symbol)
}

// CSVSource maps tickers onto CSV files of raw bars.
type CSVSource struct {
	Files map[string]string
}

func (s CSVSource) Candles(ctx context.Context, ticker, timeframe string) ([]Candle, error) {
	path, ok := s.Files[ticker]
	if !ok {
		return nil, errs.Input("ticker %s not found", ticker)
	}
	raw, err := LoadCSV(path, ticker)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Resample(raw, timeframe)
}
