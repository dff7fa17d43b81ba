// Package candle
package candle

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/tfutils"
)

type Candle struct {
	Timestamp time.Time `json:"time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol,omitempty"`
	Timeframe string    `json:"timeframe,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// Source loads the bars of a ticker at a target timeframe.
type Source interface {
	Candles(ctx context.Context, ticker, timeframe string) ([]Candle, error)
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	return nil
}

// Resample buckets candles into the target timeframe. Each bucket is labelled
// with its start time; open is the first open, high the max, low the min,
// close the last close and volume the sum. Buckets without candles are
// dropped, so the output timestamps are unique and strictly increasing.
func Resample(candles []Candle, timeframe string) ([]Candle, error) {
	dur, err := tfutils.ParseTimeframe(timeframe)
	if err != nil {
		return nil, errs.Input("resample: %v", err)
	}
	if len(candles) == 0 {
		return nil, nil
	}

	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var result []Candle
	var agg *Candle
	for _, c := range sorted {
		bucket := c.Timestamp.Truncate(dur)
		if agg != nil && agg.Timestamp.Equal(bucket) {
			agg.High = max(agg.High, c.High)
			agg.Low = min(agg.Low, c.Low)
			agg.Close = c.Close
			agg.Volume += c.Volume
			continue
		}
		if agg != nil {
			result = append(result, *agg)
		}
		agg = &Candle{
			Timestamp: bucket,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Symbol:    c.Symbol,
			Timeframe: tfutils.Canonical(timeframe),
			Source:    c.Source,
		}
	}
	result = append(result, *agg)

	for i := range result {
		if err := result[i].Validate(); err != nil {
			return nil, errs.Computation(err, "resampled candle at %s", result[i].Timestamp.Format(time.RFC3339))
		}
	}
	return result, nil
}
