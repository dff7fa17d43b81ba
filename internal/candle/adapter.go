// Package candle adapter
package candle

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/rule-backtester/internal/db"
	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/tfutils"
)

func DBCandleToCandle(dbCandle db.Candle) Candle {
	return Candle{
		Timestamp: dbCandle.Timestamp,
		Open:      dbCandle.Open,
		High:      dbCandle.High,
		Low:       dbCandle.Low,
		Close:     dbCandle.Close,
		Volume:    dbCandle.Volume,
		Symbol:    dbCandle.Symbol,
		Timeframe: dbCandle.Timeframe,
		Source:    dbCandle.Source,
	}
}

func DBCandlesToCandles(dbCandles []db.Candle) []Candle {
	candles := make([]Candle, len(dbCandles))
	for i, dbCandle := range dbCandles {
		candles[i] = DBCandleToCandle(dbCandle)
	}
	return candles
}

// CandlesToDBCandles stamps symbol and timeframe onto the stored rows, since
// bars loaded from CSV carry neither.
func CandlesToDBCandles(candles []Candle, symbol, timeframe string) []db.Candle {
	out := make([]db.Candle, len(candles))
	for i, c := range candles {
		out[i] = db.Candle{
			Symbol:    strings.ToUpper(symbol),
			Timeframe: timeframe,
			Timestamp: c.Timestamp,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Source:    c.Source,
		}
	}
	return out
}

// StoreSource serves bars from a CandleStore. On a miss it loads them from
// Fallback and writes them through, so the next request is served locally.
type StoreSource struct {
	Store    db.CandleStore
	Fallback Source
	Logger   *zap.Logger
}

func (s StoreSource) Candles(ctx context.Context, ticker, timeframe string) ([]Candle, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, errs.Input("unsupported timeframe %q", timeframe)
	}
	tf := tfutils.Canonical(timeframe)
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stored, err := s.Store.GetCandles(ctx, ticker, tf, time.Time{}, time.Time{})
	if err != nil {
		return nil, errs.Computation(err, "load %s %s from store", ticker, tf)
	}
	if len(stored) > 0 {
		logger.Debug("StoreSource.Candles | served from store",
			zap.String("ticker", ticker), zap.String("timeframe", tf), zap.Int("bars", len(stored)))
		return DBCandlesToCandles(stored), nil
	}
	if s.Fallback == nil {
		return nil, errs.Input("ticker %s not found", ticker)
	}

	candles, err := s.Fallback.Candles(ctx, ticker, tf)
	if err != nil {
		return nil, err
	}
	if err := s.Store.SaveCandles(ctx, CandlesToDBCandles(candles, ticker, tf)); err != nil {
		// the bars are still usable; only the cache write failed
		logger.Warn("StoreSource.Candles | failed to cache candles",
			zap.String("ticker", ticker), zap.String("timeframe", tf), zap.Error(err))
	}
	return candles, nil
}
