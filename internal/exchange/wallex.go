package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	wallex "github.com/wallexchange/wallex-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/tfutils"
)

// candleClient is the part of the Wallex client a WallexSource uses.
type candleClient interface {
	Candles(symbol, resolution string, from, to time.Time) ([]*wallex.Candle, error)
}

// WallexSource loads bars from the Wallex market-history API.
type WallexSource struct {
	client  candleClient
	limiter *rate.Limiter
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
}

func NewWallexSource(apiKey string, logger *zap.Logger, opts Options) *WallexSource {
	return newWallexSource(wallex.New(wallex.ClientOptions{APIKey: apiKey}), logger, opts)
}

func newWallexSource(client candleClient, logger *zap.Logger, opts Options) *WallexSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WallexSource{
		client:  client,
		limiter: newLimiter(opts.RequestsPerSecond),
		logger:  logger.With(zap.String("exchange", "wallex")),
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

func (w *WallexSource) Name() string { return "wallex" }

// Candles returns the last Lookback bars of ticker, oldest first.
func (w *WallexSource) Candles(ctx context.Context, ticker, timeframe string) ([]candle.Candle, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, errs.Input("unsupported timeframe %q", timeframe)
	}
	tf := tfutils.Canonical(timeframe)
	symbol := NormalizeSymbol(ticker)
	start, end := window(w.now(), tf, w.opts.Lookback)

	var raw []*wallex.Candle
	err := retry(ctx, w.logger, "wallex candles", w.opts.MaxRetries, w.opts.BaseDelay, w.opts.MaxDelay, func() error {
		if err := w.limiter.Wait(ctx); err != nil {
			return permanent(err)
		}
		var err error
		raw, err = w.client.Candles(symbol, WallexResolution(tf), start, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("WallexSource.Candles %s: %w", symbol, err)
	}

	candles := make([]candle.Candle, 0, len(raw))
	for _, wc := range raw {
		c, err := w.toCandle(wc, symbol, tf)
		if err != nil {
			w.logger.Debug("WallexSource.Candles | skipping bar", zap.Time("time", wc.Timestamp), zap.Error(err))
			continue
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, errs.Input("ticker %s not found", ticker)
	}
	w.logger.Info("WallexSource.Candles | loaded bars",
		zap.String("symbol", symbol), zap.String("timeframe", tf), zap.Int("bars", len(candles)))
	return candles, nil
}

func (w *WallexSource) toCandle(wc *wallex.Candle, symbol, timeframe string) (candle.Candle, error) {
	var vals [5]float64
	for i, n := range []wallex.Number{wc.Open, wc.High, wc.Low, wc.Close, wc.Volume} {
		v, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return candle.Candle{}, err
		}
		vals[i] = v
	}
	c := candle.Candle{
		Timestamp: wc.Timestamp.UTC().Truncate(time.Minute),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		Symbol:    symbol,
		Timeframe: timeframe,
		Source:    w.Name(),
	}
	return c, c.Validate()
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}
