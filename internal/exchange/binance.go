package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/tfutils"
)

const (
	BinanceBaseURL = "https://api.binance.com"
	binanceLimit   = 1000
)

// BinanceSource loads bars from the public Binance klines endpoint.
type BinanceSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
}

// NewBinanceSource builds a source against baseURL (BinanceBaseURL when
// empty), optionally through opts.ProxyURL.
func NewBinanceSource(baseURL string, logger *zap.Logger, opts Options) (*BinanceSource, error) {
	if baseURL == "" {
		baseURL = BinanceBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{}
	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &BinanceSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second, Transport: transport},
		limiter: newLimiter(opts.RequestsPerSecond),
		logger:  logger.With(zap.String("exchange", "binance")),
		opts:    opts.withDefaults(),
		now:     time.Now,
	}, nil
}

func (b *BinanceSource) Name() string { return "binance" }

// Candles returns the last Lookback bars of ticker, oldest first, paging
// through the endpoint binanceLimit bars at a time.
func (b *BinanceSource) Candles(ctx context.Context, ticker, timeframe string) ([]candle.Candle, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, errs.Input("unsupported timeframe %q", timeframe)
	}
	tf := tfutils.Canonical(timeframe)
	symbol := NormalizeSymbol(ticker)
	start, end := window(b.now(), tf, b.opts.Lookback)
	step := tfutils.GetTimeframeDuration(tf)

	var out []candle.Candle
	for from := start; from.Before(end); {
		page, err := b.fetchPage(ctx, symbol, tf, from, end)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)
		next := page[len(page)-1].Timestamp.Add(step)
		if !next.After(from) || len(page) < binanceLimit {
			break
		}
		from = next
	}
	if len(out) == 0 {
		return nil, errs.Input("ticker %s not found", ticker)
	}
	b.logger.Info("BinanceSource.Candles | loaded bars",
		zap.String("symbol", symbol), zap.String("timeframe", tf), zap.Int("bars", len(out)))
	return out, nil
}

func (b *BinanceSource) fetchPage(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	// endTime is inclusive on the exchange side
	q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	q.Set("limit", strconv.Itoa(binanceLimit))
	apiURL := b.baseURL + "/api/v3/klines?" + q.Encode()

	var body []byte
	err := retry(ctx, b.logger, "binance klines", b.opts.MaxRetries, b.opts.BaseDelay, b.opts.MaxDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return permanent(fmt.Errorf("error creating request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := b.client.Do(req)
		if err != nil {
			return fmt.Errorf("network error: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("error reading response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(data))
			if resp.StatusCode == http.StatusBadRequest {
				// unknown symbol or interval
				return permanent(errs.Input("ticker %s not found: %s", symbol, string(data)))
			}
			if !isRetryableHTTPStatus(resp.StatusCode) {
				return permanent(apiErr)
			}
			return apiErr
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.parseKlines(body, symbol, timeframe)
}

func (b *BinanceSource) parseKlines(body []byte, symbol, timeframe string) ([]candle.Candle, error) {
	var rawCandles [][]any
	if err := json.Unmarshal(body, &rawCandles); err != nil {
		return nil, fmt.Errorf("JSON decode error: %w", err)
	}

	candles := make([]candle.Candle, 0, len(rawCandles))
	for _, raw := range rawCandles {
		if len(raw) < 6 {
			continue
		}
		ts, ok := klineInt(raw[0])
		if !ok {
			b.logger.Debug("BinanceSource | unexpected timestamp", zap.Any("value", raw[0]))
			continue
		}
		var vals [5]float64
		valid := true
		for i := range vals {
			v, ok := klineFloat(raw[i+1])
			if !ok {
				valid = false
				break
			}
			vals[i] = v
		}
		if !valid {
			continue
		}
		c := candle.Candle{
			Timestamp: time.UnixMilli(ts).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    b.Name(),
		}
		if err := c.Validate(); err != nil {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func klineInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func klineFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
