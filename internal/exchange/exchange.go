// Package exchange loads historical bars from exchanges.
package exchange

import (
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/rule-backtester/internal/tfutils"
)

// Options tunes how a source pages, throttles and retries.
type Options struct {
	// Lookback is how many bars back from now to load.
	Lookback int
	// RequestsPerSecond throttles calls to the exchange. Zero means no limit.
	RequestsPerSecond float64
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	ProxyURL          string
}

// DefaultOptions returns conservative settings for the public endpoints.
func DefaultOptions() Options {
	return Options{
		Lookback:          1000,
		RequestsPerSecond: 5,
		MaxRetries:        3,
		BaseDelay:         2 * time.Second,
		MaxDelay:          30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Lookback <= 0 {
		o.Lookback = d.Lookback
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	return o
}

// NormalizeSymbol turns "btc-usdt" into "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(symbol, "-", ""), "/", ""))
}

// WallexResolution maps a timeframe onto Wallex's resolution: minutes for
// intraday bars, "1D" and "1W" above that.
func WallexResolution(timeframe string) string {
	switch tfutils.Canonical(timeframe) {
	case "1d":
		return "1D"
	case "1w":
		return "1W"
	default:
		return strconv.Itoa(tfutils.TimeframeMinutes(timeframe))
	}
}

// window returns the [start, end) range covering the last lookback bars.
func window(now time.Time, timeframe string, lookback int) (time.Time, time.Time) {
	d := tfutils.GetTimeframeDuration(timeframe)
	end := now.UTC().Truncate(d)
	return end.Add(-d * time.Duration(lookback)), end
}
