package tfutils

import (
	"fmt"
	"strings"
	"time"
)

// aliases maps the frequency strings (15min, 1H, 1D) the chart UI sends onto
// canonical timeframes.
var aliases = map[string]string{
	"1min":  "1m",
	"5min":  "5m",
	"15min": "15m",
	"30min": "30m",
	"1H":    "1h",
	"4H":    "4h",
	"1D":    "1d",
	"1W":    "1w",
}

// Canonical returns the canonical spelling of a timeframe ("15min" -> "15m").
func Canonical(timeframe string) string {
	tf := strings.TrimSpace(timeframe)
	if c, ok := aliases[tf]; ok {
		return c
	}
	return tf
}

// ParseTimeframe parses timeframe string (e.g., "5m", "1h", "1D") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return 0, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	return d, nil
}

// GetTimeframeDuration returns the duration for a given timeframe
func GetTimeframeDuration(timeframe string) time.Duration {
	switch Canonical(timeframe) {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

func TimeframeMinutes(timeframe string) int {
	return int(GetTimeframeDuration(timeframe) / time.Minute)
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}
