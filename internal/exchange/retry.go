package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	backoffFactor = 2.0
	jitterRange   = 0.1 // ±10%
)

// permanentError stops retry immediately.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }

func (p *permanentError) Unwrap() error { return p.err }

func permanent(err error) error { return &permanentError{err: err} }

// retry calls fn up to attempts times with exponential backoff and jitter
// between calls. Errors wrapped with permanent are returned at once.
func retry(ctx context.Context, logger *zap.Logger, name string, attempts int, baseDelay, maxDelay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}

		delay := calculateRetryDelay(attempt, baseDelay, maxDelay, backoffFactor, jitterRange)
		logger.Warn("retry | attempt failed",
			zap.String("op", name),
			zap.Int("attempt", attempt+1),
			zap.Int("attempts", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

// calculateRetryDelay returns baseDelay * backoffFactor^attempt, capped at
// maxDelay, with ±jitterRange jitter.
func calculateRetryDelay(attempt int, baseDelay, maxDelay time.Duration, backoffFactor, jitterRange float64) time.Duration {
	delay := float64(baseDelay) * math.Pow(backoffFactor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	jitter := delay * jitterRange * (2*rand.Float64() - 1)
	delay += jitter
	if delay < 0 {
		delay = float64(baseDelay)
	}
	return time.Duration(delay)
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
