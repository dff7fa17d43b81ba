// Package db
package db

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/rule-backtester/internal/journal"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("not found")

// Candle is the persisted form of a bar.
type Candle struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Source    string
}

// Validate checks the fields the candles table relies on.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return errors.New("candle symbol is empty")
	}
	if c.Timeframe == "" {
		return errors.New("candle timeframe is empty")
	}
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	return nil
}

// Run is a stored backtest: its request, summary and ledger.
type Run struct {
	ID        string
	CreatedAt time.Time
	Ticker    string
	Timeframe string
	Status    string
	Params    []byte // request as JSON
	Summary   map[string]float64
	Trades    []Trade
}

// Trade is one row of a stored ledger.
type Trade struct {
	Seq                  int
	Side                 string
	EntryTime            time.Time
	ExitTime             time.Time
	EntryPrice           float64
	ExitPrice            float64
	TPTarget             float64
	SLTarget             float64
	SLDistance           float64
	PercentageChange     float64
	Result               string
	PnL                  float64
	AccountSizeQuote     float64
	AccountSizeBase      float64
	AccountSizeBaseValue float64
	BuyHold              float64
}

// CandleStore persists bars.
type CandleStore interface {
	SaveCandles(ctx context.Context, candles []Candle) error
	// GetCandles returns bars in [start, end) ordered by time. A zero end
	// means no upper bound.
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error)
}

// RunStore persists backtest runs.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	CandleStore
	RunStore
	journal.Journaler
	Close() error
}
