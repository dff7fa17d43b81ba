package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/db"
	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/journal"
	"github.com/amirphl/rule-backtester/internal/strategy"
	"github.com/amirphl/rule-backtester/internal/tfutils"
)

// Run statuses.
const (
	StatusOK        = "ok"
	StatusNoSignals = "no_signals"
)

// Signal columns added to the prepared table.
const (
	ColBuySignal  = "buy_signal"
	ColSellSignal = "sell_signal"
)

// Request is one backtest: money management, targets and the strategy.
type Request struct {
	Ticker      string  `json:"ticker,omitempty" yaml:"ticker,omitempty"`
	Freq        string  `json:"freq,omitempty" yaml:"freq,omitempty"`
	AccountSize float64 `json:"account_size" yaml:"account_size"`
	RiskAmt     float64 `json:"risk_amt" yaml:"risk_amt"`
	TP          float64 `json:"tp" yaml:"tp"`
	SL          float64 `json:"sl" yaml:"sl"`

	strategy.Strategy `yaml:",inline"`

	Policy Policy `json:"policy,omitempty" yaml:"policy,omitempty"`
}

func (r Request) Validate() error {
	switch {
	case r.AccountSize <= 0:
		return errs.Input("missing or non-positive 'account_size'")
	case r.RiskAmt < 0 || r.RiskAmt > 100:
		return errs.Input("'risk_amt' must be within [0, 100]")
	case r.TP <= 0:
		return errs.Input("missing or non-positive 'tp'")
	case r.SL <= 0:
		return errs.Input("missing or non-positive 'sl'")
	}
	if r.Freq != "" && !tfutils.IsValidTimeframe(r.Freq) {
		return errs.Input("unsupported freq %q", r.Freq)
	}
	return r.Policy.Validate()
}

// Result is a completed backtest.
type Result struct {
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Status    string         `json:"status"`
	Trades    []Trade        `json:"-"`
	Rows      []LedgerRow    `json:"backtest_result"`
	Markers   []Marker       `json:"markers"`
	Summary   Summary        `json:"summary"`
	Open      []OpenPosition `json:"open_positions"`
	// Table is the input table plus entry_price and the signal columns.
	Table *candle.Table `json:"-"`
}

// Runner wires the backtest stages together.
type Runner struct {
	logger  *zap.Logger
	journal journal.Journaler
	store   db.RunStore
}

// NewRunner builds a Runner. A nil journal discards events and a nil store
// skips persistence.
func NewRunner(logger *zap.Logger, j journal.Journaler, store db.RunStore) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if j == nil {
		j = journal.Discard{}
	}
	return &Runner{logger: logger, journal: j, store: store}
}

// Run backtests req over table. The table is cloned, never modified. Any
// failure returns no result.
func (r *Runner) Run(ctx context.Context, table *candle.Table, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Status:    StatusOK,
		Trades:    []Trade{},
		Rows:      []LedgerRow{},
		Markers:   []Marker{},
		Open:      []OpenPosition{},
	}
	log := r.logger.With(zap.String("run_id", res.RunID), zap.String("ticker", req.Ticker))
	log.Info("Run | starting backtest",
		zap.Int("bars", table.Len()),
		zap.Int("buy_conditions", len(req.Buy)),
		zap.Int("sell_conditions", len(req.Sell)),
		zap.Float64("tp", req.TP),
		zap.Float64("sl", req.SL))

	t := table.Clone()
	if err := AddEntryPrice(t); err != nil {
		return nil, err
	}
	policy := req.Policy.withDefaults()
	sig, err := strategy.BuildSignals(t, req.Strategy, policy.DebounceBars)
	if err != nil {
		log.Warn("Run | failed to build signals", zap.Error(err))
		return nil, err
	}
	if err := t.SetColumn(ColBuySignal, flags(sig.Buy)); err != nil {
		return nil, err
	}
	if err := t.SetColumn(ColSellSignal, flags(sig.Sell)); err != nil {
		return nil, err
	}
	res.Table = t

	if !sig.Any() {
		log.Info("Run | no entry signals on either side", zap.Error(errs.ErrNoSignals))
		res.Status = StatusNoSignals
		res.Summary = Summarize(nil, req.AccountSize)
		r.event(ctx, "run", errs.ErrNoSignals.Error(), map[string]any{"run_id": res.RunID})
		if err := r.save(ctx, req, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	sim, err := Simulate(t, sig, req.TP, req.SL, policy)
	if err != nil {
		return nil, err
	}
	ledger, err := Reconcile(sim.Long, sim.Short)
	if err != nil {
		return nil, err
	}
	rows, err := Replay(ledger, req.AccountSize, req.RiskAmt, req.TP, req.SL)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Trades = ledger
	if rows != nil {
		res.Rows = rows
	}
	res.Markers = Markers(ledger)
	res.Summary = Summarize(rows, req.AccountSize)
	if sim.Open != nil {
		res.Open = sim.Open
	}

	for i, row := range res.Rows {
		r.event(ctx, "trade", fmt.Sprintf("%s trade closed (%s)", row.Side, row.Result), map[string]any{
			"run_id":      res.RunID,
			"seq":         i,
			"entry_time":  row.EntryTime,
			"exit_time":   row.ExitTime,
			"entry_price": row.EntryPrice,
			"exit_price":  row.ExitPrice,
			"pnl":         row.PnL,
		})
	}
	r.event(ctx, "run", "backtest completed", map[string]any{
		"run_id":             res.RunID,
		"total_trades":       res.Summary.TotalTrades,
		"win_rate":           res.Summary.WinRate,
		"final_account_size": res.Summary.FinalAccountSize,
		"open_positions":     len(res.Open),
	})
	log.Info("Run | backtest completed",
		zap.Int("trades", res.Summary.TotalTrades),
		zap.Float64("win_rate", res.Summary.WinRate),
		zap.Float64("final_account_size", res.Summary.FinalAccountSize),
		zap.Int("open_positions", len(res.Open)))

	if err := r.save(ctx, req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Runner) event(ctx context.Context, typ, desc string, data map[string]any) {
	if err := r.journal.LogEvent(ctx, journal.Event{Type: typ, Description: desc, Data: data}); err != nil {
		r.logger.Warn("Run | failed to journal event", zap.String("type", typ), zap.Error(err))
	}
}

func (r *Runner) save(ctx context.Context, req Request, res *Result) error {
	if r.store == nil {
		return nil
	}
	run, err := ToRun(req, res)
	if err != nil {
		return err
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		r.logger.Error("Run | failed to save run", zap.String("run_id", res.RunID), zap.Error(err))
		return fmt.Errorf("failed to save run %s: %w", res.RunID, err)
	}
	return nil
}

func flags(s []bool) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v {
			out[i] = 1
		}
	}
	return out
}
