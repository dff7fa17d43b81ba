package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/amirphl/rule-backtester/internal/journal"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// sqlStore is the storage shared by the Postgres and SQLite backends. The
// dialects differ only in DDL and placeholder syntax; timestamps are stored
// as unix milliseconds in both.
type sqlStore struct {
	db *sql.DB
	ph func(n int) string // nil keeps $n
}

func questionPlaceholder(int) string { return "?" }

// q rewrites the $n placeholders of query into the dialect's syntax.
func (s *sqlStore) q(query string) string {
	if s.ph == nil {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(query[i])
			continue
		}
		var n int
		fmt.Sscanf(query[i+1:j], "%d", &n)
		b.WriteString(s.ph(n))
		i = j - 1
	}
	return b.String()
}

func (s *sqlStore) DB() *sql.DB { return s.db }

func (s *sqlStore) Close() error { return s.db.Close() }

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (s *sqlStore) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (s *sqlStore) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, s.q(query), args...)
	}
	return s.db.QueryContext(ctx, s.q(query), args...)
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// -------- CandleStore --------

func (s *sqlStore) SaveCandles(ctx context.Context, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}

	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d for %s %s at %s: %w",
				i, c.Symbol, c.Timeframe, c.Timestamp, err)
		}
	}

	return s.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
				open=excluded.open, high=excluded.high, low=excluded.low,
				close=excluded.close, volume=excluded.volume, source=excluded.source
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, c := range candles {
			_, err := stmt.ExecContext(ctx,
				strings.ToUpper(c.Symbol), c.Timeframe, toMillis(c.Timestamp),
				c.Open, c.High, c.Low, c.Close, c.Volume, c.Source)
			if err != nil {
				return fmt.Errorf("failed to save candle at index %d (%s %s at %s): %w",
					i, c.Symbol, c.Timeframe, c.Timestamp, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error) {
	endMs := int64(math.MaxInt64)
	if !end.IsZero() {
		endMs = toMillis(end)
	}
	rows, err := s.queryWithTransaction(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume, source
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts < $4
		ORDER BY ts ASC`,
		strings.ToUpper(symbol), timeframe, toMillis(start), endMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var candles []Candle
	for rows.Next() {
		var c Candle
		var ts int64
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Source); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timestamp = fromMillis(ts)
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// -------- RunStore --------

func (s *sqlStore) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is empty")
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary of run %s: %w", run.ID, err)
	}

	return s.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO runs (id, created_at, ticker, timeframe, status, params, summary)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`),
			run.ID, toMillis(run.CreatedAt), run.Ticker, run.Timeframe, run.Status, string(run.Params), string(summary))
		if err != nil {
			return fmt.Errorf("failed to save run %s: %w", run.ID, err)
		}

		if len(run.Trades) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO run_trades (run_id, seq, side, entry_time, exit_time, entry_price, exit_price,
				tp_target, sl_target, sl_distance, percentage_change, result, pnl,
				account_size_quote, account_size_base, account_size_base_value, buyhold)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`))
		if err != nil {
			return fmt.Errorf("failed to prepare trade insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range run.Trades {
			_, err := stmt.ExecContext(ctx, run.ID, t.Seq, t.Side, toMillis(t.EntryTime), toMillis(t.ExitTime),
				t.EntryPrice, t.ExitPrice, t.TPTarget, t.SLTarget, t.SLDistance, t.PercentageChange,
				t.Result, t.PnL, t.AccountSizeQuote, t.AccountSizeBase, t.AccountSizeBaseValue, t.BuyHold)
			if err != nil {
				return fmt.Errorf("failed to save trade %d of run %s: %w", t.Seq, run.ID, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var created int64
		var params, summary string
		if err := rows.Scan(&r.ID, &created, &r.Ticker, &r.Timeframe, &r.Status, &params, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = fromMillis(created)
		r.Params = []byte(params)
		if summary != "" && summary != "null" {
			if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
				return nil, fmt.Errorf("failed to decode summary of run %s: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *sqlStore) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := s.queryWithTransaction(ctx, `
		SELECT id, created_at, ticker, timeframe, status, params, summary
		FROM runs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	runs, err := s.scanRuns(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	run := runs[0]

	trows, err := s.queryWithTransaction(ctx, `
		SELECT seq, side, entry_time, exit_time, entry_price, exit_price, tp_target, sl_target,
			sl_distance, percentage_change, result, pnl, account_size_quote, account_size_base,
			account_size_base_value, buyhold
		FROM run_trades WHERE run_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades of run %s: %w", id, err)
	}
	defer trows.Close()
	for trows.Next() {
		var t Trade
		var entry, exit int64
		if err := trows.Scan(&t.Seq, &t.Side, &entry, &exit, &t.EntryPrice, &t.ExitPrice, &t.TPTarget,
			&t.SLTarget, &t.SLDistance, &t.PercentageChange, &t.Result, &t.PnL, &t.AccountSizeQuote,
			&t.AccountSizeBase, &t.AccountSizeBaseValue, &t.BuyHold); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.EntryTime, t.ExitTime = fromMillis(entry), fromMillis(exit)
		run.Trades = append(run.Trades, t)
	}
	if err := trows.Err(); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the newest runs first, without their trades.
func (s *sqlStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.queryWithTransaction(ctx, `
		SELECT id, created_at, ticker, timeframe, status, params, summary
		FROM runs ORDER BY created_at DESC, id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return s.scanRuns(rows)
}

// -------- Journaler --------

func (s *sqlStore) LogEvent(ctx context.Context, event journal.Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	return s.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO events (ts, type, description, data) VALUES ($1,$2,$3,$4)`),
			toMillis(event.Time), event.Type, event.Description, string(data))
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	query := `SELECT ts, type, description, data FROM events WHERE ts >= $1 AND ts <= $2`
	args := []any{toMillis(start), toMillis(end)}
	if eventType != "" {
		query += ` AND type = $3`
		args = append(args, eventType)
	}
	rows, err := s.queryWithTransaction(ctx, query+` ORDER BY ts ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var ts int64
		var data string
		if err := rows.Scan(&ts, &e.Type, &e.Description, &data); err != nil {
			return nil, err
		}
		e.Time = fromMillis(ts)
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
