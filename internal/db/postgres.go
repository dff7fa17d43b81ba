package db

import (
	"context"
	"fmt"

	"github.com/amirphl/rule-backtester/internal/db/conf"
	_ "github.com/lib/pq"
)

// PostgresSchema creates every table the store uses. It is idempotent.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol    TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	ts        BIGINT NOT NULL,
	open      DOUBLE PRECISION NOT NULL,
	high      DOUBLE PRECISION NOT NULL,
	low       DOUBLE PRECISION NOT NULL,
	close     DOUBLE PRECISION NOT NULL,
	volume    DOUBLE PRECISION NOT NULL,
	source    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (symbol, timeframe, ts)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at BIGINT NOT NULL,
	ticker     TEXT NOT NULL DEFAULT '',
	timeframe  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	params     TEXT NOT NULL DEFAULT '',
	summary    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs (created_at DESC);

CREATE TABLE IF NOT EXISTS run_trades (
	run_id                  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq                     INTEGER NOT NULL,
	side                    TEXT NOT NULL,
	entry_time              BIGINT NOT NULL,
	exit_time               BIGINT NOT NULL,
	entry_price             DOUBLE PRECISION NOT NULL,
	exit_price              DOUBLE PRECISION NOT NULL,
	tp_target               DOUBLE PRECISION NOT NULL,
	sl_target               DOUBLE PRECISION NOT NULL,
	sl_distance             DOUBLE PRECISION NOT NULL,
	percentage_change       DOUBLE PRECISION NOT NULL,
	result                  TEXT NOT NULL,
	pnl                     DOUBLE PRECISION NOT NULL,
	account_size_quote      DOUBLE PRECISION NOT NULL,
	account_size_base       DOUBLE PRECISION NOT NULL,
	account_size_base_value DOUBLE PRECISION NOT NULL,
	buyhold                 DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS events (
	id          BIGSERIAL PRIMARY KEY,
	ts          BIGINT NOT NULL,
	type        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_type_ts_idx ON events (type, ts);
`

// Postgres is the lib/pq backed Storage.
type Postgres struct {
	*sqlStore
}

// New wraps an open Postgres connection and applies the schema.
func New(c conf.Config) (*Postgres, error) {
	if c.DB == nil {
		return nil, fmt.Errorf("postgres: config has no connection")
	}
	if _, err := c.DB.ExecContext(context.Background(), PostgresSchema); err != nil {
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Postgres{sqlStore: &sqlStore{db: c.DB}}, nil
}
