package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS candles (
	symbol    TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	ts        INTEGER NOT NULL,
	open      REAL NOT NULL,
	high      REAL NOT NULL,
	low       REAL NOT NULL,
	close     REAL NOT NULL,
	volume    REAL NOT NULL,
	source    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (symbol, timeframe, ts)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
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
	entry_time              INTEGER NOT NULL,
	exit_time               INTEGER NOT NULL,
	entry_price             REAL NOT NULL,
	exit_price              REAL NOT NULL,
	tp_target               REAL NOT NULL,
	sl_target               REAL NOT NULL,
	sl_distance             REAL NOT NULL,
	percentage_change       REAL NOT NULL,
	result                  TEXT NOT NULL,
	pnl                     REAL NOT NULL,
	account_size_quote      REAL NOT NULL,
	account_size_base       REAL NOT NULL,
	account_size_base_value REAL NOT NULL,
	buyhold                 REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	type        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_type_ts_idx ON events (type, ts);
`

// SQLite is the modernc.org/sqlite backed Storage (pure Go, no cgo).
type SQLite struct {
	*sqlStore
}

// NewSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// single writer; also keeps ":memory:" on one connection
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &SQLite{sqlStore: &sqlStore{db: conn, ph: questionPlaceholder}}, nil
}
