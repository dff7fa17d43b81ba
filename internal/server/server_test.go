package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/amirphl/rule-backtester/internal/backtest"
	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/db"
	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/journal"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// risingSource serves ten hourly bars rising from 100 to 200 for BTCUSDT.
type risingSource struct{}

func (risingSource) Candles(ctx context.Context, ticker, timeframe string) ([]candle.Candle, error) {
	if ticker != "BTCUSDT" {
		return nil, errs.Input("ticker %s not found", ticker)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]candle.Candle, 10)
	for i := range out {
		p := 100 + float64(i)*100/9
		out[i] = candle.Candle{Timestamp: base.Add(time.Duration(i) * time.Hour), Open: p, High: p, Low: p, Close: p, Volume: 1}
	}
	return out, nil
}

const backtestParams = `{
	"account_size": 10000,
	"risk_amt": 1,
	"tp": 10,
	"sl": 5,
	"buy_conditions": [{"left_operand": {"column": "close"}, "comparator": ">", "right_operand": {"column": "close", "shift": 1}}],
	"sell_conditions": [{"left_operand": {"column": "close"}, "comparator": "<", "right_operand": {"column": "close", "shift": 1}}]
}`

func newTestServer(t *testing.T) (*Server, *db.MemoryStorage) {
	t.Helper()
	store := db.NewMemory()
	logger := zaptest.NewLogger(t)
	runner := backtest.NewRunner(logger, journal.NewMemoryJournal(), store)
	return New(risingSource{}, runner, store, logger, Options{DefaultTicker: "BTCUSDT"}), store
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var obj map[string]any
	if len(w.Body.Bytes()) > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	}
	return w, obj
}

func decodeRows(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	return rows
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := do(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, body = do(t, s, http.MethodGet, "/api/indicators", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body["indicators"], "rsi")
	assert.Contains(t, body["presets"], "sma_cross")
}

func TestDefaultChart(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := do(t, s, http.MethodGet, "/api/default_chart?ticker=btcusdt&timeframe=1H", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := decodeRows(t, w)
	require.Len(t, rows, 10)
	assert.Equal(t, "2024-01-01T00:00:00Z", rows[0]["time"])
	assert.Equal(t, 100.0, rows[0]["open"])

	w, _ = do(t, s, http.MethodGet, "/api/default_chart", "")
	assert.Equal(t, http.StatusOK, w.Code, "ticker and timeframe default")

	w, body := do(t, s, http.MethodGet, "/api/default_chart?ticker=DOGEUSDT", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["detail"], "ticker DOGEUSDT not found")

	w, _ = do(t, s, http.MethodGet, "/api/default_chart?timeframe=7x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyIndicators(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := do(t, s, http.MethodPost, "/api/apply_indicators",
		`{"ticker": "BTCUSDT", "timeframe": "1h", "indicators": [{"type": "sma", "params": {"length": 2}}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decodeRows(t, w)
	require.Len(t, rows, 10)
	assert.Equal(t, 0.0, rows[0]["SMA_2"], "warm-up values are emitted as 0")
	assert.NotZero(t, rows[1]["SMA_2"])

	w, body := do(t, s, http.MethodPost, "/api/apply_indicators",
		`{"ticker": "BTCUSDT", "indicators": [{"type": "ichimoku"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, body["detail"])

	w, _ = do(t, s, http.MethodPost, "/api/apply_indicators", `{"ticker": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCustomBacktest_FromTicker(t *testing.T) {
	s, store := newTestServer(t)

	w, body := do(t, s, http.MethodPost, "/custom_backtest",
		`{"backtestParams": `+backtestParams+`, "ticker": "BTCUSDT", "timeframe": "1h"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, backtest.StatusOK, body["status"])
	assert.Len(t, body["backtest_result"], 1)
	assert.Len(t, body["markers"], 2)
	assert.Len(t, body["dataframe"], 10)
	assert.Len(t, body["open_positions"], 1)
	summary := body["summary"].(map[string]any)
	assert.InDelta(t, 10200, summary["final_account_size"], 1e-9)

	runID := body["run_id"].(string)
	stored, err := store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", stored.Ticker)
	assert.Equal(t, "1h", stored.Timeframe)

	w, run := do(t, s, http.MethodGet, "/api/runs/"+runID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, runID, run["run_id"])
	assert.Len(t, run["trades"], 1)
	params := run["params"].(map[string]any)
	assert.Equal(t, 10.0, params["tp"])

	w, list := do(t, s, http.MethodGet, "/api/runs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, list["runs"], 1)

	w, _ = do(t, s, http.MethodGet, "/api/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodGet, "/api/runs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCustomBacktest_PreparedDataframe(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := do(t, s, http.MethodGet, "/api/default_chart?ticker=BTCUSDT&timeframe=1h", "")
	require.Equal(t, http.StatusOK, w.Code)
	prepared := w.Body.String()

	w, body := do(t, s, http.MethodPost, "/custom_backtest",
		`{"backtestParams": `+backtestParams+`, "preparedDataframe": `+prepared+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, body["backtest_result"], 1)

	frame := body["dataframe"].([]any)
	require.Len(t, frame, 10)
	last := frame[9].(map[string]any)
	for _, col := range []string{"entry_price", "buy_signal", "sell_signal"} {
		assert.Contains(t, last, col)
	}
}

func TestCustomBacktest_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		detail string
	}{
		{"no data", `{"backtestParams": ` + backtestParams + `}`, http.StatusBadRequest, "Prepared DataFrame is empty"},
		{"no params", `{"ticker": "BTCUSDT"}`, http.StatusBadRequest, "backtestParams"},
		{"bad json", `{"backtestParams": [}`, http.StatusBadRequest, "invalid request body"},
		{"bad comparator", `{"ticker": "BTCUSDT", "backtestParams": {"account_size": 1, "tp": 1, "sl": 1,
			"buy_conditions": [{"left_operand": {"column": "close"}, "comparator": "=>", "right_operand": {"column": "open"}}]}}`,
			http.StatusBadRequest, ""},
		{"missing column", `{"ticker": "BTCUSDT", "backtestParams": {"account_size": 1, "tp": 1, "sl": 1,
			"buy_conditions": [{"left_operand": {"column": "RSI_14"}, "comparator": ">", "right_operand": {"column": "open"}}]}}`,
			http.StatusBadRequest, "RSI_14"},
		{"missing tp", `{"ticker": "BTCUSDT", "backtestParams": {"account_size": 1, "sl": 1}}`, http.StatusBadRequest, "tp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, s, http.MethodPost, "/custom_backtest", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Contains(t, body["detail"], tt.detail)
		})
	}
}

func TestRunEndpoints_WithoutStore(t *testing.T) {
	runner := backtest.NewRunner(nil, nil, nil)
	s := New(risingSource{}, runner, nil, nil, Options{})

	w, body := do(t, s, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["runs"])

	w, _ = do(t, s, http.MethodGet, "/api/runs/x", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
