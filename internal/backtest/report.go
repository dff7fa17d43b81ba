package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// PrintResults writes the summary and the last lastN trades as tables.
func PrintResults(w io.Writer, res *Result, lastN int) {
	fmt.Fprintf(w, "\nBacktest %s (%s)\n", res.RunID, res.Status)

	summary := res.Summary.Map()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	st := tablewriter.NewWriter(w)
	st.Header("Metric", "Value")
	for _, k := range keys {
		st.Append(k, fmt.Sprintf("%.4f", summary[k]))
	}
	st.Render()

	if len(res.Rows) == 0 {
		fmt.Fprintln(w, "No closed trades.")
		return
	}

	rows := res.Rows
	if lastN > 0 && len(rows) > lastN {
		fmt.Fprintf(w, "Last %d of %d trades:\n", lastN, len(rows))
		rows = rows[len(rows)-lastN:]
	}
	offset := len(res.Rows) - len(rows)
	tt := tablewriter.NewWriter(w)
	tt.Header("#", "Side", "Entry", "EntryTime", "Exit", "ExitTime", "Result", "PnL", "Account")
	for i, r := range rows {
		tt.Append(
			fmt.Sprintf("%d", offset+i+1),
			r.Side.String(),
			fmt.Sprintf("%.4f", r.EntryPrice),
			r.EntryTime.Format(time.RFC3339),
			fmt.Sprintf("%.4f", r.ExitPrice),
			r.ExitTime.Format(time.RFC3339),
			r.Result,
			fmt.Sprintf("%.2f", r.PnL),
			fmt.Sprintf("%.2f", r.AccountSizeQuote),
		)
	}
	tt.Render()

	for _, p := range res.Open {
		fmt.Fprintf(w, "Open %s position: entry=%.4f at %s tp=%.4f sl=%.4f\n",
			p.Side, p.EntryPrice, p.EntryTime.Format(time.RFC3339), p.TPTarget, p.SLTarget)
	}
}

// SaveCSV writes <run_id>_ledger.csv and <run_id>_markers.csv into dir and
// returns their paths.
func SaveCSV(dir string, res *Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	ledger := [][]string{{
		"entry_time", "side", "entry_price", "tp_target", "sl_target", "sl_distance",
		"exit_time", "exit_price", "perc_chg", "result", "pnl", "account_size_quote",
		"result_base", "pnl_base", "account_size_base", "account_size_base_value",
		"buyhold", "trade_duration",
	}}
	for _, r := range res.Rows {
		ledger = append(ledger, []string{
			r.EntryTime.Format(time.RFC3339),
			r.Side.String(),
			ff(r.EntryPrice), ff(r.TPTarget), ff(r.SLTarget), ff(r.SLDistance),
			r.ExitTime.Format(time.RFC3339),
			ff(r.ExitPrice), ff(r.PercentageChange),
			r.Result, ff(r.PnL), ff(r.AccountSizeQuote),
			r.ResultBase, ff(r.PnLBase), ff(r.AccountSizeBase), ff(r.AccountSizeBaseValue),
			ff(r.BuyHold), ff(r.TradeDuration),
		})
	}

	markers := [][]string{{"time", "price", "side", "type", "result", "position", "color", "shape", "text", "trade"}}
	for _, m := range res.Markers {
		markers = append(markers, []string{
			m.Time.Format(time.RFC3339), ff(m.Price), m.Side.String(), m.Type, m.Result,
			m.Position, m.Color, m.Shape, m.Text, fmt.Sprintf("%d", m.Trade),
		})
	}

	ledgerPath := filepath.Join(dir, res.RunID+"_ledger.csv")
	markersPath := filepath.Join(dir, res.RunID+"_markers.csv")
	if err := saveCSV(ledgerPath, ledger); err != nil {
		return nil, err
	}
	if err := saveCSV(markersPath, markers); err != nil {
		return nil, err
	}
	return []string{ledgerPath, markersPath}, nil
}

// SaveJSON writes the full result to path.
func SaveJSON(path string, res *Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func saveCSV(filename string, rows [][]string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return nil
}

func ff(v float64) string {
	return fmt.Sprintf("%g", v)
}

// SummaryMessage is a short plain-text digest of a run for chat notifications.
func SummaryMessage(req Request, res *Result) string {
	s := res.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "Backtest %s %s [%s]\n", req.Ticker, req.Freq, res.Status)
	fmt.Fprintf(&b, "Trades: %d (win rate %.1f%%)\n", s.TotalTrades, s.WinRate*100)
	fmt.Fprintf(&b, "Account: %.2f -> %.2f\n", s.InitialAccountSize, s.FinalAccountSize)
	fmt.Fprintf(&b, "Max drawdown: %.2f (%.2f%%)\n", s.MaxDrawdown, s.MaxDrawdownPct*100)
	fmt.Fprintf(&b, "Open positions: %d\n", len(res.Open))
	fmt.Fprintf(&b, "Run: %s", res.RunID)
	return b.String()
}
