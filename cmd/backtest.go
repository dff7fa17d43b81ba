package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"github.com/amirphl/rule-backtester/internal/backtest"
	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/config"
	"github.com/amirphl/rule-backtester/internal/indicator"
	"github.com/amirphl/rule-backtester/internal/notifier"
)

// loadTable loads the configured ticker and joins the configured indicators.
func loadTable(ctx context.Context, cfg config.Config, source candle.Source, logger *zap.Logger) (*candle.Table, error) {
	candles, err := source.Candles(ctx, cfg.Ticker, cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s %s: %w", cfg.Ticker, cfg.Timeframe, err)
	}
	table, err := candle.NewTable(candles)
	if err != nil {
		return nil, err
	}
	cols, err := indicator.Apply(table, cfg.Indicators...)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded bars",
		zap.String("ticker", cfg.Ticker),
		zap.String("timeframe", cfg.Timeframe),
		zap.Int("bars", table.Len()),
		zap.Strings("indicator_columns", cols))
	return table, nil
}

// runBacktest handles the run mode
func runBacktest(ctx context.Context, cfg config.Config, source candle.Source, runner *backtest.Runner, n notifier.Notifier, logger *zap.Logger) error {
	table, err := loadTable(ctx, cfg, source, logger)
	if err != nil {
		return err
	}

	req := cfg.Request(cfg.Ticker, cfg.Timeframe)
	res, err := runner.Run(ctx, table, req)
	if err != nil {
		return err
	}
	backtest.PrintResults(os.Stdout, res, cfg.LastN)

	if cfg.OutDir != "" {
		paths, err := backtest.SaveCSV(cfg.OutDir, res)
		if err != nil {
			return err
		}
		jsonPath := filepath.Join(cfg.OutDir, res.RunID+".json")
		if err := backtest.SaveJSON(jsonPath, res); err != nil {
			return err
		}
		logger.Info("Saved results", zap.Strings("files", append(paths, jsonPath)))
	}

	notify(ctx, n, backtest.SummaryMessage(req, res), logger)
	return nil
}

// runBatch handles the batch mode: one backtest per tp/sl pair of the grid.
func runBatch(ctx context.Context, cfg config.Config, source candle.Source, runner *backtest.Runner, logger *zap.Logger) error {
	table, err := loadTable(ctx, cfg, source, logger)
	if err != nil {
		return err
	}

	reqs := backtest.Grid(cfg.Request(cfg.Ticker, cfg.Timeframe), cfg.GridTPs, cfg.GridSLs)
	logger.Info("Starting batch", zap.Int("backtests", len(reqs)), zap.Int("workers", cfg.Workers))
	items, err := runner.RunBatch(ctx, table, reqs, cfg.Workers)
	if err != nil {
		return err
	}

	// best final account first
	sort.SliceStable(items, func(i, j int) bool {
		return finalAccount(items[i]) > finalAccount(items[j])
	})

	tw := tablewriter.NewWriter(os.Stdout)
	tw.Header("TP", "SL", "Status", "Trades", "WinRate", "Final", "MaxDD%", "Run")
	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
			tw.Append(ff2(it.Request.TP), ff2(it.Request.SL), "error", "-", "-", "-", "-", it.Err.Error())
			continue
		}
		s := it.Result.Summary
		tw.Append(
			ff2(it.Request.TP),
			ff2(it.Request.SL),
			it.Result.Status,
			fmt.Sprintf("%d", s.TotalTrades),
			fmt.Sprintf("%.1f%%", s.WinRate*100),
			ff2(s.FinalAccountSize),
			fmt.Sprintf("%.2f", s.MaxDrawdownPct*100),
			it.Result.RunID,
		)
	}
	tw.Render()

	if cfg.OutDir != "" {
		for _, it := range items {
			if it.Err != nil {
				continue
			}
			if _, err := backtest.SaveCSV(cfg.OutDir, it.Result); err != nil {
				return err
			}
		}
		logger.Info("Saved batch results", zap.String("dir", cfg.OutDir))
	}
	if failed > 0 {
		logger.Warn("Some backtests failed", zap.Int("failed", failed), zap.Int("total", len(items)))
	}
	return nil
}

func finalAccount(it backtest.BatchItem) float64 {
	if it.Err != nil || it.Result == nil {
		return -1
	}
	return it.Result.Summary.FinalAccountSize
}

func ff2(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
