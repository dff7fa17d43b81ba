package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/rule-backtester/internal/backtest"
	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/config"
	"github.com/amirphl/rule-backtester/internal/db"
	"github.com/amirphl/rule-backtester/internal/db/conf"
	"github.com/amirphl/rule-backtester/internal/exchange"
	"github.com/amirphl/rule-backtester/internal/notifier"
	"github.com/amirphl/rule-backtester/internal/server"
	"github.com/amirphl/rule-backtester/internal/utils"
)

func main() {
	// Load configuration
	cfg := config.MustLoadConfig()

	logger, err := utils.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	utils.SetLogger(logger)
	logger.Info("Starting backtester", zap.String("mode", cfg.Mode))

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down...", zap.String("signal", sig.String()))
		cancel()
	}()

	if cfg.Mode == config.ModeMigrate {
		if err := runMigrations(ctx, cfg, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		return
	}

	store, err := openStorage(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	source, err := newSource(cfg, store, logger)
	if err != nil {
		logger.Fatal("Failed to create bar source", zap.Error(err))
	}
	runner := backtest.NewRunner(logger, store, store)
	n, err := newNotifier(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}

	switch cfg.Mode {
	case config.ModeRun:
		err = runBacktest(ctx, cfg, source, runner, n, logger)
	case config.ModeBatch:
		err = runBatch(ctx, cfg, source, runner, logger)
	case config.ModeServe:
		srv := server.New(source, runner, store, logger, server.Options{
			DefaultTicker:    cfg.Ticker,
			DefaultTimeframe: cfg.Timeframe,
			RunsLimit:        cfg.Server.RunsLimit,
		})
		err = srv.Run(ctx, cfg.Server.Addr)
	default:
		err = fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}
	if err != nil {
		logger.Fatal("Backtester failed", zap.String("mode", cfg.Mode), zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// openStorage connects the configured store.
func openStorage(cfg config.Config, logger *zap.Logger) (db.Storage, error) {
	switch cfg.DB.Kind {
	case config.DBPostgres:
		dbConfig, err := conf.NewConfig(cfg.DB.ConnStr, cfg.DB.MaxOpen, cfg.DB.MaxIdle)
		if err != nil {
			return nil, fmt.Errorf("failed to create DB config: %w", err)
		}
		pg, err := db.New(*dbConfig)
		if err != nil {
			dbConfig.DB.Close()
			return nil, err
		}
		logger.Info("Connected to Postgres")
		return pg, nil
	case config.DBSQLite:
		s, err := db.NewSQLite(cfg.DB.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened SQLite store", zap.String("path", cfg.DB.SQLitePath))
		return s, nil
	default:
		return db.NewMemory(), nil
	}
}

// newSource builds the bar source for cfg.Source, cached through store.
func newSource(cfg config.Config, store db.CandleStore, logger *zap.Logger) (candle.Source, error) {
	opts := exchange.Options{
		Lookback:          cfg.Exchange.Lookback,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		MaxRetries:        cfg.Exchange.MaxRetries,
		BaseDelay:         cfg.Exchange.BaseDelay,
		MaxDelay:          cfg.Exchange.MaxDelay,
		ProxyURL:          cfg.ProxyURL,
	}

	var fallback candle.Source
	switch cfg.Source {
	case config.SourceWallex:
		fallback = exchange.NewWallexSource(cfg.Exchange.WallexAPIKey, logger, opts)
	case config.SourceBinance:
		b, err := exchange.NewBinanceSource(cfg.Exchange.BinanceBaseURL, logger, opts)
		if err != nil {
			return nil, err
		}
		fallback = b
	default:
		fallback = candle.CSVSource{Files: cfg.CSVFiles}
	}
	return candle.StoreSource{Store: store, Fallback: fallback, Logger: logger}, nil
}

func newNotifier(cfg config.Config, logger *zap.Logger) (notifier.Notifier, error) {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "" {
		return notifier.Nop{}, nil
	}
	return notifier.NewTelegramNotifier(
		cfg.Telegram.Token,
		cfg.Telegram.ChatID,
		cfg.ProxyURL,
		cfg.Telegram.NotificationRetries,
		cfg.Telegram.NotificationDelay,
		logger,
	)
}

// notify sends msg without holding up shutdown for longer than a minute.
func notify(ctx context.Context, n notifier.Notifier, msg string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := n.SendWithRetry(ctx, msg); err != nil {
		logger.Warn("Failed to send notification", zap.Error(err))
	}
}
