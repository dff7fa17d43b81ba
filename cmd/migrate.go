package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/amirphl/rule-backtester/internal/config"
	"github.com/amirphl/rule-backtester/internal/db"
)

// runMigrations creates the database if it doesn't exist and applies the
// schema. SQLite files get their schema on open.
func runMigrations(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("Running database migrations...", zap.String("db", cfg.DB.Kind))

	switch cfg.DB.Kind {
	case config.DBSQLite:
		s, err := db.NewSQLite(cfg.DB.SQLitePath)
		if err != nil {
			return err
		}
		logger.Info("Database migrations completed successfully", zap.String("path", cfg.DB.SQLitePath))
		return s.Close()
	case config.DBMemory:
		logger.Info("Nothing to migrate for in-memory storage")
		return nil
	}

	connStr := cfg.DB.ConnStr
	// Parse connection string to extract database name
	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	// Connect to the postgres database to create ours
	admin := *u
	admin.Path = "/postgres"
	baseDB, err := sql.Open("postgres", admin.String())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}
	if !exists {
		logger.Info("Creating database", zap.String("name", dbName))
		if _, err := baseDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, db.PostgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Database migrations completed successfully")
	return nil
}
