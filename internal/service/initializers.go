// Package service assembles the engine's components from configuration.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/config"
	"github.com/refpulse/refpulse/internal/notify"
	"github.com/refpulse/refpulse/internal/store"
)

// InitializeStore connects to Postgres when a database URL is configured,
// otherwise falls back to the file-backed store under the data directory.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Store, error) {
	if cfg.URL == "" {
		logger.Warn("No database URL configured; falling back to the file-backed store. " +
			"Snapshot history will live in local JSON files.")
		return store.NewFileStore(cfg.DataDir, logger)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 5
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create database pool: %w", err)
	}

	st, err := store.NewPostgresStore(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	logger.Info("Connected to PostgreSQL store")
	return st, nil
}

// InitializeNotifier returns the Slack notifier when a webhook is configured,
// otherwise a log-only notifier.
func InitializeNotifier(cfg config.NotifyConfig, logger *zap.Logger) notify.Notifier {
	if cfg.SlackWebhookURL == "" {
		logger.Warn("No Slack webhook configured; run outcomes will only be logged locally.")
		return notify.NewNopNotifier(logger)
	}
	return notify.NewSlackNotifier(cfg, logger)
}
