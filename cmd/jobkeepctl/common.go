package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jobkeep/jobkeep/config"
	"github.com/jobkeep/jobkeep/postgres"
)

// loadConfig reads config, applying --dsn as an override layered on top
// of everything config.Load already resolved (flags win over both env
// vars and the TOML overlay).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, err
	}
	if flagDSN != "" {
		cfg.Database.DSN = flagDSN
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("no database DSN configured: pass --dsn or set JOBKEEP_DB_DSN")
	}
	return cfg, nil
}

// setupLogger configures the process-wide default slog logger from
// cfg.LogLevel and returns it for callers that want a handle without
// going through slog's package-level functions.
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// connectStore opens the pool, applying migrations and the retried
// startup Ping, and wraps it as a Store ready for a Gateway.
//
// maxConnsHint sizes the pool when cfg.Database.MaxConns was not set
// explicitly (an operator-provided JOBKEEP_DB_MAX_CONNS always wins).
// run passes its Runner's connection count here, so the pool is never
// smaller than the concurrency the worker loop actually needs; other
// subcommands that don't build a Runner pass 0, leaving pool sizing to
// config/postgres.Connect's own defaulting.
func connectStore(ctx context.Context, cfg *config.Config, maxConnsHint int32) (*postgres.Store, error) {
	maxConns := int32(cfg.Database.MaxConns)
	if maxConns <= 0 {
		maxConns = maxConnsHint
	}

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		DSN:             cfg.Database.DSN,
		MaxConns:        maxConns,
		MinConns:        int32(cfg.Database.MinConns),
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectRetries:  cfg.Database.ConnectRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return postgres.NewStore(pool), nil
}
