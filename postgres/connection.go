package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver, used only for migrations
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PoolConfig controls how Connect builds and verifies the connection pool.
type PoolConfig struct {
	// DSN is the Postgres connection string.
	DSN string

	MaxConns        int32         // 0 = auto-scale to 4x GOMAXPROCS
	MinConns        int32         // 0 = auto-scale to 1x GOMAXPROCS
	ConnMaxLifetime time.Duration // 0 = 1 hour
	ConnMaxIdleTime time.Duration // 0 = 15 minutes

	// ConnectRetries bounds the number of Ping attempts made while the
	// database may still be starting up. 0 = library default (5).
	ConnectRetries uint64

	// SkipMigrations disables the automatic goose.Up call. Tests that
	// manage their own schema use this.
	SkipMigrations bool
}

const defaultConnectRetries = 5

// Connect builds a pgxpool.Pool for cfg.DSN, applies embedded migrations,
// and verifies connectivity with a bounded number of retried Ping calls so
// that a worker started alongside a still-booting database does not fail
// immediately.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if !cfg.SkipMigrations {
		if err := runMigrations(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = int32(runtime.GOMAXPROCS(0) * 4)
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = int32(runtime.GOMAXPROCS(0))
	}
	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = time.Hour
	}
	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = 15 * time.Minute
	}

	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = connMaxLifetime
	poolConfig.MaxConnIdleTime = connMaxIdleTime

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET TIMEZONE='UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	retries := cfg.ConnectRetries
	if retries == 0 {
		retries = defaultConnectRetries
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	}, backoff.WithMaxTries(uint(retries)))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database after %d attempts: %w", retries, err)
	}

	return pool, nil
}

// runMigrations applies embedded goose migrations using a dedicated
// database/sql connection, since goose does not speak pgxpool directly.
func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database for migrations: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
