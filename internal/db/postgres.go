package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectPostgres opens a small pool. The portal only keeps dashboard
// counters in Postgres, so the limits stay low.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Execer is satisfied by *pgxpool.Pool and pgxmock.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const countersSchema = `CREATE TABLE IF NOT EXISTS dashboard_counters (
	scope        TEXT PRIMARY KEY,
	doctors      BIGINT NOT NULL DEFAULT 0,
	appointments BIGINT NOT NULL DEFAULT 0,
	pending      BIGINT NOT NULL DEFAULT 0,
	patients     BIGINT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates the tables the portal owns.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, countersSchema); err != nil {
		return fmt.Errorf("create dashboard_counters: %w", err)
	}
	return nil
}
