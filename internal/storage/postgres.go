package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPostgres connects a pgx pool to dsn, checks it is reachable and ensures
// required tables exist.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := BootstrapPostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// BootstrapPostgres creates tables/indexes if missing.
func BootstrapPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id         TEXT PRIMARY KEY,
  email      TEXT NOT NULL UNIQUE,
  name       TEXT,
  created_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
  id        UUID PRIMARY KEY,
  user_id   TEXT NOT NULL,
  event     TEXT NOT NULL,
  payload   JSONB NOT NULL,
  source    TEXT NOT NULL,
  timestamp TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS audit_log_user_ts_idx ON audit_log(user_id, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS audit_log_source_ts_idx ON audit_log(source, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS audit_log_event_ts_idx ON audit_log(event, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS audit_log_ts_idx ON audit_log(timestamp);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap postgres: %w", err)
		}
	}
	return nil
}
