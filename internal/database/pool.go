package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/dtc-feed/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig, appName string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg, appName))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Execer runs a statement. *pgxpool.Pool implements it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema is the DDL for the quote tables. Primary keys match the
// ON CONFLICT targets used by the writers.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS quotes (
	received_at     BIGINT           NOT NULL,
	session_id      UUID             NOT NULL,
	subscription_id INTEGER          NOT NULL,
	symbol          TEXT             NOT NULL,
	exchange        TEXT             NOT NULL DEFAULT '',
	kind            TEXT             NOT NULL,
	last            DOUBLE PRECISION NOT NULL DEFAULT 0,
	bid             DOUBLE PRECISION NOT NULL DEFAULT 0,
	ask             DOUBLE PRECISION NOT NULL DEFAULT 0,
	volume          DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, subscription_id, received_at, kind)
)`,
	`CREATE INDEX IF NOT EXISTS quotes_symbol_received_idx ON quotes (exchange, symbol, received_at DESC)`,
	`CREATE TABLE IF NOT EXISTS quote_snapshots (
	snapshot_ts BIGINT           NOT NULL,
	received_at BIGINT           NOT NULL,
	symbol      TEXT             NOT NULL,
	exchange    TEXT             NOT NULL DEFAULT '',
	last        DOUBLE PRECISION NOT NULL DEFAULT 0,
	bid         DOUBLE PRECISION NOT NULL DEFAULT 0,
	ask         DOUBLE PRECISION NOT NULL DEFAULT 0,
	spread      DOUBLE PRECISION NOT NULL DEFAULT 0,
	volume      DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (snapshot_ts, symbol, exchange)
)`,
}

// EnsureSchema creates the quote tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range Schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
