// Package uow implements the §5 Unit of Work over the continuum/message
// SQL store: a pgx/v5 connection pool, a per-checkout transaction that
// propagates the caller's identity into Postgres row-level security via a
// transaction-scoped set_config, and the continuum/segment repository built
// on top of it. Grounded on haowjy-meridian's
// internal/repository/postgres/{connection,transaction}.go idiom
// (TransactionManager.ExecTx, CreateConnectionPool, GetExecutor), since the
// teacher's own session store is plain database/sql with no RLS story.
package uow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config configures the Postgres connection pool. Shape matches
// internal/config.SQLConfig so callers can pass it through unchanged.
type Config struct {
	DSN            string
	MaxConnections int32
}

// Pool wraps a pgxpool.Pool with the Begin-with-identity entry point every
// repository call goes through.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool parses cfg.DSN, applies the pool size, and verifies connectivity
// with a Ping before returning.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("uow: parse dsn: %w", err)
	}
	if cfg.MaxConnections > 0 {
		pgxCfg.MaxConns = cfg.MaxConnections
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("uow: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("uow: ping: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("uow: migrate: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Close releases every connection in the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// Raw exposes the underlying pgxpool.Pool for callers (migration tooling,
// doctor checks) that need it directly.
func (p *Pool) Raw() *pgxpool.Pool {
	return p.pool
}
