// Package postgres implements internal/store.Store over Postgres with
// pgvector for dense search and tsvector/pg_trgm for lexical search,
// following the connection-pool shape of the teacher's
// internal/persistence/databases/pool.go (jackc/pgx/v5/pgxpool, bounded
// pool size, idle/lifetime caps, startup ping).
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool opens a pgxpool.Pool with the same conservative defaults the
// teacher uses for its backing stores.
func OpenPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
