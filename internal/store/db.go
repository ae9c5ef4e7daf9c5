package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"schemasync/internal/db"
)

// Connect opens the tracking pool and pings it, retrying with the same
// linear backoff the catalog connection uses.
func Connect(ctx context.Context, dsn string, attempts int, step time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse tracking dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracking pool: %w", err)
	}
	n := 0
	err = db.Retry(ctx, attempts, step, func() error {
		n++
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, &db.ConnectionError{Provider: "postgres", Attempts: n, Err: err}
	}
	return pool, nil
}
