// Package datastore implements the registry's metadata persistence layer on
// PostgreSQL. It is the system of record for blobs, manifests, tags and
// upload sessions; repository and permission records are owned by the
// external management service and read here only.
package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queryer is the subset of pgx operations the stores need. Both a pool and
// a transaction satisfy it, so stores compose with either.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a pgx connection pool. One DB is created at startup and shared
// by every request.
type DB struct {
	*pgxpool.Pool
}

// Open connects to the database described by dsn and verifies the
// connection with a ping bounded by ctx.
func Open(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: parsing dsn: %w", err)
	}
	config.MaxConnLifetime = 1 * time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("datastore: opening pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("datastore: ping: %w", err)
	}

	return &DB{Pool: pool}, nil
}
