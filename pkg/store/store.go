// Package store implements the entity store and access-filtered query
// layer over PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lib/pq" // also registers the postgres driver

	"github.com/cacophony-project/cacophony-api/pkg/config"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

const (
	snapshotCacheSize = 4096
	snapshotCacheTTL  = time.Hour
)

// Store is the PostgreSQL-backed entity store
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics

	// snapshotCache maps (type, details hash) to detail snapshot IDs so
	// repeated identical event descriptions skip the upsert round trip
	snapshotCache *lru.LRU[string, int64]
}

// NewStore opens a PostgreSQL connection pool and returns a store
func NewStore(cfg config.DatabaseConfig, metrics *observability.Metrics) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return NewStoreWithDB(db, metrics), nil
}

// NewStoreWithDB wraps an existing database handle, used by tests
func NewStoreWithDB(db *sql.DB, metrics *observability.Metrics) *Store {
	return &Store{
		db:            db,
		metrics:       metrics,
		snapshotCache: lru.NewLRU[string, int64](snapshotCacheSize, nil, snapshotCacheTTL),
	}
}

// DB exposes the underlying handle for collaborators that run their own
// SQL (permission resolver, audit recorder, reconciler).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// observe records store operation metrics when a collector is configured
func (s *Store) observe(operation, entity string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveStoreOperation(operation, entity, start, err)
	}
}

// isUniqueViolation reports whether the error is a Postgres unique
// constraint violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
