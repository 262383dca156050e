// Package postgres implements the catalog repositories on PostgreSQL via a
// single pgx connection pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netscane/rovel/internal/catalog"
)

// Compile-time interface checks.
var (
	_ catalog.NovelRepository = (*NovelRepo)(nil)
	_ catalog.VoiceRepository = (*VoiceRepo)(nil)
)

// Store holds the shared connection pool and exposes the two repositories via
// [Store.Novels] and [Store.Voices]. All operations are safe for concurrent
// use.
type Store struct {
	pool   *pgxpool.Pool
	novels *NovelRepo
	voices *VoiceRepo
}

// NewStore connects to the database at dsn, verifies connectivity, and runs
// [Migrate] so all required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog store: migrate: %w", err)
	}

	return &Store{
		pool:   pool,
		novels: &NovelRepo{pool: pool},
		voices: &VoiceRepo{pool: pool},
	}, nil
}

// Novels returns the novel repository.
func (s *Store) Novels() *NovelRepo { return s.novels }

// Voices returns the voice repository.
func (s *Store) Voices() *VoiceRepo { return s.voices }

// Ping verifies database connectivity; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
