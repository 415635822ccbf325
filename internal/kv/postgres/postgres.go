// Package postgres implements kv.Store on PostgreSQL. Every write also emits
// a NOTIFY on [Channel] so other processes sharing the database can refresh.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hafiz/internal/kv"
)

// Channel is the LISTEN/NOTIFY channel that carries changed keys.
const Channel = "hafiz_changes"

// Schema is the DDL for the key-value table.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the subset of *pgxpool.Pool used by [Store].
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ kv.Store  = (*Store)(nil)
	_ kv.Pinger = (*Store)(nil)
)

// Store is a kv.Store backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// NewStore wraps an existing connection or pool. The caller runs
// [Store.Migrate] before use.
func NewStore(db DB) *Store {
	s := &Store{db: db}
	if p, ok := db.(*pgxpool.Pool); ok {
		s.pool = p
	}
	return s
}

// Open connects to dsn, pings the server, and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	return v, true, nil
}

// Set implements kv.Store. The upsert and the notification run in one
// statement, so listeners never see a notification for an unwritten value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	const query = `
		WITH upsert AS (
			INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
			RETURNING key
		)
		SELECT pg_notify($3, key) FROM upsert`
	if _, err := s.db.Exec(ctx, query, key, value, Channel); err != nil {
		return fmt.Errorf("postgres: set %q: %w", key, err)
	}
	return nil
}

// Ping implements kv.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		var one int
		return s.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
	}
	return s.pool.Ping(ctx)
}

// Pool returns the underlying pool, or nil when the store wraps another DB.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool if the store owns one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
