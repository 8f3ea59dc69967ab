package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS limiter_state (
	cache_key  TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	updated_at DOUBLE PRECISION NOT NULL
)`

// PostgresStore persists snapshots in a PostgreSQL table, one row per limiter
// cache key. Useful when a fleet of clients already shares a database and
// wants limiter state to follow deployments around.
type PostgresStore struct {
	pool *pgxpool.Pool
	key  string
}

// NewPostgresStore connects to dsn and ensures the state table exists.
func NewPostgresStore(ctx context.Context, dsn, key string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required for postgres state store")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}
	return &PostgresStore{pool: pool, key: key}, nil
}

func (p *PostgresStore) Load(ctx context.Context) (*Snapshot, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx,
		`SELECT payload FROM limiter_state WHERE cache_key = $1`, p.key,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("stored state is malformed: %w", err)
	}
	return &snap, nil
}

func (p *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO limiter_state (cache_key, payload, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (cache_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		p.key, payload, snap.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
