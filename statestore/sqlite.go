package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS limiter_state (
	cache_key  TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at REAL NOT NULL
)`

// SQLiteStore persists snapshots in a local SQLite database, one row per
// limiter cache key. It suits processes that already carry a SQLite file and
// want limiter state to survive restarts without a separate state file.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// NewSQLiteStore opens (or creates) the database at dsn and ensures the state
// table exists. key is the limiter's cache key, see CacheKey.
func NewSQLiteStore(dsn, key string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required for sqlite state store")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}
	return &SQLiteStore{db: db, key: key}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM limiter_state WHERE cache_key = ?`, s.key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO limiter_state (cache_key, payload, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.key, payload, snap.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
