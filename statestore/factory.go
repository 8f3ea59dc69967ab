package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Supported backend types.
const (
	TypeFile     = "file"
	TypeRedis    = "redis"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Config selects and parameterizes a backend.
type Config struct {
	// Type is one of file, redis, sqlite, postgres.
	Type string `yaml:"type" json:"type"`

	// Path is the target file for the file backend.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// DSN is the connection string for the sqlite and postgres backends.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// Addr, Password and DB configure the redis backend.
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`

	// Key is the document key for the shared backends, see CacheKey.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`

	// TTL bounds the lifetime of redis documents.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// Create instantiates a state store for the given configuration.
// Supported backends:
//   - file: single JSON file with atomic replace
//   - redis: shared cache document with TTL
//   - sqlite: local database row
//   - postgres: shared database row
func Create(ctx context.Context, cfg Config, log *slog.Logger) (Store, error) {
	switch cfg.Type {
	case TypeFile:
		return NewFileStore(cfg.Path, log)
	case TypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		return NewCacheStore(client, cfg.Key, cfg.TTL, log), nil
	case TypeSQLite:
		return NewSQLiteStore(cfg.DSN, cfg.Key)
	case TypePostgres:
		return NewPostgresStore(ctx, cfg.DSN, cfg.Key)
	default:
		return nil, fmt.Errorf("unsupported state store type: %q", cfg.Type)
	}
}

// Validate checks that the configuration carries what its backend needs.
func (c Config) Validate() error {
	switch c.Type {
	case TypeFile:
		if c.Path == "" {
			return fmt.Errorf("path is required for file state store")
		}
	case TypeRedis:
		if c.Addr == "" {
			return fmt.Errorf("addr is required for redis state store")
		}
	case TypeSQLite, TypePostgres:
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for %s state store", c.Type)
		}
	default:
		return fmt.Errorf("unsupported state store type: %q", c.Type)
	}
	return nil
}
