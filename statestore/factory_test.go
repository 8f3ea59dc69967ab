package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_File(t *testing.T) {
	store, err := Create(context.Background(), Config{
		Type: TypeFile,
		Path: filepath.Join(t.TempDir(), "state.json"),
	}, nil)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &FileStore{}, store)
}

func TestCreate_SQLite(t *testing.T) {
	store, err := Create(context.Background(), Config{
		Type: TypeSQLite,
		DSN:  filepath.Join(t.TempDir(), "state.db"),
		Key:  "four_rl_tb_cafef00d",
	}, nil)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &SQLiteStore{}, store)
}

func TestCreate_UnsupportedType(t *testing.T) {
	_, err := Create(context.Background(), Config{Type: "etcd"}, nil)
	assert.Error(t, err)
}

func TestCreate_Postgres(t *testing.T) {
	dsn := os.Getenv("FOURLIMIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FOURLIMIT_TEST_POSTGRES_DSN not set")
	}
	store, err := Create(context.Background(), Config{
		Type: TypePostgres,
		DSN:  dsn,
		Key:  "four_rl_tb_cafef00d",
	}, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(context.Background(), sampleSnapshot("")))
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, loaded.State, "k")
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Type: TypeFile, Path: "x.json"}.Validate())
	assert.NoError(t, Config{Type: TypeRedis, Addr: "localhost:6379"}.Validate())
	assert.NoError(t, Config{Type: TypeSQLite, DSN: "x.db"}.Validate())
	assert.NoError(t, Config{Type: TypePostgres, DSN: "postgres://x"}.Validate())

	assert.Error(t, Config{Type: TypeFile}.Validate())
	assert.Error(t, Config{Type: TypeRedis}.Validate())
	assert.Error(t, Config{Type: TypeSQLite}.Validate())
	assert.Error(t, Config{Type: "etcd"}.Validate())
}
