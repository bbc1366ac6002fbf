package kvstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-reporting/pkg/config"
	"civic-reporting/pkg/database"
	"civic-reporting/pkg/kvstore"
)

func exerciseStore(t *testing.T, s kvstore.Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "cc:reports")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "cc:reports", []byte(`[]`)))
	v, ok, err := s.Get(ctx, "cc:reports")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(v))

	require.NoError(t, s.Set(ctx, "cc:reports", []byte(`[{"report_id":"CR-1"}]`)))
	v, _, err = s.Get(ctx, "cc:reports")
	require.NoError(t, err)
	assert.Equal(t, `[{"report_id":"CR-1"}]`, string(v))

	require.NoError(t, s.Delete(ctx, "cc:reports"))
	_, ok, err = s.Get(ctx, "cc:reports")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "missing"))
}

func TestMemory(t *testing.T) {
	t.Parallel()
	exerciseStore(t, kvstore.NewMemory())
}

func TestMemory_CopiesValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := kvstore.NewMemory()

	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'x'

	v, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	s, err := kvstore.NewSQLite(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	db, err := database.OpenSQLite(path)
	require.NoError(t, err)
	s, err := kvstore.NewSQLite(db)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "cc:votes:CR-1", []byte(`["u1"]`)))
	require.NoError(t, s.Close())

	db, err = database.OpenSQLite(path)
	require.NoError(t, err)
	s, err = kvstore.NewSQLite(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	v, ok, err := s.Get(ctx, "cc:votes:CR-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["u1"]`, string(v))
}

func TestMongo(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	db, err := database.ConnectMongo(context.Background(), uri, "kvstore_test")
	require.NoError(t, err)
	s := kvstore.NewMongo(db, "kv_"+uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = s.Close()
	})

	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	mem, err := kvstore.Open(context.Background(), config.LocalConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &kvstore.Memory{}, mem)

	path := filepath.Join(t.TempDir(), "nested", "local.db")
	s, err := kvstore.Open(context.Background(), config.LocalConfig{Backend: "sqlite", SQLitePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)

	_, err = kvstore.Open(context.Background(), config.LocalConfig{Backend: "redis"})
	assert.Error(t, err)
}
