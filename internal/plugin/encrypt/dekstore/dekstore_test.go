package dekstore_test

import (
	"context"
	"testing"

	"github.com/agentmemory/memory-service/internal/config"
	"github.com/agentmemory/memory-service/internal/plugin/encrypt/dekstore"
	_ "github.com/agentmemory/memory-service/internal/plugin/store/postgres"
	registrymigrate "github.com/agentmemory/memory-service/internal/registry/migrate"
	"github.com/agentmemory/memory-service/internal/testutil/testmongo"
	"github.com/agentmemory/memory-service/internal/testutil/testpg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDekstore_Postgres_BootstrapLoadUpdate(t *testing.T) {
	dbURL := testpg.StartPostgres(t)
	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)
	require.NoError(t, registrymigrate.RunAll(ctx))

	store, err := dekstore.New(&cfg)
	require.NoError(t, err)
	defer store.Close()

	runLifecycle(t, store)
}

func TestDekstore_Mongo_BootstrapLoadUpdate(t *testing.T) {
	uri := testmongo.StartMongo(t)
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "mongo"
	cfg.DBURL = uri

	store, err := dekstore.New(&cfg)
	require.NoError(t, err)
	defer store.Close()

	runLifecycle(t, store)
}

func runLifecycle(t *testing.T, store dekstore.Store) {
	t.Helper()
	ctx := context.Background()

	none, err := store.Load(ctx, "vault")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, store.Bootstrap(ctx, "vault", []byte("dek-v1")))
	// Bootstrap is a no-op on conflict; calling twice must not error.
	require.NoError(t, store.Bootstrap(ctx, "vault", []byte("dek-v1-other")))

	rec, err := store.Load(ctx, "vault")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(0), rec.Revision)
	assert.Equal(t, [][]byte{[]byte("dek-v1")}, rec.WrappedDEKs)

	ok, err := store.Update(ctx, "vault", [][]byte{[]byte("dek-v2"), []byte("dek-v1")}, rec.Revision)
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale revision must be rejected.
	ok, err = store.Update(ctx, "vault", [][]byte{[]byte("dek-v3")}, rec.Revision)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Load(ctx, "vault")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Revision)
	assert.Equal(t, [][]byte{[]byte("dek-v2"), []byte("dek-v1")}, got.WrappedDEKs)
}
