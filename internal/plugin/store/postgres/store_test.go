package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentmemory/memory-service/internal/config"
	"github.com/agentmemory/memory-service/internal/model"
	"github.com/agentmemory/memory-service/internal/plugin/store/postgres"
	registrymigrate "github.com/agentmemory/memory-service/internal/registry/migrate"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/agentmemory/memory-service/internal/testutil/testpg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.MemoryStore, context.Context) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure postgres store plugin is registered
	_ = postgres.ForceImport

	// Run migrations
	err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)

	// Initialize store
	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)

	return store, ctx
}

func mustInsertMemory(t *testing.T, ctx context.Context, store registrystore.MemoryStore, userID, appID uuid.UUID, content string, categories []string) *model.Memory {
	t.Helper()
	m := &model.Memory{
		ID:       uuid.New(),
		UserID:   userID,
		AppID:    appID,
		Content:  content,
		State:    model.MemoryStateActive,
		Metadata: map[string]interface{}{},
	}
	require.NoError(t, store.InsertMemory(ctx, m, categories))
	return m
}

func TestGetOrCreateUserAndApp_IsIdempotent(t *testing.T) {
	store, ctx := setupTestStore(t)

	u1, a1, err := store.GetOrCreateUserAndApp(ctx, "alice", "default")
	require.NoError(t, err)

	u2, a2, err := store.GetOrCreateUserAndApp(ctx, "alice", "default")
	require.NoError(t, err)

	assert.Equal(t, u1.ID, u2.ID)
	assert.Equal(t, a1.ID, a2.ID)
}

func TestSetAppActive_PausesApp(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, a, err := store.GetOrCreateUserAndApp(ctx, "bob", "cli")
	require.NoError(t, err)

	require.NoError(t, store.SetAppActive(ctx, a.ID, false))

	got, err := store.GetApp(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// GetOrCreateUserAndApp enforces the paused-app check (blocks creation)...
	_, _, err = store.GetOrCreateUserAndApp(ctx, "bob", "cli")
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	// ...but ResolveUserAndApp does not (search/list must still work).
	_, resolved, err := store.ResolveUserAndApp(ctx, "bob", "cli")
	require.NoError(t, err)
	assert.False(t, resolved.IsActive)
}

func TestInsertAndGetMemory(t *testing.T) {
	store, ctx := setupTestStore(t)

	u, a, err := store.GetOrCreateUserAndApp(ctx, "carol", "default")
	require.NoError(t, err)

	m := mustInsertMemory(t, ctx, store, u.ID, a.ID, "carol likes tea", []string{"preferences"})

	got, err := store.GetMemory(ctx, "carol", m.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol likes tea", got.Content)
	assert.Contains(t, got.Categories, "preferences")
}

func TestUpdateMemoryContent_ReplacesContentAndMetadata(t *testing.T) {
	store, ctx := setupTestStore(t)

	u, a, err := store.GetOrCreateUserAndApp(ctx, "dave", "default")
	require.NoError(t, err)
	m := mustInsertMemory(t, ctx, store, u.ID, a.ID, "dave likes coffee", nil)

	updated, err := store.UpdateMemoryContent(ctx, m.ID, "dave likes espresso", map[string]interface{}{"k": "v"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "dave likes espresso", updated.Content)
	assert.Equal(t, "v", updated.Metadata["k"])
}

func TestSoftDeleteMemory_RemovesFromListActiveMemoryIDs(t *testing.T) {
	store, ctx := setupTestStore(t)

	u, a, err := store.GetOrCreateUserAndApp(ctx, "erin", "default")
	require.NoError(t, err)
	m := mustInsertMemory(t, ctx, store, u.ID, a.ID, "erin likes running", nil)

	ids, err := store.ListActiveMemoryIDs(ctx, "erin")
	require.NoError(t, err)
	assert.Contains(t, ids, m.ID)

	require.NoError(t, store.SoftDeleteMemory(ctx, m.ID, "user"))

	ids, err = store.ListActiveMemoryIDs(ctx, "erin")
	require.NoError(t, err)
	assert.NotContains(t, ids, m.ID)
}

func TestFilterMemories_PaginatesAndRespectsShowArchived(t *testing.T) {
	store, ctx := setupTestStore(t)

	u, a, err := store.GetOrCreateUserAndApp(ctx, "frank", "default")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		mustInsertMemory(t, ctx, store, u.ID, a.ID, "frank fact", nil)
	}
	archived := mustInsertMemory(t, ctx, store, u.ID, a.ID, "frank archived fact", nil)
	require.NoError(t, store.SetMemoryState(ctx, archived.ID, model.MemoryStateArchived, "user"))

	page, err := store.FilterMemories(ctx, "frank", registrystore.MemoryFilter{Page: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.Len(t, page.Data, 2)

	withArchived, err := store.FilterMemories(ctx, "frank", registrystore.MemoryFilter{Page: 1, Size: 10, ShowArchived: true})
	require.NoError(t, err)
	assert.Equal(t, int64(4), withArchived.TotalCount)
}

func TestRecordAndListAccessLogs(t *testing.T) {
	store, ctx := setupTestStore(t)

	u, a, err := store.GetOrCreateUserAndApp(ctx, "grace", "default")
	require.NoError(t, err)
	m := mustInsertMemory(t, ctx, store, u.ID, a.ID, "grace likes hiking", nil)

	require.NoError(t, store.RecordAccessLog(ctx, m.ID, a.ID, model.AccessTypeSearch, nil))
	require.NoError(t, store.RecordAccessLog(ctx, m.ID, a.ID, model.AccessTypeUpdate, nil))

	page, err := store.ListAccessLogs(ctx, "grace", registrystore.AccessLogFilter{Page: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalCount)

	scoped, err := store.ListAccessLogs(ctx, "grace", registrystore.AccessLogFilter{Page: 1, Size: 10, MemoryID: &m.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), scoped.TotalCount)
}

func TestPauseUnpauseArchiveMemories(t *testing.T) {
	store, ctx := setupTestStore(t)

	u, a, err := store.GetOrCreateUserAndApp(ctx, "heidi", "default")
	require.NoError(t, err)
	m := mustInsertMemory(t, ctx, store, u.ID, a.ID, "heidi likes chess", nil)

	count, err := store.PauseMemories(ctx, "heidi", []uuid.UUID{m.ID}, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := store.GetMemory(ctx, "heidi", m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MemoryStatePaused, got.State)

	count, err = store.UnpauseMemories(ctx, "heidi", []uuid.UUID{m.ID}, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = store.ArchiveMemories(ctx, "heidi", []uuid.UUID{m.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err = store.GetMemory(ctx, "heidi", m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MemoryStateArchived, got.State)
}

func TestConfigValue_RoundTrips(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, ok, err := store.GetConfigValue(ctx, "default_infer")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetConfigValue(ctx, "default_infer", "false"))

	v, ok, err := store.GetConfigValue(ctx, "default_infer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "false", v)
}

func TestTaskLifecycle(t *testing.T) {
	store, ctx := setupTestStore(t)

	require.NoError(t, store.CreateTask(ctx, "reconcile_vector", map[string]interface{}{"memory_id": uuid.New().String()}))

	tasks, err := store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(tasks), 1)

	task := tasks[0]
	require.NoError(t, store.FailTask(ctx, task.ID, "transient failure", time.Millisecond))

	require.NoError(t, store.DeleteTask(ctx, task.ID))
}

func TestWithinTransaction_RollsBackOnError(t *testing.T) {
	store, ctx := setupTestStore(t)

	u, a, err := store.GetOrCreateUserAndApp(ctx, "ivan", "default")
	require.NoError(t, err)

	boom := assert.AnError
	err = store.WithinTransaction(ctx, func(tx registrystore.MemoryStore) error {
		m := &model.Memory{ID: uuid.New(), UserID: u.ID, AppID: a.ID, Content: "ivan likes skiing", State: model.MemoryStateActive, Metadata: map[string]interface{}{}}
		if err := tx.InsertMemory(ctx, m, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	ids, err := store.ListActiveMemoryIDs(ctx, "ivan")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
