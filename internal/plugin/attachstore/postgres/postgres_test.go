package postgres_test

import (
	"context"
	"testing"

	"github.com/agentmemory/memory-service/internal/config"
	_ "github.com/agentmemory/memory-service/internal/plugin/attachstore/postgres"
	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	registrymigrate "github.com/agentmemory/memory-service/internal/registry/migrate"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/agentmemory/memory-service/internal/testutil/testpg"
	"github.com/stretchr/testify/require"
)

func setupTestAttachStore(t *testing.T) (registryattachstore.Store, context.Context) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registryattachstore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx, nil)
	require.NoError(t, err)
	return store, ctx
}

func TestFilter_RejectsZeroPageOrSize(t *testing.T) {
	store, ctx := setupTestAttachStore(t)

	_, err := store.Filter(ctx, registrystore.AttachmentFilter{Page: 0, Size: 10})
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = store.Filter(ctx, registrystore.AttachmentFilter{Page: 1, Size: 0})
	require.ErrorAs(t, err, &validation)
}

func TestFilter_RejectsSizeAboveWhitelistMax(t *testing.T) {
	store, ctx := setupTestAttachStore(t)

	_, err := store.Filter(ctx, registrystore.AttachmentFilter{Page: 1, Size: 101})
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestFilter_RejectsUnknownSortColumn(t *testing.T) {
	store, ctx := setupTestAttachStore(t)

	_, err := store.Filter(ctx, registrystore.AttachmentFilter{Page: 1, Size: 10, SortColumn: "content"})
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestFilter_SearchQueryMatchesContentOrUUID(t *testing.T) {
	store, ctx := setupTestAttachStore(t)

	att, err := store.Create(ctx, nil, "the quick brown fox", 1<<20)
	require.NoError(t, err)

	page, err := store.Filter(ctx, registrystore.AttachmentFilter{Page: 1, Size: 10, SearchQuery: "quick"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, att.ID, page.Data[0].ID)

	page, err = store.Filter(ctx, registrystore.AttachmentFilter{Page: 1, Size: 10, SearchQuery: att.ID.String()[:8]})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, att.ID, page.Data[0].ID)

	page, err = store.Filter(ctx, registrystore.AttachmentFilter{Page: 1, Size: 10, SearchQuery: "no-such-match"})
	require.NoError(t, err)
	require.Len(t, page.Data, 0)
}
