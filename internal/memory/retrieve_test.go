package memory_test

import (
	"context"
	"testing"

	"github.com/agentmemory/memory-service/internal/memory"
	"github.com/agentmemory/memory-service/internal/model"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func TestSearchFiltersByUserAndLogsAccess(t *testing.T) {
	engine, store, _, _, _ := newTestEngine()
	infer, dedup := true, false
	_, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice likes tea", Infer: &infer, Deduplicate: &dedup})
	require.NoError(t, err)

	result, err := engine.Search(context.Background(), memory.SearchRequest{UserID: "alice", AppName: "default", Query: "tea", Limit: 5})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	require.Equal(t, "alice likes tea", result.Hits[0].Memory)
	require.Nil(t, result.Hits[0].Metadata)

	found := false
	for _, log := range store.accessLog {
		if log.AccessType == model.AccessTypeSearch {
			found = true
		}
	}
	require.True(t, found)
}

func TestSearchIncludeMetadataProjection(t *testing.T) {
	engine, _, _, _, _ := newTestEngine()
	infer, dedup := true, false
	_, err := engine.Add(context.Background(), memory.AddRequest{
		UserID: "alice", AppName: "default", Text: "alice likes tea",
		Infer: &infer, Deduplicate: &dedup, Metadata: map[string]interface{}{"source": "chat"},
	})
	require.NoError(t, err)

	result, err := engine.Search(context.Background(), memory.SearchRequest{UserID: "alice", AppName: "default", Query: "tea", IncludeMetadata: true})
	require.NoError(t, err)
	require.Equal(t, "chat", result.Hits[0].Metadata["source"])
}

func TestSearchExcludesOtherUsers(t *testing.T) {
	engine, _, _, _, _ := newTestEngine()
	infer, dedup := true, false
	_, err := engine.Add(context.Background(), memory.AddRequest{UserID: "bob", AppName: "default", Text: "bob likes coffee", Infer: &infer, Deduplicate: &dedup})
	require.NoError(t, err)

	result, err := engine.Search(context.Background(), memory.SearchRequest{UserID: "alice", AppName: "default", Query: "coffee"})
	require.NoError(t, err)
	require.Len(t, result.Hits, 0)
}

func TestSearchAndListAllSucceedOnPausedApp(t *testing.T) {
	engine, store, _, _, _ := newTestEngine()
	infer, dedup := true, false
	_, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice likes tea", Infer: &infer, Deduplicate: &dedup})
	require.NoError(t, err)

	_, app, err := store.ResolveUserAndApp(context.Background(), "alice", "default")
	require.NoError(t, err)
	require.NoError(t, store.SetAppActive(context.Background(), app.ID, false))

	// Pausing the app must not block retrieval, only creation (§3).
	result, err := engine.Search(context.Background(), memory.SearchRequest{UserID: "alice", AppName: "default", Query: "tea", Limit: 5})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)

	page, err := engine.ListAll(context.Background(), memory.SearchRequest{UserID: "alice", AppName: "default"}, registrystore.MemoryFilter{Page: 1, Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)

	infer2 := false
	_, err = engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice likes coffee", Infer: &infer2})
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
}

func TestListAllLogsAccessPerItem(t *testing.T) {
	engine, store, _, _, _ := newTestEngine()
	infer := false
	_, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "one", Infer: &infer})
	require.NoError(t, err)
	_, err = engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "two", Infer: &infer})
	require.NoError(t, err)

	page, err := engine.ListAll(context.Background(), memory.SearchRequest{UserID: "alice", AppName: "default"}, registrystore.MemoryFilter{Page: 1, Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)

	listLogs := 0
	for _, log := range store.accessLog {
		if log.AccessType == model.AccessTypeList {
			listLogs++
		}
	}
	require.Equal(t, 2, listLogs)
}
