package memory_test

import (
	"context"
	"testing"

	"github.com/agentmemory/memory-service/internal/memory"
	"github.com/agentmemory/memory-service/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsMemoryAndLogsAccess(t *testing.T) {
	engine, store, _, _, _ := newTestEngine()
	infer := false
	result, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice likes tea", Infer: &infer})
	require.NoError(t, err)
	id := result.Events[0].MemoryID

	got, err := engine.Get(context.Background(), "alice", id)
	require.NoError(t, err)
	require.Equal(t, "alice likes tea", got.Content)
	require.NotEmpty(t, store.accessLog)
}

func TestDeleteRemovesVectorPointAndSoftDeletes(t *testing.T) {
	engine, store, vector, _, _ := newTestEngine()
	infer, dedup := true, false
	result, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice likes tea", Infer: &infer, Deduplicate: &dedup})
	require.NoError(t, err)
	id := result.Events[0].MemoryID

	require.NoError(t, engine.Delete(context.Background(), "alice", id, false))
	require.Equal(t, model.MemoryStateDeleted, store.memories[id].State)
	_, ok := vector.points[id]
	require.False(t, ok)
}

func TestDeleteWithAttachmentsRemovesAttachment(t *testing.T) {
	engine, _, _, _, attach := newTestEngine()
	infer := false
	text := "transcript body"
	result, err := engine.Add(context.Background(), memory.AddRequest{
		UserID: "alice", AppName: "default", Text: "discussed the attached transcript",
		Infer: &infer, AttachmentText: &text,
	})
	require.NoError(t, err)
	id := result.Events[0].MemoryID
	require.Len(t, attach.data, 1)

	require.NoError(t, engine.Delete(context.Background(), "alice", id, true))
	require.Len(t, attach.data, 0)
}

func TestPauseUnpauseArchive(t *testing.T) {
	engine, store, _, _, _ := newTestEngine()
	infer := false
	result, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice likes tea", Infer: &infer})
	require.NoError(t, err)
	id := result.Events[0].MemoryID

	n, err := engine.Pause(context.Background(), "alice", []uuid.UUID{id}, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, model.MemoryStatePaused, store.memories[id].State)

	n, err = engine.Unpause(context.Background(), "alice", []uuid.UUID{id}, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, model.MemoryStateActive, store.memories[id].State)

	n, err = engine.Archive(context.Background(), "alice", []uuid.UUID{id})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, model.MemoryStateArchived, store.memories[id].State)
}
