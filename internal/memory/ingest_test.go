package memory_test

import (
	"context"
	"testing"

	"github.com/agentmemory/memory-service/internal/memory"
	registryllm "github.com/agentmemory/memory-service/internal/registry/llm"
	"github.com/stretchr/testify/require"
)

func newTestEngine() (*memory.Engine, *fakeStore, *fakeVector, *fakeLLM, *fakeAttachStore) {
	store := newFakeStore()
	vector := newFakeVector()
	llm := &fakeLLM{}
	attach := newFakeAttachStore()
	engine := memory.New(store, vector, fakeEmbedder{}, llm, attach, 10, 1024)
	return engine, store, vector, llm, attach
}

func TestAddFastPath(t *testing.T) {
	engine, store, vector, _, _ := newTestEngine()
	infer := false
	result, err := engine.Add(context.Background(), memory.AddRequest{
		UserID:  "alice",
		AppName: "default",
		Text:    "alice likes tea",
		Infer:   &infer,
	})
	require.NoError(t, err)
	require.False(t, result.NoneAll)
	require.Len(t, result.Events, 1)
	require.Equal(t, "ADD", result.Events[0].Kind)
	require.Equal(t, "alice likes tea", result.Events[0].Content)

	// Fast path never touches the vector store.
	require.Len(t, vector.points, 0)
	require.Len(t, store.memories, 1)
}

func TestAddInferencePathAddsWithoutDedup(t *testing.T) {
	engine, store, vector, _, _ := newTestEngine()
	infer, dedup := true, false
	result, err := engine.Add(context.Background(), memory.AddRequest{
		UserID:      "alice",
		AppName:     "default",
		Text:        "alice likes tea",
		Infer:       &infer,
		Deduplicate: &dedup,
	})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	require.Equal(t, "ADD", result.Events[0].Kind)
	require.Len(t, vector.points, 1)
	require.Len(t, store.memories, 1)
}

func TestAddInferencePathNoneEverywhere(t *testing.T) {
	engine, _, _, llm, _ := newTestEngine()
	llm.Events = []registryllm.MergeEvent{{Kind: "NONE"}}
	infer, dedup := true, true
	result, err := engine.Add(context.Background(), memory.AddRequest{
		UserID:      "alice",
		AppName:     "default",
		Text:        "alice still likes tea",
		Infer:       &infer,
		Deduplicate: &dedup,
	})
	require.NoError(t, err)
	require.True(t, result.NoneAll)
	require.NotEmpty(t, result.Message)
}

func TestAddInferencePathDeleteEvent(t *testing.T) {
	engine, store, vector, llm, _ := newTestEngine()

	infer, dedup := true, false
	added, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice likes tea", Infer: &infer, Deduplicate: &dedup})
	require.NoError(t, err)
	targetID := added.Events[0].MemoryID

	llm.Events = []registryllm.MergeEvent{{Kind: "DELETE", TargetID: targetID}}
	dedup = true
	result, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice no longer likes tea", Infer: &infer, Deduplicate: &dedup})
	require.NoError(t, err)
	require.Equal(t, "DELETE", result.Events[0].Kind)

	_, ok := vector.points[targetID]
	require.False(t, ok)
	require.Equal(t, "deleted", string(store.memories[targetID].State))
}

func TestAddInferencePathUpdateEvent(t *testing.T) {
	engine, store, vector, llm, _ := newTestEngine()

	infer, dedup := true, false
	added, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice likes tea", Infer: &infer, Deduplicate: &dedup})
	require.NoError(t, err)
	targetID := added.Events[0].MemoryID

	llm.Events = []registryllm.MergeEvent{{Kind: "UPDATE", TargetID: targetID, Content: "alice loves tea"}}
	dedup = true
	result, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice loves tea even more", Infer: &infer, Deduplicate: &dedup})
	require.NoError(t, err)
	require.Equal(t, "UPDATE", result.Events[0].Kind)
	require.Equal(t, "alice loves tea", store.memories[targetID].Content)
	require.Equal(t, "alice loves tea", vector.points[targetID]["data"])
}

func TestAddCategoriesFromMergeEvent(t *testing.T) {
	engine, store, _, llm, _ := newTestEngine()
	llm.Events = []registryllm.MergeEvent{{Kind: "ADD", Content: "alice likes tea", Categories: []string{"beverages"}}}
	infer, dedup := true, true
	result, err := engine.Add(context.Background(), memory.AddRequest{UserID: "alice", AppName: "default", Text: "alice likes tea", Infer: &infer, Deduplicate: &dedup})
	require.NoError(t, err)
	id := result.Events[0].MemoryID
	require.Equal(t, []string{"beverages"}, store.categories[id])
}

func TestAddAttachmentIntake(t *testing.T) {
	engine, _, _, _, attach := newTestEngine()
	infer := false
	text := "see attached transcript"
	result, err := engine.Add(context.Background(), memory.AddRequest{
		UserID:         "alice",
		AppName:        "default",
		Text:           "alice discussed the attached transcript",
		Infer:          &infer,
		AttachmentText: &text,
	})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	require.Len(t, attach.data, 1)
}

func TestResolveIngestionFlagsRuntimeOverride(t *testing.T) {
	engine, store, _, _, _ := newTestEngine()
	require.NoError(t, store.SetConfigValue(context.Background(), "default_infer", "false"))

	result, err := engine.Add(context.Background(), memory.AddRequest{
		UserID:  "alice",
		AppName: "default",
		Text:    "alice likes tea",
	})
	require.NoError(t, err)
	// infer resolves false via runtime config, so this is the fast path.
	require.Len(t, result.Events, 1)
	require.Equal(t, "ADD", result.Events[0].Kind)
}
