package memories

import (
	"context"
	"sync"
	"time"

	"github.com/agentmemory/memory-service/internal/model"
	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	registryllm "github.com/agentmemory/memory-service/internal/registry/llm"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	registryvector "github.com/agentmemory/memory-service/internal/registry/vector"
	"github.com/google/uuid"
)

// fakeStore is a minimal in-memory registrystore.MemoryStore, the same
// hand-rolled-fake idiom internal/memory's and mcp's fakes_test.go use for
// orchestration-level tests that have no business touching SQL.
type fakeStore struct {
	mu         sync.Mutex
	users      map[string]*model.User
	apps       map[string]*model.App
	memories   map[uuid.UUID]*model.Memory
	categories map[uuid.UUID][]string
	accessLog  []model.MemoryAccessLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[string]*model.User{},
		apps:       map[string]*model.App{},
		memories:   map[uuid.UUID]*model.Memory{},
		categories: map[uuid.UUID][]string{},
	}
}

func (s *fakeStore) GetOrCreateUserAndApp(ctx context.Context, userID string, appName string) (*model.User, *model.App, error) {
	u, a := s.resolveUserAndApp(userID, appName)
	if !a.IsActive {
		return u, a, &registrystore.ForbiddenError{Message: "app is paused"}
	}
	return u, a, nil
}

func (s *fakeStore) ResolveUserAndApp(ctx context.Context, userID string, appName string) (*model.User, *model.App, error) {
	u, a := s.resolveUserAndApp(userID, appName)
	return u, a, nil
}

func (s *fakeStore) resolveUserAndApp(userID, appName string) (*model.User, *model.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = &model.User{ID: uuid.New(), UserID: userID, CreatedAt: time.Now()}
		s.users[userID] = u
	}
	key := userID + "/" + appName
	a, ok := s.apps[key]
	if !ok {
		a = &model.App{ID: uuid.New(), Name: appName, OwnerUserID: u.ID, IsActive: true, CreatedAt: time.Now()}
		s.apps[key] = a
	}
	return u, a
}

func (s *fakeStore) GetApp(ctx context.Context, appID uuid.UUID) (*model.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.apps {
		if a.ID == appID {
			return a, nil
		}
	}
	return nil, &registrystore.NotFoundError{Resource: "app", ID: appID.String()}
}

func (s *fakeStore) SetAppActive(ctx context.Context, appID uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.apps {
		if a.ID == appID {
			a.IsActive = active
			return nil
		}
	}
	return &registrystore.NotFoundError{Resource: "app", ID: appID.String()}
}

func (s *fakeStore) InsertMemory(ctx context.Context, m *model.Memory, categories []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = time.Now()
	cp := *m
	s.memories[m.ID] = &cp
	if len(categories) > 0 {
		s.categories[m.ID] = categories
	}
	return nil
}

func (s *fakeStore) UpdateMemoryContent(ctx context.Context, memoryID uuid.UUID, content string, metadata map[string]interface{}, categories []string) (*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: memoryID.String()}
	}
	m.Content = content
	m.Metadata = metadata
	m.UpdatedAt = time.Now()
	if len(categories) > 0 {
		s.categories[memoryID] = categories
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) ReactivateMemory(ctx context.Context, m *model.Memory, categories []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.State = model.MemoryStateActive
	cp := *m
	s.memories[m.ID] = &cp
	if len(categories) > 0 {
		s.categories[m.ID] = categories
	}
	return nil
}

func (s *fakeStore) SoftDeleteMemory(ctx context.Context, memoryID uuid.UUID, changedBy string) error {
	return s.SetMemoryState(ctx, memoryID, model.MemoryStateDeleted, changedBy)
}

func (s *fakeStore) SetMemoryState(ctx context.Context, memoryID uuid.UUID, state model.MemoryState, changedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok {
		return &registrystore.NotFoundError{Resource: "memory", ID: memoryID.String()}
	}
	m.State = state
	return nil
}

func (s *fakeStore) RecordHistory(ctx context.Context, memoryID uuid.UUID, oldState *model.MemoryState, newState model.MemoryState, changedBy string) error {
	return nil
}

func (s *fakeStore) RecordAccessLog(ctx context.Context, memoryID uuid.UUID, appID uuid.UUID, accessType model.AccessType, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessLog = append(s.accessLog, model.MemoryAccessLog{ID: uuid.New(), MemoryID: memoryID, AppID: appID, AccessType: accessType, Metadata: metadata, CreatedAt: time.Now()})
	return nil
}

func (s *fakeStore) ListAccessLogs(ctx context.Context, userID string, filter registrystore.AccessLogFilter) (*registrystore.AccessLogPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []model.MemoryAccessLog
	for _, l := range s.accessLog {
		if filter.MemoryID != nil && l.MemoryID != *filter.MemoryID {
			continue
		}
		rows = append(rows, l)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.Size
	if size < 1 {
		size = 20
	}
	total := int64(len(rows))
	start := (page - 1) * size
	if start > len(rows) {
		start = len(rows)
	}
	end := start + size
	if end > len(rows) {
		end = len(rows)
	}
	return &registrystore.AccessLogPage{Data: rows[start:end], Page: page, Size: size, TotalCount: total}, nil
}

func (s *fakeStore) GetMemory(ctx context.Context, userID string, memoryID uuid.UUID) (*registrystore.MemoryWithExtras, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: memoryID.String()}
	}
	return &registrystore.MemoryWithExtras{Memory: *m, Categories: s.categories[memoryID]}, nil
}

func (s *fakeStore) GetMemoriesByIDs(ctx context.Context, userID string, ids []uuid.UUID) ([]model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.memories[id]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeStore) ListActiveMemoryIDs(ctx context.Context, userID string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id, m := range s.memories {
		if m.State == model.MemoryStateActive {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) FilterMemories(ctx context.Context, userID string, filter registrystore.MemoryFilter) (*registrystore.MemoryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := &registrystore.MemoryPage{Page: filter.Page, Size: filter.Size}
	for id, m := range s.memories {
		if !filter.ShowArchived && m.State == model.MemoryStateArchived {
			continue
		}
		page.Data = append(page.Data, registrystore.MemoryWithExtras{Memory: *m, Categories: s.categories[id]})
	}
	page.TotalCount = int64(len(page.Data))
	return page, nil
}

func (s *fakeStore) RelatedMemories(ctx context.Context, userID string, q registrystore.RelatedMemoriesQuery) ([]registrystore.MemoryWithExtras, error) {
	return nil, nil
}

func (s *fakeStore) PauseMemories(ctx context.Context, userID string, ids []uuid.UUID, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error) {
	return 0, nil
}

func (s *fakeStore) UnpauseMemories(ctx context.Context, userID string, ids []uuid.UUID, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error) {
	return 0, nil
}

func (s *fakeStore) ArchiveMemories(ctx context.Context, userID string, ids []uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *fakeStore) EnsureCategories(ctx context.Context, names []string) ([]model.Category, error) {
	out := make([]model.Category, len(names))
	for i, n := range names {
		out[i] = model.Category{ID: uuid.New(), Name: n}
	}
	return out, nil
}

func (s *fakeStore) ListRulesForApp(ctx context.Context, appID uuid.UUID) ([]model.AccessControlRule, error) {
	return nil, nil
}

func (s *fakeStore) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

func (s *fakeStore) SetConfigValue(ctx context.Context, key string, value string) error {
	return nil
}

func (s *fakeStore) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	return nil
}
func (s *fakeStore) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	return nil, nil
}
func (s *fakeStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error { return nil }
func (s *fakeStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	return nil
}

func (s *fakeStore) WithinTransaction(ctx context.Context, fn func(tx registrystore.MemoryStore) error) error {
	return fn(s)
}

// fakeVector is an in-memory registryvector.VectorStore.
type fakeVector struct {
	mu     sync.Mutex
	points map[uuid.UUID]map[string]interface{}
}

func newFakeVector() *fakeVector {
	return &fakeVector{points: map[uuid.UUID]map[string]interface{}{}}
}

func (v *fakeVector) Upsert(ctx context.Context, points []registryvector.UpsertPoint) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range points {
		v.points[p.ID] = p.Payload
	}
	return nil
}

func (v *fakeVector) Search(ctx context.Context, embedding []float32, userID string, filters []registryvector.Filter, limit int) ([]registryvector.SearchHit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []registryvector.SearchHit
	for id, payload := range v.points {
		if uid, _ := payload["user_id"].(string); uid != userID {
			continue
		}
		out = append(out, registryvector.SearchHit{ID: id, Score: 1.0, Payload: payload})
		if len(out) >= limit && limit > 0 {
			break
		}
	}
	return out, nil
}

func (v *fakeVector) Get(ctx context.Context, id uuid.UUID) (map[string]interface{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.points[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "vector point", ID: id.String()}
	}
	return p, nil
}

func (v *fakeVector) Delete(ctx context.Context, id uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.points, id)
	return nil
}

func (v *fakeVector) IsEnabled() bool { return true }
func (v *fakeVector) Name() string    { return "fake" }

// fakeEmbedder returns a fixed-dimension deterministic embedding.
type fakeEmbedder struct{}

func (fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeEmbedder) ModelName() string { return "fake-embed" }
func (fakeEmbedder) Dimension() int    { return 3 }

// fakeAttachStore is an in-memory registryattachstore.Store.
type fakeAttachStore struct {
	mu   sync.Mutex
	data map[uuid.UUID]*registryattachstore.Attachment
}

func newFakeAttachStore() *fakeAttachStore {
	return &fakeAttachStore{data: map[uuid.UUID]*registryattachstore.Attachment{}}
}

func (s *fakeAttachStore) Create(ctx context.Context, id *uuid.UUID, content string, maxSize int64) (*registryattachstore.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attID := uuid.New()
	if id != nil {
		attID = *id
	}
	now := time.Now()
	att := &registryattachstore.Attachment{ID: attID, Content: content, CreatedAt: now, UpdatedAt: now}
	s.data[attID] = att
	return att, nil
}

func (s *fakeAttachStore) Get(ctx context.Context, id uuid.UUID) (*registryattachstore.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "attachment", ID: id.String()}
	}
	return a, nil
}

func (s *fakeAttachStore) Update(ctx context.Context, id uuid.UUID, content string, maxSize int64) (*registryattachstore.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "attachment", ID: id.String()}
	}
	a.Content = content
	return a, nil
}

func (s *fakeAttachStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *fakeAttachStore) Filter(ctx context.Context, filter registrystore.AttachmentFilter) (*registrystore.AttachmentPage, error) {
	return &registrystore.AttachmentPage{}, nil
}

// fakeLLM is a scripted registryllm.Client: ExtractFacts returns the raw
// text as a single fact, DecideMerge returns a single ADD event.
type fakeLLM struct{}

func (fakeLLM) ExtractFacts(ctx context.Context, text string, customInstructions string) ([]string, error) {
	return []string{text}, nil
}

func (fakeLLM) DecideMerge(ctx context.Context, fact string, neighbors []registryllm.Neighbor, customPrompt string) ([]registryllm.MergeEvent, error) {
	return []registryllm.MergeEvent{{Kind: "ADD", Content: fact}}, nil
}

func (fakeLLM) Name() string { return "fake-llm" }
