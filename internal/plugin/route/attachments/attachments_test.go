package attachments_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agentmemory/memory-service/internal/plugin/route/attachments"
	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory registryattachstore.Store used to exercise the
// route layer without a database, a hand-rolled collaborator rather than
// a generated mock.
type fakeStore struct {
	mu   sync.Mutex
	data map[uuid.UUID]*registryattachstore.Attachment
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[uuid.UUID]*registryattachstore.Attachment{}}
}

func (s *fakeStore) Create(_ context.Context, id *uuid.UUID, content string, maxSize int64) (*registryattachstore.Attachment, error) {
	if maxSize > 0 && int64(len(content)) > maxSize {
		return nil, &registrystore.PayloadTooLargeError{Limit: maxSize, Size: int64(len(content))}
	}
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

func (s *fakeStore) Get(_ context.Context, id uuid.UUID) (*registryattachstore.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.data[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "attachment", ID: id.String()}
	}
	return att, nil
}

func (s *fakeStore) Update(_ context.Context, id uuid.UUID, content string, maxSize int64) (*registryattachstore.Attachment, error) {
	if maxSize > 0 && int64(len(content)) > maxSize {
		return nil, &registrystore.PayloadTooLargeError{Limit: maxSize, Size: int64(len(content))}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.data[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "attachment", ID: id.String()}
	}
	att.Content = content
	att.UpdatedAt = time.Now()
	return att, nil
}

func (s *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *fakeStore) Filter(_ context.Context, filter registrystore.AttachmentFilter) (*registrystore.AttachmentPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := &registrystore.AttachmentPage{Page: filter.Page, Size: filter.Size}
	for _, att := range s.data {
		page.Data = append(page.Data, registrystore.AttachmentPreview{
			ID:         att.ID,
			Preview:    att.Content,
			FullLength: len(att.Content),
			CreatedAt:  att.CreatedAt.Unix(),
			UpdatedAt:  att.UpdatedAt.Unix(),
		})
	}
	page.TotalCount = int64(len(page.Data))
	return page, nil
}

func newTestRouter(store registryattachstore.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	attachments.MountRoutes(r, store, 1024, func(c *gin.Context) { c.Next() })
	return r
}

func TestCreateAndGetAttachment(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)

	body, _ := json.Marshal(map[string]string{"content": "remember this"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created["id"].(string)
	require.Equal(t, "remember this", created["content"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attachments/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetAttachmentNotFound(t *testing.T) {
	r := newTestRouter(newFakeStore())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attachments/"+uuid.New().String(), nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateAttachmentTooLarge(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)

	att, err := store.Create(context.Background(), nil, "short", 1024)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"content": string(make([]byte, 2048))})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/attachments/"+att.ID.String(), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestDeleteAttachment(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	att, err := store.Create(context.Background(), nil, "gone soon", 1024)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/attachments/"+att.ID.String(), nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attachments/"+att.ID.String(), nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFilterAttachments(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	_, err := store.Create(context.Background(), nil, "one", 1024)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), nil, "two", 1024)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]int{"page": 1, "size": 10})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments/filter", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var page registrystore.AttachmentPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 2)
}
