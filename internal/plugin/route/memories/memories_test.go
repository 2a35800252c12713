package memories

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentmemory/memory-service/internal/memory"
	"github.com/agentmemory/memory-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter() (*gin.Engine, *memory.Engine) {
	gin.SetMode(gin.TestMode)
	engine := memory.New(newFakeStore(), newFakeVector(), fakeEmbedder{}, fakeLLM{}, newFakeAttachStore(), 10, 1024)
	pool := worker.New(context.Background(), 2, 2, 8)
	r := gin.New()
	MountRoutes(r, engine, pool, true, func(c *gin.Context) {})
	return r, engine
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAdd_ThenGet(t *testing.T) {
	r, _ := newTestRouter()

	addRec := doJSON(r, http.MethodPost, "/api/v1/memories", map[string]interface{}{
		"user_id": "alice",
		"text":    "alice likes tea",
	})
	require.Equal(t, http.StatusOK, addRec.Code)

	var addResp struct {
		Events []struct {
			ID string `json:"id"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(addRec.Body.Bytes(), &addResp))
	require.Len(t, addResp.Events, 1)

	getRec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/memories/"+addResp.Events[0].ID+"?user_id=alice", nil)
	r.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusOK, getRec.Code)
	require.Contains(t, getRec.Body.String(), "alice likes tea")
}

func TestUpdate_ReplacesContentAndRecordsAccessLog(t *testing.T) {
	r, _ := newTestRouter()

	addRec := doJSON(r, http.MethodPost, "/api/v1/memories", map[string]interface{}{
		"user_id": "bob",
		"text":    "bob likes coffee",
	})
	require.Equal(t, http.StatusOK, addRec.Code)
	var addResp struct {
		Events []struct {
			ID string `json:"id"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(addRec.Body.Bytes(), &addResp))
	memoryID := addResp.Events[0].ID

	updateRec := doJSON(r, http.MethodPut, "/api/v1/memories/"+memoryID, map[string]interface{}{
		"user_id": "bob",
		"text":    "bob likes espresso now",
	})
	require.Equal(t, http.StatusOK, updateRec.Code)
	require.Contains(t, updateRec.Body.String(), "bob likes espresso now")

	logRec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/memories/access-log?user_id=bob&memory_id="+memoryID, nil)
	r.ServeHTTP(logRec, req)
	require.Equal(t, http.StatusOK, logRec.Code)

	var logResp struct {
		Data []struct {
			AccessType string `json:"access_type"`
		} `json:"data"`
		TotalCount int64 `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(logRec.Body.Bytes(), &logResp))
	require.Equal(t, int64(1), logResp.TotalCount)
	require.Equal(t, "update", logResp.Data[0].AccessType)
}

func TestUpdate_UnknownMemoryReturnsNotFound(t *testing.T) {
	r, _ := newTestRouter()

	rec := doJSON(r, http.MethodPut, "/api/v1/memories/00000000-0000-0000-0000-000000000000", map[string]interface{}{
		"user_id": "alice",
		"text":    "whatever",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccessLog_RequiresUserID(t *testing.T) {
	r, _ := newTestRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/memories/access-log", nil)
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
