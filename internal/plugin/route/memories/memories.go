// Package memories mounts the memory CRUD/search REST endpoints (§4.F,
// §4.G, §6), using the same MountRoutes/handleError/queryInt idiom as
// the other route packages in this module, wired to the ingestion/
// retrieval engine rather than an episodic-namespace/OPA access model.
package memories

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agentmemory/memory-service/internal/memory"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	registryvector "github.com/agentmemory/memory-service/internal/registry/vector"
	"github.com/agentmemory/memory-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the memory endpoints on the given router.
func MountRoutes(r *gin.Engine, engine *memory.Engine, pool *worker.Pool, attachEnabled bool, auth gin.HandlerFunc) {
	if engine == nil {
		return
	}
	g := r.Group("/api/v1/memories", auth)
	g.POST("", func(c *gin.Context) { add(c, engine, pool) })
	g.DELETE("", func(c *gin.Context) { bulkDelete(c, engine, attachEnabled) })
	g.POST("/filter", func(c *gin.Context) { filterMemories(c, engine) })
	g.POST("/search", func(c *gin.Context) { search(c, engine, pool) })
	g.GET("/:id", func(c *gin.Context) { get(c, engine) })
	g.PUT("/:id", func(c *gin.Context) { update(c, engine) })
	g.GET("/:id/related", func(c *gin.Context) { related(c, engine) })
	g.POST("/pause", func(c *gin.Context) { pause(c, engine) })
	g.POST("/unpause", func(c *gin.Context) { unpause(c, engine) })
	g.POST("/archive", func(c *gin.Context) { archive(c, engine) })
	g.GET("/access-log", func(c *gin.Context) { accessLog(c, engine) })
}

type addRequest struct {
	UserID         string                 `json:"user_id" binding:"required"`
	App            string                 `json:"app"`
	Text           string                 `json:"text" binding:"required"`
	Metadata       map[string]interface{} `json:"metadata"`
	Infer          *bool                  `json:"infer"`
	Extract        *bool                  `json:"extract"`
	Deduplicate    *bool                  `json:"deduplicate"`
	AttachmentText *string                `json:"attachment_text"`
	AttachmentID   *uuid.UUID             `json:"attachment_id"`
}

func add(c *gin.Context, engine *memory.Engine, pool *worker.Pool) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	appName := req.App
	if appName == "" {
		appName = "default"
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 120*time.Second)
	defer cancel()

	result, err := worker.SubmitAdd(ctx, pool, func(ctx context.Context) (*memory.AddResult, error) {
		return engine.Add(ctx, memory.AddRequest{
			UserID:         req.UserID,
			AppName:        appName,
			Text:           req.Text,
			Metadata:       req.Metadata,
			Infer:          req.Infer,
			Extract:        req.Extract,
			Deduplicate:    req.Deduplicate,
			AttachmentText: req.AttachmentText,
			AttachmentID:   req.AttachmentID,
		})
	})
	if err != nil {
		handleError(c, err)
		return
	}
	if result.NoneAll {
		c.JSON(http.StatusOK, gin.H{"event": "NONE", "message": result.Message, "original_text": req.Text})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": toEventViews(result.Events)})
}

type bulkDeleteRequest struct {
	UserID            string      `json:"user_id" binding:"required"`
	MemoryIDs         []uuid.UUID `json:"memory_ids" binding:"required"`
	DeleteAttachments bool        `json:"delete_attachments"`
}

func bulkDelete(c *gin.Context, engine *memory.Engine, attachEnabled bool) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count := 0
	for _, id := range req.MemoryIDs {
		if err := engine.Delete(c.Request.Context(), req.UserID, id, req.DeleteAttachments && attachEnabled); err != nil {
			handleError(c, err)
			return
		}
		count++
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type filterRequest struct {
	UserID        string      `json:"user_id" binding:"required"`
	Page          int         `json:"page"`
	Size          int         `json:"size"`
	AppIDs        []uuid.UUID `json:"app_ids"`
	CategoryIDs   []uuid.UUID `json:"category_ids"`
	SearchQuery   string      `json:"search_query"`
	FromDate      *time.Time  `json:"from_date"`
	ToDate        *time.Time  `json:"to_date"`
	ShowArchived  bool        `json:"show_archived"`
	SortColumn    string      `json:"sort_column"`
	SortDirection string      `json:"sort_direction"`
	App           string      `json:"app"`
}

func filterMemories(c *gin.Context, engine *memory.Engine) {
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	appName := req.App
	if appName == "" {
		appName = "default"
	}
	page, err := engine.ListAll(c.Request.Context(), memory.SearchRequest{UserID: req.UserID, AppName: appName}, registrystore.MemoryFilter{
		Page:          req.Page,
		Size:          req.Size,
		AppIDs:        req.AppIDs,
		CategoryIDs:   req.CategoryIDs,
		SearchQuery:   req.SearchQuery,
		FromDate:      req.FromDate,
		ToDate:        req.ToDate,
		ShowArchived:  req.ShowArchived,
		SortColumn:    req.SortColumn,
		SortDirection: req.SortDirection,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPageView(page))
}

type searchRequest struct {
	UserID            string                  `json:"user_id" binding:"required"`
	App               string                  `json:"app"`
	Query             string                  `json:"query" binding:"required"`
	Limit             int                     `json:"limit"`
	Filters           []registryvector.Filter `json:"filters"`
	IncludeMetadata   bool                    `json:"include_metadata"`
	AttachmentIDsShow *bool                   `json:"attachment_ids_show"`
}

func search(c *gin.Context, engine *memory.Engine, pool *worker.Pool) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	appName := req.App
	if appName == "" {
		appName = "default"
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	result, err := worker.SubmitSearch(ctx, pool, func(ctx context.Context) (*memory.SearchResult, error) {
		return engine.Search(ctx, memory.SearchRequest{
			UserID:            req.UserID,
			AppName:           appName,
			Query:             req.Query,
			Limit:             req.Limit,
			Filters:           req.Filters,
			IncludeMetadata:   req.IncludeMetadata,
			AttachmentIDsShow: req.AttachmentIDsShow,
		})
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": result.Hits})
}

func get(c *gin.Context, engine *memory.Engine) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	m, err := engine.Get(c.Request.Context(), userID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMemoryView(*m))
}

type updateRequest struct {
	UserID   string                 `json:"user_id" binding:"required"`
	Text     string                 `json:"text" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

func update(c *gin.Context, engine *memory.Engine) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := engine.Update(c.Request.Context(), req.UserID, id, req.Text, req.Metadata)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         m.ID,
		"text":       m.Content,
		"created_at": m.CreatedAt.Unix(),
		"updated_at": m.UpdatedAt.Unix(),
		"state":      string(m.State),
		"metadata_":  m.Metadata,
	})
}

func related(c *gin.Context, engine *memory.Engine) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	page := queryInt(c, "page", 1)
	items, err := engine.RelatedMemories(c.Request.Context(), userID, id, page)
	if err != nil {
		handleError(c, err)
		return
	}
	views := make([]gin.H, len(items))
	for i, m := range items {
		views[i] = toMemoryView(m)
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

type scopeRequest struct {
	UserID      string      `json:"user_id" binding:"required"`
	IDs         []uuid.UUID `json:"ids"`
	CategoryIDs []uuid.UUID `json:"category_ids"`
	AppID       *uuid.UUID  `json:"app_id"`
	All         bool        `json:"all"`
}

func pause(c *gin.Context, engine *memory.Engine) {
	var req scopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count, err := engine.Pause(c.Request.Context(), req.UserID, req.IDs, req.CategoryIDs, req.AppID, req.All)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func unpause(c *gin.Context, engine *memory.Engine) {
	var req scopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count, err := engine.Unpause(c.Request.Context(), req.UserID, req.IDs, req.CategoryIDs, req.AppID, req.All)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func archive(c *gin.Context, engine *memory.Engine) {
	var req scopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count, err := engine.Archive(c.Request.Context(), req.UserID, req.IDs)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func accessLog(c *gin.Context, engine *memory.Engine) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	var memoryID *uuid.UUID
	if raw := c.Query("memory_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory_id"})
			return
		}
		memoryID = &id
	}
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 20)
	result, err := engine.ListAccessLogs(c.Request.Context(), userID, memoryID, page, size)
	if err != nil {
		handleError(c, err)
		return
	}
	views := make([]gin.H, len(result.Data))
	for i, l := range result.Data {
		views[i] = gin.H{
			"id":          l.ID,
			"memory_id":   l.MemoryID,
			"app_id":      l.AppID,
			"access_type": string(l.AccessType),
			"metadata_":   l.Metadata,
			"created_at":  l.CreatedAt.Unix(),
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": views, "page": result.Page, "size": result.Size, "total_count": result.TotalCount})
}

func toEventViews(events []memory.AppliedEvent) []gin.H {
	out := make([]gin.H, len(events))
	for i, e := range events {
		out[i] = gin.H{
			"event":     e.Kind,
			"id":        e.MemoryID,
			"memory":    e.Content,
			"metadata_": e.Metadata,
		}
	}
	return out
}

func toMemoryView(m registrystore.MemoryWithExtras) gin.H {
	return gin.H{
		"id":         m.ID,
		"text":       m.Content,
		"created_at": m.CreatedAt.Unix(),
		"state":      string(m.State),
		"app_id":     m.AppID,
		"app_name":   m.AppName,
		"categories": m.Categories,
		"metadata_":  m.Metadata,
	}
}

func toPageView(page *registrystore.MemoryPage) gin.H {
	data := make([]gin.H, len(page.Data))
	for i, m := range page.Data {
		data[i] = toMemoryView(m)
	}
	return gin.H{"data": data, "page": page.Page, "size": page.Size, "total_count": page.TotalCount}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var tooLarge *registrystore.PayloadTooLargeError
	var unavailable *registrystore.ServiceUnavailableError

	switch {
	case err == nil:
		return
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
