// Package attachments mounts the attachment CRUD/filter REST endpoints
// (§4.B, §6), following the same MountRoutes/handleError idiom used
// throughout this module's route packages. Attachments here are
// immutable text blobs with no binary file-transport surface to
// protect, so there's no multipart streaming, signed download URLs, or
// source-URL SSRF validation to carry over.
package attachments

import (
	"context"
	"errors"
	"net/http"
	"time"

	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// defaultAttachmentFilterTimeout is §5's "5 s default for attachment-list
// queries with caller-overridable hint".
const defaultAttachmentFilterTimeout = 5 * time.Second

// MountRoutes mounts the attachment endpoints on the given router.
func MountRoutes(r *gin.Engine, attach registryattachstore.Store, maxAttachmentSize int64, auth gin.HandlerFunc) {
	if attach == nil {
		return
	}
	g := r.Group("/api/v1/attachments", auth)
	g.POST("", func(c *gin.Context) { create(c, attach, maxAttachmentSize) })
	g.POST("/filter", func(c *gin.Context) { filter(c, attach) })
	g.GET("/:id", func(c *gin.Context) { get(c, attach) })
	g.PUT("/:id", func(c *gin.Context) { update(c, attach, maxAttachmentSize) })
	g.DELETE("/:id", func(c *gin.Context) { del(c, attach) })
}

type createRequest struct {
	ID      *uuid.UUID `json:"id"`
	Content string     `json:"content" binding:"required"`
}

func create(c *gin.Context, attach registryattachstore.Store, maxSize int64) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	att, err := attach.Create(c.Request.Context(), req.ID, req.Content, maxSize)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toView(att))
}

func get(c *gin.Context, attach registryattachstore.Store) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}
	att, err := attach.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toView(att))
}

type updateRequest struct {
	Content string `json:"content" binding:"required"`
}

func update(c *gin.Context, attach registryattachstore.Store, maxSize int64) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	att, err := attach.Update(c.Request.Context(), id, req.Content, maxSize)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toView(att))
}

func del(c *gin.Context, attach registryattachstore.Store) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}
	if err := attach.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type filterRequest struct {
	Page               int        `json:"page"`
	Size               int        `json:"size"`
	SearchQuery        string     `json:"search_query"`
	FromDate           *time.Time `json:"from_date"`
	ToDate             *time.Time `json:"to_date"`
	SortColumn         string     `json:"sort_column"`
	SortDirection      string     `json:"sort_direction"`
	StatementTimeoutMs int        `json:"statement_timeout_ms"`
}

func filter(c *gin.Context, attach registryattachstore.Store) {
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statementTimeout := defaultAttachmentFilterTimeout
	if req.StatementTimeoutMs > 0 {
		statementTimeout = time.Duration(req.StatementTimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), statementTimeout)
	defer cancel()

	page, err := attach.Filter(ctx, registrystore.AttachmentFilter{
		Page:             req.Page,
		Size:             req.Size,
		SearchQuery:      req.SearchQuery,
		FromDate:         req.FromDate,
		ToDate:           req.ToDate,
		SortColumn:       req.SortColumn,
		SortDirection:    req.SortDirection,
		StatementTimeout: statementTimeout,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func toView(att *registryattachstore.Attachment) gin.H {
	return gin.H{
		"id":         att.ID.String(),
		"content":    att.Content,
		"created_at": att.CreatedAt.Unix(),
		"updated_at": att.UpdatedAt.Unix(),
	}
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
