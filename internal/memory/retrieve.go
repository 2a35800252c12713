package memory

import (
	"context"
	"fmt"

	"github.com/agentmemory/memory-service/internal/config"
	"github.com/agentmemory/memory-service/internal/model"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/google/uuid"
)

// Search implements §4.G: embed the query, run the vector-store similarity
// search scoped to the caller's user_id and filters, drop anything the
// calling app's ACL rules forbid, project hits per the metadata-inclusion
// rules, and log one access record per surviving hit.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	// A paused app can still search and list its own memories: §3's
	// paused-app rule only blocks creating new ones (see ingest.go), so
	// this resolves the user/app without ingest.go's active-app check.
	_, app, err := e.Store.ResolveUserAndApp(ctx, req.UserID, req.AppName)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	embedding, err := e.embedOne(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed search query: %w", err)
	}
	hits, err := e.Vector.Search(ctx, embedding, req.UserID, req.Filters, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	allowedIDs := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		allowedIDs[i] = h.ID
	}
	allowedIDs, err = e.ACL.FilterAllowed(ctx, app.ID, allowedIDs)
	if err != nil {
		return nil, fmt.Errorf("memory: acl filter: %w", err)
	}
	allowed := make(map[uuid.UUID]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}

	defaultAttachmentIDsShow := false
	if cfg := config.FromContext(ctx); cfg != nil {
		defaultAttachmentIDsShow = cfg.DefaultAttachmentIDsShow
	}
	showAttachmentIDs := resolveBoolDefault(ctx, e.Store, req.AttachmentIDsShow, configKeyDefaultAttachmentIDsShow, defaultAttachmentIDsShow)

	result := &SearchResult{}
	for _, h := range hits {
		if !allowed[h.ID] {
			continue
		}
		content, _ := h.Payload["data"].(string)
		hash, _ := h.Payload["hash"].(string)
		createdAt, _ := h.Payload["created_at"].(string)
		updatedAt, _ := h.Payload["updated_at"].(string)

		hit := SearchHit{
			ID:        h.ID,
			Memory:    content,
			Hash:      hash,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
			Score:     h.Score,
		}
		hit.Metadata = projectMetadata(metadataFromPayload(h.Payload), req.IncludeMetadata, showAttachmentIDs)
		result.Hits = append(result.Hits, hit)

		if err := e.Store.RecordAccessLog(ctx, h.ID, app.ID, model.AccessTypeSearch, nil); err != nil {
			return nil, fmt.Errorf("memory: record access log: %w", err)
		}
	}
	return result, nil
}

// projectMetadata applies §4.G's three-way metadata-inclusion rule:
// include_metadata wins outright; otherwise attachment_ids_show (or its
// configured default) controls whether the attachment_ids key alone
// survives; otherwise nothing is returned.
func projectMetadata(full map[string]interface{}, includeMetadata, showAttachmentIDs bool) map[string]interface{} {
	if includeMetadata {
		return full
	}
	if showAttachmentIDs {
		if ids, ok := full["attachment_ids"]; ok {
			return map[string]interface{}{"attachment_ids": ids}
		}
	}
	return nil
}

// RelatedMemories implements §4.G's category-overlap lookup, delegating
// directly to the metadata store.
func (e *Engine) RelatedMemories(ctx context.Context, userID string, memoryID uuid.UUID, page int) ([]registrystore.MemoryWithExtras, error) {
	return e.Store.RelatedMemories(ctx, userID, registrystore.RelatedMemoriesQuery{MemoryID: memoryID, Page: page})
}

// ListAll implements §4.G's list-all-memories query, delegating to the
// metadata store's filter/pagination support and logging one access record
// per returned item.
func (e *Engine) ListAll(ctx context.Context, req SearchRequest, filter registrystore.MemoryFilter) (*registrystore.MemoryPage, error) {
	// Same paused-app exemption as Search above.
	_, app, err := e.Store.ResolveUserAndApp(ctx, req.UserID, req.AppName)
	if err != nil {
		return nil, err
	}
	page, err := e.Store.FilterMemories(ctx, req.UserID, filter)
	if err != nil {
		return nil, err
	}
	for _, m := range page.Data {
		if err := e.Store.RecordAccessLog(ctx, m.ID, app.ID, model.AccessTypeList, nil); err != nil {
			return nil, fmt.Errorf("memory: record access log: %w", err)
		}
	}
	return page, nil
}
