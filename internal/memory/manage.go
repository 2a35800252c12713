package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmemory/memory-service/internal/model"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	registryvector "github.com/agentmemory/memory-service/internal/registry/vector"
	"github.com/google/uuid"
)

// Get implements §6's single-memory read, logging one access record.
func (e *Engine) Get(ctx context.Context, userID string, memoryID uuid.UUID) (*registrystore.MemoryWithExtras, error) {
	m, err := e.Store.GetMemory(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}
	if err := e.Store.RecordAccessLog(ctx, memoryID, m.AppID, model.AccessTypeList, nil); err != nil {
		return nil, fmt.Errorf("memory: record access log: %w", err)
	}
	return m, nil
}

// Delete implements §6's bulk-delete call for a single memory id: soft
// deletes the metadata row, removes the vector-store point, and — when the
// caller opted in and the attachment store is wired — deletes every
// attachment listed in the memory's attachment_ids, whether or not another
// memory also references it.
func (e *Engine) Delete(ctx context.Context, userID string, memoryID uuid.UUID, deleteAttachments bool) error {
	m, err := e.Store.GetMemory(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if err := e.Store.RecordAccessLog(ctx, memoryID, m.AppID, model.AccessTypeDelete, nil); err != nil {
		return fmt.Errorf("memory: record access log: %w", err)
	}
	if err := e.Vector.Delete(ctx, memoryID); err != nil {
		return fmt.Errorf("memory: vector delete: %w", err)
	}
	if err := e.Store.SoftDeleteMemory(ctx, memoryID, "user"); err != nil {
		return err
	}
	if deleteAttachments && e.Attach != nil {
		for _, attID := range m.AttachmentIDs() {
			if err := e.Attach.Delete(ctx, attID); err != nil {
				return fmt.Errorf("memory: delete attachment %s: %w", attID, err)
			}
		}
	}
	return nil
}

// Update implements the MCP `update_memory` tool's direct-replacement
// path (§4.H): unlike Add, it never calls the LLM merge decision — it
// re-embeds the caller-supplied content, re-upserts the existing vector
// point in place, and replaces the stored content/metadata. Grounded on
// applyUpdate's vector-then-metadata commit order, minus the LLM
// read-back step: there is no merge-decision backend involved, so the
// caller's content is already authoritative.
func (e *Engine) Update(ctx context.Context, userID string, memoryID uuid.UUID, content string, metadata map[string]interface{}) (*model.Memory, error) {
	m, err := e.Store.GetMemory(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	embedding, err := e.embedOne(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("memory: embed updated content: %w", err)
	}
	mergedMetadata := map[string]interface{}{}
	for k, v := range m.Metadata {
		mergedMetadata[k] = v
	}
	for k, v := range metadata {
		mergedMetadata[k] = v
	}
	payload := buildPayload(content, userID, m.CreatedAt, now, mergedMetadata)
	if err := e.Vector.Upsert(ctx, []registryvector.UpsertPoint{{ID: memoryID, Embedding: embedding, Payload: payload}}); err != nil {
		return nil, fmt.Errorf("memory: vector upsert on update: %w", err)
	}

	var updated *model.Memory
	err = e.Store.WithinTransaction(ctx, func(tx registrystore.MemoryStore) error {
		mm, err := tx.UpdateMemoryContent(ctx, memoryID, content, mergedMetadata, nil)
		if err != nil {
			return err
		}
		updated = mm
		return tx.RecordHistory(ctx, memoryID, statePtr(model.MemoryStateActive), model.MemoryStateActive, "user")
	})
	if err != nil {
		return nil, err
	}
	if err := e.Store.RecordAccessLog(ctx, memoryID, m.AppID, model.AccessTypeUpdate, nil); err != nil {
		return nil, fmt.Errorf("memory: record access log: %w", err)
	}
	return updated, nil
}

// Pause implements §6's pause-scope action.
func (e *Engine) Pause(ctx context.Context, userID string, ids, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error) {
	return e.Store.PauseMemories(ctx, userID, ids, categoryIDs, appID, all)
}

// Unpause implements §6's unpause-scope action.
func (e *Engine) Unpause(ctx context.Context, userID string, ids, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error) {
	return e.Store.UnpauseMemories(ctx, userID, ids, categoryIDs, appID, all)
}

// Archive implements §6's archive-scope action.
func (e *Engine) Archive(ctx context.Context, userID string, ids []uuid.UUID) (int64, error) {
	return e.Store.ArchiveMemories(ctx, userID, ids)
}

// ListAccessLogs implements §6's access-log read endpoint: a paginated,
// append-only audit trail of access_type=search|list|update|delete|
// delete_all events, scoped to the caller's user and optionally narrowed
// to a single memory.
func (e *Engine) ListAccessLogs(ctx context.Context, userID string, memoryID *uuid.UUID, page, size int) (*registrystore.AccessLogPage, error) {
	return e.Store.ListAccessLogs(ctx, userID, registrystore.AccessLogFilter{Page: page, Size: size, MemoryID: memoryID})
}
