package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmemory/memory-service/internal/memory"
	"github.com/agentmemory/memory-service/internal/registry/store"
	registryvector "github.com/agentmemory/memory-service/internal/registry/vector"
	"github.com/agentmemory/memory-service/internal/worker"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// memoryTools returns the six memory-domain tool definitions from
// spec.md §4.H/§6, schema shapes grounded on the builder pattern in
// other_examples' mcp-go memory tool file (mcp.NewTool +
// mcp.WithString/mcp.WithObject/mcp.WithArray/mcp.Required).
func memoryTools(app *application) []toolRegistration {
	return []toolRegistration{
		{mcp.NewTool("add_memories",
			mcp.WithDescription("Ingest a piece of text as one or more memories for a user, optionally through LLM-driven fact extraction and deduplication."),
			mcp.WithString("text", mcp.Description("Content to remember"), mcp.Required()),
			mcp.WithString("app", mcp.Description("Calling application name; defaults to 'default'")),
			mcp.WithObject("metadata", mcp.Description("Arbitrary JSON metadata to attach")),
			mcp.WithString("attachment_text", mcp.Description("Inline text to store as a new attachment and link to the memory")),
			mcp.WithString("attachment_id", mcp.Description("Existing attachment UUID to link to the memory")),
		), app.handleAddMemories},
		{mcp.NewTool("search_memory",
			mcp.WithDescription("Search a user's memories by semantic similarity."),
			mcp.WithString("query", mcp.Description("Natural language search query"), mcp.Required()),
			mcp.WithString("app", mcp.Description("Calling application name; defaults to 'default'")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithArray("filters", mcp.Description("Payload filters in the form [{key, op, value}, ...]; op is one of eq, in, gte, lte")),
		), app.handleSearchMemory},
		{mcp.NewTool("list_memories",
			mcp.WithDescription("List/filter a user's memories with pagination."),
			mcp.WithNumber("page", mcp.Description("Page number, 1-based (default 1)")),
			mcp.WithNumber("size", mcp.Description("Page size (default 20)")),
			mcp.WithString("search_query", mcp.Description("Optional content substring filter")),
			mcp.WithBoolean("show_archived", mcp.Description("Include archived memories (default false)")),
		), app.handleListMemories},
		{mcp.NewTool("update_memory",
			mcp.WithDescription("Replace the content (and optionally merge metadata) of an existing memory."),
			mcp.WithString("memory_id", mcp.Description("Memory UUID to update"), mcp.Required()),
			mcp.WithString("text", mcp.Description("New content"), mcp.Required()),
			mcp.WithObject("metadata", mcp.Description("Metadata keys to merge into the existing metadata")),
		), app.handleUpdateMemory},
		{mcp.NewTool("delete_memories",
			mcp.WithDescription("Delete one or more memories by id."),
			mcp.WithArray("memory_ids", mcp.Description("Memory UUIDs to delete"), mcp.Required()),
			mcp.WithBoolean("delete_attachments", mcp.Description("Also delete every attachment listed by the deleted memories, whether or not another memory also references it")),
		), app.handleDeleteMemories},
		{mcp.NewTool("delete_all_memories",
			mcp.WithDescription("Delete every active memory belonging to the user (optionally scoped to one app)."),
			mcp.WithString("app", mcp.Description("Calling application name; when set, scopes deletion to that app's memories only")),
		), app.handleDeleteAllMemories},
	}
}

func (a *application) handleAddMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res, ok := requireIdentity(ctx)
	if !ok {
		return res, nil
	}
	args := req.Params.Arguments
	text, _ := args["text"].(string)
	if text == "" {
		return nil, fmt.Errorf("text parameter is required")
	}
	appName, _ := args["app"].(string)
	if appName == "" {
		appName = "default"
	}

	addReq := memory.AddRequest{
		UserID:  id.UserID,
		AppName: appName,
		Text:    text,
	}
	if meta, ok := args["metadata"].(map[string]any); ok {
		addReq.Metadata = meta
	}
	if at, ok := args["attachment_text"].(string); ok && at != "" {
		addReq.AttachmentText = &at
	}
	if aid, ok := args["attachment_id"].(string); ok && aid != "" {
		parsed, err := uuid.Parse(aid)
		if err != nil {
			return nil, fmt.Errorf("invalid attachment_id: %w", err)
		}
		addReq.AttachmentID = &parsed
	}

	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()
	result, err := worker.SubmitAdd(ctx, a.pool, func(ctx context.Context) (*memory.AddResult, error) {
		return a.engine.Add(ctx, addReq)
	})
	if err != nil {
		return errorResult(err)
	}
	if result.NoneAll {
		b, _ := json.Marshal(map[string]any{"event": "NONE", "message": result.Message, "original_text": text})
		return mcp.NewToolResultText(string(b)), nil
	}
	events := make([]map[string]any, len(result.Events))
	for i, e := range result.Events {
		events[i] = map[string]any{"event": e.Kind, "id": e.MemoryID, "memory": e.Content, "metadata_": e.Metadata}
	}
	b, _ := json.Marshal(map[string]any{"events": events})
	return mcp.NewToolResultText(string(b)), nil
}

func (a *application) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res, ok := requireIdentity(ctx)
	if !ok {
		return res, nil
	}
	args := req.Params.Arguments
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}
	appName, _ := args["app"].(string)
	if appName == "" {
		appName = "default"
	}
	limit := 10
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	var filters []registryvector.Filter
	if raw, ok := args["filters"]; ok && raw != nil {
		b, err := json.Marshal(raw)
		if err == nil {
			err = json.Unmarshal(b, &filters)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid filters: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := worker.SubmitSearch(ctx, a.pool, func(ctx context.Context) (*memory.SearchResult, error) {
		return a.engine.Search(ctx, memory.SearchRequest{
			UserID:          id.UserID,
			AppName:         appName,
			Query:           query,
			Limit:           limit,
			Filters:         filters,
			IncludeMetadata: true,
		})
	})
	if err != nil {
		return errorResult(err)
	}
	b, _ := json.Marshal(map[string]any{"results": result.Hits})
	return mcp.NewToolResultText(string(b)), nil
}

func (a *application) handleListMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res, ok := requireIdentity(ctx)
	if !ok {
		return res, nil
	}
	args := req.Params.Arguments
	page := 1
	if v, ok := args["page"].(float64); ok && v > 0 {
		page = int(v)
	}
	size := 20
	if v, ok := args["size"].(float64); ok && v > 0 {
		size = int(v)
	}
	searchQuery, _ := args["search_query"].(string)
	showArchived, _ := args["show_archived"].(bool)

	result, err := a.engine.ListAll(ctx, memory.SearchRequest{UserID: id.UserID, AppName: "default"}, store.MemoryFilter{
		Page:         page,
		Size:         size,
		SearchQuery:  searchQuery,
		ShowArchived: showArchived,
	})
	if err != nil {
		return errorResult(err)
	}
	b, _ := json.Marshal(toListPayload(result))
	return mcp.NewToolResultText(string(b)), nil
}

func (a *application) handleUpdateMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res, ok := requireIdentity(ctx)
	if !ok {
		return res, nil
	}
	args := req.Params.Arguments
	memoryIDStr, _ := args["memory_id"].(string)
	memoryID, err := uuid.Parse(memoryIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid memory_id: %w", err)
	}
	text, _ := args["text"].(string)
	if text == "" {
		return nil, fmt.Errorf("text parameter is required")
	}
	var metadata map[string]interface{}
	if meta, ok := args["metadata"].(map[string]any); ok {
		metadata = meta
	}

	updated, err := a.engine.Update(ctx, id.UserID, memoryID, text, metadata)
	if err != nil {
		return errorResult(err)
	}
	b, _ := json.Marshal(map[string]any{
		"id":         updated.ID,
		"text":       updated.Content,
		"updated_at": updated.UpdatedAt.Unix(),
		"metadata_":  updated.Metadata,
	})
	return mcp.NewToolResultText(string(b)), nil
}

func (a *application) handleDeleteMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res, ok := requireIdentity(ctx)
	if !ok {
		return res, nil
	}
	args := req.Params.Arguments
	rawIDs, _ := args["memory_ids"].([]any)
	deleteAttachments, _ := args["delete_attachments"].(bool)

	count := 0
	for _, raw := range rawIDs {
		idStr, _ := raw.(string)
		memoryID, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid memory id %q: %w", idStr, err)
		}
		if err := a.engine.Delete(ctx, id.UserID, memoryID, deleteAttachments && a.attachmentsEnabled); err != nil {
			return errorResult(err)
		}
		count++
	}
	b, _ := json.Marshal(map[string]any{"count": count})
	return mcp.NewToolResultText(string(b)), nil
}

func (a *application) handleDeleteAllMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res, ok := requireIdentity(ctx)
	if !ok {
		return res, nil
	}
	appName, _ := req.Params.Arguments["app"].(string)
	if appName == "" {
		appName = "default"
	}

	const pageSize = 500
	count := 0
	for page := 1; ; page++ {
		listed, err := a.engine.ListAll(ctx, memory.SearchRequest{UserID: id.UserID, AppName: appName}, store.MemoryFilter{Page: page, Size: pageSize, ShowArchived: true})
		if err != nil {
			return errorResult(err)
		}
		if len(listed.Data) == 0 {
			break
		}
		for _, m := range listed.Data {
			if err := a.engine.Delete(ctx, id.UserID, m.ID, a.attachmentsEnabled); err != nil {
				return errorResult(err)
			}
			count++
		}
		if int64(count) >= listed.TotalCount {
			break
		}
	}
	b, _ := json.Marshal(map[string]any{"count": count})
	return mcp.NewToolResultText(string(b)), nil
}

func toListPayload(page *store.MemoryPage) map[string]any {
	data := make([]map[string]any, len(page.Data))
	for i, m := range page.Data {
		data[i] = map[string]any{
			"id":         m.ID,
			"text":       m.Content,
			"created_at": m.CreatedAt.Unix(),
			"state":      string(m.State),
			"app_name":   m.AppName,
			"categories": m.Categories,
			"metadata_":  m.Metadata,
		}
	}
	return map[string]any{"data": data, "page": page.Page, "size": page.Size, "total_count": page.TotalCount}
}
