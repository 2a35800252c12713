package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// attachmentTools returns the four attachment-domain tool definitions
// from §4.H/§6. Mounted only when attachments are enabled, mirroring
// internal/plugin/route/attachments.MountRoutes's attachEnabled guard.
func attachmentTools(app *application) []toolRegistration {
	return []toolRegistration{
		{mcp.NewTool("create_attachment",
			mcp.WithDescription("Create a new text attachment, optionally with a caller-supplied id."),
			mcp.WithString("content", mcp.Description("Attachment content"), mcp.Required()),
			mcp.WithString("id", mcp.Description("Optional caller-supplied UUID")),
		), app.handleCreateAttachment},
		{mcp.NewTool("update_attachment",
			mcp.WithDescription("Replace the content of an existing attachment."),
			mcp.WithString("id", mcp.Description("Attachment UUID"), mcp.Required()),
			mcp.WithString("content", mcp.Description("New content"), mcp.Required()),
		), app.handleUpdateAttachment},
		{mcp.NewTool("get_attachment",
			mcp.WithDescription("Fetch an attachment by id."),
			mcp.WithString("id", mcp.Description("Attachment UUID"), mcp.Required()),
		), app.handleGetAttachment},
		{mcp.NewTool("delete_attachment",
			mcp.WithDescription("Delete an attachment by id."),
			mcp.WithString("id", mcp.Description("Attachment UUID"), mcp.Required()),
		), app.handleDeleteAttachment},
	}
}

func (a *application) handleCreateAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, res, ok := requireIdentity(ctx); !ok {
		return res, nil
	}
	args := req.Params.Arguments
	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("content parameter is required")
	}
	var idPtr *uuid.UUID
	if raw, ok := args["id"].(string); ok && raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		idPtr = &parsed
	}
	att, err := a.attach.Create(ctx, idPtr, content, a.maxAttachmentSize)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(attachmentJSON(att)), nil
}

func (a *application) handleUpdateAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, res, ok := requireIdentity(ctx); !ok {
		return res, nil
	}
	args := req.Params.Arguments
	id, err := uuid.Parse(fmt.Sprint(args["id"]))
	if err != nil {
		return nil, fmt.Errorf("invalid id: %w", err)
	}
	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("content parameter is required")
	}
	att, err := a.attach.Update(ctx, id, content, a.maxAttachmentSize)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(attachmentJSON(att)), nil
}

func (a *application) handleGetAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, res, ok := requireIdentity(ctx); !ok {
		return res, nil
	}
	id, err := uuid.Parse(fmt.Sprint(req.Params.Arguments["id"]))
	if err != nil {
		return nil, fmt.Errorf("invalid id: %w", err)
	}
	att, err := a.attach.Get(ctx, id)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(attachmentJSON(att)), nil
}

func (a *application) handleDeleteAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, res, ok := requireIdentity(ctx); !ok {
		return res, nil
	}
	id, err := uuid.Parse(fmt.Sprint(req.Params.Arguments["id"]))
	if err != nil {
		return nil, fmt.Errorf("invalid id: %w", err)
	}
	if err := a.attach.Delete(ctx, id); err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(`{"status": "deleted"}`), nil
}

func attachmentJSON(att *registryattachstore.Attachment) string {
	b, _ := json.Marshal(map[string]any{
		"id":         att.ID.String(),
		"content":    att.Content,
		"created_at": att.CreatedAt.Unix(),
		"updated_at": att.UpdatedAt.Unix(),
	})
	return string(b)
}
