package mcp

import (
	"context"
	"net/http"

	"github.com/agentmemory/memory-service/internal/bootstrap"
	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	"github.com/agentmemory/memory-service/internal/memory"
	"github.com/agentmemory/memory-service/internal/worker"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// application holds the collaborators every tool handler needs, built
// once from bootstrap.Subsystems (shared with internal/cmd/serve's REST
// ingress) and closed over by the tool builder functions.
type application struct {
	engine             *memory.Engine
	pool               *worker.Pool
	attach             registryattachstore.Store
	attachmentsEnabled bool
	maxAttachmentSize  int64
}

// toolRegistration pairs one tool's schema with its handler, the unit
// srv.AddTool expects, grounded on registerMemoryTools's
// srv.AddTool(buildXTool(), handleX) idiom.
type toolRegistration struct {
	tool    mcp.Tool
	handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// NewHandler builds the MCP server from subsystems and cfg, registers
// the ten tools from §4.H/§6, and returns the streamable-HTTP handler to
// mount at the single MCP endpoint path (e.g. "/mcp").
func NewHandler(subsystems *bootstrap.Subsystems, attachmentsEnabled bool, maxAttachmentSize int64) http.Handler {
	app := &application{
		engine:             subsystems.Engine,
		pool:               subsystems.Pool,
		attach:             subsystems.AttachStore,
		attachmentsEnabled: attachmentsEnabled,
		maxAttachmentSize:  maxAttachmentSize,
	}

	srv := server.NewMCPServer("memory-service", "1.0.0")
	for _, reg := range memoryTools(app) {
		srv.AddTool(reg.tool, reg.handler)
	}
	if attachmentsEnabled {
		for _, reg := range attachmentTools(app) {
			srv.AddTool(reg.tool, reg.handler)
		}
	}

	return server.NewStreamableHTTPServer(srv, server.WithHTTPContextFunc(mcpContextFunc))
}

// mcpContextFunc implements §4.H's identity plumbing: X-User-Id and
// X-Client-Name headers are lifted into the request context so every
// tool handler can read them via identityFromContext, the mcp-go
// context-function translation of internal/security.AuthMiddleware's
// gin-context identity injection.
func mcpContextFunc(ctx context.Context, r *http.Request) context.Context {
	return withIdentity(ctx, Identity{
		UserID:     r.Header.Get("X-User-Id"),
		ClientName: r.Header.Get("X-Client-Name"),
	})
}

// requireIdentity implements §6's "missing ones produce an `Error: …
// header not provided` payload" contract: every user-scoped tool calls
// this first and returns res directly (without running the tool body)
// when ok is false.
func requireIdentity(ctx context.Context) (Identity, *mcp.CallToolResult, bool) {
	id := identityFromContext(ctx)
	if id.UserID == "" {
		res, _ := missingHeaderResult("X-User-Id")
		return id, res, false
	}
	if id.ClientName == "" {
		res, _ := missingHeaderResult("X-Client-Name")
		return id, res, false
	}
	return id, nil, true
}
