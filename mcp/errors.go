package mcp

import (
	"errors"
	"fmt"

	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// errorResult translates err into a {"error": "..."} tool result per §7's
// MCP propagation policy, the same typed-error taxonomy REST's
// handleError matches via errors.As, minus the HTTP status — MCP has no
// status line, only the payload.
func errorResult(err error) (*mcp.CallToolResult, error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var tooLarge *registrystore.PayloadTooLargeError
	var unavailable *registrystore.ServiceUnavailableError

	switch {
	case errors.As(err, &notFound), errors.As(err, &validation), errors.As(err, &conflict),
		errors.As(err, &forbidden), errors.As(err, &tooLarge), errors.As(err, &unavailable):
		return mcp.NewToolResultText(fmt.Sprintf(`{"error": %q}`, err.Error())), nil
	default:
		return mcp.NewToolResultText(`{"error": "internal server error"}`), nil
	}
}

// missingHeaderResult implements §6's "missing ones produce an `Error: …
// header not provided` payload" identity-header contract.
func missingHeaderResult(header string) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("Error: %s header not provided", header)), nil
}
