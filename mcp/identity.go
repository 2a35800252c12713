// Package mcp is the MCP (JSON-RPC 2.0 / streamable-HTTP) ingress surface
// (§4.H, §6): a stateless tool-call API exposing the same
// internal/memory.Engine operations the REST surface mounts, for agent
// clients that speak the Model Context Protocol instead of plain REST.
package mcp

import "context"

// identityKey is the context key mcpContextFunc stores the caller's
// identity under, mirroring the plain-struct context-key idiom
// internal/security uses for its gRPC identity (grpcIdentityKey).
type identityKey struct{}

// Identity is the caller identity extracted from the X-User-Id and
// X-Client-Name headers (§4.H). Both are required for user-scoped
// tools; a missing header surfaces as an error tool result rather than
// an HTTP-level fault, per §6's MCP transport contract.
type Identity struct {
	UserID     string
	ClientName string
}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// identityFromContext retrieves the Identity stored by mcpContextFunc.
func identityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
