package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleCreateAttachment_MissingIdentity(t *testing.T) {
	app := newTestApp()
	res, err := app.handleCreateAttachment(context.Background(), toolRequest(map[string]any{"content": "hello"}))
	require.NoError(t, err)
	require.Contains(t, textOf(t, res), "header not provided")
}

func TestHandleCreateAttachment_RequiresContent(t *testing.T) {
	app := newTestApp()
	_, err := app.handleCreateAttachment(withIdentityCtx(), toolRequest(map[string]any{}))
	require.Error(t, err)
}

func TestCreateGetUpdateDeleteAttachment_RoundTrip(t *testing.T) {
	app := newTestApp()

	created, err := app.handleCreateAttachment(withIdentityCtx(), toolRequest(map[string]any{"content": "first draft"}))
	require.NoError(t, err)
	require.Contains(t, textOf(t, created), "first draft")

	var decoded struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, created)), &decoded))
	require.NotEmpty(t, decoded.ID)

	got, err := app.handleGetAttachment(withIdentityCtx(), toolRequest(map[string]any{"id": decoded.ID}))
	require.NoError(t, err)
	require.Contains(t, textOf(t, got), "first draft")

	updated, err := app.handleUpdateAttachment(withIdentityCtx(), toolRequest(map[string]any{
		"id":      decoded.ID,
		"content": "revised draft",
	}))
	require.NoError(t, err)
	require.Contains(t, textOf(t, updated), "revised draft")

	deleted, err := app.handleDeleteAttachment(withIdentityCtx(), toolRequest(map[string]any{"id": decoded.ID}))
	require.NoError(t, err)
	require.Contains(t, textOf(t, deleted), "deleted")

	_, err = app.handleGetAttachment(withIdentityCtx(), toolRequest(map[string]any{"id": decoded.ID}))
	require.NoError(t, err) // errorResult never returns a Go error, only an {"error": ...} payload
}

func TestHandleGetAttachment_NotFoundReturnsErrorPayload(t *testing.T) {
	app := newTestApp()
	res, err := app.handleGetAttachment(withIdentityCtx(), toolRequest(map[string]any{"id": "00000000-0000-0000-0000-000000000000"}))
	require.NoError(t, err)
	require.Contains(t, textOf(t, res), `"error"`)
}
