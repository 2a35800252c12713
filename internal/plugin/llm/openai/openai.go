// Package openai implements the LLM orchestrator contract (§4.E) against
// an OpenAI-compatible chat completions endpoint, using a JSON-schema
// response format so ExtractFacts/DecideMerge never have to hand-parse
// free-form text.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentmemory/memory-service/internal/config"
	"github.com/agentmemory/memory-service/internal/registry/llm"
	"github.com/google/uuid"
)

func init() {
	llm.Register(llm.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (llm.Client, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("openai llm client: MEMORY_SERVICE_LLM_API_KEY is required")
	}
	return &Client{
		apiKey:  cfg.LLMAPIKey,
		model:   cfg.LLMModelName,
		baseURL: strings.TrimRight(cfg.LLMBaseURL, "/"),
	}, nil
}

type Client struct {
	apiKey  string
	model   string
	baseURL string
}

func (c *Client) Name() string { return "openai" }

const defaultExtractionPrompt = `You extract atomic, self-contained facts from the user's message that
are worth remembering long-term. Ignore small talk and questions.
Return each fact as a short declarative sentence.`

const defaultMergePrompt = `You reconcile a new candidate fact against a list of existing memories
that a vector search judged similar. For the candidate fact, decide
exactly one of: ADD (it is new information), UPDATE (it refines or
supersedes one existing memory — name its id as target_id and give the
full merged content), DELETE (it contradicts and invalidates one
existing memory — name its id as target_id), or NONE (it is already
fully covered, no change needed). Respond with a list of events; most
calls produce exactly one event.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string      `json:"name"`
	Strict bool        `json:"strict"`
	Schema interface{} `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrLLMUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", llm.ErrLLMUnavailable, err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: parse response: %v", llm.ErrLLMUnavailable, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: %s", llm.ErrLLMUnavailable, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", llm.ErrLLMUnavailable)
	}
	return out.Choices[0].Message.Content, nil
}

var extractSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"facts": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
	},
	"required":             []string{"facts"},
	"additionalProperties": false,
}

type extractPayload struct {
	Facts []string `json:"facts"`
}

func (c *Client) ExtractFacts(ctx context.Context, text string, customInstructions string) ([]string, error) {
	instructions := defaultExtractionPrompt
	if strings.TrimSpace(customInstructions) != "" {
		instructions = customInstructions
	}
	content, err := c.do(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: text},
		},
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: "extracted_facts", Strict: true, Schema: extractSchema},
		},
	})
	if err != nil {
		return nil, err
	}
	var payload extractPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("openai llm: parse extract payload: %w", err)
	}
	return payload.Facts, nil
}

var mergeSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"events": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"kind":           map[string]interface{}{"type": "string", "enum": []string{"ADD", "UPDATE", "DELETE", "NONE"}},
					"target_id":      map[string]interface{}{"type": "string"},
					"content":        map[string]interface{}{"type": "string"},
					"attachment_ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"categories":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
				"required":             []string{"kind", "target_id", "content", "attachment_ids", "categories"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"events"},
	"additionalProperties": false,
}

type mergeEventPayload struct {
	Kind          string   `json:"kind"`
	TargetID      string   `json:"target_id"`
	Content       string   `json:"content"`
	AttachmentIDs []string `json:"attachment_ids"`
	Categories    []string `json:"categories"`
}

type mergePayload struct {
	Events []mergeEventPayload `json:"events"`
}

func neighborsPrompt(neighbors []llm.Neighbor) string {
	var b strings.Builder
	for _, n := range neighbors {
		fmt.Fprintf(&b, "id=%s: %s\n", n.ID, n.Content)
	}
	return b.String()
}

func (c *Client) DecideMerge(ctx context.Context, fact string, neighbors []llm.Neighbor, customPrompt string) ([]llm.MergeEvent, error) {
	instructions := defaultMergePrompt
	if strings.TrimSpace(customPrompt) != "" {
		instructions = customPrompt
	}
	user := fmt.Sprintf("Candidate fact: %s\n\nExisting memories:\n%s", fact, neighborsPrompt(neighbors))
	content, err := c.do(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: user},
		},
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: "merge_events", Strict: true, Schema: mergeSchema},
		},
	})
	if err != nil {
		return nil, err
	}
	var payload mergePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("openai llm: parse merge payload: %w", err)
	}

	events := make([]llm.MergeEvent, 0, len(payload.Events))
	for _, ev := range payload.Events {
		var targetID uuid.UUID
		if ev.TargetID != "" {
			targetID, _ = uuid.Parse(ev.TargetID)
		}
		attIDs := make([]uuid.UUID, 0, len(ev.AttachmentIDs))
		for _, s := range ev.AttachmentIDs {
			if id, err := uuid.Parse(s); err == nil {
				attIDs = append(attIDs, id)
			}
		}
		events = append(events, llm.MergeEvent{
			Kind:          ev.Kind,
			TargetID:      targetID,
			Content:       ev.Content,
			AttachmentIDs: attIDs,
			Categories:    ev.Categories,
		})
	}
	return events, nil
}

var _ llm.Client = (*Client)(nil)
