package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrLLMUnavailable is returned when the provider cannot be reached. The
// ingestion engine treats this as fatal for the inference path (§4.E) — it
// never silently falls back to the fast path.
var ErrLLMUnavailable = errors.New("llm provider unavailable")

// Neighbor is a candidate duplicate surfaced by the vector similarity
// search the engine runs before calling DecideMerge (§4.F).
type Neighbor struct {
	ID            uuid.UUID
	Content       string
	AttachmentIDs []uuid.UUID
}

// MergeEvent is one LLM-decided outcome for a candidate fact (§4.E, §9 open
// question 2): the backend is required to populate AttachmentIDs
// explicitly for UPDATE events; the ingestion engine still performs an
// authoritative post-read from the vector store afterward, so a backend
// that leaves it empty only loses an optimization, not correctness.
type MergeEvent struct {
	Kind          string // ADD|UPDATE|DELETE|NONE
	TargetID      uuid.UUID
	Content       string
	AttachmentIDs []uuid.UUID
	Categories    []string
}

// Client is the black-box LLM collaborator: extraction and merge-decision
// prompts, both loaded from process configuration with built-in fallback.
type Client interface {
	// ExtractFacts distills free text into an ordered list of atomic facts
	// (possibly empty). Idempotent per input up to the model's own variance.
	ExtractFacts(ctx context.Context, text string, customInstructions string) ([]string, error)
	// DecideMerge proposes ADD/UPDATE/DELETE/NONE events for a candidate
	// fact against its vector-similarity neighbors.
	DecideMerge(ctx context.Context, fact string, neighbors []Neighbor, customPrompt string) ([]MergeEvent, error)
	// Name returns the plugin name (e.g. "openai", "disabled").
	Name() string
}

// Loader creates a Client from config.
type Loader func(ctx context.Context) (Client, error)

// Plugin represents an LLM client plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an LLM client plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered LLM client plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named LLM client plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown llm client %q; valid: %v", name, Names())
}
