// Package memory implements the ingestion and retrieval engine (§4.F/§4.G):
// the dual-write pipeline that keeps the metadata store and vector store in
// lockstep while an LLM proposes ADD/UPDATE/DELETE/NONE operations over
// existing content, plus the access-filtered search path.
package memory

import (
	"context"

	"github.com/agentmemory/memory-service/internal/acl"
	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	registryembed "github.com/agentmemory/memory-service/internal/registry/embed"
	registryllm "github.com/agentmemory/memory-service/internal/registry/llm"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	registryvector "github.com/agentmemory/memory-service/internal/registry/vector"
	"github.com/google/uuid"
)

// Engine wires the metadata store, vector store, embedder, LLM
// orchestrator, attachment store, and ACL evaluator into the single
// ingestion/retrieval surface both ingress packages (REST, MCP) call into
// (§4.H).
type Engine struct {
	Store      registrystore.MemoryStore
	Vector     registryvector.VectorStore
	Embedder   registryembed.Embedder
	LLM        registryllm.Client
	Attach     registryattachstore.Store
	ACL        *acl.Evaluator
	MaxAttachmentSize int64

	// DedupNeighborLimit bounds the top-K neighbor set assembled for the
	// LLM merge-decision call (§4.F step 2).
	DedupNeighborLimit int
}

// New constructs an Engine from its collaborators. ACL is derived from
// store since the evaluator only needs ListRulesForApp.
func New(store registrystore.MemoryStore, vector registryvector.VectorStore, embedder registryembed.Embedder, llmClient registryllm.Client, attach registryattachstore.Store, dedupNeighborLimit int, maxAttachmentSize int64) *Engine {
	if dedupNeighborLimit <= 0 {
		dedupNeighborLimit = 10
	}
	return &Engine{
		Store:              store,
		Vector:             vector,
		Embedder:           embedder,
		LLM:                llmClient,
		Attach:             attach,
		ACL:                acl.New(store),
		DedupNeighborLimit: dedupNeighborLimit,
		MaxAttachmentSize:  maxAttachmentSize,
	}
}

// AddRequest is the input to Add (§4.F).
type AddRequest struct {
	UserID         string
	AppName        string
	Text           string
	Metadata       map[string]interface{}
	Infer          *bool
	Extract        *bool
	Deduplicate    *bool
	AttachmentText *string
	AttachmentID   *uuid.UUID
}

// AddResult is the outcome of one Add call: either a list of applied
// memory events (fast path always yields exactly one ADD-shaped result)
// or, when every candidate fact resolved to NONE, a top-level NONE
// signal per §6's REST response contract.
type AddResult struct {
	Events  []AppliedEvent
	NoneAll bool
	Message string
}

// AppliedEvent describes one committed ADD/UPDATE/DELETE/NONE outcome.
type AppliedEvent struct {
	Kind     string // ADD|UPDATE|DELETE|NONE
	MemoryID uuid.UUID
	Content  string
	Metadata map[string]interface{}
}

// SearchRequest is the input to Search (§4.G).
type SearchRequest struct {
	UserID            string
	AppName           string
	Query             string
	Limit             int
	Filters           []registryvector.Filter
	IncludeMetadata   bool
	AttachmentIDsShow *bool
}

// SearchHit is one projected, ACL-filtered, access-logged result record.
type SearchHit struct {
	ID        uuid.UUID              `json:"id"`
	Memory    string                 `json:"memory"`
	Hash      string                 `json:"hash"`
	CreatedAt string                 `json:"created_at"`
	UpdatedAt string                 `json:"updated_at"`
	Score     float64                `json:"score"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SearchResult is the outcome of a Search call.
type SearchResult struct {
	Hits []SearchHit
}

func (e *Engine) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}
