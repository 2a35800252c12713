package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SearchHit is a single ordered (id, score, payload) result (§4.D).
type SearchHit struct {
	ID      uuid.UUID              `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// FilterOp is a predicate applied to a payload key during Search.
type FilterOp string

const (
	FilterEq  FilterOp = "eq"
	FilterIn  FilterOp = "in"
	FilterGte FilterOp = "gte"
	FilterLte FilterOp = "lte"
)

// Filter is one payload-key constraint. Values for Gte/Lte are compared as
// either RFC3339 timestamps or Unix-second integers, normalized by the
// backend at the boundary per §4.D.
type Filter struct {
	Key string
	Op  FilterOp
	// Value holds the operand for Eq/Gte/Lte; Values holds the operand set for In.
	Value  interface{}
	Values []interface{}
}

// UpsertPoint is one point written to the vector store: the embedding plus
// the full payload (data, hash, user_id, timestamps, metadata) per §4.D.
type UpsertPoint struct {
	ID        uuid.UUID
	Embedding []float32
	Payload   map[string]interface{}
}

// VectorStore defines the interface for vector search backends: embedding +
// upsert/search/get/delete with payload filters (§4.D).
type VectorStore interface {
	// Upsert stores or updates a batch of points.
	Upsert(ctx context.Context, points []UpsertPoint) error
	// Search performs a semantic vector search scoped by userID plus
	// caller-supplied filters (equality, "in", datetime range).
	Search(ctx context.Context, embedding []float32, userID string, filters []Filter, limit int) ([]SearchHit, error)
	// Get returns the payload for a single point, used after UPDATE to
	// read back the LLM-reconciled attachment_ids (§4.F).
	Get(ctx context.Context, id uuid.UUID) (map[string]interface{}, error)
	// Delete removes a point; idempotent.
	Delete(ctx context.Context, id uuid.UUID) error
	// IsEnabled returns true if the vector store is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "qdrant", "pgvector").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
