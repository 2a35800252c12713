// Package disabled is the zero-config VectorStore fallback: it accepts
// writes silently and returns no search hits, so a deployment that never
// configures --vector-kind still serves fast-path (infer=false) adds and
// metadata-only search instead of crashing on a nil collaborator.
package disabled

import (
	"context"

	"github.com/agentmemory/memory-service/internal/registry/vector"
	"github.com/google/uuid"
)

func init() {
	vector.Register(vector.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (vector.VectorStore, error) {
			return &Store{}, nil
		},
	})
}

type Store struct{}

func (s *Store) Upsert(_ context.Context, _ []vector.UpsertPoint) error { return nil }

func (s *Store) Search(_ context.Context, _ []float32, _ string, _ []vector.Filter, _ int) ([]vector.SearchHit, error) {
	return nil, nil
}

func (s *Store) Get(_ context.Context, _ uuid.UUID) (map[string]interface{}, error) {
	return nil, nil
}

func (s *Store) Delete(_ context.Context, _ uuid.UUID) error { return nil }

func (s *Store) IsEnabled() bool { return false }

func (s *Store) Name() string { return "none" }

var _ vector.VectorStore = (*Store)(nil)
