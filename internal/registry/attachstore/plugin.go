// Package attachstore defines the pluggable backend for attachment content
// blobs (§4.B). The default backend persists content directly in the
// relational metadata store (internal/plugin/store's Attachment table);
// the "s3" backend offloads blob bytes to object storage for deployments
// that want the relational store to stay small, keeping only the
// id/size/timestamps row there.
package attachstore

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/google/uuid"
)

// Store is the attachment content backend: CRUD over immutable text blobs
// keyed by UUID, size-capped, with the list/filter contract of §4.B.
type Store interface {
	Create(ctx context.Context, id *uuid.UUID, content string, maxSize int64) (*Attachment, error)
	Get(ctx context.Context, id uuid.UUID) (*Attachment, error)
	Update(ctx context.Context, id uuid.UUID, content string, maxSize int64) (*Attachment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Filter(ctx context.Context, filter store.AttachmentFilter) (*store.AttachmentPage, error)
}

// Attachment is the backend-neutral attachment representation.
type Attachment struct {
	ID        uuid.UUID
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Loader creates a Store from config.
type Loader func(ctx context.Context, metadataStore store.MemoryStore) (Store, error)

// Plugin represents an attachment store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an attachment store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered attachment store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named attachment store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown attachment store %q; valid: %v", name, Names())
}
