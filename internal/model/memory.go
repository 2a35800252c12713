package model

import (
	"time"

	"github.com/google/uuid"
)

// MemoryState is the lifecycle state of a Memory row.
type MemoryState string

const (
	MemoryStateActive   MemoryState = "active"
	MemoryStatePaused   MemoryState = "paused"
	MemoryStateArchived MemoryState = "archived"
	MemoryStateDeleted  MemoryState = "deleted"
)

// Memory is a single fact distilled (or verbatim-accepted) from client text.
// Its ID is shared with the vector-store point ID for that fact — the
// engine never mints a second identity for the same piece of content.
type Memory struct {
	ID        uuid.UUID              `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID              `json:"-" gorm:"not null;type:uuid;index"`
	AppID     uuid.UUID              `json:"-" gorm:"not null;type:uuid;index"`
	Content   string                 `json:"content" gorm:"not null"`
	State     MemoryState            `json:"state" gorm:"not null;default:active;index"`
	Metadata  map[string]interface{} `json:"metadata" gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	CreatedAt time.Time              `json:"createdAt" gorm:"not null;default:now()"`
	UpdatedAt time.Time              `json:"updatedAt" gorm:"not null;default:now()"`
	DeletedAt *time.Time             `json:"deletedAt,omitempty"`
}

func (Memory) TableName() string { return "memories" }

// AttachmentIDs returns the ordered, deduplicated list of attachment UUIDs
// recognized under the metadata.attachment_ids key. Malformed or missing
// entries are silently skipped rather than surfaced as errors — the field
// is schemaless storage, not a validated column.
func (m *Memory) AttachmentIDs() []uuid.UUID {
	return MetadataAttachmentIDs(m.Metadata)
}

// SetAttachmentIDs writes back the ordered attachment list, preserving
// every other metadata key untouched.
func (m *Memory) SetAttachmentIDs(ids []uuid.UUID) {
	if m.Metadata == nil {
		m.Metadata = map[string]interface{}{}
	}
	m.Metadata["attachment_ids"] = attachmentIDsToStrings(ids)
}

// SourceApp returns the recognized metadata.source_app key, if present.
func (m *Memory) SourceApp() string {
	return metadataString(m.Metadata, "source_app")
}

// MCPClient returns the recognized metadata.mcp_client key, if present.
func (m *Memory) MCPClient() string {
	return metadataString(m.Metadata, "mcp_client")
}

// MemoryCategory is the many-to-many join row between Memory and Category.
type MemoryCategory struct {
	MemoryID   uuid.UUID `gorm:"primaryKey;type:uuid;column:memory_id"`
	CategoryID uuid.UUID `gorm:"primaryKey;type:uuid;column:category_id"`
}

func (MemoryCategory) TableName() string { return "memory_categories" }
