package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// User is an external identity token (user_id) mapped to an internal UUID.
// Owns Apps and Memories.
type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    string    `json:"userId" gorm:"not null;uniqueIndex"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

func (User) TableName() string { return "users" }

// App is a client identity. A paused app (IsActive=false) cannot create memories.
type App struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Name        string    `json:"name" gorm:"not null"`
	OwnerUserID uuid.UUID `json:"-" gorm:"not null;type:uuid;index"`
	IsActive    bool      `json:"isActive" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

func (App) TableName() string { return "apps" }

// Category is a memory tag, many-to-many via MemoryCategory.
type Category struct {
	ID   uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Name string    `json:"name" gorm:"not null;uniqueIndex"`
}

func (Category) TableName() string { return "categories" }

// MemoryStatusHistory is an immutable log of state transitions.
type MemoryStatusHistory struct {
	ID        uuid.UUID   `json:"id" gorm:"primaryKey;type:uuid"`
	MemoryID  uuid.UUID   `json:"memoryId" gorm:"not null;type:uuid;index"`
	OldState  *MemoryState `json:"oldState,omitempty"`
	NewState  MemoryState `json:"newState" gorm:"not null"`
	ChangedBy string      `json:"changedBy" gorm:"not null"`
	CreatedAt time.Time   `json:"createdAt" gorm:"not null;default:now()"`
}

func (MemoryStatusHistory) TableName() string { return "memory_status_history" }

// AccessType enumerates MemoryAccessLog.AccessType values.
type AccessType string

const (
	AccessTypeSearch     AccessType = "search"
	AccessTypeList       AccessType = "list"
	AccessTypeUpdate     AccessType = "update"
	AccessTypeDelete     AccessType = "delete"
	AccessTypeDeleteAll  AccessType = "delete_all"
)

// MemoryAccessLog is an append-only audit row written on memory access.
type MemoryAccessLog struct {
	ID         uuid.UUID              `json:"id" gorm:"primaryKey;type:uuid"`
	MemoryID   uuid.UUID              `json:"memoryId" gorm:"not null;type:uuid;index"`
	AppID      uuid.UUID              `json:"appId" gorm:"not null;type:uuid"`
	AccessType AccessType             `json:"accessType" gorm:"not null"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt  time.Time              `json:"createdAt" gorm:"not null;default:now()"`
}

func (MemoryAccessLog) TableName() string { return "memory_access_logs" }

// ACLEffect is the outcome an AccessControlRule grants or denies.
type ACLEffect string

const (
	ACLEffectAllow ACLEffect = "allow"
	ACLEffectDeny  ACLEffect = "deny"
)

// AccessControlRule is a (subject=app, object=memory|*, effect) tuple
// consulted by the ACL evaluator. ObjectID nil means "all objects".
type AccessControlRule struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	SubjectType string     `json:"subjectType" gorm:"not null;default:app"`
	SubjectID   uuid.UUID  `json:"subjectId" gorm:"not null;type:uuid;index"`
	ObjectType  string     `json:"objectType" gorm:"not null;default:memory"`
	ObjectID    *uuid.UUID `json:"objectId,omitempty" gorm:"type:uuid"`
	Effect      ACLEffect  `json:"effect" gorm:"not null"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"not null;default:now()"`
}

func (AccessControlRule) TableName() string { return "access_control_rules" }

// Attachment is an immutable text blob, independently lifecycled from
// Memory and referenced many-to-many via Memory.Metadata["attachment_ids"].
type Attachment struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Content   string    `json:"content" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;default:now()"`
}

func (Attachment) TableName() string { return "attachments" }

// Task is a queued background job (the only type handled is
// vector_store_delete, which removes an orphaned vector point) claimed by
// service.TaskProcessor. RetryAt is used both for initial scheduling and
// backoff after FailTask.
type Task struct {
	ID         uuid.UUID              `json:"id" gorm:"primaryKey;type:uuid"`
	TaskName   *string                `json:"taskName,omitempty" gorm:"uniqueIndex"`
	TaskType   string                 `json:"taskType" gorm:"not null;index"`
	TaskBody   map[string]interface{} `json:"taskBody" gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	CreatedAt  time.Time              `json:"createdAt" gorm:"not null;default:now()"`
	RetryAt    time.Time              `json:"retryAt" gorm:"not null;default:now();index"`
	LastError  *string                `json:"lastError,omitempty"`
	RetryCount int                    `json:"retryCount" gorm:"not null;default:0"`
}

func (Task) TableName() string { return "tasks" }

// --- metadata helpers -------------------------------------------------

// MetadataAttachmentIDs extracts the ordered, deduplicated attachment_ids
// list from a raw metadata map, tolerating both []string and []interface{}
// shapes (JSONB round-trips as the latter).
func MetadataAttachmentIDs(meta map[string]interface{}) []uuid.UUID {
	if meta == nil {
		return nil
	}
	raw, ok := meta["attachment_ids"]
	if !ok {
		return nil
	}
	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	default:
		return nil
	}
	seen := make(map[uuid.UUID]bool, len(items))
	out := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// MergeAttachmentIDs appends newIDs to existing, preserving first-seen
// order and removing duplicates. Used when intake collects a newly
// created/verified attachment UUID into the caller-supplied metadata.
func MergeAttachmentIDs(existing []uuid.UUID, newIDs ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(existing)+len(newIDs))
	out := make([]uuid.UUID, 0, len(existing)+len(newIDs))
	for _, id := range existing {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range newIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func attachmentIDsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func metadataString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	v, _ := meta[key].(string)
	return v
}

// SortedCategoryNames is a small helper for deterministic category list
// rendering in API responses (category ordering is not semantically
// meaningful, but deterministic output avoids flaky tests/snapshots).
func SortedCategoryNames(cats []Category) []string {
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

// ParseUUIDList parses a slice of string UUIDs, returning the first error encountered.
func ParseUUIDList(ss []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ss))
	for _, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
