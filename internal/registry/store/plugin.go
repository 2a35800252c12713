package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmemory/memory-service/internal/model"
	"github.com/google/uuid"
)

// MemoryFilter narrows a memory listing/filter query. Zero values mean "no
// constraint" except Page/Size which are always required by callers.
type MemoryFilter struct {
	Page          int
	Size          int
	AppIDs        []uuid.UUID
	CategoryIDs   []uuid.UUID
	SearchQuery   string
	FromDate      *time.Time
	ToDate        *time.Time
	ShowArchived  bool
	SortColumn    string // created_at|updated_at
	SortDirection string // asc|desc
}

// MemoryPage is a paginated memory listing result.
type MemoryPage struct {
	Data       []MemoryWithExtras `json:"data"`
	Page       int                `json:"page"`
	Size       int                `json:"size"`
	TotalCount int64              `json:"totalCount"`
}

// MemoryWithExtras bundles a Memory with its category name projection, used
// by list/filter/get responses that must render category names not IDs.
type MemoryWithExtras struct {
	model.Memory
	AppName    string   `json:"appName"`
	Categories []string `json:"categories"`
}

// AttachmentFilter narrows an attachment listing query per §4.B. Lives
// here rather than in registry/attachstore so that package can import
// MemoryStore's types without an import cycle.
type AttachmentFilter struct {
	Page          int
	Size          int
	SearchQuery   string
	FromDate      *time.Time
	ToDate        *time.Time
	SortColumn    string // created_at|updated_at|size
	SortDirection string // asc|desc
	// StatementTimeout is the per-query timeout hint from §5 (5s default,
	// caller-overridable). The route handler uses it to bound the context
	// passed to Filter; it's carried here too so a Store implementation
	// that wants to enforce it independently of ctx cancellation (e.g. a
	// driver-level statement_timeout) has it available.
	StatementTimeout time.Duration
}

// AttachmentPage is a paginated attachment listing result, items carry a
// content preview (first 200 code units) rather than full content.
type AttachmentPage struct {
	Data       []AttachmentPreview `json:"data"`
	Page       int                 `json:"page"`
	Size       int                 `json:"size"`
	TotalCount int64               `json:"totalCount"`
}

// AttachmentPreview is one item of an AttachmentPage.
type AttachmentPreview struct {
	ID         uuid.UUID `json:"id"`
	Preview    string    `json:"preview"`
	FullLength int       `json:"fullLength"`
	CreatedAt  int64     `json:"createdAt"`
	UpdatedAt  int64     `json:"updatedAt"`
}

// AccessLogFilter narrows an access-log listing query (§6 access log read).
// MemoryID nil means "all memories owned by userID".
type AccessLogFilter struct {
	Page     int
	Size     int
	MemoryID *uuid.UUID
}

// AccessLogPage is a paginated access-log listing result.
type AccessLogPage struct {
	Data       []model.MemoryAccessLog `json:"data"`
	Page       int                     `json:"page"`
	Size       int                     `json:"size"`
	TotalCount int64                   `json:"totalCount"`
}

// RelatedMemoriesQuery configures the related-memories lookup (§4.G).
type RelatedMemoriesQuery struct {
	MemoryID uuid.UUID
	Page     int
}

// MergeEvent is one LLM-decided outcome for a candidate fact, applied by
// the ingestion engine within a single transaction (§4.F).
type MergeEventKind string

const (
	MergeEventAdd    MergeEventKind = "ADD"
	MergeEventUpdate MergeEventKind = "UPDATE"
	MergeEventDelete MergeEventKind = "DELETE"
	MergeEventNone   MergeEventKind = "NONE"
)

// MemoryStore defines the primary data access interface for the memory
// service: transactional CRUD for users, apps, memories, categories,
// history, access logs, and ACL rules (§4.C).
type MemoryStore interface {
	// Users & Apps
	//
	// GetOrCreateUserAndApp additionally enforces §3's paused-app rule: it
	// returns a *ForbiddenError if the app exists and is paused. Only the
	// creation path (memory ingestion) should call it. Retrieval paths
	// (search, list) must use ResolveUserAndApp instead, which performs the
	// identical get-or-create but never rejects a paused app — a paused app
	// can still be searched and listed, it just can't accept new memories.
	GetOrCreateUserAndApp(ctx context.Context, userID string, appName string) (*model.User, *model.App, error)
	ResolveUserAndApp(ctx context.Context, userID string, appName string) (*model.User, *model.App, error)
	GetApp(ctx context.Context, appID uuid.UUID) (*model.App, error)
	SetAppActive(ctx context.Context, appID uuid.UUID, active bool) error

	// Memories — core ingestion writes, always inside a single transaction
	// when called from the ingestion engine (callers run them on the tx
	// store that WithinTransaction passes to fn, or rely on the store to
	// open its own transaction for a single call).
	InsertMemory(ctx context.Context, m *model.Memory, categories []string) error
	UpdateMemoryContent(ctx context.Context, memoryID uuid.UUID, content string, metadata map[string]interface{}, categories []string) (*model.Memory, error)
	ReactivateMemory(ctx context.Context, m *model.Memory, categories []string) error
	SoftDeleteMemory(ctx context.Context, memoryID uuid.UUID, changedBy string) error
	SetMemoryState(ctx context.Context, memoryID uuid.UUID, state model.MemoryState, changedBy string) error
	RecordHistory(ctx context.Context, memoryID uuid.UUID, oldState *model.MemoryState, newState model.MemoryState, changedBy string) error
	RecordAccessLog(ctx context.Context, memoryID uuid.UUID, appID uuid.UUID, accessType model.AccessType, metadata map[string]interface{}) error
	ListAccessLogs(ctx context.Context, userID string, filter AccessLogFilter) (*AccessLogPage, error)

	GetMemory(ctx context.Context, userID string, memoryID uuid.UUID) (*MemoryWithExtras, error)
	GetMemoriesByIDs(ctx context.Context, userID string, ids []uuid.UUID) ([]model.Memory, error)
	ListActiveMemoryIDs(ctx context.Context, userID string) ([]uuid.UUID, error)
	FilterMemories(ctx context.Context, userID string, filter MemoryFilter) (*MemoryPage, error)
	RelatedMemories(ctx context.Context, userID string, q RelatedMemoriesQuery) ([]MemoryWithExtras, error)

	// Pause/archive scope operations (§4.F state machine).
	PauseMemories(ctx context.Context, userID string, ids []uuid.UUID, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error)
	UnpauseMemories(ctx context.Context, userID string, ids []uuid.UUID, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error)
	ArchiveMemories(ctx context.Context, userID string, ids []uuid.UUID) (int64, error)

	// Categories
	EnsureCategories(ctx context.Context, names []string) ([]model.Category, error)

	// Access-control rules (§4.A)
	ListRulesForApp(ctx context.Context, appID uuid.UUID) ([]model.AccessControlRule, error)

	// Config persistence (§9 hot-reload)
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key string, value string) error

	// Tasks — background reconciliation queue, used for best-effort
	// vector/metadata reconciliation sweeps, not for the synchronous
	// ingestion path.
	CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error
	ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error)
	DeleteTask(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error

	// WithinTransaction runs fn with a store bound to a single DB
	// transaction; fn's returned error rolls the transaction back.
	WithinTransaction(ctx context.Context, fn func(tx MemoryStore) error) error
}

// Loader creates a MemoryStore from config (via config.FromContext(ctx)).
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
