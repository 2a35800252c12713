// Package metrics wraps a registry/store.MemoryStore with Prometheus
// latency observations: a Wrap/observe decorator, one method per
// interface method, pointed at this module's ingestion/retrieval store
// surface.
package metrics

import (
	"context"
	"time"

	"github.com/agentmemory/memory-service/internal/model"
	"github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/agentmemory/memory-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a MemoryStore that records StoreLatency for every operation.
func Wrap(inner store.MemoryStore) store.MemoryStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MemoryStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) GetOrCreateUserAndApp(ctx context.Context, userID string, appName string) (*model.User, *model.App, error) {
	defer observe("get_or_create_user_and_app", time.Now())
	return m.inner.GetOrCreateUserAndApp(ctx, userID, appName)
}

func (m *metricsStore) ResolveUserAndApp(ctx context.Context, userID string, appName string) (*model.User, *model.App, error) {
	defer observe("resolve_user_and_app", time.Now())
	return m.inner.ResolveUserAndApp(ctx, userID, appName)
}

func (m *metricsStore) GetApp(ctx context.Context, appID uuid.UUID) (*model.App, error) {
	defer observe("get_app", time.Now())
	return m.inner.GetApp(ctx, appID)
}

func (m *metricsStore) SetAppActive(ctx context.Context, appID uuid.UUID, active bool) error {
	defer observe("set_app_active", time.Now())
	return m.inner.SetAppActive(ctx, appID, active)
}

func (m *metricsStore) InsertMemory(ctx context.Context, mm *model.Memory, categories []string) error {
	defer observe("insert_memory", time.Now())
	return m.inner.InsertMemory(ctx, mm, categories)
}

func (m *metricsStore) UpdateMemoryContent(ctx context.Context, memoryID uuid.UUID, content string, metadata map[string]interface{}, categories []string) (*model.Memory, error) {
	defer observe("update_memory_content", time.Now())
	return m.inner.UpdateMemoryContent(ctx, memoryID, content, metadata, categories)
}

func (m *metricsStore) ReactivateMemory(ctx context.Context, mm *model.Memory, categories []string) error {
	defer observe("reactivate_memory", time.Now())
	return m.inner.ReactivateMemory(ctx, mm, categories)
}

func (m *metricsStore) SoftDeleteMemory(ctx context.Context, memoryID uuid.UUID, changedBy string) error {
	defer observe("soft_delete_memory", time.Now())
	return m.inner.SoftDeleteMemory(ctx, memoryID, changedBy)
}

func (m *metricsStore) SetMemoryState(ctx context.Context, memoryID uuid.UUID, state model.MemoryState, changedBy string) error {
	defer observe("set_memory_state", time.Now())
	return m.inner.SetMemoryState(ctx, memoryID, state, changedBy)
}

func (m *metricsStore) RecordHistory(ctx context.Context, memoryID uuid.UUID, oldState *model.MemoryState, newState model.MemoryState, changedBy string) error {
	defer observe("record_history", time.Now())
	return m.inner.RecordHistory(ctx, memoryID, oldState, newState, changedBy)
}

func (m *metricsStore) RecordAccessLog(ctx context.Context, memoryID uuid.UUID, appID uuid.UUID, accessType model.AccessType, metadata map[string]interface{}) error {
	defer observe("record_access_log", time.Now())
	return m.inner.RecordAccessLog(ctx, memoryID, appID, accessType, metadata)
}

func (m *metricsStore) ListAccessLogs(ctx context.Context, userID string, filter store.AccessLogFilter) (*store.AccessLogPage, error) {
	defer observe("list_access_logs", time.Now())
	return m.inner.ListAccessLogs(ctx, userID, filter)
}

func (m *metricsStore) GetMemory(ctx context.Context, userID string, memoryID uuid.UUID) (*store.MemoryWithExtras, error) {
	defer observe("get_memory", time.Now())
	return m.inner.GetMemory(ctx, userID, memoryID)
}

func (m *metricsStore) GetMemoriesByIDs(ctx context.Context, userID string, ids []uuid.UUID) ([]model.Memory, error) {
	defer observe("get_memories_by_ids", time.Now())
	return m.inner.GetMemoriesByIDs(ctx, userID, ids)
}

func (m *metricsStore) ListActiveMemoryIDs(ctx context.Context, userID string) ([]uuid.UUID, error) {
	defer observe("list_active_memory_ids", time.Now())
	return m.inner.ListActiveMemoryIDs(ctx, userID)
}

func (m *metricsStore) FilterMemories(ctx context.Context, userID string, filter store.MemoryFilter) (*store.MemoryPage, error) {
	defer observe("filter_memories", time.Now())
	return m.inner.FilterMemories(ctx, userID, filter)
}

func (m *metricsStore) RelatedMemories(ctx context.Context, userID string, q store.RelatedMemoriesQuery) ([]store.MemoryWithExtras, error) {
	defer observe("related_memories", time.Now())
	return m.inner.RelatedMemories(ctx, userID, q)
}

func (m *metricsStore) PauseMemories(ctx context.Context, userID string, ids []uuid.UUID, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error) {
	defer observe("pause_memories", time.Now())
	return m.inner.PauseMemories(ctx, userID, ids, categoryIDs, appID, all)
}

func (m *metricsStore) UnpauseMemories(ctx context.Context, userID string, ids []uuid.UUID, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error) {
	defer observe("unpause_memories", time.Now())
	return m.inner.UnpauseMemories(ctx, userID, ids, categoryIDs, appID, all)
}

func (m *metricsStore) ArchiveMemories(ctx context.Context, userID string, ids []uuid.UUID) (int64, error) {
	defer observe("archive_memories", time.Now())
	return m.inner.ArchiveMemories(ctx, userID, ids)
}

func (m *metricsStore) EnsureCategories(ctx context.Context, names []string) ([]model.Category, error) {
	defer observe("ensure_categories", time.Now())
	return m.inner.EnsureCategories(ctx, names)
}

func (m *metricsStore) ListRulesForApp(ctx context.Context, appID uuid.UUID) ([]model.AccessControlRule, error) {
	defer observe("list_rules_for_app", time.Now())
	return m.inner.ListRulesForApp(ctx, appID)
}

func (m *metricsStore) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	defer observe("get_config_value", time.Now())
	return m.inner.GetConfigValue(ctx, key)
}

func (m *metricsStore) SetConfigValue(ctx context.Context, key string, value string) error {
	defer observe("set_config_value", time.Now())
	return m.inner.SetConfigValue(ctx, key, value)
}

func (m *metricsStore) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	defer observe("create_task", time.Now())
	return m.inner.CreateTask(ctx, taskType, taskBody)
}

func (m *metricsStore) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	defer observe("claim_ready_tasks", time.Now())
	return m.inner.ClaimReadyTasks(ctx, limit)
}

func (m *metricsStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	defer observe("delete_task", time.Now())
	return m.inner.DeleteTask(ctx, taskID)
}

func (m *metricsStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	defer observe("fail_task", time.Now())
	return m.inner.FailTask(ctx, taskID, errMsg, retryDelay)
}

// WithinTransaction runs fn against the unwrapped inner store: the
// transactional store the callback receives does its own
// commit/rollback bookkeeping, and double-wrapping it would attribute
// every call inside the transaction to this decorator's timer as well
// as the inner one.
func (m *metricsStore) WithinTransaction(ctx context.Context, fn func(tx store.MemoryStore) error) error {
	defer observe("within_transaction", time.Now())
	return m.inner.WithinTransaction(ctx, fn)
}
