package memory

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/agentmemory/memory-service/internal/config"
	"github.com/agentmemory/memory-service/internal/model"
	registryllm "github.com/agentmemory/memory-service/internal/registry/llm"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	registryvector "github.com/agentmemory/memory-service/internal/registry/vector"
	"github.com/google/uuid"
)

const (
	configKeyDefaultInfer             = "default_infer"
	configKeyDefaultExtract           = "default_extract"
	configKeyDefaultDeduplicate       = "default_deduplicate"
	configKeyDefaultAttachmentIDsShow = "default_attachment_ids_show"
	configKeyCustomInstructions       = "custom_instructions"
	configKeyCustomMergePrompt        = "custom_update_memory_prompt"
)

// Add implements §4.F: parameter resolution, attachment intake, path
// selection, and the per-event transactional apply loop.
func (e *Engine) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	_, app, err := e.Store.GetOrCreateUserAndApp(ctx, req.UserID, req.AppName)
	if err != nil {
		return nil, err
	}

	infer, extract, deduplicate := e.resolveIngestionFlags(ctx, req)

	attachmentID, err := e.intakeAttachment(ctx, req)
	if err != nil {
		return nil, err
	}
	metadata := mergeAttachmentIntoMetadata(req.Metadata, attachmentID)

	if !infer {
		return e.addFastPath(ctx, req, app.ID, metadata)
	}
	return e.addInferencePath(ctx, req, app.ID, metadata, extract, deduplicate)
}

// resolveIngestionFlags applies §4.F's parameter-resolution and
// normalization rules: each of infer/extract/deduplicate falls back to a
// process-configured default (itself overridable at runtime via
// MemoryStore.SetConfigValue) when the caller omits it, and infer=false
// forces extract=false/deduplicate=false so the fast path never silently
// invokes the LLM.
func (e *Engine) resolveIngestionFlags(ctx context.Context, req AddRequest) (infer, extract, deduplicate bool) {
	cfg := config.FromContext(ctx)
	defaultInfer, defaultExtract, defaultDeduplicate := true, true, true
	if cfg != nil {
		defaultInfer, defaultExtract, defaultDeduplicate = cfg.DefaultInfer, cfg.DefaultExtract, cfg.DefaultDeduplicate
	}

	infer = resolveBoolDefault(ctx, e.Store, req.Infer, configKeyDefaultInfer, defaultInfer)
	if !infer {
		return false, false, false
	}
	extract = resolveBoolDefault(ctx, e.Store, req.Extract, configKeyDefaultExtract, defaultExtract)
	deduplicate = resolveBoolDefault(ctx, e.Store, req.Deduplicate, configKeyDefaultDeduplicate, defaultDeduplicate)
	return infer, extract, deduplicate
}

// resolveBoolDefault implements the precedence from §4.F: an explicit
// per-call override always wins; otherwise a runtime config_kv value
// (mutable via MemoryStore.SetConfigValue) takes precedence over the
// process-start default passed in fallback.
func resolveBoolDefault(ctx context.Context, store registrystore.MemoryStore, override *bool, key string, fallback bool) bool {
	if override != nil {
		return *override
	}
	if v, ok, err := store.GetConfigValue(ctx, key); err == nil && ok {
		return v == "true"
	}
	return fallback
}

// intakeAttachment runs §4.F's attachment intake, always first: create a
// new attachment row when attachment_text is present, or verify an
// existing one when only attachment_id is given. Returns the resulting
// attachment UUID, or nil if the call carried neither field.
func (e *Engine) intakeAttachment(ctx context.Context, req AddRequest) (*uuid.UUID, error) {
	if e.Attach == nil && (req.AttachmentText != nil || req.AttachmentID != nil) {
		return nil, &registrystore.ValidationError{Field: "attachment_id", Message: "attachments are disabled"}
	}
	if req.AttachmentText != nil {
		att, err := e.Attach.Create(ctx, req.AttachmentID, *req.AttachmentText, e.MaxAttachmentSize)
		if err != nil {
			return nil, err
		}
		return &att.ID, nil
	}
	if req.AttachmentID != nil {
		if _, err := e.Attach.Get(ctx, *req.AttachmentID); err != nil {
			return nil, err
		}
		return req.AttachmentID, nil
	}
	return nil, nil
}

func mergeAttachmentIntoMetadata(metadataIn map[string]interface{}, attachmentID *uuid.UUID) map[string]interface{} {
	meta := map[string]interface{}{}
	for k, v := range metadataIn {
		meta[k] = v
	}
	existing := model.MetadataAttachmentIDs(meta)
	if attachmentID != nil {
		merged := model.MergeAttachmentIDs(existing, *attachmentID)
		m := &model.Memory{Metadata: meta}
		m.SetAttachmentIDs(merged)
		meta = m.Metadata
	}
	return meta
}

// addFastPath implements §4.F's verbatim path: insert the raw text,
// untouched by the LLM or the vector store, and emit a history row.
func (e *Engine) addFastPath(ctx context.Context, req AddRequest, appID uuid.UUID, metadata map[string]interface{}) (*AddResult, error) {
	var created model.Memory
	err := e.Store.WithinTransaction(ctx, func(tx registrystore.MemoryStore) error {
		m := &model.Memory{
			ID:       uuid.New(),
			AppID:    appID,
			Content:  req.Text,
			State:    model.MemoryStateActive,
			Metadata: metadata,
		}
		if err := tx.InsertMemory(ctx, m, nil); err != nil {
			return err
		}
		if err := tx.RecordHistory(ctx, m.ID, nil, model.MemoryStateActive, "ingest"); err != nil {
			return err
		}
		created = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &AddResult{Events: []AppliedEvent{{Kind: "ADD", MemoryID: created.ID, Content: created.Content, Metadata: created.Metadata}}}, nil
}

// addInferencePath implements §4.F's inference path: extraction (optional),
// per-fact dedup/merge-decision, and the transactional apply loop.
func (e *Engine) addInferencePath(ctx context.Context, req AddRequest, appID uuid.UUID, metadata map[string]interface{}, extract, deduplicate bool) (*AddResult, error) {
	facts := []string{req.Text}
	if extract {
		customInstructions, _, _ := e.Store.GetConfigValue(ctx, configKeyCustomInstructions)
		extracted, err := e.LLM.ExtractFacts(ctx, req.Text, customInstructions)
		if err != nil {
			return nil, wrapLLMError(err)
		}
		facts = extracted
	}

	result := &AddResult{}
	anyNonNone := false
	for _, fact := range facts {
		events, err := e.resolveEventsForFact(ctx, req, appID, fact, deduplicate)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			applied, err := e.applyEvent(ctx, req, appID, fact, metadata, ev)
			if err != nil {
				return nil, err
			}
			if applied == nil {
				continue
			}
			result.Events = append(result.Events, *applied)
			if applied.Kind != "NONE" {
				anyNonNone = true
			}
		}
	}
	if len(facts) > 0 && !anyNonNone {
		result.NoneAll = true
		result.Message = "no changes: candidate fact(s) duplicate existing memory"
	}
	return result, nil
}

// resolveEventsForFact implements §4.F step 2: either synthesize a single
// ADD event (deduplicate=false) or run a similarity search plus the LLM
// merge-decision call.
func (e *Engine) resolveEventsForFact(ctx context.Context, req AddRequest, appID uuid.UUID, fact string, deduplicate bool) ([]registryllm.MergeEvent, error) {
	if !deduplicate {
		return []registryllm.MergeEvent{{Kind: "ADD", Content: fact}}, nil
	}

	embedding, err := e.embedOne(ctx, fact)
	if err != nil {
		return nil, fmt.Errorf("memory: embed candidate fact: %w", err)
	}
	hits, err := e.Vector.Search(ctx, embedding, req.UserID, []registryvector.Filter{}, e.DedupNeighborLimit)
	if err != nil {
		return nil, fmt.Errorf("memory: dedup neighbor search: %w", err)
	}
	neighbors := make([]registryllm.Neighbor, 0, len(hits))
	for _, h := range hits {
		content, _ := h.Payload["data"].(string)
		neighbors = append(neighbors, registryllm.Neighbor{
			ID:            h.ID,
			Content:       content,
			AttachmentIDs: payloadAttachmentIDs(h.Payload),
		})
	}

	customPrompt, _, _ := e.Store.GetConfigValue(ctx, configKeyCustomMergePrompt)
	events, err := e.LLM.DecideMerge(ctx, fact, neighbors, customPrompt)
	if err != nil {
		return nil, wrapLLMError(err)
	}
	return events, nil
}

func wrapLLMError(err error) error {
	if errors.Is(err, registryllm.ErrLLMUnavailable) {
		return &registrystore.ServiceUnavailableError{Service: "llm", Cause: err}
	}
	return err
}

// applyEvent implements §4.F step 3: apply one ADD/UPDATE/DELETE/NONE
// event across the vector store and metadata store, in that order, per
// §4.F's failure semantics (vector writes are not rolled back if the
// subsequent metadata transaction fails — an accepted consistency gap,
// logged as a warning).
func (e *Engine) applyEvent(ctx context.Context, req AddRequest, appID uuid.UUID, fact string, metadata map[string]interface{}, ev registryllm.MergeEvent) (*AppliedEvent, error) {
	switch ev.Kind {
	case "ADD":
		content := ev.Content
		if content == "" {
			content = fact
		}
		return e.applyAdd(ctx, req, appID, content, metadata, ev.Categories)
	case "UPDATE":
		return e.applyUpdate(ctx, req, ev, metadata)
	case "DELETE":
		return e.applyDelete(ctx, ev)
	case "NONE":
		return &AppliedEvent{Kind: "NONE"}, nil
	default:
		return nil, fmt.Errorf("memory: unknown merge event kind %q", ev.Kind)
	}
}

// applyAdd performs the ADD leg of §4.F step 3. Open Question 3's
// resolution is applied here: categories are an optional side-channel
// from the LLM's merge-decision response, assigned transactionally
// alongside the memory row when present.
func (e *Engine) applyAdd(ctx context.Context, req AddRequest, appID uuid.UUID, content string, metadata map[string]interface{}, categories []string) (*AppliedEvent, error) {
	id := uuid.New()
	now := time.Now()
	embedding, err := e.embedOne(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("memory: embed fact for add: %w", err)
	}
	payload := buildPayload(content, req.UserID, now, now, metadata)
	if err := e.Vector.Upsert(ctx, []registryvector.UpsertPoint{{ID: id, Embedding: embedding, Payload: payload}}); err != nil {
		return nil, fmt.Errorf("memory: vector upsert on add: %w", err)
	}

	err = e.Store.WithinTransaction(ctx, func(tx registrystore.MemoryStore) error {
		m := &model.Memory{ID: id, AppID: appID, Content: content, State: model.MemoryStateActive, Metadata: metadata}
		if err := tx.InsertMemory(ctx, m, categories); err != nil {
			return err
		}
		return tx.RecordHistory(ctx, id, nil, model.MemoryStateActive, "ingest")
	})
	if err != nil {
		log.Warn("memory: vector point committed without a matching metadata row", "memory_id", id, "err", err)
		if taskErr := e.Store.CreateTask(ctx, "vector_store_delete", map[string]interface{}{"memory_id": id.String()}); taskErr != nil {
			log.Error("memory: failed to enqueue orphaned vector point cleanup", "memory_id", id, "err", taskErr)
		}
		return nil, err
	}
	return &AppliedEvent{Kind: "ADD", MemoryID: id, Content: content, Metadata: metadata}, nil
}

func (e *Engine) applyUpdate(ctx context.Context, req AddRequest, ev registryllm.MergeEvent, intakeMetadata map[string]interface{}) (*AppliedEvent, error) {
	now := time.Now()
	embedding, err := e.embedOne(ctx, ev.Content)
	if err != nil {
		return nil, fmt.Errorf("memory: embed fact for update: %w", err)
	}

	mergedMetadata := map[string]interface{}{}
	for k, v := range intakeMetadata {
		mergedMetadata[k] = v
	}
	mm := &model.Memory{Metadata: mergedMetadata}
	mm.SetAttachmentIDs(ev.AttachmentIDs)
	mergedMetadata = mm.Metadata

	payload := buildPayload(ev.Content, req.UserID, now, now, mergedMetadata)
	if err := e.Vector.Upsert(ctx, []registryvector.UpsertPoint{{ID: ev.TargetID, Embedding: embedding, Payload: payload}}); err != nil {
		return nil, fmt.Errorf("memory: vector upsert on update: %w", err)
	}

	// Re-read the vector-store payload to obtain the authoritative
	// LLM-reconciled attachment_ids rather than trusting our own merge.
	readBack, err := e.Vector.Get(ctx, ev.TargetID)
	if err != nil {
		return nil, fmt.Errorf("memory: vector read-back on update: %w", err)
	}
	finalMetadata := metadataFromPayload(readBack)

	var updated *model.Memory
	err = e.Store.WithinTransaction(ctx, func(tx registrystore.MemoryStore) error {
		m, err := tx.UpdateMemoryContent(ctx, ev.TargetID, ev.Content, finalMetadata, ev.Categories)
		if err != nil {
			return err
		}
		updated = m
		return tx.RecordHistory(ctx, ev.TargetID, statePtr(model.MemoryStateActive), model.MemoryStateActive, "ingest")
	})
	if err != nil {
		log.Warn("memory: vector point updated without a matching metadata commit", "memory_id", ev.TargetID, "err", err)
		return nil, err
	}
	return &AppliedEvent{Kind: "UPDATE", MemoryID: updated.ID, Content: updated.Content, Metadata: updated.Metadata}, nil
}

func (e *Engine) applyDelete(ctx context.Context, ev registryllm.MergeEvent) (*AppliedEvent, error) {
	if err := e.Vector.Delete(ctx, ev.TargetID); err != nil {
		return nil, fmt.Errorf("memory: vector delete: %w", err)
	}
	err := e.Store.WithinTransaction(ctx, func(tx registrystore.MemoryStore) error {
		return tx.SetMemoryState(ctx, ev.TargetID, model.MemoryStateDeleted, "ingest")
	})
	if err != nil {
		return nil, err
	}
	return &AppliedEvent{Kind: "DELETE", MemoryID: ev.TargetID}, nil
}

func statePtr(s model.MemoryState) *model.MemoryState { return &s }

func buildPayload(content, userID string, createdAt, updatedAt time.Time, metadata map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{
		"data":       content,
		"hash":       contentHash(content),
		"user_id":    userID,
		"created_at": createdAt.UTC().Format(time.RFC3339),
		"updated_at": updatedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range metadata {
		payload[k] = v
	}
	return payload
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

func metadataFromPayload(payload map[string]interface{}) map[string]interface{} {
	reserved := map[string]bool{"data": true, "hash": true, "user_id": true, "created_at": true, "updated_at": true}
	out := map[string]interface{}{}
	for k, v := range payload {
		if reserved[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func payloadAttachmentIDs(payload map[string]interface{}) []uuid.UUID {
	return model.MetadataAttachmentIDs(payload)
}
