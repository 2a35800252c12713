// Package acl implements the access-control evaluator (§4.A): for a given
// (app, memory) pair, decide whether access is allowed under app-level
// allow/deny rules. The algorithm is a fully specified 8-step procedure
// over a single rule table, so it is implemented directly rather than
// through a policy-evaluation engine (see DESIGN.md).
package acl

import (
	"context"

	"github.com/agentmemory/memory-service/internal/model"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/google/uuid"
)

// Evaluator decides access for (app, memory) pairs from the app's rule set.
type Evaluator struct {
	store registrystore.MemoryStore
}

// New creates an Evaluator backed by the given metadata store.
func New(store registrystore.MemoryStore) *Evaluator {
	return &Evaluator{store: store}
}

// IsAllowed runs the 8-step procedure for a single memory ID.
func (e *Evaluator) IsAllowed(ctx context.Context, appID, memoryID uuid.UUID) (bool, error) {
	rules, err := e.store.ListRulesForApp(ctx, appID)
	if err != nil {
		return false, err
	}
	return evaluate(rules, memoryID), nil
}

// FilterAllowed returns the subset of candidateIDs allowed for appID. It
// exists so callers can pass bare memory IDs rather than full rows to keep
// the retrieval-time filter cheap (§4.A).
func (e *Evaluator) FilterAllowed(ctx context.Context, appID uuid.UUID, candidateIDs []uuid.UUID) ([]uuid.UUID, error) {
	rules, err := e.store.ListRulesForApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		// Step 2: no rules at all → permissive default, unconstrained.
		return candidateIDs, nil
	}
	allowed := make([]uuid.UUID, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if evaluate(rules, id) {
			allowed = append(allowed, id)
		}
	}
	return allowed, nil
}

// evaluate applies steps 2-8 of §4.A to a single candidate memory ID.
func evaluate(rules []model.AccessControlRule, memoryID uuid.UUID) bool {
	if len(rules) == 0 {
		// Step 2: permissive default.
		return true
	}

	var (
		denyAll    bool
		denySet    = map[uuid.UUID]bool{}
		allowAll   bool
		allowSet   = map[uuid.UUID]bool{}
		allowSpecific bool
	)

	for _, r := range rules {
		switch r.Effect {
		case model.ACLEffectDeny:
			if r.ObjectID == nil {
				denyAll = true
			} else {
				denySet[*r.ObjectID] = true
			}
		case model.ACLEffectAllow:
			if r.ObjectID == nil {
				allowAll = true
			} else {
				allowSpecific = true
				allowSet[*r.ObjectID] = true
			}
		}
	}

	// Step 4: any deny rule with null object_id → deny.
	if denyAll {
		return false
	}
	// Step 5: any deny rule matching memory_id → deny.
	if denySet[memoryID] {
		return false
	}
	// Step 6: any allow rule with null object_id → allow (subject to deny above).
	if allowAll {
		return true
	}
	// Step 7: allow rules are specific: allow iff memory_id in allow_set \ deny_set.
	if allowSpecific {
		return allowSet[memoryID]
	}
	// Step 8: otherwise deny.
	return false
}
