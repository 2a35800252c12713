package acl

import (
	"testing"

	"github.com/agentmemory/memory-service/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestEvaluate_NoRulesPermissive(t *testing.T) {
	assert.True(t, evaluate(nil, uuid.New()))
}

func TestEvaluate_DenyAllWins(t *testing.T) {
	m := uuid.New()
	rules := []model.AccessControlRule{
		{Effect: model.ACLEffectAllow, ObjectID: nil},
		{Effect: model.ACLEffectDeny, ObjectID: nil},
	}
	assert.False(t, evaluate(rules, m))
}

func TestEvaluate_DenySpecificWins(t *testing.T) {
	m := uuid.New()
	other := uuid.New()
	rules := []model.AccessControlRule{
		{Effect: model.ACLEffectAllow, ObjectID: nil},
		{Effect: model.ACLEffectDeny, ObjectID: ptr(m)},
	}
	assert.False(t, evaluate(rules, m))
	assert.True(t, evaluate(rules, other))
}

func TestEvaluate_AllowAllSubjectToDeny(t *testing.T) {
	m := uuid.New()
	rules := []model.AccessControlRule{
		{Effect: model.ACLEffectAllow, ObjectID: nil},
	}
	assert.True(t, evaluate(rules, m))
}

func TestEvaluate_AllowSpecificOnly(t *testing.T) {
	m := uuid.New()
	other := uuid.New()
	rules := []model.AccessControlRule{
		{Effect: model.ACLEffectAllow, ObjectID: ptr(m)},
	}
	assert.True(t, evaluate(rules, m))
	assert.False(t, evaluate(rules, other))
}

func TestEvaluate_OnlyDenyRulesPresent(t *testing.T) {
	m := uuid.New()
	other := uuid.New()
	rules := []model.AccessControlRule{
		{Effect: model.ACLEffectDeny, ObjectID: ptr(m)},
	}
	assert.False(t, evaluate(rules, m))
	// No allow rules at all and this ID isn't denied: falls to step 8, deny.
	assert.False(t, evaluate(rules, other))
}

func TestEvaluate_AllowAndDenySpecificOverlap(t *testing.T) {
	m := uuid.New()
	rules := []model.AccessControlRule{
		{Effect: model.ACLEffectAllow, ObjectID: ptr(m)},
		{Effect: model.ACLEffectDeny, ObjectID: ptr(m)},
	}
	assert.False(t, evaluate(rules, m))
}
