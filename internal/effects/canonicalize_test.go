package effects

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbflow-labs/storygraph/internal/domain"
)

func setAttr(uid uuid.UUID, path string, value domain.Value) domain.Effect {
	return domain.Effect{Op: domain.OpSetAttr, Args: []domain.Value{uid, []domain.Value{"locals", path}, value}}
}

func createNode(uid uuid.UUID) domain.Effect {
	return domain.Effect{Op: domain.OpCreateNode, Args: []domain.Value{uid}}
}

func deleteNode(uid uuid.UUID) domain.Effect {
	return domain.Effect{Op: domain.OpDeleteNode, Args: []domain.Value{uid}}
}

func resolveRequirement(eid uuid.UUID, providerID *uuid.UUID, unresolvable bool) domain.Effect {
	return domain.Effect{Op: domain.OpResolveRequirement, Args: []domain.Value{eid, providerID, unresolvable}}
}

func TestCanonicalize_OrdersByOpThenKey(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	raw := []domain.Effect{
		setAttr(b, "x", 1),
		createNode(a),
		setAttr(a, "y", 2),
	}

	out := Canonicalize(raw)

	require.Len(t, out, 3)
	assert.Equal(t, domain.OpCreateNode, out[0].Op)
	assert.Equal(t, domain.OpSetAttr, out[1].Op)
	assert.Equal(t, domain.OpSetAttr, out[2].Op)
}

func TestCanonicalize_CreateThenDeleteIsNetNoOp(t *testing.T) {
	uid := uuid.New()
	raw := []domain.Effect{createNode(uid), deleteNode(uid)}

	out := Canonicalize(raw)

	assert.Empty(t, out)
}

func TestCanonicalize_DeleteThenCreateKeepsBoth(t *testing.T) {
	uid := uuid.New()
	raw := []domain.Effect{deleteNode(uid), createNode(uid)}

	out := Canonicalize(raw)

	require.Len(t, out, 2)
	assert.Equal(t, domain.OpDeleteNode, out[0].Op)
	assert.Equal(t, domain.OpCreateNode, out[1].Op)
}

func TestCanonicalize_AttrMutationsOnDeletedNodeAreDropped(t *testing.T) {
	uid := uuid.New()
	raw := []domain.Effect{
		createNode(uid),
		setAttr(uid, "hp", 10),
		deleteNode(uid),
	}

	out := Canonicalize(raw)

	assert.Empty(t, out, "the node's net state this tick is deleted, so its attr writes don't survive")
}

func TestCanonicalize_CoalescesRepeatedAttrWritesToPath(t *testing.T) {
	uid := uuid.New()
	raw := []domain.Effect{
		setAttr(uid, "hp", 10),
		setAttr(uid, "hp", 5),
		setAttr(uid, "mana", 3),
	}

	out := Canonicalize(raw)

	require.Len(t, out, 2)
	hp, mana := out[0], out[1]
	if hp.Args[1].([]domain.Value)[1] != "hp" {
		hp, mana = mana, hp
	}
	assert.Equal(t, domain.Value(5), hp.Args[2])
	assert.Equal(t, domain.Value(3), mana.Args[2])
}

func TestCanonicalize_ResolveRequirementOrdersLastAndCoalescesPerEdge(t *testing.T) {
	eid := uuid.New()
	providerA, providerB := uuid.New(), uuid.New()
	raw := []domain.Effect{
		resolveRequirement(eid, &providerA, false),
		setAttr(uuid.New(), "hp", 1),
		resolveRequirement(eid, &providerB, false),
	}

	out := Canonicalize(raw)

	require.Len(t, out, 2)
	assert.Equal(t, domain.OpSetAttr, out[0].Op)
	assert.Equal(t, domain.OpResolveRequirement, out[1].Op)
	assert.Equal(t, &providerB, out[1].Args[1])
}

func TestCanonicalize_IsIdempotent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	raw := []domain.Effect{
		setAttr(b, "x", 1),
		createNode(a),
		setAttr(a, "y", 2),
		setAttr(b, "x", 2),
	}

	once := Canonicalize(raw)
	twice := Canonicalize(once)

	assert.Equal(t, once, twice)
}
