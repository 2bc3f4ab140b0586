// Package effects implements the tick's mutation API, canonicalization,
// and application of effects against a graph via its silent mutators.
package effects

import (
	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
)

// Buffer accumulates the Effects emitted by handlers during a single
// tick. It is bound to the tick's Frame and discarded on any abort path.
type Buffer struct {
	effects []domain.Effect
	phase   domain.Phase
	handler string
}

// NewBuffer returns an empty effect buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// SetProvenance records which phase/handler subsequent mutation calls
// should be attributed to. The VM calls this before invoking each handler.
func (b *Buffer) SetProvenance(phase domain.Phase, handlerID string) {
	b.phase = phase
	b.handler = handlerID
}

// Effects returns the effects accumulated so far, in emission order.
func (b *Buffer) Effects() []domain.Effect {
	return b.effects
}

// Len reports how many effects are buffered.
func (b *Buffer) Len() int {
	return len(b.effects)
}

func (b *Buffer) append(op domain.EffectOp, args ...domain.Value) {
	b.effects = append(b.effects, domain.Effect{
		Op:        op,
		Args:      args,
		Phase:     b.phase,
		HandlerID: b.handler,
	})
}

// CreateNode appends a CREATE_NODE effect and returns the uid it will
// bind once applied.
func (b *Buffer) CreateNode(classFQN string, data map[string]domain.Value) uuid.UUID {
	uid := uuid.New()
	b.append(domain.OpCreateNode, uid, classFQN, data)
	return uid
}

// DeleteNode appends a DELETE_NODE effect.
func (b *Buffer) DeleteNode(uid uuid.UUID) {
	b.append(domain.OpDeleteNode, uid)
}

// AddEdge appends an ADD_EDGE effect and returns the edge uid it will bind.
func (b *Buffer) AddEdge(src, dst uuid.UUID, kind domain.EdgeKind) uuid.UUID {
	eid := uuid.New()
	b.append(domain.OpAddEdge, src, dst, string(kind), eid)
	return eid
}

// DelEdge appends a DEL_EDGE effect.
func (b *Buffer) DelEdge(eid uuid.UUID) {
	b.append(domain.OpDelEdge, eid)
}

// SetAttr appends a SET_ATTR effect. path is a dotted sequence rooted at "locals".
func (b *Buffer) SetAttr(uid uuid.UUID, path []string, value domain.Value) {
	b.append(domain.OpSetAttr, uid, pathValues(path), value)
}

// SetMapKey appends a SET_MAPKEY effect.
func (b *Buffer) SetMapKey(uid uuid.UUID, path []string, key string, value domain.Value) {
	b.append(domain.OpSetMapKey, uid, pathValues(path), key, value)
}

// ResolveRequirement appends a RESOLVE_REQUIREMENT effect recording the
// outcome of provisioning the open edge eid's Requirement: providerID bound
// (or nil) and whether it was given up as unresolvable.
func (b *Buffer) ResolveRequirement(eid uuid.UUID, providerID *uuid.UUID, unresolvable bool) {
	b.append(domain.OpResolveRequirement, eid, providerID, unresolvable)
}

func pathValues(path []string) []domain.Value {
	out := make([]domain.Value, len(path))
	for i, p := range path {
		out[i] = p
	}
	return out
}
