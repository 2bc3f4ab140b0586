package vm

import (
	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/effects"
	"github.com/mbflow-labs/storygraph/internal/graph"
	"github.com/mbflow-labs/storygraph/internal/registry"
)

// MutationAPI is the surface handlers and provisioners use to emit
// effects during UPDATE/PLANNING; it never mutates the graph directly —
// every call appends an Effect to the tick's buffer.
type MutationAPI struct {
	buf     *effects.Buffer
	preview *graph.Graph
	reg     *registry.Registry
}

// NewMutationAPI binds a mutation surface to buf (for emission) and
// preview (for read-your-writes lookups CREATE/CLONE need).
func NewMutationAPI(buf *effects.Buffer, preview *graph.Graph, reg *registry.Registry) *MutationAPI {
	return &MutationAPI{buf: buf, preview: preview, reg: reg}
}

// CreateNode emits CREATE_NODE and returns the uid it will bind.
func (m *MutationAPI) CreateNode(classFQN string, locals map[string]domain.Value) uuid.UUID {
	return m.buf.CreateNode(classFQN, locals)
}

// DeleteNode emits DELETE_NODE.
func (m *MutationAPI) DeleteNode(uid uuid.UUID) {
	m.buf.DeleteNode(uid)
}

// AddEdge emits ADD_EDGE and returns the uid it will bind.
func (m *MutationAPI) AddEdge(src, dst uuid.UUID, kind domain.EdgeKind) uuid.UUID {
	return m.buf.AddEdge(src, dst, kind)
}

// DelEdge emits DEL_EDGE.
func (m *MutationAPI) DelEdge(eid uuid.UUID) {
	m.buf.DelEdge(eid)
}

// SetAttr emits SET_ATTR.
func (m *MutationAPI) SetAttr(uid uuid.UUID, path []string, value domain.Value) {
	m.buf.SetAttr(uid, path, value)
}

// SetMapKey emits SET_MAPKEY.
func (m *MutationAPI) SetMapKey(uid uuid.UUID, path []string, key string, value domain.Value) {
	m.buf.SetMapKey(uid, path, key, value)
}

// FindOne looks up a node in the preview graph matching criteria, for
// EXISTING/UPDATE/CLONE provisioning policies.
func (m *MutationAPI) FindOne(criteria map[string]domain.Value) (*domain.Node, bool) {
	return m.reg.FindOne(criteria)
}

// Get looks up a node by uid in the preview graph's registry, for the
// EXISTING policy's direct-identifier lookup.
func (m *MutationAPI) Get(uid uuid.UUID) (*domain.Node, bool) {
	return m.reg.Get(uid)
}

// ResolveRequirement emits RESOLVE_REQUIREMENT, recording a provisioning
// outcome against the open edge eid so it survives into the committed
// graph and is visible to later ticks, not just this tick's preview.
func (m *MutationAPI) ResolveRequirement(eid uuid.UUID, providerID *uuid.UUID, unresolvable bool) {
	m.buf.ResolveRequirement(eid, providerID, unresolvable)
}

// CloneNode emits a CREATE_NODE carrying src's class and a copy of its
// locals, for the CLONE provisioning policy.
func (m *MutationAPI) CloneNode(src uuid.UUID) (uuid.UUID, bool) {
	n, ok := m.preview.GetNode(src)
	if !ok {
		return uuid.Nil, false
	}
	data := make(map[string]domain.Value, len(n.Locals))
	for k, v := range n.Locals {
		data[k] = v
	}
	return m.buf.CreateNode(n.ClassFQN, data), true
}
