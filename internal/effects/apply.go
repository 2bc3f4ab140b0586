package effects

import (
	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/graph"
	"github.com/mbflow-labs/storygraph/internal/vmerr"
)

// Apply walks a canonicalized effect sequence, invoking g's silent
// mutators. It is the only caller permitted to mutate g outside of
// replay/snapshot loading.
func Apply(g *graph.Graph, canonical []domain.Effect) error {
	for i, e := range canonical {
		if err := applyOne(g, e); err != nil {
			return vmerr.PatchApplyFailed(i, "effect application failed", err)
		}
	}
	return nil
}

func applyOne(g *graph.Graph, e domain.Effect) error {
	switch e.Op {
	case domain.OpCreateNode:
		uid, _ := e.Args[0].(uuid.UUID)
		classFQN, _ := e.Args[1].(string)
		data, _ := e.Args[2].(map[string]domain.Value)
		n := domain.NewNode("", classFQN)
		n.UID = uid
		if data != nil {
			n.Locals = data
		}
		g.AddNode(n)

	case domain.OpDeleteNode:
		uid, _ := e.Args[0].(uuid.UUID)
		g.DelNode(uid)

	case domain.OpAddEdge:
		src, _ := e.Args[0].(uuid.UUID)
		dst, _ := e.Args[1].(uuid.UUID)
		kind, _ := e.Args[2].(string)
		eid, _ := e.Args[3].(uuid.UUID)
		edge := domain.NewEdge("", src, dst, domain.EdgeKind(kind))
		edge.UID = eid
		g.AddEdge(edge)

	case domain.OpDelEdge:
		eid, _ := e.Args[0].(uuid.UUID)
		g.DelEdgeID(eid)

	case domain.OpSetAttr:
		uid, _ := e.Args[0].(uuid.UUID)
		path := stringPath(e.Args[1])
		g.SetAttr(uid, path, e.Args[2])

	case domain.OpSetMapKey:
		uid, _ := e.Args[0].(uuid.UUID)
		path := stringPath(e.Args[1])
		key, _ := e.Args[2].(string)
		g.SetMapKey(uid, path, key, e.Args[3])

	case domain.OpResolveRequirement:
		eid, _ := e.Args[0].(uuid.UUID)
		providerID, _ := e.Args[1].(*uuid.UUID)
		unresolvable, _ := e.Args[2].(bool)
		edge, ok := g.GetEdge(eid)
		if ok && edge.Requirement != nil {
			edge.Requirement.ProviderID = providerID
			edge.Requirement.IsUnresolvable = unresolvable
		}
	}
	return nil
}

func stringPath(v domain.Value) []string {
	raw, ok := v.([]domain.Value)
	if !ok {
		return nil
	}
	out := make([]string, len(raw))
	for i, p := range raw {
		s, _ := p.(string)
		out[i] = s
	}
	return out
}
