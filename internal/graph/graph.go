// Package graph holds the story-graph's structural model: nodes, edges,
// and adjacency indexes. Observation is free; mutation happens only
// through the silent mutators, which the patch applier alone invokes.
package graph

import (
	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
)

// Direction selects which adjacency index find_edges walks.
type Direction int

const (
	DirOut Direction = iota
	DirIn
	DirBoth
)

// Graph is the mutable structural model of one story instance: nodes,
// edges, and the adjacency indexes that make traversal cheap. All fields
// are unexported; every mutation goes through a silent mutator so the
// patch applier is the only caller that can change graph shape.
type Graph struct {
	nodes map[uuid.UUID]*domain.Node
	edges map[uuid.UUID]*domain.Edge

	outIdx map[uuid.UUID]map[uuid.UUID]struct{} // node uid -> edge uids where src==node
	inIdx  map[uuid.UUID]map[uuid.UUID]struct{} // node uid -> edge uids where dst==node
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:  make(map[uuid.UUID]*domain.Node),
		edges:  make(map[uuid.UUID]*domain.Edge),
		outIdx: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		inIdx:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// GetNode returns the node with the given uid, if present.
func (g *Graph) GetNode(uid uuid.UUID) (*domain.Node, bool) {
	n, ok := g.nodes[uid]
	return n, ok
}

// GetEdge returns the edge with the given uid, if present.
func (g *Graph) GetEdge(uid uuid.UUID) (*domain.Edge, bool) {
	e, ok := g.edges[uid]
	return e, ok
}

// Nodes returns every node in the graph; order is not significant.
func (g *Graph) Nodes() []*domain.Node {
	out := make([]*domain.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Edges returns every edge in the graph; order is not significant.
func (g *Graph) Edges() []*domain.Edge {
	out := make([]*domain.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

// FindEdges returns edges incident to node in the given direction whose
// entity matches criteria ("label" equality and has_<x> tag predicates;
// no attribute getter is supplied, so any other key never matches).
func (g *Graph) FindEdges(node uuid.UUID, dir Direction, criteria map[string]domain.Value) []*domain.Edge {
	ids := g.FindEdgeIDs(node, dir)
	var out []*domain.Edge
	for _, id := range ids {
		e, ok := g.edges[id]
		if !ok {
			continue
		}
		if e.Matches(nil, criteria) {
			out = append(out, e)
		}
	}
	return out
}

// FindEdgeIDs returns the uids of edges incident to node in the given
// direction, without applying any matcher criteria.
func (g *Graph) FindEdgeIDs(node uuid.UUID, dir Direction) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	add := func(idx map[uuid.UUID]map[uuid.UUID]struct{}) {
		for id := range idx[node] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	switch dir {
	case DirOut:
		add(g.outIdx)
	case DirIn:
		add(g.inIdx)
	case DirBoth:
		add(g.outIdx)
		add(g.inIdx)
	}
	return out
}

// --- Silent mutators: no validation, no effects. Invoked only by the
// patch applier when replaying canonicalized effects. ---

// AddNode inserts n into the graph, overwriting any existing node sharing its uid.
func (g *Graph) AddNode(n *domain.Node) {
	g.nodes[n.UID] = n
	if _, ok := g.outIdx[n.UID]; !ok {
		g.outIdx[n.UID] = make(map[uuid.UUID]struct{})
	}
	if _, ok := g.inIdx[n.UID]; !ok {
		g.inIdx[n.UID] = make(map[uuid.UUID]struct{})
	}
}

// DelNode removes node uid and cascades removal of every incident edge,
// keeping both adjacency indexes coherent. Idempotent.
func (g *Graph) DelNode(uid uuid.UUID) {
	for id := range g.outIdx[uid] {
		g.removeEdgeFromIndexes(id)
		delete(g.edges, id)
	}
	for id := range g.inIdx[uid] {
		g.removeEdgeFromIndexes(id)
		delete(g.edges, id)
	}
	delete(g.outIdx, uid)
	delete(g.inIdx, uid)
	delete(g.nodes, uid)
}

// AddEdge inserts e into the graph and both adjacency indexes.
func (g *Graph) AddEdge(e *domain.Edge) {
	g.edges[e.UID] = e
	if e.SrcID != uuid.Nil {
		if _, ok := g.outIdx[e.SrcID]; !ok {
			g.outIdx[e.SrcID] = make(map[uuid.UUID]struct{})
		}
		g.outIdx[e.SrcID][e.UID] = struct{}{}
	}
	if e.DstID != uuid.Nil {
		if _, ok := g.inIdx[e.DstID]; !ok {
			g.inIdx[e.DstID] = make(map[uuid.UUID]struct{})
		}
		g.inIdx[e.DstID][e.UID] = struct{}{}
	}
}

// DelEdgeID removes the edge with the given uid from the graph and both
// adjacency indexes. Idempotent.
func (g *Graph) DelEdgeID(uid uuid.UUID) {
	g.removeEdgeFromIndexes(uid)
	delete(g.edges, uid)
}

func (g *Graph) removeEdgeFromIndexes(uid uuid.UUID) {
	e, ok := g.edges[uid]
	if !ok {
		return
	}
	if m, ok := g.outIdx[e.SrcID]; ok {
		delete(m, uid)
	}
	if m, ok := g.inIdx[e.DstID]; ok {
		delete(m, uid)
	}
}

// SetAttr applies a locals path mutation to a node. path must be rooted at
// "locals"; intermediate maps are created as needed.
func (g *Graph) SetAttr(uid uuid.UUID, path []string, value domain.Value) bool {
	n, ok := g.nodes[uid]
	if !ok || len(path) == 0 || path[0] != "locals" {
		return false
	}
	if len(path) == 1 {
		return false
	}
	cur := n.Locals
	for _, seg := range path[1 : len(path)-1] {
		next, ok := cur[seg].(map[string]domain.Value)
		if !ok {
			next = make(map[string]domain.Value)
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
	return true
}

// SetMapKey applies a single-key mutation to a map-valued attribute,
// distinct from SetAttr in that it targets one key of an existing map
// rather than replacing the whole path.
func (g *Graph) SetMapKey(uid uuid.UUID, path []string, key string, value domain.Value) bool {
	n, ok := g.nodes[uid]
	if !ok || len(path) == 0 || path[0] != "locals" {
		return false
	}
	cur := domain.Value(n.Locals)
	for _, seg := range path[1:] {
		m, ok := cur.(map[string]domain.Value)
		if !ok {
			return false
		}
		next, ok := m[seg]
		if !ok {
			return false
		}
		cur = next
	}
	m, ok := cur.(map[string]domain.Value)
	if !ok {
		return false
	}
	m[key] = value
	return true
}
