// Package registry provides the UID-keyed entity store and the layered
// Scope assembly used by namespace resolution and capability dispatch.
package registry

import (
	"sort"

	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/graph"
)

// Registry is a UID-keyed store over a Graph's nodes, supporting the
// lookup and filtered-find operations handlers and provisioners use.
type Registry struct {
	g *graph.Graph
}

// New wraps g in a Registry.
func New(g *graph.Graph) *Registry {
	return &Registry{g: g}
}

// Get returns the node with the given uid.
func (r *Registry) Get(uid uuid.UUID) (*domain.Node, bool) {
	return r.g.GetNode(uid)
}

// Len returns the number of nodes in the registry.
func (r *Registry) Len() int {
	return len(r.g.Nodes())
}

// Iter returns every node, sorted by uid for stable iteration order.
func (r *Registry) Iter() []*domain.Node {
	nodes := r.g.Nodes()
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].UID.String() < nodes[j].UID.String()
	})
	return nodes
}

// Find returns every node matching criteria, in stable uid order.
func (r *Registry) Find(criteria map[string]domain.Value) []*domain.Node {
	var out []*domain.Node
	for _, n := range r.Iter() {
		if n.Matches(attrGetter(n), criteria) {
			out = append(out, n)
		}
	}
	return out
}

// FindOne returns the first node (by uid order) matching criteria.
func (r *Registry) FindOne(criteria map[string]domain.Value) (*domain.Node, bool) {
	found := r.Find(criteria)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

func attrGetter(n *domain.Node) func(key string) (domain.Value, bool) {
	return func(key string) (domain.Value, bool) {
		return n.Attr([]string{"locals", key})
	}
}

// ScopeLayer is one precedence level of a Scope, carrying its namespace
// contribution and the node it is rooted at (nil for process globals).
type ScopeLayer struct {
	Kind domain.ScopeKind
	Root *domain.Node // nil for ScopeGlobal
	// Depth is the distance from the anchor (0 = anchor itself), used as
	// the scope_depth tie-breaker in dispatch sort order.
	Depth int
}

// Scope is the layered structure computed per-caller: node locals first,
// then each ancestor outward followed by the domain layers its tags
// activate, then domain layers from the anchor's own tags, then global.
type Scope struct {
	Anchor *domain.Node
	Layers []ScopeLayer
}

// Assemble computes the Scope for anchor by walking HIERARCHY ancestor
// edges outward and collecting domain tags along the way.
func Assemble(g *graph.Graph, anchor *domain.Node) Scope {
	s := Scope{Anchor: anchor}
	if anchor == nil {
		s.Layers = append(s.Layers, ScopeLayer{Kind: domain.ScopeGlobal})
		return s
	}

	s.Layers = append(s.Layers, ScopeLayer{Kind: domain.ScopeNode, Root: anchor, Depth: 0})

	seenDomains := make(map[string]struct{})
	cur := anchor
	depth := 1
	visited := map[uuid.UUID]struct{}{anchor.UID: {}}
	for {
		parent := hierarchyParent(g, cur)
		if parent == nil {
			break
		}
		if _, loop := visited[parent.UID]; loop {
			break // HIERARCHY must be a forest; defensively stop on a cycle
		}
		visited[parent.UID] = struct{}{}
		s.Layers = append(s.Layers, ScopeLayer{Kind: domain.ScopeAncestor, Root: parent, Depth: depth})
		for _, name := range parent.DomainTags() {
			if _, ok := seenDomains[name]; ok {
				continue
			}
			seenDomains[name] = struct{}{}
			s.Layers = append(s.Layers, ScopeLayer{Kind: domain.ScopeDomain, Root: parent, Depth: depth})
		}
		cur = parent
		depth++
	}
	for _, name := range anchor.DomainTags() {
		if _, ok := seenDomains[name]; ok {
			continue
		}
		seenDomains[name] = struct{}{}
		s.Layers = append(s.Layers, ScopeLayer{Kind: domain.ScopeDomain, Root: anchor, Depth: 0})
	}

	s.Layers = append(s.Layers, ScopeLayer{Kind: domain.ScopeGlobal, Depth: depth})
	return s
}

// hierarchyParent returns the node anchor's single HIERARCHY in-edge
// points from, or nil if anchor is a root.
func hierarchyParent(g *graph.Graph, anchor *domain.Node) *domain.Node {
	for _, e := range g.FindEdges(anchor.UID, graph.DirIn, nil) {
		if e.Kind != domain.EdgeKindHierarchy {
			continue
		}
		if parent, ok := g.GetNode(e.SrcID); ok {
			return parent
		}
	}
	return nil
}
