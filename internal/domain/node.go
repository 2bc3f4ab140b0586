package domain

// Node is a point in the story graph: its locals are author-writable
// per-node state contributed to the namespace, mutated only via SET_ATTR
// effects. Lifecycle (creation/destruction) happens only via effects too.
type Node struct {
	Entity
	ClassFQN string // fully-qualified constructor name used by CREATE_NODE
	Locals   map[string]Value
}

// NewNode constructs a Node with a fresh UID and empty locals.
func NewNode(label, classFQN string) *Node {
	return &Node{
		Entity:   NewEntity(label),
		ClassFQN: classFQN,
		Locals:   make(map[string]Value),
	}
}

// Attr reads a dotted path rooted at "locals" (e.g. ("locals","hp")).
// Only the "locals" root is addressable on a Node; any other root returns
// not-found, matching the effect mutation surface in SET_ATTR.
func (n *Node) Attr(path []string) (Value, bool) {
	if len(path) == 0 || path[0] != "locals" {
		return nil, false
	}
	cur := Value(n.Locals)
	for _, seg := range path[1:] {
		m, ok := cur.(map[string]Value)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Clone returns a deep-enough copy of n suitable for a CLONE provisioning
// policy: a fresh UID, the same class and tags, and a copied locals map.
func (n *Node) Clone() *Node {
	clone := &Node{
		Entity:   NewEntity(n.Label),
		ClassFQN: n.ClassFQN,
		Locals:   make(map[string]Value, len(n.Locals)),
	}
	for t := range n.Tags {
		clone.AddTag(t)
	}
	for k, v := range n.Locals {
		clone.Locals[k] = v
	}
	return clone
}
