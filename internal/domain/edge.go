package domain

import "github.com/google/uuid"

// Edge connects two entities in the story graph. Open edges (State ==
// StateOpen) carry a Requirement describing what must bind before the edge
// is usable; dependency and affordance are the two shapes of open edge,
// distinguished by which endpoint is still unbound.
type Edge struct {
	Entity
	SrcID        uuid.UUID
	DstID        uuid.UUID
	Kind         EdgeKind
	State        EdgeState
	TriggerPhase *Phase // nil means no auto-follow (MANUAL choice trigger)
	Directed     bool
	Requirement  *Requirement     // non-nil only for open (dependency/affordance) edges
	Config       map[string]Value // authored data: guard expressions, choice templates
}

// NewEdge constructs a directed Edge of the given kind between src and dst.
func NewEdge(label string, src, dst uuid.UUID, kind EdgeKind) *Edge {
	return &Edge{
		Entity:   NewEntity(label),
		SrcID:    src,
		DstID:    dst,
		Kind:     kind,
		State:    StateLatent,
		Directed: true,
		Config:   make(map[string]Value),
	}
}

// IsOpen reports whether the edge still requires provisioning.
func (e *Edge) IsOpen() bool {
	return e.State == StateOpen && e.Requirement != nil
}

// IsDependency reports whether e is an open edge whose destination is
// unbound and must be satisfied for the source node to be complete.
func (e *Edge) IsDependency() bool {
	return e.IsOpen() && e.DstID == uuid.Nil
}

// IsAffordance reports whether e is an open edge whose source is unbound,
// offering a binding to its destination from any matching provider.
func (e *Edge) IsAffordance() bool {
	return e.IsOpen() && e.SrcID == uuid.Nil
}

// Resolved returns the bound endpoint UID once the edge's Requirement has
// been satisfied by provisioning, reading through the Requirement's ProviderID.
func (e *Edge) Resolved() (uuid.UUID, bool) {
	if e.Requirement == nil || e.Requirement.ProviderID == nil {
		return uuid.Nil, false
	}
	return *e.Requirement.ProviderID, true
}

// Available evaluates the edge's guard expression against a namespace. eval
// is the expression evaluator used throughout the runtime; an edge with no
// "available" entry in Config is always available once resolved. An open,
// unsatisfied hard requirement makes the edge unavailable regardless of guard.
func (e *Edge) Available(ns map[string]Value, eval func(expr string, ns map[string]Value) (bool, error)) (bool, error) {
	if e.IsOpen() && e.Requirement != nil && !e.Requirement.Satisfied() {
		return false, nil
	}
	cond, ok := e.Config["available"].(string)
	if !ok || cond == "" {
		return true, nil
	}
	return eval(cond, ns)
}

// Requirement describes what an open edge needs before it can be traversed:
// a set of matcher criteria, an optional template for CREATE/UPDATE/CLONE policies,
// and the policy used to obtain a provider.
type Requirement struct {
	UID             uuid.UUID  // the requirement's own identity, used for sort/correlation (never for lookup)
	Identifier      *uuid.UUID // optional direct-lookup key, meaningful only under the EXISTING/UPDATE/CLONE policies
	Criteria        map[string]Value
	Template        *TemplateData
	Policy          ProvisionPolicy
	ProviderID      *uuid.UUID
	HardRequirement bool // default true: node is incomplete until satisfied
	IsUnresolvable  bool // set once negotiation has exhausted all offers
}

// NewRequirement builds a hard Requirement with the given criteria and policy.
func NewRequirement(criteria map[string]Value, policy ProvisionPolicy) *Requirement {
	return &Requirement{
		UID:             uuid.New(),
		Criteria:        criteria,
		Policy:          policy,
		HardRequirement: true,
	}
}

// Satisfied reports whether the requirement no longer blocks completion:
// either it has a bound provider, or it was never hard in the first place.
func (r *Requirement) Satisfied() bool {
	if r == nil {
		return true
	}
	return r.ProviderID != nil || !r.HardRequirement
}

// TemplateData is the authored payload used to materialize a new provider
// node under the CREATE policy, and whose Locals are written onto the
// found node under UPDATE or onto the copy under CLONE.
type TemplateData struct {
	ClassFQN string
	Label    string
	Locals   map[string]Value
	Tags     []Tag
}
