// Package provision implements requirement/offer negotiation: collecting
// offers from provisioners during PLANNING, linking affordances and
// dependencies against the tick's frontier, and composing a summary
// receipt, per the four provisioning policies.
package provision

import (
	"sort"

	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
)

// Offer proposes a concrete way to satisfy a Requirement: attach an
// existing node, or create/update/clone one from a template.
type Offer struct {
	UID           uuid.UUID
	RequirementID uuid.UUID // uuid.Nil for a broadcast offer (key "*")
	Provisioner   Provisioner
	Priority      domain.Priority
	Hard          bool
	Criteria      map[string]domain.Value
}

// IsBroadcast reports whether the offer is not tied to a specific
// requirement (goes under the "*" key during collection).
func (o Offer) IsBroadcast() bool {
	return o.RequirementID == uuid.Nil
}

// Provisioner resolves an Offer into a concrete provider node, mutating
// the graph via the supplied mutation API under one of the four policies.
type Provisioner interface {
	// Resolve attempts to satisfy req, returning the bound provider uid.
	// ok is false if the policy could not locate/produce a provider.
	Resolve(req *domain.Requirement, mut MutationAPI) (providerUID uuid.UUID, ok bool)
	// SatisfiedBy reports whether frontier could itself serve as the
	// provider for a broadcast offer (used by affordance linking).
	SatisfiedBy(frontier uuid.UUID) bool
}

// MutationAPI is the subset of the tick's effect-emitting mutation
// surface provisioners need: creating/cloning/updating nodes, plus
// recording a requirement's resolution outcome against its owning edge.
type MutationAPI interface {
	CreateNode(classFQN string, locals map[string]domain.Value) uuid.UUID
	SetAttr(uid uuid.UUID, path []string, value domain.Value)
	FindOne(criteria map[string]domain.Value) (*domain.Node, bool)
	CloneNode(src uuid.UUID) (uuid.UUID, bool)
	Get(uid uuid.UUID) (*domain.Node, bool)
	ResolveRequirement(edgeUID uuid.UUID, providerID *uuid.UUID, unresolvable bool)
}

// DefaultProvisioner is the engine's fallback Provisioner: when a domain
// never registers a handler offering to resolve a requirement, this is
// what actually grounds the four provisioning policies against the
// registry and the requirement's own criteria/identifier/template,
// mirroring the reference engine's generic Provisioner.resolve() dispatch.
type DefaultProvisioner struct{}

// NewDefaultProvisioner returns the fallback Provisioner.
func NewDefaultProvisioner() DefaultProvisioner {
	return DefaultProvisioner{}
}

// Resolve dispatches on req.Policy: EXISTING finds a provider by identifier
// or criteria; UPDATE finds one and applies req.Template's locals; CLONE
// finds one and clones it before applying req.Template's locals; CREATE
// builds a fresh node straight from req.Template.
func (DefaultProvisioner) Resolve(req *domain.Requirement, mut MutationAPI) (uuid.UUID, bool) {
	switch req.Policy {
	case domain.PolicyExisting:
		return resolveExisting(req, mut)
	case domain.PolicyUpdate:
		uid, ok := resolveExisting(req, mut)
		if !ok {
			return uuid.Nil, false
		}
		applyTemplate(mut, uid, req.Template)
		return uid, true
	case domain.PolicyClone:
		ref, ok := resolveExisting(req, mut)
		if !ok {
			return uuid.Nil, false
		}
		cloned, ok := mut.CloneNode(ref)
		if !ok {
			return uuid.Nil, false
		}
		applyTemplate(mut, cloned, req.Template)
		return cloned, true
	case domain.PolicyCreate:
		if req.Template == nil {
			return uuid.Nil, false
		}
		return mut.CreateNode(req.Template.ClassFQN, cloneLocals(req.Template.Locals)), true
	default:
		return uuid.Nil, false
	}
}

// SatisfiedBy always returns false: the default provisioner only resolves
// requirement-keyed offers it is asked to Resolve, never a bare frontier
// node via a broadcast affordance offer.
func (DefaultProvisioner) SatisfiedBy(frontier uuid.UUID) bool {
	return false
}

// resolveExisting finds a provider node by direct identifier lookup first
// (if req.Identifier is set), falling back to a criteria match.
func resolveExisting(req *domain.Requirement, mut MutationAPI) (uuid.UUID, bool) {
	if req.Identifier != nil {
		if n, ok := mut.Get(*req.Identifier); ok {
			return n.UID, true
		}
	}
	if len(req.Criteria) == 0 {
		return uuid.Nil, false
	}
	n, ok := mut.FindOne(req.Criteria)
	if !ok {
		return uuid.Nil, false
	}
	return n.UID, true
}

// applyTemplate writes a template's locals onto a resolved provider, used
// by UPDATE (in place) and CLONE (onto the freshly cloned copy).
func applyTemplate(mut MutationAPI, uid uuid.UUID, tmpl *domain.TemplateData) {
	if tmpl == nil {
		return
	}
	for k, v := range tmpl.Locals {
		mut.SetAttr(uid, []string{"locals", k}, v)
	}
}

func cloneLocals(locals map[string]domain.Value) map[string]domain.Value {
	out := make(map[string]domain.Value, len(locals))
	for k, v := range locals {
		out[k] = v
	}
	return out
}

// BuildReceipt records the outcome of accepting one offer.
type BuildReceipt struct {
	RequirementID uuid.UUID
	ProviderID    uuid.UUID
	Operation     string // "attach" | "create" | "update" | "clone" | "noop"
	Accepted      bool
	Reason        string
}

// PlanningReceipt summarizes one PLANNING pass.
type PlanningReceipt struct {
	Created                    int
	Updated                    int
	Cloned                     int
	Attached                   int
	UnresolvedHardRequirements []uuid.UUID
}

// Summarize folds a set of BuildReceipts into a PlanningReceipt.
func Summarize(builds []BuildReceipt) PlanningReceipt {
	var pr PlanningReceipt
	for _, b := range builds {
		if !b.Accepted && b.Reason == "unresolvable" {
			pr.UnresolvedHardRequirements = append(pr.UnresolvedHardRequirements, b.RequirementID)
			continue
		}
		switch b.Operation {
		case "create":
			pr.Created++
		case "update":
			pr.Updated++
		case "clone":
			pr.Cloned++
		case "attach":
			pr.Attached++
		}
	}
	return pr
}

// FrontierDependency pairs an unsatisfied hard Requirement with the uid of
// the open dependency edge that carries it, so a resolution outcome can be
// recorded back against that edge.
type FrontierDependency struct {
	EdgeUID     uuid.UUID
	Requirement *domain.Requirement
}

// FrontierNode is a node reachable via an outgoing CHOICE edge from the
// cursor, considered for affordance/dependency linking during PLANNING.
type FrontierNode struct {
	UID          uuid.UUID
	Dependencies []FrontierDependency // unsatisfied hard requirements on this node
}

// sourceRank orders affordance offers before dependency offers, per the
// determinism rule (source_rank ∈ {affordance=0, dependency=1}).
func sourceRank(broadcast bool) int {
	if broadcast {
		return 0
	}
	return 1
}

// SortOffers orders candidate offers by (source_rank, priority asc, offer.uid asc).
func SortOffers(offers []Offer) []Offer {
	out := append([]Offer(nil), offers...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ra, rb := sourceRank(a.IsBroadcast()), sourceRank(b.IsBroadcast())
		if ra != rb {
			return ra < rb
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.UID.String() < b.UID.String()
	})
	return out
}

// SortRequirementIDs orders requirement uids ascending, the evaluation
// order used when linking dependencies.
func SortRequirementIDs(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Accept applies offer's provisioner against req, returning the resulting
// BuildReceipt. The caller is responsible for checking offer.availability
// (an "available(ns)" guard) before calling Accept. edgeUID is the open
// edge req came from; its resolution is recorded against that edge so it
// survives into the committed graph rather than just this tick's preview.
func Accept(edgeUID uuid.UUID, req *domain.Requirement, offer Offer, mut MutationAPI) BuildReceipt {
	providerUID, ok := offer.Provisioner.Resolve(req, mut)
	if !ok {
		req.IsUnresolvable = true
		mut.ResolveRequirement(edgeUID, nil, true)
		return BuildReceipt{RequirementID: requirementID(req), Accepted: false, Reason: "unresolvable"}
	}

	req.ProviderID = &providerUID
	mut.ResolveRequirement(edgeUID, &providerUID, false)
	op := "attach"
	switch req.Policy {
	case domain.PolicyCreate:
		op = "create"
	case domain.PolicyUpdate:
		op = "update"
	case domain.PolicyClone:
		op = "clone"
	}
	return BuildReceipt{
		RequirementID: requirementID(req),
		ProviderID:    providerUID,
		Operation:     op,
		Accepted:      true,
	}
}

func requirementID(req *domain.Requirement) uuid.UUID {
	return req.UID
}

// LinkAffordances iterates broadcast offers against the frontier: for each
// broadcast offer, if the offer's provisioner can itself serve frontier
// and the requirement accepting it remains unsatisfied, accept it. At
// most one accepted affordance is kept per (requirement, destination)
// pair, ties broken by SortOffers' ordering (the open question resolved
// in favor of first-wins under that order).
func LinkAffordances(frontier []FrontierNode, broadcasts []Offer, mut MutationAPI) []BuildReceipt {
	sorted := SortOffers(broadcasts)
	var builds []BuildReceipt
	accepted := make(map[[2]uuid.UUID]struct{})

	for _, f := range frontier {
		for _, dep := range f.Dependencies {
			req := dep.Requirement
			if req.Satisfied() {
				continue
			}
			for _, offer := range sorted {
				if !offer.Provisioner.SatisfiedBy(f.UID) {
					continue
				}
				key := [2]uuid.UUID{requirementID(req), f.UID}
				if _, dup := accepted[key]; dup {
					continue
				}
				b := Accept(dep.EdgeUID, req, offer, mut)
				if b.Accepted {
					accepted[key] = struct{}{}
					builds = append(builds, b)
					break
				}
			}
		}
	}
	return builds
}

// LinkDependencies tries each frontier node's remaining unsatisfied
// dependencies against responsive offers (keyed by requirement uid), in
// priority order, accepting the first success.
func LinkDependencies(frontier []FrontierNode, responsive map[uuid.UUID][]Offer, mut MutationAPI) []BuildReceipt {
	var builds []BuildReceipt
	for _, f := range frontier {
		ids := make([]uuid.UUID, 0, len(f.Dependencies))
		byID := make(map[uuid.UUID]FrontierDependency, len(f.Dependencies))
		for _, dep := range f.Dependencies {
			id := requirementID(dep.Requirement)
			ids = append(ids, id)
			byID[id] = dep
		}
		for _, id := range SortRequirementIDs(ids) {
			dep := byID[id]
			req := dep.Requirement
			if req.Satisfied() {
				continue
			}
			offers := SortOffers(responsive[id])
			accepted := false
			for _, offer := range offers {
				b := Accept(dep.EdgeUID, req, offer, mut)
				builds = append(builds, b)
				if b.Accepted {
					accepted = true
					break
				}
			}
			if !accepted && len(offers) == 0 {
				req.IsUnresolvable = true
				mut.ResolveRequirement(dep.EdgeUID, nil, true)
				builds = append(builds, BuildReceipt{RequirementID: id, Accepted: false, Reason: "unresolvable"})
			}
		}
	}
	return builds
}
