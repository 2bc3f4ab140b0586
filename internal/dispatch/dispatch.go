// Package dispatch implements capability/handler dispatch: priority-sorted
// invocation of registered handlers across a Scope's layers, and the
// per-service aggregation strategies used to combine their results.
package dispatch

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/registry"
)

// HandlerFunc is a registered capability: given the caller node, a
// namespace, and side-channel kwargs, it returns a result (or nil for
// no-op) and an error.
type HandlerFunc func(caller *domain.Node, ns map[string]domain.Value, kwargs map[string]domain.Value) (domain.Value, error)

// Registration is one registered handler tuple.
type Registration struct {
	ID         uuid.UUID
	Service    string
	ScopeKind  domain.ScopeKind
	Priority   domain.Priority
	Fn         HandlerFunc
	CallerType reflect.Type // nil matches any caller
	order      int          // insertion order, for stable tie-breaking
}

// CallReceipt records one handler invocation within a tick.
type CallReceipt struct {
	HandlerID uuid.UUID
	Service   string
	Result    domain.Value
	Err       error
	Timestamp time.Time
}

// Registry holds every registered handler, grouped implicitly by scope
// kind via the ScopeKind field, and preserves insertion order for stable
// tie-breaking.
type Registry struct {
	handlers []*Registration
	seq      int
	nsGuard  *recursionGuard // shared by every GetNS call, so nested calls see the outer anchor
}

// New returns an empty handler Registry.
func New() *Registry {
	return &Registry{}
}

// Register adds a handler and returns its id, usable with Unregister.
func (r *Registry) Register(service string, scopeKind domain.ScopeKind, priority domain.Priority, callerType reflect.Type, fn HandlerFunc) uuid.UUID {
	reg := &Registration{
		ID:         uuid.New(),
		Service:    service,
		ScopeKind:  scopeKind,
		Priority:   priority,
		Fn:         fn,
		CallerType: callerType,
		order:      r.seq,
	}
	r.seq++
	r.handlers = append(r.handlers, reg)
	return reg.ID
}

// Unregister removes a handler by id. No-op if the id is unknown.
func (r *Registry) Unregister(id uuid.UUID) {
	for i, h := range r.handlers {
		if h.ID == id {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

// Aggregation controls how a service's call receipts are combined into a
// single logical result.
type Aggregation = domain.AggregationStrategy

// recursionGuard prevents get_ns handlers from re-entering dispatch for
// the same anchor, per the cycle/recursion guard in the namespace service.
type recursionGuard struct {
	stack map[uuid.UUID]struct{}
}

func newRecursionGuard() *recursionGuard {
	return &recursionGuard{stack: make(map[uuid.UUID]struct{})}
}

func (g *recursionGuard) enter(anchor uuid.UUID) error {
	if _, ok := g.stack[anchor]; ok {
		return fmt.Errorf("dispatch: get_ns re-entrance for anchor %s", anchor)
	}
	g.stack[anchor] = struct{}{}
	return nil
}

func (g *recursionGuard) leave(anchor uuid.UUID) {
	delete(g.stack, anchor)
}

// Dispatch runs service against scope's layers for caller, returning the
// ordered call receipts. kwargs are passed through to every handler
// unchanged. ns is the namespace already assembled for this anchor (it is
// the caller's responsibility to avoid invoking get_ns recursively).
func (r *Registry) Dispatch(caller *domain.Node, scope registry.Scope, service string, ns map[string]domain.Value, kwargs map[string]domain.Value) []CallReceipt {
	candidates := r.collect(scope, service, caller)

	receipts := make([]CallReceipt, 0, len(candidates))
	for _, c := range candidates {
		// Handlers are invoked with the layer's own root entity as caller
		// (e.g. an ANCESTOR-scope locals contributor sees the ancestor,
		// not the original anchor), so the same handler can be registered
		// once per scope kind and reused across every layer it applies to.
		layerCaller := c.root
		if layerCaller == nil {
			layerCaller = caller
		}
		result, err := c.reg.Fn(layerCaller, ns, kwargs)
		receipts = append(receipts, CallReceipt{
			HandlerID: c.reg.ID,
			Service:   service,
			Result:    result,
			Err:       err,
			Timestamp: time.Now(),
		})
	}
	return receipts
}

type candidate struct {
	reg   *Registration
	depth int
	root  *domain.Node
}

// collect gathers handlers across scope's layers matching service and
// caller's type, sorted by (priority, scope_depth, registration_order) —
// inner scopes (lower depth) override outer scopes of equal priority.
func (r *Registry) collect(scope registry.Scope, service string, caller *domain.Node) []candidate {
	var out []candidate
	for _, layer := range scope.Layers {
		for _, h := range r.handlers {
			if h.Service != service || h.ScopeKind != layer.Kind {
				continue
			}
			typeSubject := layer.Root
			if typeSubject == nil {
				typeSubject = caller
			}
			if h.CallerType != nil && typeSubject != nil {
				if reflect.TypeOf(typeSubject) != h.CallerType {
					continue
				}
			}
			out = append(out, candidate{reg: h, depth: layer.Depth, root: layer.Root})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.reg.Priority != b.reg.Priority {
			return a.reg.Priority < b.reg.Priority
		}
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		return a.reg.order < b.reg.order
	})
	return out
}

// ServiceGetNS is the reserved service name namespace assembly dispatches
// as a capability, per the §4.2 get_ns contract: every scope layer
// publishes a get_ns handler contributing a mapping, merged leftmost-wins.
const ServiceGetNS = "get_ns"

// GetNS assembles the namespace visible to caller by dispatching
// ServiceGetNS across scope's layers and merging the results. Handlers
// must not themselves call GetNS for the same anchor; doing so is caught
// by a per-anchor recursion guard.
func (r *Registry) GetNS(caller *domain.Node, scope registry.Scope) (map[string]domain.Value, error) {
	if r.nsGuard == nil {
		r.nsGuard = newRecursionGuard()
	}
	return r.getNS(caller, scope, r.nsGuard)
}

func (r *Registry) getNS(caller *domain.Node, scope registry.Scope, guard *recursionGuard) (map[string]domain.Value, error) {
	anchor := uuid.Nil
	if caller != nil {
		anchor = caller.UID
	}
	if err := guard.enter(anchor); err != nil {
		return nil, err
	}
	defer guard.leave(anchor)

	receipts := r.Dispatch(caller, scope, ServiceGetNS, nil, nil)
	merged := Aggregate(domain.AggregateMerge, receipts)
	ns, _ := merged.(map[string]domain.Value)
	if ns == nil {
		ns = make(map[string]domain.Value)
	}
	return ns, nil
}

// Aggregate combines receipts per strategy.
func Aggregate(strategy Aggregation, receipts []CallReceipt) domain.Value {
	switch strategy {
	case domain.AggregateFirstResult:
		for _, r := range receipts {
			if r.Result != nil {
				return r.Result
			}
		}
		return nil
	case domain.AggregateAllTrue:
		for _, r := range receipts {
			b, ok := r.Result.(bool)
			if !ok || !b {
				return false
			}
		}
		return true
	case domain.AggregateMerge:
		return mergeResults(receipts)
	default: // AggregateGather
		out := make([]domain.Value, 0, len(receipts))
		for _, r := range receipts {
			if r.Result != nil {
				out = append(out, r.Result)
			}
		}
		return out
	}
}

// mergeResults combines mapping/list-shaped results leftmost-wins for
// mappings (as a ChainMap-like merge), or concatenates lists.
func mergeResults(receipts []CallReceipt) domain.Value {
	merged := make(map[string]domain.Value)
	var list []domain.Value
	isMap, isList := false, false

	for _, r := range receipts {
		switch v := r.Result.(type) {
		case map[string]domain.Value:
			isMap = true
			for k, val := range v {
				if _, exists := merged[k]; !exists {
					merged[k] = val
				}
			}
		case []domain.Value:
			isList = true
			list = append(list, v...)
		}
	}

	if isMap {
		return merged
	}
	if isList {
		return list
	}
	return nil
}
