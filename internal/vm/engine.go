// Package vm implements the resolution-phase VM: per-tick phase runner,
// provisioning integration, effect canonicalization/apply, and the
// driver's outer step/run_until_blocked loop.
package vm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mbflow-labs/storygraph/internal/dispatch"
	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/effects"
	"github.com/mbflow-labs/storygraph/internal/exprutil"
	"github.com/mbflow-labs/storygraph/internal/graph"
	"github.com/mbflow-labs/storygraph/internal/journal"
	"github.com/mbflow-labs/storygraph/internal/provision"
	"github.com/mbflow-labs/storygraph/internal/registry"
	"github.com/mbflow-labs/storygraph/internal/vmerr"
)

// Service names dispatched over the course of a tick.
const (
	ServiceValidate = "validate"
	ServicePrereqs  = "prereqs"
	ServicePostreqs = "postreqs"
	ServiceOffers   = "offers"
	ServiceUpdate   = "update"
	ServiceJournal  = "journal"
)

// EngineConfig bounds the engine's resource usage, per §6 environment/config.
type EngineConfig struct {
	MaxWaveWidth       int
	AutoTraversalBound int
	MaxEffectsPerTick  int
	SnapshotEvery      int
	PhaseTimeout       time.Duration
}

// DefaultEngineConfig returns the spec's documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxWaveWidth:       8,
		AutoTraversalBound: 64,
		MaxEffectsPerTick:  10000,
		SnapshotEvery:      100,
		PhaseTimeout:       5 * time.Second,
	}
}

// Observer receives best-effort, non-blocking notifications at tick
// boundaries. A nil method is never called; panics from an Observer are
// recovered and logged, never propagated into the tick.
type Observer interface {
	OnTickStart(storyID string, cursor uuid.UUID, step uint64)
	OnTickComplete(storyID string, result TickResult)
	OnTickFail(storyID string, err error)
	OnHandlerFault(storyID string, phase domain.Phase, handlerID string, err error)
}

// Engine runs ticks of the story-graph VM against one story's graph.
type Engine struct {
	StoryID  string
	base     *graph.Graph
	handlers *dispatch.Registry
	eval     *exprutil.Evaluator
	config   EngineConfig
	observer Observer

	epoch uint64 // patch count so far, feeds RNG seeding
}

// NewEngine wires a graph and handler registry into a runnable Engine.
func NewEngine(storyID string, base *graph.Graph, handlers *dispatch.Registry, config EngineConfig) *Engine {
	return &Engine{
		StoryID:  storyID,
		base:     base,
		handlers: handlers,
		eval:     exprutil.New(),
		config:   config,
	}
}

// SetObserver installs the engine's observer; pass nil to disable.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Graph returns the engine's current committed base graph. Callers must
// not mutate it directly; use it for read-only snapshots and queries.
func (e *Engine) Graph() *graph.Graph {
	return e.base
}

// Epoch returns the number of ticks committed against this engine so far.
func (e *Engine) Epoch() uint64 {
	return e.epoch
}

// Config returns the engine's tick-loop limits.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// TickResult is the outcome of one committed tick.
type TickResult struct {
	PatchID       uuid.UUID
	CursorUID     uuid.UUID // the node the tick actually settled on (post PREREQS restarts)
	Journal       []domain.Fragment
	NextCursorUID *uuid.UUID
	Planning      *provision.PlanningReceipt // the last PLANNING pass's receipt, nil if the tick never reached it
	Err           error
}

// RunTick executes exactly one tick starting at cursor, handling the
// intra-tick PREREQS auto-traversal restart internally. It returns the
// committed patch (applied to e.base) and the result, or a nil patch and
// an error in TickResult.Err (ValidationFailed, AutoTraversalExceeded,
// InvariantViolation). Unresolvable requirements do not fail the tick;
// they are listed in TickResult.Planning.
func (e *Engine) RunTick(cursor uuid.UUID, selectedEdge *domain.Edge, history []uuid.UUID, chainLen int) (*domain.Patch, TickResult) {
	e.notifyStart(cursor)

	seed := SeedTick(e.StoryID, e.epoch, tickChoiceID(selectedEdge), e.baseHash())
	frame := NewFrame(cursor, e.epoch, history, selectedEdge, seed)

	preview := e.rebuildPreview(frame)
	reg := registry.New(preview)

	for restarts := 0; ; restarts++ {
		if restarts > e.config.AutoTraversalBound {
			err := vmerr.AutoTraversalExceeded(chainLen + restarts)
			e.notifyFail(err)
			return nil, TickResult{Err: err}
		}

		n, ok := reg.Get(frame.CursorUID)
		if !ok {
			err := vmerr.InvariantViolation(fmt.Sprintf("cursor %s is not a node", frame.CursorUID))
			e.notifyFail(err)
			return nil, TickResult{Err: err}
		}

		scope := registry.Assemble(preview, n)
		ns, _ := e.handlers.GetNS(n, scope)

		if err := e.runValidate(n, scope, ns, frame); err != nil {
			e.notifyFail(err)
			return nil, TickResult{Err: err}
		}

		redirected, target := e.runRedirectPhase(ServicePrereqs, domain.PhasePrereqs, n, scope, ns, frame)
		if redirected {
			frame.CursorUID = target
			frame.CursorHistory = append(frame.CursorHistory, target)
			preview = e.rebuildPreview(frame)
			reg = registry.New(preview)
			continue
		}

		e.runPlanning(n, preview, reg, scope, ns, frame)
		preview = e.rebuildPreview(frame)

		e.runUpdate(n, scope, ns, frame)
		preview = e.rebuildPreview(frame)

		if len(frame.Buffer.Effects()) > e.config.MaxEffectsPerTick {
			err := vmerr.InvariantViolation("effect buffer exceeded MaxEffectsPerTick")
			e.notifyFail(err)
			return nil, TickResult{Err: err}
		}

		redirectedPost, targetPost := e.runRedirectPhase(ServicePostreqs, domain.PhasePostreqs, n, scope, ns, frame)
		if redirectedPost {
			frame.Redirect(targetPost)
		}

		fragments := e.runJournal(n, scope, ns, frame)

		patch := e.commit(frame, fragments)
		result := TickResult{PatchID: patch.TickID, CursorUID: frame.CursorUID, Journal: fragments, NextCursorUID: frame.NextCursorUID, Planning: frame.Planning}
		e.notifyComplete(result)
		return patch, result
	}
}

func (e *Engine) runValidate(caller *domain.Node, scope registry.Scope, ns map[string]domain.Value, frame *Frame) error {
	frame.Buffer.SetProvenance(domain.PhaseValidate, "")
	receipts := e.handlers.Dispatch(caller, scope, ServiceValidate, ns, nil)
	frame.RecordReceipts(receipts)
	ok, _ := dispatch.Aggregate(domain.AggregateAllTrue, receipts).(bool)
	if len(receipts) > 0 && !ok {
		var reasons []string
		for _, r := range receipts {
			if b, isBool := r.Result.(bool); isBool && !b {
				reasons = append(reasons, fmt.Sprintf("handler %s returned false", r.HandlerID))
			}
		}
		return vmerr.ValidationFailed(reasons)
	}
	return nil
}

// runRedirectPhase dispatches a PREREQS/POSTREQS-shaped service: the
// highest-priority non-nil edge return is checked for availability; only
// that single candidate is consulted, per the spec's literal "on the
// highest-priority non-None return" wording.
func (e *Engine) runRedirectPhase(service string, phase domain.Phase, caller *domain.Node, scope registry.Scope, ns map[string]domain.Value, frame *Frame) (bool, uuid.UUID) {
	frame.Buffer.SetProvenance(phase, "")
	receipts := e.handlers.Dispatch(caller, scope, service, ns, nil)
	frame.RecordReceipts(receipts)

	for _, r := range receipts {
		edge, ok := r.Result.(*domain.Edge)
		if !ok || edge == nil {
			continue
		}
		avail, err := edge.Available(ns, e.eval.EvalBool)
		if err != nil || !avail {
			return false, uuid.Nil
		}
		return true, edge.DstID
	}
	return false, uuid.Nil
}

func (e *Engine) runPlanning(caller *domain.Node, preview *graph.Graph, reg *registry.Registry, scope registry.Scope, ns map[string]domain.Value, frame *Frame) {
	frame.Buffer.SetProvenance(domain.PhasePlanning, "")
	mut := NewMutationAPI(frame.Buffer, preview, reg)

	receipts := e.handlers.Dispatch(caller, scope, ServiceOffers, ns, nil)
	frame.RecordReceipts(receipts)

	var broadcasts []provision.Offer
	responsive := make(map[uuid.UUID][]provision.Offer)
	for _, r := range receipts {
		switch v := r.Result.(type) {
		case provision.Offer:
			addOffer(v, &broadcasts, responsive)
		case []provision.Offer:
			for _, o := range v {
				addOffer(o, &broadcasts, responsive)
			}
		}
	}

	frontier := e.frontier(caller, preview)
	addFallbackOffers(frontier, responsive)

	var builds []provision.BuildReceipt
	builds = append(builds, provision.LinkAffordances(frontier, broadcasts, mut)...)
	builds = append(builds, provision.LinkDependencies(frontier, responsive, mut)...)

	receiptSummary := provision.Summarize(builds)
	frame.Planning = &receiptSummary
}

// addFallbackOffers ensures every unsatisfied frontier dependency has at
// least one responsive offer to try, by appending the engine's default
// Provisioner (grounded directly against the requirement's own
// criteria/identifier/template) when no handler ever offered one.
func addFallbackOffers(frontier []provision.FrontierNode, responsive map[uuid.UUID][]provision.Offer) {
	fallback := provision.NewDefaultProvisioner()
	for _, f := range frontier {
		for _, dep := range f.Dependencies {
			id := dep.Requirement.UID
			if len(responsive[id]) > 0 {
				continue
			}
			responsive[id] = append(responsive[id], provision.Offer{
				UID:           uuid.New(),
				RequirementID: id,
				Provisioner:   fallback,
				Priority:      domain.PriorityLast,
			})
		}
	}
}

func addOffer(o provision.Offer, broadcasts *[]provision.Offer, responsive map[uuid.UUID][]provision.Offer) {
	if o.IsBroadcast() {
		*broadcasts = append(*broadcasts, o)
		return
	}
	responsive[o.RequirementID] = append(responsive[o.RequirementID], o)
}

// frontier returns the nodes reachable from caller via outgoing CHOICE
// edges, along with each one's unsatisfied hard dependency requirements.
func (e *Engine) frontier(caller *domain.Node, preview *graph.Graph) []provision.FrontierNode {
	var out []provision.FrontierNode
	for _, edge := range preview.FindEdges(caller.UID, graph.DirOut, nil) {
		if edge.Kind != domain.EdgeKindChoice {
			continue
		}
		dst, ok := preview.GetNode(edge.DstID)
		if !ok {
			continue
		}
		var deps []provision.FrontierDependency
		for _, out2 := range preview.FindEdges(dst.UID, graph.DirOut, nil) {
			if out2.Requirement != nil && out2.IsDependency() && !out2.Requirement.Satisfied() {
				deps = append(deps, provision.FrontierDependency{EdgeUID: out2.UID, Requirement: out2.Requirement})
			}
		}
		out = append(out, provision.FrontierNode{UID: dst.UID, Dependencies: deps})
	}
	return out
}

func (e *Engine) runUpdate(caller *domain.Node, scope registry.Scope, ns map[string]domain.Value, frame *Frame) {
	frame.Buffer.SetProvenance(domain.PhaseUpdate, "")
	receipts := e.handlers.Dispatch(caller, scope, ServiceUpdate, ns, nil)
	frame.RecordReceipts(receipts)
}

func (e *Engine) runJournal(caller *domain.Node, scope registry.Scope, ns map[string]domain.Value, frame *Frame) []domain.Fragment {
	frame.Buffer.SetProvenance(domain.PhaseJournal, "")
	marker := domain.NewMarkerFragment(fmt.Sprintf("[step %04d]: cursor at %s", frame.Step, caller.Label))
	receipts := e.handlers.Dispatch(caller, scope, ServiceJournal, ns, nil)
	receipts = append([]dispatch.CallReceipt{{Service: ServiceJournal, Result: marker}}, receipts...)
	frame.RecordReceipts(receipts)
	return journal.Coerce(receipts)
}

// rebuildPreview reconstructs the preview graph by replaying the frame's
// current (uncanonicalized) effects against the base graph, for
// read-your-writes between phases.
func (e *Engine) rebuildPreview(frame *Frame) *graph.Graph {
	preview, err := graph.FromDTO(e.base.ToDTO(), graph.DefaultResolver{})
	if err != nil {
		log.Error().Err(err).Msg("rebuild preview: clone base graph")
		return e.base
	}
	if err := effects.Apply(preview, frame.Buffer.Effects()); err != nil {
		log.Error().Err(err).Msg("rebuild preview: replay in-tick effects")
	}
	return preview
}

// commit canonicalizes the frame's effect buffer, applies it to the base
// graph, and returns the resulting patch. Only called on a successful tick.
func (e *Engine) commit(frame *Frame, fragments []domain.Fragment) *domain.Patch {
	canonical := effects.Canonicalize(frame.Buffer.Effects())
	if err := effects.Apply(e.base, canonical); err != nil {
		log.Error().Err(err).Msg("apply canonicalized patch to base graph")
	}
	e.epoch++

	patch := &domain.Patch{
		TickID:  uuid.New(),
		RNGSeed: SeedTick(e.StoryID, e.epoch, tickChoiceID(frame.SelectedEdge), e.baseHash()),
		Effects: canonical,
		Journal: fragments,
	}
	return patch
}

func tickChoiceID(edge *domain.Edge) uuid.UUID {
	if edge == nil {
		return uuid.Nil
	}
	return edge.UID
}

// baseHash is a cheap structural fingerprint of the base graph, fed into
// RNG seeding; it does not need to be cryptographically strong, only
// stable for identical graph content.
func (e *Engine) baseHash() []byte {
	dto := e.base.ToDTO()
	return []byte(fmt.Sprintf("%d:%d", len(dto.Items), e.epoch))
}

func (e *Engine) notifyStart(cursor uuid.UUID) {
	if e.observer == nil {
		return
	}
	defer recoverObserver()
	e.observer.OnTickStart(e.StoryID, cursor, e.epoch)
}

func (e *Engine) notifyComplete(result TickResult) {
	if e.observer == nil {
		return
	}
	defer recoverObserver()
	e.observer.OnTickComplete(e.StoryID, result)
}

func (e *Engine) notifyFail(err error) {
	log.Error().Err(err).Str("story_id", e.StoryID).Msg("tick failed")
	if e.observer == nil {
		return
	}
	defer recoverObserver()
	e.observer.OnTickFail(e.StoryID, err)
}

func recoverObserver() {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Msg("observer callback panicked")
	}
}
