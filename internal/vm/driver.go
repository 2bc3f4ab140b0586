package vm

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/graph"
	"github.com/mbflow-labs/storygraph/internal/registry"
)

// RunReason classifies why RunUntilBlocked stopped.
type RunReason string

const (
	ReasonBlocked  RunReason = "blocked"
	ReasonNoChoice RunReason = "no_choice"
	ReasonLoop     RunReason = "loop"
	ReasonMaxSteps RunReason = "max_steps"
)

// RunResult is the outcome of a run_until_blocked call.
type RunResult struct {
	Patches []*domain.Patch
	Reason  RunReason
	Err     error
}

// Driver owns the outer step loop on top of an Engine: it drives one or
// more ticks per Step call (following POSTREQS cursor handoffs), and
// exposes RunUntilBlocked for auto-playing until the story needs a
// player choice.
type Driver struct {
	StoryID string
	engine  *Engine
	cursor  uuid.UUID
	history []uuid.UUID
}

// NewDriver starts a Driver at cursor on engine.
func NewDriver(engine *Engine, cursor uuid.UUID) *Driver {
	return &Driver{
		StoryID: engine.StoryID,
		engine:  engine,
		cursor:  cursor,
		history: []uuid.UUID{cursor},
	}
}

// Cursor returns the driver's current position.
func (d *Driver) Cursor() uuid.UUID {
	return d.cursor
}

// Step runs one player-initiated tick on selectedEdge, then follows any
// POSTREQS-produced redirects until none remains, the auto-traversal
// bound is reached, or a fatal error occurs. It returns every patch
// committed in the chain (in commit order) alongside the final tick's
// result, since a single Step can span several committed patches.
//
// Choosing an edge moves the tick to its destination: the tick that runs
// is the one entering selectedEdge.DstID, with selectedEdge itself
// retained on the frame only for RNG seeding and provenance. A nil edge
// re-runs the tick at the driver's current cursor (used by callers that
// want to re-evaluate a node without a player choice, e.g. retrying after
// a transient handler fault).
func (d *Driver) Step(selectedEdge *domain.Edge) ([]*domain.Patch, TickResult) {
	chainLen := 0
	edge := selectedEdge
	cursor := d.cursor
	if selectedEdge != nil {
		cursor = selectedEdge.DstID
	}

	var patches []*domain.Patch
	var last TickResult
	for {
		patch, result := d.engine.RunTick(cursor, edge, d.history, chainLen)
		if result.Err != nil {
			return patches, result
		}
		last = result
		if patch != nil {
			patches = append(patches, patch)
		}

		if result.NextCursorUID == nil {
			d.cursor = result.CursorUID
			d.history = append(d.history, d.cursor)
			return patches, last
		}

		d.cursor = *result.NextCursorUID
		cursor = d.cursor
		d.history = append(d.history, d.cursor)
		chainLen++
		if chainLen > d.engine.config.AutoTraversalBound {
			return patches, last
		}
		edge = nil // auto-traversal has no player-selected edge
	}
}

// RunUntilBlocked repeatedly follows an enabled CHOICE edge whose
// trigger_phase is set (a BEFORE- or AFTER-triggered auto-choice; MANUAL
// edges are never followed) until the cursor has no enabled edge
// (no_choice) or only MANUAL ones (blocked), a loop signature repeats, or
// max_steps is reached.
func (d *Driver) RunUntilBlocked(maxSteps int) RunResult {
	var patches []*domain.Patch
	seen := make(map[string]struct{})

	for i := 0; i < maxSteps; i++ {
		preview := d.engine.base
		n, ok := preview.GetNode(d.cursor)
		if !ok {
			return RunResult{Patches: patches, Reason: ReasonBlocked, Err: fmt.Errorf("vm: cursor %s missing from graph", d.cursor)}
		}

		scope := registry.Assemble(preview, n)
		ns, _ := d.engine.handlers.GetNS(n, scope)

		enabled := d.enabledChoices(preview, n, ns)
		if len(enabled) == 0 {
			return RunResult{Patches: patches, Reason: ReasonNoChoice}
		}

		sig := loopSignature(d.cursor, enabled)
		if _, dup := seen[sig]; dup {
			return RunResult{Patches: patches, Reason: ReasonLoop}
		}
		seen[sig] = struct{}{}

		auto := d.firstAutoEdge(preview, enabled)
		if auto == nil {
			return RunResult{Patches: patches, Reason: ReasonBlocked}
		}

		patch, result := d.engine.RunTick(auto.DstID, auto, d.history, 0)
		if result.Err != nil {
			return RunResult{Patches: patches, Reason: ReasonBlocked, Err: result.Err}
		}
		patches = append(patches, patch)

		if result.NextCursorUID != nil {
			d.cursor = *result.NextCursorUID
		} else {
			d.cursor = result.CursorUID
		}
		d.history = append(d.history, d.cursor)
	}

	return RunResult{Patches: patches, Reason: ReasonMaxSteps}
}

// enabledChoices returns the outgoing CHOICE edges from n that are
// currently available under ns and whose destination carries no unresolved
// hard dependency Requirement from the last PLANNING pass.
func (d *Driver) enabledChoices(g *graph.Graph, n *domain.Node, ns map[string]domain.Value) []*domain.Edge {
	var out []*domain.Edge
	for _, e := range g.FindEdges(n.UID, graph.DirOut, nil) {
		if e.Kind != domain.EdgeKindChoice {
			continue
		}
		avail, err := e.Available(ns, d.engine.eval.EvalBool)
		if err != nil || !avail {
			continue
		}
		if !destinationSatisfied(g, e.DstID) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// destinationSatisfied reports whether dst has no outstanding hard
// dependency Requirement: an open CHOICE edge into a node that is still
// missing a required provider is not yet available to the player, per the
// closing PLANNING rule. Requirement resolution is recorded by RESOLVE_REQUIREMENT
// effects against the owning edge, so this reads the same committed state
// PLANNING last left behind rather than anything recomputed here.
func destinationSatisfied(g *graph.Graph, dst uuid.UUID) bool {
	for _, e := range g.FindEdges(dst, graph.DirOut, nil) {
		if e.Requirement != nil && e.IsDependency() && !e.Requirement.Satisfied() {
			return false
		}
	}
	return true
}

// firstAutoEdge returns the first enabled edge whose trigger_phase is set
// (a BEFORE/AFTER auto-follow choice), or nil if every enabled edge
// requires a manual player selection. Edges carry no priority; when several
// qualify, the one returned follows FindEdges order, which is not defined.
func (d *Driver) firstAutoEdge(g *graph.Graph, enabled []*domain.Edge) *domain.Edge {
	for _, e := range enabled {
		if e.TriggerPhase != nil {
			return e
		}
	}
	return nil
}

// loopSignature builds the (cursor_uid, multiset(enabled_choice_ids))
// signature used to detect an auto-traversal cycle.
func loopSignature(cursor uuid.UUID, enabled []*domain.Edge) string {
	ids := make([]string, len(enabled))
	for i, e := range enabled {
		ids[i] = e.UID.String()
	}
	sort.Strings(ids)
	sig := cursor.String()
	for _, id := range ids {
		sig += "|" + id
	}
	return sig
}
