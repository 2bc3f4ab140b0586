package vm

import (
	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/dispatch"
	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/effects"
	"github.com/mbflow-labs/storygraph/internal/provision"
)

// Frame is per-tick execution state: the scoped resources (effect buffer,
// receipt list, RNG) bound to one tick and released regardless of error
// path when the tick ends.
type Frame struct {
	CursorUID     uuid.UUID
	Step          uint64
	CursorHistory []uuid.UUID
	SelectedEdge  *domain.Edge
	CallReceipts  []dispatch.CallReceipt
	NextCursorUID *uuid.UUID

	Buffer   *effects.Buffer
	RNG      *TickRNG
	Phase    domain.Phase
	Planning *provision.PlanningReceipt
}

// NewFrame starts a fresh frame for cursor at the given step, with a
// freshly seeded RNG.
func NewFrame(cursor uuid.UUID, step uint64, history []uuid.UUID, selected *domain.Edge, seed uint64) *Frame {
	return &Frame{
		CursorUID:     cursor,
		Step:          step,
		CursorHistory: history,
		SelectedEdge:  selected,
		Buffer:        effects.NewBuffer(),
		RNG:           NewTickRNG(seed),
	}
}

// RecordReceipts appends receipts from one phase dispatch to the frame's
// running call-receipt log.
func (f *Frame) RecordReceipts(receipts []dispatch.CallReceipt) {
	f.CallReceipts = append(f.CallReceipts, receipts...)
}

// Redirect records a cursor handoff produced by a PREREQS/POSTREQS handler.
func (f *Frame) Redirect(target uuid.UUID) {
	f.NextCursorUID = &target
}
