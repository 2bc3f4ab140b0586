package websocket

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/vm"
)

type fakeBroadcaster struct {
	events []*TickEvent
}

func (f *fakeBroadcaster) Broadcast(storyID, sessionID string, event *TickEvent) {
	f.events = append(f.events, event)
}

func TestSocketObserver_OnTickStart(t *testing.T) {
	fb := &fakeBroadcaster{}
	obs := NewSocketObserver(fb, "session-1")
	cursor := uuid.New()

	obs.OnTickStart("story-1", cursor, 3)

	assert.Len(t, fb.events, 1)
	assert.Equal(t, EventTickStarted, fb.events[0].Type)
	assert.Equal(t, cursor, fb.events[0].CursorUID)
	assert.Equal(t, "session-1", fb.events[0].SessionID)
}

func TestSocketObserver_OnTickComplete_EmitsCompletionAndFragments(t *testing.T) {
	fb := &fakeBroadcaster{}
	obs := NewSocketObserver(fb, "session-1")

	result := vm.TickResult{
		PatchID:   uuid.New(),
		CursorUID: uuid.New(),
		Journal: []domain.Fragment{
			domain.NewTextFragment("you open the door"),
			domain.NewTextFragment("a cold draft follows"),
		},
	}

	obs.OnTickComplete("story-1", result)

	assert.Len(t, fb.events, 3) // 1 completion + 2 fragment events
	assert.Equal(t, EventTickCompleted, fb.events[0].Type)
	assert.Equal(t, EventJournalFragment, fb.events[1].Type)
	assert.Equal(t, EventJournalFragment, fb.events[2].Type)
}

func TestSocketObserver_OnTickFail(t *testing.T) {
	fb := &fakeBroadcaster{}
	obs := NewSocketObserver(fb, "session-1")

	obs.OnTickFail("story-1", errors.New("boom"))

	assert.Len(t, fb.events, 1)
	assert.Equal(t, EventTickFailed, fb.events[0].Type)
	assert.Equal(t, "boom", fb.events[0].Error)
}

func TestSocketObserver_OnHandlerFault(t *testing.T) {
	fb := &fakeBroadcaster{}
	obs := NewSocketObserver(fb, "session-1")

	obs.OnHandlerFault("story-1", domain.PhasePrereqs, "gate.check", errors.New("fault"))

	assert.Len(t, fb.events, 1)
	assert.Equal(t, EventHandlerFault, fb.events[0].Type)
	assert.Equal(t, "PREREQS", fb.events[0].Phase)
	assert.Equal(t, "gate.check", fb.events[0].HandlerID)
}
