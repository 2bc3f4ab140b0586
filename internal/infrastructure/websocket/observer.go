package websocket

import (
	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/vm"
)

// SocketObserver implements vm.Observer, pushing each tick lifecycle
// event to a Broadcaster. It never feeds back into the engine: ticks
// commit (or fail) independently of whether anyone is listening.
type SocketObserver struct {
	broadcaster Broadcaster
	sessionID   string
}

// NewSocketObserver builds an observer that broadcasts under sessionID
// for every story it is attached to.
func NewSocketObserver(broadcaster Broadcaster, sessionID string) *SocketObserver {
	return &SocketObserver{broadcaster: broadcaster, sessionID: sessionID}
}

// OnTickStart notifies subscribers that a tick began at cursor.
func (o *SocketObserver) OnTickStart(storyID string, cursor uuid.UUID, step uint64) {
	event := NewTickEvent(EventTickStarted, storyID, o.sessionID)
	event.CursorUID = cursor
	o.broadcaster.Broadcast(storyID, o.sessionID, event)
}

// OnTickComplete notifies subscribers that a tick committed, including
// its journal fragments' rendered content.
func (o *SocketObserver) OnTickComplete(storyID string, result vm.TickResult) {
	event := NewTickEvent(EventTickCompleted, storyID, o.sessionID)
	event.PatchID = result.PatchID
	event.CursorUID = result.CursorUID
	event.Fragments = fragmentContents(result.Journal)
	o.broadcaster.Broadcast(storyID, o.sessionID, event)

	for _, frag := range result.Journal {
		fragEvent := NewTickEvent(EventJournalFragment, storyID, o.sessionID)
		fragEvent.CursorUID = result.CursorUID
		fragEvent.Fragments = []any{frag.Content}
		o.broadcaster.Broadcast(storyID, o.sessionID, fragEvent)
	}
}

// OnTickFail notifies subscribers that a tick aborted.
func (o *SocketObserver) OnTickFail(storyID string, err error) {
	event := NewTickEvent(EventTickFailed, storyID, o.sessionID)
	event.Error = err.Error()
	o.broadcaster.Broadcast(storyID, o.sessionID, event)
}

// OnHandlerFault notifies subscribers that a handler faulted during phase.
func (o *SocketObserver) OnHandlerFault(storyID string, phase domain.Phase, handlerID string, err error) {
	event := NewTickEvent(EventHandlerFault, storyID, o.sessionID)
	event.Phase = phase.String()
	event.HandlerID = handlerID
	event.Error = err.Error()
	o.broadcaster.Broadcast(storyID, o.sessionID, event)
}

func fragmentContents(fragments []domain.Fragment) []any {
	if len(fragments) == 0 {
		return nil
	}
	out := make([]any, len(fragments))
	for i, f := range fragments {
		out[i] = f.Content
	}
	return out
}
