package websocket

import (
	"time"

	"github.com/google/uuid"
)

// Event types (server -> client)
const (
	EventTickStarted    = "tick.started"
	EventTickCompleted  = "tick.completed"
	EventTickFailed     = "tick.failed"
	EventHandlerFault   = "handler.fault"
	EventJournalFragment = "journal.fragment"
)

// Command types (client -> server)
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
)

// TickEvent is pushed to connected renderers as a story's ticks commit.
// It carries the same shape a driver's TickResult exposes, flattened for
// the wire: a push observer never affects VM determinism, it only
// reports already-committed ticks.
type TickEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	StoryID   string    `json:"story_id"`
	SessionID string    `json:"session_id"`

	PatchID    uuid.UUID `json:"patch_id,omitempty"`
	CursorUID  uuid.UUID `json:"cursor_uid,omitempty"`
	Fragments  []any     `json:"fragments,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	HandlerID  string    `json:"handler_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewTickEvent builds a TickEvent, stamping its type and target.
func NewTickEvent(eventType, storyID, sessionID string) *TickEvent {
	return &TickEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		StoryID:   storyID,
		SessionID: sessionID,
	}
}

// Command represents a command sent from client to server.
type Command struct {
	Action    string `json:"action"`
	StoryID   string `json:"story_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Response represents a response to a client command.
type Response struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSuccessResponse creates a success response.
func NewSuccessResponse(responseType, message string) *Response {
	return &Response{Type: responseType, Success: true, Message: message}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(responseType, errorMsg string) *Response {
	return &Response{Type: responseType, Success: false, Error: errorMsg}
}
