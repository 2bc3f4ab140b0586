package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTickEvent(t *testing.T) {
	event := NewTickEvent(EventTickCompleted, "story-1", "session-1")

	assert.Equal(t, EventTickCompleted, event.Type)
	assert.Equal(t, "story-1", event.StoryID)
	assert.Equal(t, "session-1", event.SessionID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestNewSuccessResponse(t *testing.T) {
	resp := NewSuccessResponse(CmdSubscribe, "subscribed")

	assert.Equal(t, CmdSubscribe, resp.Type)
	assert.True(t, resp.Success)
	assert.Equal(t, "subscribed", resp.Message)
	assert.Empty(t, resp.Error)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(CmdUnsubscribe, "story_id required")

	assert.Equal(t, CmdUnsubscribe, resp.Type)
	assert.False(t, resp.Success)
	assert.Equal(t, "story_id required", resp.Error)
	assert.Empty(t, resp.Message)
}
