package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

// subscriptions tracks which (storyID, sessionID) keys a client follows.
type subscriptions struct {
	sessions map[string]bool
	mu       sync.RWMutex
}

func newSubscriptions() *subscriptions {
	return &subscriptions{sessions: make(map[string]bool)}
}

// Client represents one WebSocket connection subscribed to tick events.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *TickEvent

	id   string
	subs *subscriptions
}

// NewClient creates a Client bound to hub and conn.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan *TickEvent, sendBufferSize),
		id:   id,
		subs: newSubscriptions(),
	}
}

// readPump pumps commands from the connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Str("client_id", c.id).Err(err).Msg("websocket unexpected close")
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.sendResponse(NewErrorResponse("error", "invalid command format"))
			continue
		}
		c.handleCommand(&cmd)
	}
}

// writePump pumps tick events from the hub to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleCommand(cmd *Command) {
	switch cmd.Action {
	case CmdSubscribe:
		c.handleSubscribe(cmd)
	case CmdUnsubscribe:
		c.handleUnsubscribe(cmd)
	default:
		c.sendResponse(NewErrorResponse("error", "unknown command: "+cmd.Action))
	}
}

func (c *Client) handleSubscribe(cmd *Command) {
	if cmd.StoryID == "" {
		c.sendResponse(NewErrorResponse(CmdSubscribe, "story_id required"))
		return
	}
	c.hub.Subscribe(c, cmd.StoryID, cmd.SessionID)
	c.sendResponse(NewSuccessResponse(CmdSubscribe, "subscribed to "+sessionKey(cmd.StoryID, cmd.SessionID)))
}

func (c *Client) handleUnsubscribe(cmd *Command) {
	if cmd.StoryID == "" {
		c.sendResponse(NewErrorResponse(CmdUnsubscribe, "story_id required"))
		return
	}
	c.hub.Unsubscribe(c, cmd.StoryID, cmd.SessionID)
	c.sendResponse(NewSuccessResponse(CmdUnsubscribe, "unsubscribed from "+sessionKey(cmd.StoryID, cmd.SessionID)))
}

func (c *Client) sendResponse(resp *Response) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteJSON(resp)
}
