package websocket

import (
	"sync"

	"github.com/rs/zerolog"
)

// Broadcaster pushes tick events to subscribed clients, keyed by
// (storyID, sessionID). Implementations never affect VM determinism:
// they only observe already-committed ticks.
type Broadcaster interface {
	Broadcast(storyID, sessionID string, event *TickEvent)
}

type broadcastMsg struct {
	storyID   string
	sessionID string
	event     *TickEvent
}

// Hub manages WebSocket connections and fans out tick events to the
// clients subscribed to a given (storyID, sessionID) pair.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg

	bySession map[string]map[*Client]bool // "storyID/sessionID" -> clients

	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, 256),
		bySession:  make(map[string]map[*Client]bool),
		logger:     logger,
	}
}

// Run starts the hub's main event loop; call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case msg := <-h.broadcast:
			h.broadcastEvent(msg)
		}
	}
}

func sessionKey(storyID, sessionID string) string {
	return storyID + "/" + sessionID
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.logger.Debug().Str("client_id", client.id).Int("total_clients", len(h.clients)).Msg("client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	client.subs.mu.RLock()
	for key := range client.subs.sessions {
		if clients, ok := h.bySession[key]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.bySession, key)
			}
		}
	}
	client.subs.mu.RUnlock()

	h.logger.Debug().Str("client_id", client.id).Int("total_clients", len(h.clients)).Msg("client unregistered")
}

// Broadcast implements Broadcaster.
func (h *Hub) Broadcast(storyID, sessionID string, event *TickEvent) {
	h.broadcast <- &broadcastMsg{storyID: storyID, sessionID: sessionID, event: event}
}

func (h *Hub) broadcastEvent(msg *broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	key := sessionKey(msg.storyID, msg.sessionID)
	clients, ok := h.bySession[key]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- msg.event:
		default:
			h.logger.Warn().Str("client_id", client.id).Str("event_type", msg.event.Type).Msg("client buffer full, dropping message")
		}
	}
}

// Subscribe adds a (storyID, sessionID) subscription for client.
func (h *Hub) Subscribe(client *Client, storyID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.subs.mu.Lock()
	defer client.subs.mu.Unlock()

	key := sessionKey(storyID, sessionID)
	client.subs.sessions[key] = true
	if h.bySession[key] == nil {
		h.bySession[key] = make(map[*Client]bool)
	}
	h.bySession[key][client] = true
	h.logger.Debug().Str("client_id", client.id).Str("session", key).Msg("client subscribed")
}

// Unsubscribe removes a (storyID, sessionID) subscription for client.
func (h *Hub) Unsubscribe(client *Client, storyID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.subs.mu.Lock()
	defer client.subs.mu.Unlock()

	key := sessionKey(storyID, sessionID)
	delete(client.subs.sessions, key)
	if clients, ok := h.bySession[key]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.bySession, key)
		}
	}
	h.logger.Debug().Str("client_id", client.id).Str("session", key).Msg("client unsubscribed")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
