package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionAuthenticator authorizes a renderer's websocket connection
// before it is upgraded, returning an opaque client id on success.
type SessionAuthenticator interface {
	Authenticate(r *http.Request) (clientID string, err error)
}

// Handler upgrades HTTP requests to WebSocket connections and registers
// them with a Hub.
type Handler struct {
	hub    *Hub
	auth   SessionAuthenticator
	logger zerolog.Logger
}

// NewHandler creates a WebSocket handler bound to hub, authorizing
// connections via auth.
func NewHandler(hub *Hub, auth SessionAuthenticator, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, auth: auth, logger: logger}
}

// ServeHTTP authenticates, upgrades, and registers one client connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID, err := h.auth.Authenticate(r)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket authentication failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if clientID == "" {
		clientID = uuid.New().String()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(clientID, h.hub, conn)
	h.logger.Info().Str("client_id", clientID).Str("remote_addr", r.RemoteAddr).Msg("websocket client connected")

	h.hub.register <- client
	go client.writePump()
	go client.readPump()
}

// SetCheckOrigin customizes the upgrader's origin check.
func SetCheckOrigin(f func(r *http.Request) bool) {
	upgrader.CheckOrigin = f
}
