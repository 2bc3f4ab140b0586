package rest

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mbflow-labs/storygraph/internal/dispatch"
	"github.com/mbflow-labs/storygraph/internal/graph"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/monitoring"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/storage"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/websocket"
	"github.com/mbflow-labs/storygraph/internal/vm"
)

var errUnauthorized = errors.New("unauthorized")

// ServerConfig controls which middleware the Server installs.
type ServerConfig struct {
	EnableCORS      bool
	EnableRateLimit bool
	RateLimitMax    int
	RateLimitWindow time.Duration
	APIKeys         []string
}

// session wraps one running story's Engine and Driver, guarded by its own
// mutex: ticks on a given story are serialized, but different stories run
// independently of one another.
type session struct {
	mu     sync.Mutex
	engine *vm.Engine
	driver *vm.Driver
}

// Server exposes the story-graph driver over HTTP: stepping a story
// forward by one player choice, auto-playing until blocked, and reading
// back graph snapshots and committed patches.
type Server struct {
	mux         *http.ServeMux
	logger      zerolog.Logger
	store       storage.PatchStore
	factory     EngineFactory
	cfg         ServerConfig
	limiter     *rateLimiter
	auth        *apiKeyAuth
	broadcaster websocket.Broadcaster
	metrics     *monitoring.MetricsCollector

	mu       sync.RWMutex
	sessions map[string]*session
}

// EngineFactory builds a fresh Engine/handler Registry pair for a story
// that isn't already resident in memory, typically by replaying its
// persisted graph snapshot and patch log, plus the cursor the story's
// driver should resume from.
type EngineFactory interface {
	Load(storyID string) (g *graph.Graph, handlers *dispatch.Registry, cfg vm.EngineConfig, cursor uuid.UUID, err error)
}

// NewServer builds a Server backed by store for persistence and factory
// for cold-starting sessions, logging through logger.
func NewServer(store storage.PatchStore, factory EngineFactory, logger zerolog.Logger, cfg ServerConfig) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		logger:   logger,
		store:    store,
		factory:  factory,
		cfg:      cfg,
		auth:     newAPIKeyAuth(cfg.APIKeys),
		sessions: make(map[string]*session),
	}
	if cfg.EnableRateLimit {
		s.limiter = newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	s.routes()
	return s
}

// WithBroadcaster wires a WebSocket hub so every story's ticks are pushed
// to clients subscribed to that story's session as they commit.
func (s *Server) WithBroadcaster(b websocket.Broadcaster) *Server {
	s.broadcaster = b
	return s
}

// WithMetrics wires a shared MetricsCollector so every story's ticks feed
// the same tick-count/duration/fault aggregates.
func (s *Server) WithMetrics(m *monitoring.MetricsCollector) *Server {
	s.metrics = m
	return s
}

// Authenticator exposes the server's API-key check for reuse by the
// WebSocket upgrade handler.
func (s *Server) Authenticator() *apiKeyAuth {
	return s.auth
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.HandleFunc("GET /api/v1/stories/{id}/graph", s.handleGraphSnapshot)
	s.mux.HandleFunc("GET /api/v1/stories/{id}/cursor", s.handleCursor)
	s.mux.HandleFunc("POST /api/v1/stories/{id}/step", s.handleStep)
	s.mux.HandleFunc("POST /api/v1/stories/{id}/run", s.handleRunUntilBlocked)
	s.mux.HandleFunc("GET /api/v1/stories/{id}/patches", s.handlePatches)
}

// ServeHTTP implements http.Handler, running the middleware chain around
// the route mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// Handler builds the middleware-wrapped http.Handler. ServeHTTP calls it
// on every request, so the chain is rebuilt per request.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = contentTypeMiddleware(handler)
	if len(s.auth.keys) > 0 {
		handler = s.auth.middleware(handler)
	}
	if s.limiter != nil {
		handler = s.limiter.middleware(handler)
	}
	if s.cfg.EnableCORS {
		handler = corsMiddleware(handler)
	}
	handler = recoveryMiddleware(s.logger, handler)
	handler = loggingMiddleware(s.logger, handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// sessionFor returns the in-memory session for storyID, cold-starting it
// via the EngineFactory if it isn't already resident.
func (s *Server) sessionFor(storyID string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[storyID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[storyID]; ok {
		return sess, nil
	}

	g, handlers, cfg, cursor, err := s.factory.Load(storyID)
	if err != nil {
		return nil, err
	}

	engine := vm.NewEngine(storyID, g, handlers, cfg)
	engine.SetObserver(s.buildObserver(storyID))
	sess = &session{engine: engine, driver: vm.NewDriver(engine, cursor)}
	s.sessions[storyID] = sess
	return sess, nil
}

// buildObserver fans a story's tick notifications out to structured
// logging, shared metrics, and (if wired) WebSocket subscribers. A
// story's WebSocket session id is its story id: this server runs one
// driver session per story, not one per connected player.
func (s *Server) buildObserver(storyID string) vm.Observer {
	manager := monitoring.NewObserverManager()
	manager.AddObserver(monitoring.NewLoggingObserver(s.logger))
	if s.metrics != nil {
		manager.AddObserver(monitoring.NewMetricsObserver(s.metrics))
	}
	if s.broadcaster != nil {
		manager.AddObserver(websocket.NewSocketObserver(s.broadcaster, storyID))
	}
	return manager
}
