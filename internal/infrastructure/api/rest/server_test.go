package rest

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mbflow-labs/storygraph/internal/dispatch"
	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/graph"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/storage"
	"github.com/mbflow-labs/storygraph/internal/vm"
)

// memStore wraps storage.MemStore to let tests force a Ping failure, which
// the real in-process store never produces on its own.
type memStore struct {
	*storage.MemStore
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{MemStore: storage.NewMemStore()}
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }

// staticFactory always serves the same in-memory graph for any story id.
type staticFactory struct {
	g       *graph.Graph
	cursor  uuid.UUID
	loadErr error
}

func (f *staticFactory) Load(storyID string) (*graph.Graph, *dispatch.Registry, vm.EngineConfig, uuid.UUID, error) {
	if f.loadErr != nil {
		return nil, nil, vm.EngineConfig{}, uuid.Nil, f.loadErr
	}
	return f.g, dispatch.New(), vm.DefaultEngineConfig(), f.cursor, nil
}

// twoNodeStoryGraph builds a graph with a single CHOICE edge start->next.
func twoNodeStoryGraph() (*graph.Graph, *domain.Node, *domain.Node, *domain.Edge) {
	g := graph.New()
	start := domain.NewNode("start", "Room")
	next := domain.NewNode("next", "Room")
	g.AddNode(start)
	g.AddNode(next)
	edge := domain.NewEdge("go", start.UID, next.UID, domain.EdgeKindChoice)
	g.AddEdge(edge)
	return g, start, next, edge
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestServer(factory *staticFactory, store *memStore, cfg ServerConfig) *Server {
	return NewServer(store, factory, testLogger(), cfg)
}
