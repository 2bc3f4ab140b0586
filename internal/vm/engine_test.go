package vm

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbflow-labs/storygraph/internal/dispatch"
	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/graph"
)

// twoNodeGraph builds a graph with a CHOICE edge from a to b, returning
// both nodes and the edge.
func twoNodeGraph() (*graph.Graph, *domain.Node, *domain.Node, *domain.Edge) {
	g := graph.New()
	a := domain.NewNode("start", "Room")
	b := domain.NewNode("next", "Room")
	g.AddNode(a)
	g.AddNode(b)
	edge := domain.NewEdge("go", a.UID, b.UID, domain.EdgeKindChoice)
	g.AddEdge(edge)
	return g, a, b, edge
}

func TestEngine_RunTick_CommitsPatchAndAdvancesEpoch(t *testing.T) {
	g, a, _, edge := twoNodeGraph()
	handlers := dispatch.New()
	engine := NewEngine("story-1", g, handlers, DefaultEngineConfig())

	require.Equal(t, uint64(0), engine.Epoch())

	patch, result := engine.RunTick(a.UID, edge, []uuid.UUID{a.UID}, 0)
	require.NoError(t, result.Err)
	require.NotNil(t, patch)
	assert.Equal(t, uint64(1), engine.Epoch())
	assert.Equal(t, a.UID, result.CursorUID)
}

func TestEngine_RunTick_ValidationFailureReturnsNilPatch(t *testing.T) {
	g, a, _, edge := twoNodeGraph()
	handlers := dispatch.New()
	handlers.Register(ServiceValidate, domain.ScopeNode, domain.PriorityNormal, nil,
		func(caller *domain.Node, ns map[string]domain.Value, kwargs map[string]domain.Value) (domain.Value, error) {
			return false, nil
		})
	engine := NewEngine("story-1", g, handlers, DefaultEngineConfig())

	patch, result := engine.RunTick(a.UID, edge, []uuid.UUID{a.UID}, 0)
	require.Error(t, result.Err)
	assert.Nil(t, patch)
	assert.Equal(t, uint64(0), engine.Epoch())
}

func TestEngine_RunTick_PrereqsRedirectFollowsAvailableEdge(t *testing.T) {
	g, a, b, _ := twoNodeGraph()
	redirectEdge := domain.NewEdge("jump", a.UID, b.UID, domain.EdgeKindAssociation)

	handlers := dispatch.New()
	handlers.Register(ServicePrereqs, domain.ScopeNode, domain.PriorityNormal, nil,
		func(caller *domain.Node, ns map[string]domain.Value, kwargs map[string]domain.Value) (domain.Value, error) {
			return redirectEdge, nil
		})
	engine := NewEngine("story-1", g, handlers, DefaultEngineConfig())

	patch, result := engine.RunTick(a.UID, nil, []uuid.UUID{a.UID}, 0)
	require.NoError(t, result.Err)
	require.NotNil(t, patch)
	assert.Equal(t, b.UID, result.CursorUID)
}

func TestEngine_RunTick_PostreqsRedirectSetsNextCursor(t *testing.T) {
	g, a, b, edge := twoNodeGraph()

	handlers := dispatch.New()
	handlers.Register(ServicePostreqs, domain.ScopeNode, domain.PriorityNormal, nil,
		func(caller *domain.Node, ns map[string]domain.Value, kwargs map[string]domain.Value) (domain.Value, error) {
			return domain.NewEdge("after", a.UID, b.UID, domain.EdgeKindAssociation), nil
		})
	engine := NewEngine("story-1", g, handlers, DefaultEngineConfig())

	patch, result := engine.RunTick(a.UID, edge, []uuid.UUID{a.UID}, 0)
	require.NoError(t, result.Err)
	require.NotNil(t, patch)
	require.NotNil(t, result.NextCursorUID)
	assert.Equal(t, b.UID, *result.NextCursorUID)
}

func TestEngine_RunTick_AutoTraversalBoundStopsInfiniteRedirectLoop(t *testing.T) {
	g, a, b, _ := twoNodeGraph()
	toA := domain.NewEdge("back", b.UID, a.UID, domain.EdgeKindAssociation)
	toB := domain.NewEdge("fwd", a.UID, b.UID, domain.EdgeKindAssociation)

	handlers := dispatch.New()
	handlers.Register(ServicePrereqs, domain.ScopeNode, domain.PriorityNormal, nil,
		func(caller *domain.Node, ns map[string]domain.Value, kwargs map[string]domain.Value) (domain.Value, error) {
			if caller.UID == a.UID {
				return toB, nil
			}
			return toA, nil
		})
	cfg := DefaultEngineConfig()
	cfg.AutoTraversalBound = 3
	engine := NewEngine("story-1", g, handlers, cfg)

	patch, result := engine.RunTick(a.UID, nil, []uuid.UUID{a.UID}, 0)
	require.Error(t, result.Err)
	assert.Nil(t, patch)
}

func TestEngine_RunTick_JournalAlwaysIncludesStepMarker(t *testing.T) {
	g, a, _, edge := twoNodeGraph()
	handlers := dispatch.New()
	engine := NewEngine("story-1", g, handlers, DefaultEngineConfig())

	_, result := engine.RunTick(a.UID, edge, []uuid.UUID{a.UID}, 0)
	require.NoError(t, result.Err)
	require.Len(t, result.Journal, 1)
	assert.Equal(t, domain.FragmentMarker, result.Journal[0].Type)
}

func TestEngine_SetObserver_ReceivesStartAndComplete(t *testing.T) {
	g, a, _, edge := twoNodeGraph()
	handlers := dispatch.New()
	engine := NewEngine("story-1", g, handlers, DefaultEngineConfig())

	obs := &recordingObserver{}
	engine.SetObserver(obs)

	_, result := engine.RunTick(a.UID, edge, []uuid.UUID{a.UID}, 0)
	require.NoError(t, result.Err)
	assert.True(t, obs.started)
	assert.True(t, obs.completed)
	assert.False(t, obs.failed)
}

func TestEngine_SetObserver_ReceivesFailOnValidationError(t *testing.T) {
	g, a, _, edge := twoNodeGraph()
	handlers := dispatch.New()
	handlers.Register(ServiceValidate, domain.ScopeNode, domain.PriorityNormal, nil,
		func(caller *domain.Node, ns map[string]domain.Value, kwargs map[string]domain.Value) (domain.Value, error) {
			return false, nil
		})
	engine := NewEngine("story-1", g, handlers, DefaultEngineConfig())

	obs := &recordingObserver{}
	engine.SetObserver(obs)

	_, result := engine.RunTick(a.UID, edge, []uuid.UUID{a.UID}, 0)
	require.Error(t, result.Err)
	assert.True(t, obs.failed)
	assert.False(t, obs.completed)
}

func TestEngine_SetObserver_PanicIsRecoveredNotPropagated(t *testing.T) {
	g, a, _, edge := twoNodeGraph()
	handlers := dispatch.New()
	engine := NewEngine("story-1", g, handlers, DefaultEngineConfig())
	engine.SetObserver(&panickingObserver{})

	assert.NotPanics(t, func() {
		_, result := engine.RunTick(a.UID, edge, []uuid.UUID{a.UID}, 0)
		require.NoError(t, result.Err)
	})
}

func TestEngine_GraphEpochConfig_Accessors(t *testing.T) {
	g, _, _, _ := twoNodeGraph()
	cfg := DefaultEngineConfig()
	engine := NewEngine("story-1", g, dispatch.New(), cfg)

	assert.Same(t, g, engine.Graph())
	assert.Equal(t, uint64(0), engine.Epoch())
	assert.Equal(t, cfg, engine.Config())
}

type recordingObserver struct {
	started, completed, failed bool
}

func (o *recordingObserver) OnTickStart(storyID string, cursor uuid.UUID, step uint64) {
	o.started = true
}
func (o *recordingObserver) OnTickComplete(storyID string, result TickResult) { o.completed = true }
func (o *recordingObserver) OnTickFail(storyID string, err error)            { o.failed = true }
func (o *recordingObserver) OnHandlerFault(storyID string, phase domain.Phase, handlerID string, err error) {
}

type panickingObserver struct{}

func (o *panickingObserver) OnTickStart(storyID string, cursor uuid.UUID, step uint64) {
	panic("boom")
}
func (o *panickingObserver) OnTickComplete(storyID string, result TickResult) { panic("boom") }
func (o *panickingObserver) OnTickFail(storyID string, err error)             {}
func (o *panickingObserver) OnHandlerFault(storyID string, phase domain.Phase, handlerID string, err error) {
}
