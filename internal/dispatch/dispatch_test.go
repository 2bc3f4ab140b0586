package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/registry"
)

func noopHandler(result domain.Value) HandlerFunc {
	return func(caller *domain.Node, ns map[string]domain.Value, kwargs map[string]domain.Value) (domain.Value, error) {
		return result, nil
	}
}

func scopeOf(node *domain.Node) registry.Scope {
	return registry.Scope{
		Anchor: node,
		Layers: []registry.ScopeLayer{
			{Kind: domain.ScopeNode, Root: node, Depth: 0},
			{Kind: domain.ScopeGlobal, Depth: 1},
		},
	}
}

func TestDispatch_OrdersByPriority(t *testing.T) {
	r := New()
	node := domain.NewNode("room", "story.Room")
	var order []string

	r.Register("announce", domain.ScopeGlobal, domain.PriorityLate, nil, func(*domain.Node, map[string]domain.Value, map[string]domain.Value) (domain.Value, error) {
		order = append(order, "late")
		return nil, nil
	})
	r.Register("announce", domain.ScopeNode, domain.PriorityFirst, nil, func(*domain.Node, map[string]domain.Value, map[string]domain.Value) (domain.Value, error) {
		order = append(order, "first")
		return nil, nil
	})
	r.Register("announce", domain.ScopeNode, domain.PriorityNormal, nil, func(*domain.Node, map[string]domain.Value, map[string]domain.Value) (domain.Value, error) {
		order = append(order, "normal")
		return nil, nil
	})

	r.Dispatch(node, scopeOf(node), "announce", nil, nil)

	assert.Equal(t, []string{"first", "normal", "late"}, order)
}

func TestDispatch_UnregisterRemovesHandler(t *testing.T) {
	r := New()
	node := domain.NewNode("room", "story.Room")
	id := r.Register("announce", domain.ScopeNode, domain.PriorityNormal, nil, noopHandler("hi"))

	r.Unregister(id)

	receipts := r.Dispatch(node, scopeOf(node), "announce", nil, nil)
	assert.Empty(t, receipts)
}

func TestDispatch_SkipsNonMatchingService(t *testing.T) {
	r := New()
	node := domain.NewNode("room", "story.Room")
	r.Register("other", domain.ScopeNode, domain.PriorityNormal, nil, noopHandler("hi"))

	receipts := r.Dispatch(node, scopeOf(node), "announce", nil, nil)
	assert.Empty(t, receipts)
}

func TestAggregate_FirstResultReturnsEarliestNonNil(t *testing.T) {
	receipts := []CallReceipt{{Result: nil}, {Result: "second"}, {Result: "third"}}
	got := Aggregate(domain.AggregateFirstResult, receipts)
	assert.Equal(t, domain.Value("second"), got)
}

func TestAggregate_AllTrueRequiresEveryReceiptTrue(t *testing.T) {
	allTrue := []CallReceipt{{Result: true}, {Result: true}}
	oneFalse := []CallReceipt{{Result: true}, {Result: false}}

	assert.Equal(t, domain.Value(true), Aggregate(domain.AggregateAllTrue, allTrue))
	assert.Equal(t, domain.Value(false), Aggregate(domain.AggregateAllTrue, oneFalse))
}

func TestAggregate_MergeIsLeftmostWinsOverMaps(t *testing.T) {
	receipts := []CallReceipt{
		{Result: map[string]domain.Value{"a": 1, "b": 2}},
		{Result: map[string]domain.Value{"b": 99, "c": 3}},
	}

	got := Aggregate(domain.AggregateMerge, receipts).(map[string]domain.Value)
	assert.Equal(t, domain.Value(1), got["a"])
	assert.Equal(t, domain.Value(2), got["b"], "leftmost receipt wins on key conflict")
	assert.Equal(t, domain.Value(3), got["c"])
}

func TestAggregate_GatherCollectsNonNilResults(t *testing.T) {
	receipts := []CallReceipt{{Result: "a"}, {Result: nil}, {Result: "b"}}
	got := Aggregate(domain.AggregateGather, receipts)
	assert.Equal(t, []domain.Value{"a", "b"}, got)
}

func TestRegistry_GetNSMergesAcrossLayersAndGuardsRecursion(t *testing.T) {
	r := New()
	node := domain.NewNode("room", "story.Room")

	r.Register(ServiceGetNS, domain.ScopeNode, domain.PriorityNormal, nil,
		func(*domain.Node, map[string]domain.Value, map[string]domain.Value) (domain.Value, error) {
			return map[string]domain.Value{"self": "room"}, nil
		})
	r.Register(ServiceGetNS, domain.ScopeGlobal, domain.PriorityNormal, nil,
		func(*domain.Node, map[string]domain.Value, map[string]domain.Value) (domain.Value, error) {
			return map[string]domain.Value{"world": "active"}, nil
		})
	var innerErr error
	r.Register(ServiceGetNS, domain.ScopeNode, domain.PriorityLate, nil,
		func(*domain.Node, map[string]domain.Value, map[string]domain.Value) (domain.Value, error) {
			_, innerErr = r.GetNS(node, scopeOf(node))
			return nil, nil
		})

	ns, err := r.GetNS(node, scopeOf(node))
	require.NoError(t, err)
	assert.Equal(t, domain.Value("room"), ns["self"])
	assert.Equal(t, domain.Value("active"), ns["world"])
	assert.Error(t, innerErr, "a get_ns handler re-entering GetNS for the same anchor is refused")
}
