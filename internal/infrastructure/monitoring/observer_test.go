package monitoring

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/vm"
)

type recordingObserver struct {
	starts    int
	completes int
	fails     int
	faults    int
}

func (r *recordingObserver) OnTickStart(storyID string, cursor uuid.UUID, step uint64) { r.starts++ }
func (r *recordingObserver) OnTickComplete(storyID string, result vm.TickResult)        { r.completes++ }
func (r *recordingObserver) OnTickFail(storyID string, err error)                       { r.fails++ }
func (r *recordingObserver) OnHandlerFault(storyID string, phase domain.Phase, handlerID string, err error) {
	r.faults++
}

func TestObserverManager_FansOutToAllObservers(t *testing.T) {
	a := &recordingObserver{}
	b := &recordingObserver{}

	om := NewObserverManager()
	om.AddObserver(a)
	om.AddObserver(b)

	om.OnTickStart("story-1", uuid.New(), 1)
	om.OnTickComplete("story-1", vm.TickResult{PatchID: uuid.New()})
	om.OnTickFail("story-1", errors.New("boom"))
	om.OnHandlerFault("story-1", domain.PhasePrereqs, "gate.check", errors.New("fault"))

	for _, obs := range []*recordingObserver{a, b} {
		assert.Equal(t, 1, obs.starts)
		assert.Equal(t, 1, obs.completes)
		assert.Equal(t, 1, obs.fails)
		assert.Equal(t, 1, obs.faults)
	}
}

func TestObserverManager_RemoveObserver(t *testing.T) {
	a := &recordingObserver{}
	om := NewObserverManager()
	om.AddObserver(a)
	om.RemoveObserver(a)

	om.OnTickStart("story-1", uuid.New(), 1)
	assert.Equal(t, 0, a.starts)
}

func TestMetricsObserver_RecordsTickOutcome(t *testing.T) {
	collector := NewMetricsCollector()
	mo := NewMetricsObserver(collector)

	mo.OnTickStart("story-1", uuid.New(), 1)
	mo.OnTickComplete("story-1", vm.TickResult{PatchID: uuid.New()})

	metrics := collector.GetStoryMetrics("story-1")
	assert.NotNil(t, metrics)
	assert.Equal(t, 1, metrics.SuccessCount)

	mo.OnTickStart("story-1", uuid.New(), 2)
	mo.OnTickFail("story-1", errors.New("boom"))

	metrics = collector.GetStoryMetrics("story-1")
	assert.Equal(t, 1, metrics.FailureCount)
}

func TestMetricsObserver_RecordsHandlerFault(t *testing.T) {
	collector := NewMetricsCollector()
	mo := NewMetricsObserver(collector)

	mo.OnHandlerFault("story-1", domain.PhaseValidate, "gate.check", errors.New("fault"))

	faults := collector.GetAllPhaseFaults()
	assert.Equal(t, 1, faults["VALIDATE/gate.check"].FaultCount)
}
