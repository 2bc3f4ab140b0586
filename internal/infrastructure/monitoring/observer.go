package monitoring

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/vm"
)

// ObserverManager fans a story's tick lifecycle out to any number of
// vm.Observer implementations, and itself implements vm.Observer so it
// can be installed on an Engine directly via SetObserver.
type ObserverManager struct {
	observers []vm.Observer
	mu        sync.RWMutex
}

// NewObserverManager creates an empty ObserverManager.
func NewObserverManager() *ObserverManager {
	return &ObserverManager{}
}

// AddObserver registers an observer to receive future events.
func (om *ObserverManager) AddObserver(observer vm.Observer) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.observers = append(om.observers, observer)
}

// RemoveObserver deregisters an observer.
func (om *ObserverManager) RemoveObserver(observer vm.Observer) {
	om.mu.Lock()
	defer om.mu.Unlock()
	for i, obs := range om.observers {
		if obs == observer {
			om.observers = append(om.observers[:i], om.observers[i+1:]...)
			return
		}
	}
}

func (om *ObserverManager) snapshot() []vm.Observer {
	om.mu.RLock()
	defer om.mu.RUnlock()
	out := make([]vm.Observer, len(om.observers))
	copy(out, om.observers)
	return out
}

func (om *ObserverManager) OnTickStart(storyID string, cursor uuid.UUID, step uint64) {
	for _, o := range om.snapshot() {
		o.OnTickStart(storyID, cursor, step)
	}
}

func (om *ObserverManager) OnTickComplete(storyID string, result vm.TickResult) {
	for _, o := range om.snapshot() {
		o.OnTickComplete(storyID, result)
	}
}

func (om *ObserverManager) OnTickFail(storyID string, err error) {
	for _, o := range om.snapshot() {
		o.OnTickFail(storyID, err)
	}
}

func (om *ObserverManager) OnHandlerFault(storyID string, phase domain.Phase, handlerID string, err error) {
	for _, o := range om.snapshot() {
		o.OnHandlerFault(storyID, phase, handlerID, err)
	}
}

// LoggingObserver logs tick lifecycle events through zerolog, matching
// the structured, leveled style used across the rest of the module.
type LoggingObserver struct {
	logger zerolog.Logger

	mu      sync.Mutex
	started map[string]time.Time
}

// NewLoggingObserver creates a LoggingObserver writing through logger.
func NewLoggingObserver(logger zerolog.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger, started: make(map[string]time.Time)}
}

func (lo *LoggingObserver) OnTickStart(storyID string, cursor uuid.UUID, step uint64) {
	lo.mu.Lock()
	lo.started[storyID] = time.Now()
	lo.mu.Unlock()

	lo.logger.Info().
		Str("story_id", storyID).
		Str("cursor", cursor.String()).
		Uint64("step", step).
		Msg("tick started")
}

func (lo *LoggingObserver) OnTickComplete(storyID string, result vm.TickResult) {
	lo.logger.Info().
		Str("story_id", storyID).
		Str("patch_id", result.PatchID.String()).
		Str("cursor", result.CursorUID.String()).
		Int("fragments", len(result.Journal)).
		Dur("duration", lo.elapsed(storyID)).
		Msg("tick committed")
}

func (lo *LoggingObserver) OnTickFail(storyID string, err error) {
	lo.logger.Error().
		Str("story_id", storyID).
		Dur("duration", lo.elapsed(storyID)).
		Err(err).
		Msg("tick aborted")
}

func (lo *LoggingObserver) OnHandlerFault(storyID string, phase domain.Phase, handlerID string, err error) {
	lo.logger.Warn().
		Str("story_id", storyID).
		Str("phase", phase.String()).
		Str("handler_id", handlerID).
		Err(err).
		Msg("handler fault")
}

func (lo *LoggingObserver) elapsed(storyID string) time.Duration {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	start, ok := lo.started[storyID]
	if !ok {
		return 0
	}
	delete(lo.started, storyID)
	return time.Since(start)
}

// MetricsObserver feeds tick outcomes into a MetricsCollector.
type MetricsObserver struct {
	collector *MetricsCollector

	mu      sync.Mutex
	started map[string]time.Time
}

// NewMetricsObserver creates a MetricsObserver writing into collector.
func NewMetricsObserver(collector *MetricsCollector) *MetricsObserver {
	return &MetricsObserver{collector: collector, started: make(map[string]time.Time)}
}

func (mo *MetricsObserver) OnTickStart(storyID string, cursor uuid.UUID, step uint64) {
	mo.mu.Lock()
	mo.started[storyID] = time.Now()
	mo.mu.Unlock()
}

func (mo *MetricsObserver) OnTickComplete(storyID string, result vm.TickResult) {
	mo.collector.RecordTick(storyID, mo.elapsed(storyID), true)
}

func (mo *MetricsObserver) OnTickFail(storyID string, err error) {
	mo.collector.RecordTick(storyID, mo.elapsed(storyID), false)
}

func (mo *MetricsObserver) OnHandlerFault(storyID string, phase domain.Phase, handlerID string, err error) {
	mo.collector.RecordHandlerFault(phase.String(), handlerID)
}

func (mo *MetricsObserver) elapsed(storyID string) time.Duration {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	start, ok := mo.started[storyID]
	if !ok {
		return 0
	}
	delete(mo.started, storyID)
	return time.Since(start)
}
