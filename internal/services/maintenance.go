package services

import (
	"sync"
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

type maintenanceTruckState struct {
	degradedSince time.Time
	inDegraded    bool
	fired         bool
}

// MaintenanceService consumes the estimator's fused consumption and
// efficiency events and raises a maintenance hint once EKF efficiency has
// stayed below the configured floor for longer than the configured
// window. Grounded on maintenance_scheduler.go's trigger shape (threshold
// + buffer + fire-once), retargeted from mileage/time-based triggers to a
// sustained-efficiency-degradation trigger the estimator can actually
// observe.
type MaintenanceService struct {
	cfg *config.Config
	bus *eventbus.Bus

	mu    sync.Mutex
	state map[string]*maintenanceTruckState

	hintsMu sync.RWMutex
	hints   map[string][]models.MaintenanceHintEvent
}

// NewMaintenanceService subscribes to FuelLevelChange and returns the
// running service.
func NewMaintenanceService(cfg *config.Config, bus *eventbus.Bus) *MaintenanceService {
	s := &MaintenanceService{
		cfg:   cfg,
		bus:   bus,
		state: make(map[string]*maintenanceTruckState),
		hints: make(map[string][]models.MaintenanceHintEvent),
	}
	bus.Subscribe(eventbus.TopicFuelLevelChange, "maintenance-service", s.handleFuelLevelChange)
	return s
}

func (s *MaintenanceService) handleFuelLevelChange(e eventbus.Event) {
	evt, ok := e.Payload.(models.FuelLevelChangeEvent)
	if !ok {
		return
	}

	s.mu.Lock()
	st, exists := s.state[evt.TruckID]
	if !exists {
		st = &maintenanceTruckState{}
		s.state[evt.TruckID] = st
	}

	degraded := evt.Efficiency > 0 && evt.Efficiency < s.cfg.Thresholds.EfficiencyDegradedThreshold
	if !degraded {
		st.inDegraded = false
		st.fired = false
		s.mu.Unlock()
		return
	}

	if !st.inDegraded {
		st.inDegraded = true
		st.degradedSince = evt.Timestamp
		st.fired = false
		s.mu.Unlock()
		return
	}

	windowExceeded := evt.Timestamp.Sub(st.degradedSince) >= time.Duration(s.cfg.Thresholds.EfficiencyDegradedWindowMinutes)*time.Minute
	alreadyFired := st.fired
	degradedSince := st.degradedSince
	if windowExceeded && !alreadyFired {
		st.fired = true
	}
	s.mu.Unlock()

	if !windowExceeded || alreadyFired {
		return
	}

	hint := models.MaintenanceHintEvent{
		TruckID:        evt.TruckID,
		Reason:         "EKF efficiency factor sustained below the degraded threshold",
		DegradedSince:  degradedSince,
		LastEfficiency: evt.Efficiency,
		Timestamp:      evt.Timestamp,
	}
	s.hintsMu.Lock()
	s.hints[evt.TruckID] = append(s.hints[evt.TruckID], hint)
	s.hintsMu.Unlock()

	s.bus.Publish(eventbus.TopicMaintenanceHint, evt.TruckID, hint)
}

// Hints returns the maintenance hints raised for a truck so far.
func (s *MaintenanceService) Hints(truckID string) []models.MaintenanceHintEvent {
	s.hintsMu.RLock()
	defer s.hintsMu.RUnlock()
	return append([]models.MaintenanceHintEvent(nil), s.hints[truckID]...)
}
