package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// Alert is an operator-visible notification. Grounded on realtime.Alert's
// shape (ID/Type/Severity/Title/Message/Data/Timestamp), retargeted from
// a Redis-backed, per-company fan-out to an in-process record this
// service retains directly.
type Alert struct {
	ID        string                 `json:"id"`
	TruckID   string                 `json:"truck_id"`
	Kind      string                 `json:"kind"`
	Severity  models.Severity        `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type dedupKey struct {
	truckID string
	kind    string
}

// AlertService maps AnomalyDetected, RefuelDetected, MaintenanceHint, and
// ActivityTransition events into operator alerts, deduplicating repeats
// of the same (truck_id, kind) pair within a configurable window.
type AlertService struct {
	cfg *config.Config
	bus *eventbus.Bus

	mu      sync.Mutex
	lastFired map[dedupKey]time.Time
	alerts    map[string][]Alert

	seq int
}

// NewAlertService subscribes to the event topics that can produce an
// alert and returns the running service.
func NewAlertService(cfg *config.Config, bus *eventbus.Bus) *AlertService {
	s := &AlertService{
		cfg:       cfg,
		bus:       bus,
		lastFired: make(map[dedupKey]time.Time),
		alerts:    make(map[string][]Alert),
	}
	bus.Subscribe(eventbus.TopicAnomalyDetected, "alert-service", s.handleAnomaly)
	bus.Subscribe(eventbus.TopicRefuelDetected, "alert-service", s.handleRefuel)
	bus.Subscribe(eventbus.TopicMaintenanceHint, "alert-service", s.handleMaintenanceHint)
	bus.Subscribe(eventbus.TopicActivityTransition, "alert-service", s.handleActivityTransition)
	return s
}

func (s *AlertService) handleAnomaly(e eventbus.Event) {
	evt, ok := e.Payload.(models.AnomalyEvent)
	if !ok {
		return
	}
	s.fire(evt.TruckID, string(evt.Kind), evt.Severity, fmt.Sprintf("anomaly: %s", evt.Kind), evt.Message, evt.Metadata, evt.Timestamp)
}

func (s *AlertService) handleRefuel(e eventbus.Event) {
	evt, ok := e.Payload.(models.RefuelEvent)
	if !ok {
		return
	}
	s.fire(evt.TruckID, "refuel_detected", models.SeverityInfo, "Refuel detected",
		fmt.Sprintf("%.1f gallons added", evt.GallonsAdded),
		map[string]interface{}{"gallons_added": evt.GallonsAdded, "level_before": evt.LevelBefore, "level_after": evt.LevelAfter},
		evt.Timestamp)
}

func (s *AlertService) handleMaintenanceHint(e eventbus.Event) {
	evt, ok := e.Payload.(models.MaintenanceHintEvent)
	if !ok {
		return
	}
	s.fire(evt.TruckID, "maintenance_hint", models.SeverityWarning, "Maintenance recommended", evt.Reason,
		map[string]interface{}{"degraded_since": evt.DegradedSince, "last_efficiency": evt.LastEfficiency},
		evt.Timestamp)
}

func (s *AlertService) handleActivityTransition(e eventbus.Event) {
	evt, ok := e.Payload.(models.ActivityTransitionEvent)
	if !ok {
		return
	}
	if evt.ToState != models.ActivityOffline {
		return
	}
	s.fire(evt.TruckID, "vehicle_offline", models.SeverityWarning, "Vehicle offline",
		fmt.Sprintf("truck transitioned to offline from %s", evt.FromState),
		map[string]interface{}{"from_state": evt.FromState}, evt.Timestamp)
}

func (s *AlertService) fire(truckID, kind string, severity models.Severity, title, message string, data map[string]interface{}, ts time.Time) {
	key := dedupKey{truckID: truckID, kind: kind}
	window := time.Duration(s.cfg.Thresholds.AlertDedupWindowMinutes) * time.Minute

	s.mu.Lock()
	if last, ok := s.lastFired[key]; ok && ts.Sub(last) < window {
		s.mu.Unlock()
		return
	}
	s.lastFired[key] = ts
	s.seq++
	alert := Alert{
		ID:        fmt.Sprintf("alert-%s-%d", truckID, s.seq),
		TruckID:   truckID,
		Kind:      kind,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Data:      data,
		Timestamp: ts,
	}
	s.alerts[truckID] = append(s.alerts[truckID], alert)
	s.mu.Unlock()
}

// Alerts returns the alerts raised for a truck so far, oldest first.
func (s *AlertService) Alerts(truckID string) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alerts[truckID]...)
}
