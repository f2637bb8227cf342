// Package services hosts the domain services: independent event-bus
// subscribers that each hold their own bounded per-truck state and never
// mutate estimator state. Grounded on internal/analytics's service layer
// for the "subscriber holds its own bounded state, derives reports on
// demand" shape, and on the anomaly-detection and driver-behavior-scoring
// rule logic's per-service thresholds.
package services

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const (
	anomalySampleWindow  = 20
	slowLeakSampleWindow = 6
)

// anomalyTruckState is the bounded rolling state AnomalyService keeps per
// truck. Nothing here is ever read by the estimator.
type anomalyTruckState struct {
	consumption []float64
	speeds      []float64
	idleDayKey  string
	idleDaySecs float64
	lastEventAt time.Time
	haveLast    bool
}

// AnomalyService implements the rule-based half of the original
// detector: isolation-forest training is out of scope (ML internals are
// specified only by interface), so every AnomalyType is produced by the
// threshold-and-context rules the Python version runs before consulting
// its model.
type AnomalyService struct {
	cfg *config.Config
	bus *eventbus.Bus

	mu    sync.Mutex
	state map[string]*anomalyTruckState
}

// NewAnomalyService subscribes to FuelLevelChange and RefuelDetected and
// returns the running service.
func NewAnomalyService(cfg *config.Config, bus *eventbus.Bus) *AnomalyService {
	s := &AnomalyService{
		cfg:   cfg,
		bus:   bus,
		state: make(map[string]*anomalyTruckState),
	}
	bus.Subscribe(eventbus.TopicFuelLevelChange, "anomaly-service", s.handleFuelLevelChange)
	bus.Subscribe(eventbus.TopicRefuelDetected, "anomaly-service", s.handleRefuelDetected)
	bus.Subscribe(eventbus.TopicSensorMalfunction, "anomaly-service", s.handleSensorMalfunction)
	return s
}

func (s *AnomalyService) truckState(truckID string) *anomalyTruckState {
	st, ok := s.state[truckID]
	if !ok {
		st = &anomalyTruckState{}
		s.state[truckID] = st
	}
	return st
}

func (s *AnomalyService) handleFuelLevelChange(e eventbus.Event) {
	evt, ok := e.Payload.(models.FuelLevelChangeEvent)
	if !ok {
		return
	}

	s.mu.Lock()
	st := s.truckState(evt.TruckID)

	var dtSeconds float64
	if st.haveLast {
		dtSeconds = evt.Timestamp.Sub(st.lastEventAt).Seconds()
	}
	st.lastEventAt = evt.Timestamp
	st.haveLast = true

	if evt.Activity == models.ActivityNonProductiveIdle && dtSeconds > 0 {
		dayKey := evt.Timestamp.Format("2006-01-02")
		if st.idleDayKey != dayKey {
			st.idleDayKey = dayKey
			st.idleDaySecs = 0
		}
		st.idleDaySecs += dtSeconds
	}

	st.consumption = appendBounded(st.consumption, evt.ConsumptionGph, anomalySampleWindow)
	st.speeds = appendBounded(st.speeds, evt.SpeedMph, anomalySampleWindow)
	consumption := append([]float64(nil), st.consumption...)
	speeds := append([]float64(nil), st.speeds...)
	idleDaySecs := st.idleDaySecs
	s.mu.Unlock()

	if anomaly, ok := s.classifySiphoning(evt); ok {
		s.publish(anomaly)
		return
	}
	if anomaly, ok := s.classifySlowLeak(evt, consumption, speeds); ok {
		s.publish(anomaly)
		return
	}
	if anomaly, ok := s.classifyConsumptionSpike(evt, consumption); ok {
		s.publish(anomaly)
		return
	}
	if anomaly, ok := s.classifyIdleExcessive(evt, idleDaySecs); ok {
		s.publish(anomaly)
	}
}

// classifySiphoning matches parked, near-zero-speed trucks burning fuel
// at more than twice the configured idle ceiling.
func (s *AnomalyService) classifySiphoning(evt models.FuelLevelChangeEvent) (models.AnomalyEvent, bool) {
	if evt.SpeedMph >= 2 {
		return models.AnomalyEvent{}, false
	}
	if evt.Activity != models.ActivityNonProductiveIdle && evt.Activity != models.ActivityProductiveIdle {
		return models.AnomalyEvent{}, false
	}
	ceiling := s.cfg.Thresholds.IdleMaxGph * 2
	if evt.ConsumptionGph <= ceiling {
		return models.AnomalyEvent{}, false
	}
	return models.AnomalyEvent{
		TruckID:    evt.TruckID,
		Kind:       models.AnomalySiphoning,
		Severity:   models.SeverityCritical,
		Confidence: 0.95,
		Message:    "fuel consumption while parked far exceeds the idle ceiling",
		Metadata: map[string]interface{}{
			"consumption_gph": evt.ConsumptionGph,
			"idle_ceiling_gph": ceiling,
		},
		Timestamp: evt.Timestamp,
	}, true
}

// classifySlowLeak fits a least-squares slope across the last N
// consumption samples while the truck is parked; a sustained positive
// slope indicates a gradual leak rather than a one-off spike.
func (s *AnomalyService) classifySlowLeak(evt models.FuelLevelChangeEvent, consumption, speeds []float64) (models.AnomalyEvent, bool) {
	if len(consumption) < slowLeakSampleWindow {
		return models.AnomalyEvent{}, false
	}
	window := consumption[len(consumption)-slowLeakSampleWindow:]
	speedWindow := speeds[len(speeds)-slowLeakSampleWindow:]
	for _, sp := range speedWindow {
		if sp >= 2 {
			return models.AnomalyEvent{}, false
		}
	}
	slope := leastSquaresSlope(window)
	if slope <= s.cfg.Thresholds.AnomalySlowLeakLphPerHr {
		return models.AnomalyEvent{}, false
	}
	return models.AnomalyEvent{
		TruckID:    evt.TruckID,
		Kind:       models.AnomalySlowLeak,
		Severity:   models.SeverityWarning,
		Confidence: 0.85,
		Message:    "consumption trending upward while parked, consistent with a slow leak",
		Metadata: map[string]interface{}{
			"slope_gph_per_sample": slope,
		},
		Timestamp: evt.Timestamp,
	}, true
}

// classifyConsumptionSpike compares the current reading against 1.5x
// the truck's own recent 95th-percentile consumption.
func (s *AnomalyService) classifyConsumptionSpike(evt models.FuelLevelChangeEvent, consumption []float64) (models.AnomalyEvent, bool) {
	if len(consumption) < slowLeakSampleWindow {
		return models.AnomalyEvent{}, false
	}
	p95 := percentile(consumption, 95)
	if p95 <= 0 {
		return models.AnomalyEvent{}, false
	}
	if evt.ConsumptionGph <= p95*s.cfg.Thresholds.HighConsumptionRatio {
		return models.AnomalyEvent{}, false
	}
	return models.AnomalyEvent{
		TruckID:    evt.TruckID,
		Kind:       models.AnomalyConsumptionSpike,
		Severity:   models.SeverityWarning,
		Confidence: 0.80,
		Message:    "consumption far exceeds this truck's recent 95th-percentile rate",
		Metadata: map[string]interface{}{
			"consumption_gph": evt.ConsumptionGph,
			"p95_gph":         p95,
		},
		Timestamp: evt.Timestamp,
	}, true
}

// classifyIdleExcessive fires when a truck's non-productive idle time
// for the current day exceeds the configured daily cap.
func (s *AnomalyService) classifyIdleExcessive(evt models.FuelLevelChangeEvent, idleDaySecs float64) (models.AnomalyEvent, bool) {
	maxSecs := s.cfg.Thresholds.NonProductiveIdleMaxMinutesPerDay * 60
	if idleDaySecs <= maxSecs {
		return models.AnomalyEvent{}, false
	}
	return models.AnomalyEvent{
		TruckID:    evt.TruckID,
		Kind:       models.AnomalyIdleExcessive,
		Severity:   models.SeverityWarning,
		Confidence: 0.9,
		Message:    "non-productive idle time today exceeds the configured daily limit",
		Metadata: map[string]interface{}{
			"idle_minutes_today": idleDaySecs / 60,
		},
		Timestamp: evt.Timestamp,
	}, true
}

func (s *AnomalyService) handleRefuelDetected(e eventbus.Event) {
	refuel, ok := e.Payload.(models.RefuelEvent)
	if !ok {
		return
	}

	spec, known := s.cfg.TankSpecFor(refuel.TruckID)
	overCapacity := known && refuel.GallonsAdded*galPerLiterServices > spec.CapacityL
	inconsistent := refuel.LevelAfter < refuel.LevelBefore

	if !overCapacity && !inconsistent {
		return
	}

	s.publish(models.AnomalyEvent{
		TruckID:    refuel.TruckID,
		Kind:       models.AnomalyInconsistentRefuel,
		Severity:   models.SeverityWarning,
		Confidence: 0.75,
		Message:    "refuel amount or before/after levels are not internally consistent",
		Metadata: map[string]interface{}{
			"gallons_added": refuel.GallonsAdded,
			"level_before":  refuel.LevelBefore,
			"level_after":   refuel.LevelAfter,
		},
		Timestamp: refuel.Timestamp,
	})
}

// handleSensorMalfunction lets the estimator's own sensor-rejection path
// (which already knows which channel and reading failed) surface
// directly as an AnomalyDetected event instead of this service
// re-deriving malfunction from raw data it was never given.
func (s *AnomalyService) handleSensorMalfunction(e eventbus.Event) {
	evt, ok := e.Payload.(models.SensorMalfunctionEvent)
	if !ok {
		return
	}
	s.publish(models.AnomalyEvent{
		TruckID:    evt.TruckID,
		Kind:       models.AnomalySensorMalfunction,
		Severity:   models.SeverityWarning,
		Confidence: 1.0,
		Message:    evt.Reason,
		Metadata: map[string]interface{}{
			"channel": evt.Channel,
		},
		Timestamp: time.Now(),
	})
}

func (s *AnomalyService) publish(a models.AnomalyEvent) {
	s.bus.Publish(eventbus.TopicAnomalyDetected, a.TruckID, a)
}

const galPerLiterServices = 3.78541

func appendBounded(vs []float64, v float64, max int) []float64 {
	vs = append(vs, v)
	if len(vs) > max {
		vs = vs[len(vs)-max:]
	}
	return vs
}

func leastSquaresSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func percentile(vs []float64, p float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
