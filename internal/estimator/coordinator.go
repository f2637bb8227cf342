// Package estimator implements the per-truck Estimator Coordinator: the
// aggregate that owns one truck's TankSpec, EKFState, IdleKalmanState,
// FusionHistory, and in-progress DriverSession, and orchestrates them
// against every incoming Reading.
//
// Grounded on tracking.Service.ProcessGPSData's pipeline shape: validate,
// persist/update, derive side effects, broadcast; with "persist" replaced
// by the coordinator's own state mutation and "broadcast" replaced by
// event-bus publication.
package estimator

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/driverscore"
	"github.com/fleetfuel/fleetfuel-core/internal/ekf"
	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/internal/fusion"
	"github.com/fleetfuel/fleetfuel-core/internal/idlekalman"
	"github.com/fleetfuel/fleetfuel-core/internal/logging"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const (
	galPerLiter = 3.78541

	fusionConfidenceThreshold = 0.6
	refuelSpeedWindowMinutes  = 20 // slightly wider than the EKF's own 15-minute refuel window
	driverSessionGapMinutes   = 30
	maxSampleWindow           = 500 // bound on retained speed/consumption samples per session
	maxFailureHistory         = 50
)

// failedReading records one reading that the pipeline could not process,
// for operator visibility without interrupting the stream.
type failedReading struct {
	Timestamp time.Time
	Reason    string
}

// Coordinator owns the full per-truck estimation state and is the single
// writer for it: callers (the ingest worker pool) MUST guarantee only one
// goroutine ever calls Process for a given truck at a time. Reads of
// Snapshot() may happen concurrently from any goroutine.
type Coordinator struct {
	truckID string
	spec    models.TankSpec
	cfg     *config.Config

	ekfState   *models.EKFState
	ekfFilter  *ekf.Filter
	idleState  *models.IdleKalmanState
	idleFilter *idlekalman.Filter
	fusionEng  *fusion.Engine

	activity       models.TruckActivityState
	session        *models.DriverSession
	lastReading    models.Reading
	haveReading    bool
	speedHistory   []ekf.SpeedSample
	lastEKFVolumeL *float64

	failures []failedReading

	// outOfOrderCount is the readings_out_of_order counter (spec §8's
	// out-of-order scenario); read from any goroutine via
	// OutOfOrderCount, written only from Process's own goroutine.
	outOfOrderCount int64

	lastCheckpointAt   time.Time
	checkpointInterval time.Duration

	tuning ekf.Tuning

	bus *eventbus.Bus

	// opMu guards the mutation section of Process against the rare,
	// out-of-band operator commands (ResetEKF, ResetIdleKalman,
	// ForceCloseDriverSession) that arrive on an HTTP goroutine rather
	// than the truck's own drain goroutine. Uncontended in the normal
	// case, since Process is otherwise only ever called by one goroutine
	// per truck.
	opMu sync.Mutex

	snapshotMu sync.RWMutex
	snapshot   models.TruckSnapshot
}

// New creates a Coordinator for one truck, seeding EKF/idle/fusion state
// fresh. Callers restoring from a checkpoint should use Restore instead.
func New(spec models.TankSpec, cfg *config.Config, bus *eventbus.Bus) *Coordinator {
	ekfState := models.DefaultEKFState(spec.TruckID, spec.CapacityL*0.5)
	return newCoordinator(spec, cfg, bus, ekfState, models.DefaultIdleKalmanState(spec.TruckID))
}

// Restore rebuilds a Coordinator from previously checkpointed EKF and idle
// state (see internal/persistence).
func Restore(spec models.TankSpec, cfg *config.Config, bus *eventbus.Bus, ekfState *models.EKFState, idleState *models.IdleKalmanState) *Coordinator {
	return newCoordinator(spec, cfg, bus, ekfState, idleState)
}

func newCoordinator(spec models.TankSpec, cfg *config.Config, bus *eventbus.Bus, ekfState *models.EKFState, idleState *models.IdleKalmanState) *Coordinator {
	tuning := ekf.DefaultTuning()
	for _, override := range cfg.EKFTuning {
		if override.TruckID != spec.TruckID {
			continue
		}
		if override.Q != nil {
			tuning.Q = *override.Q
		}
		if override.RFuelSensor != nil {
			tuning.RFuelSensor = *override.RFuelSensor
		}
		if override.RECUUsed != nil {
			tuning.RECUUsed = *override.RECUUsed
		}
		if override.RFuelRate != nil {
			tuning.RFuelRate = *override.RFuelRate
		}
	}

	c := &Coordinator{
		truckID:            spec.TruckID,
		spec:               spec,
		cfg:                cfg,
		ekfState:           ekfState,
		ekfFilter:          ekf.New(spec, ekfState, tuning),
		idleState:          idleState,
		idleFilter:         idlekalman.New(idleState),
		fusionEng:          fusion.New(spec.TruckID, spec.CapacityL),
		activity:           models.TruckActivityState{TruckID: spec.TruckID, Current: models.ActivityEngineOff},
		checkpointInterval: time.Duration(cfg.CheckpointIntervalSeconds) * time.Second,
		tuning:             tuning,
		bus:                bus,
	}
	c.snapshot = c.buildSnapshot(time.Now())
	return c
}

// TruckID returns the owning truck's identifier.
func (c *Coordinator) TruckID() string { return c.truckID }

// OutOfOrderCount returns the number of readings dropped for arriving at
// or before the truck's last accepted timestamp.
func (c *Coordinator) OutOfOrderCount() int64 { return atomic.LoadInt64(&c.outOfOrderCount) }

// Snapshot returns the most recently committed read-model. Safe to call
// from any goroutine; it never blocks on Process.
func (c *Coordinator) Snapshot() models.TruckSnapshot {
	c.snapshotMu.RLock()
	defer c.snapshotMu.RUnlock()
	return c.snapshot
}

// commitSnapshot atomically swaps in a newly-built snapshot. This is the
// only write path to c.snapshot outside of construction.
func (c *Coordinator) commitSnapshot(s models.TruckSnapshot) {
	c.snapshotMu.Lock()
	c.snapshot = s
	c.snapshotMu.Unlock()
}

// Process runs one Reading through the full pipeline described in the
// coordinator's contract: order validation, EKF predict, per-channel
// fusion+EKF update, fusion/EKF selection, activity classification, idle
// feed, refuel detection, and event publication. Any panic during the
// pipeline is recovered, recorded in the bounded failure history, and does
// not propagate. The individual filters already guard their own state
// against non-finite arithmetic, so a panic here indicates a genuine bug
// rather than expected numeric behavior, and the previous committed
// snapshot is left untouched either way.
func (c *Coordinator) Process(reading models.Reading) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing reading for %s: %v", c.truckID, r)
			c.recordFailure(reading.Timestamp, err.Error())
			logging.Error("coordinator pipeline panic", "truck_id", c.truckID, "error", err.Error())
		}
	}()

	if c.haveReading && !reading.Timestamp.After(c.lastReading.Timestamp) {
		atomic.AddInt64(&c.outOfOrderCount, 1)
		logging.Warn("dropping out-of-order reading", "truck_id", c.truckID, "timestamp", reading.Timestamp)
		return nil
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	dtHours := 0.0
	if c.haveReading {
		dtHours = reading.Timestamp.Sub(c.lastReading.Timestamp).Hours()
	}
	gradePct := c.deriveGradePct(reading)

	speedMph := f64(reading.SpeedMph)
	rpm := f64(reading.RPM)
	engineLoadPct := f64(reading.EngineLoadPct)
	ambientTempF := f64OrDefault(reading.AmbientTempF, 70)

	if dtHours > 0 {
		if c.ekfFilter.Predict(dtHours, speedMph, rpm, engineLoadPct, gradePct, ambientTempF) {
			c.publishSensorMalfunction("ekf_predict", "EKF numeric anomaly during predict, state reverted")
		}
	}

	c.applyChannels(reading)

	fused := c.fusionEng.Fuse(reading.Timestamp)
	ekfEstimate := c.ekfFilter.Estimate(reading.Timestamp)

	var chosenPct, chosenVolume, chosenGph float64
	var source string
	if fused.Confidence > fusionConfidenceThreshold {
		chosenPct, chosenVolume, chosenGph, source = fused.FuelPct, fused.FuelL, fused.ConsumptionGph, "fusion"
	} else {
		chosenPct, chosenVolume, chosenGph, source = ekfEstimate.FuelPct, ekfEstimate.VolumeL, ekfEstimate.ConsumptionGph, "ekf"
	}

	prevActivity := c.activity.Current
	newActivity := classifyActivity(speedMph, rpm, reading.Latitude, reading.Longitude, c.cfg.ActivityClassification)
	c.activity.Current = newActivity

	if newActivity == models.ActivityProductiveIdle || newActivity == models.ActivityNonProductiveIdle {
		if dtHours > 0 {
			c.idleFilter.Predict(dtHours)
		}
		c.feedIdleKalman(reading, dtHours, ekfEstimate, fused.Confidence)
	} else if dtHours > 0 {
		c.idleFilter.Predict(dtHours)
	}

	c.speedHistory = append(c.speedHistory, ekf.SpeedSample{Timestamp: reading.Timestamp, SpeedMph: speedMph})
	c.trimSpeedHistory(reading.Timestamp)
	refuel := c.ekfFilter.DetectRefuel(c.speedHistory)

	c.updateDriverSession(reading, dtHours, chosenGph)

	c.lastEKFVolumeL = models.Ptr(ekfEstimate.VolumeL)
	c.lastReading = reading
	c.haveReading = true

	next := c.buildSnapshot(reading.Timestamp)
	next.LastRefuel = coalesceRefuel(c.Snapshot().LastRefuel, refuel)
	c.commitSnapshot(next)

	if c.bus != nil {
		c.bus.Publish(eventbus.TopicReadingAccepted, c.truckID, models.ReadingAcceptedEvent{
			Reading:   reading,
			Timestamp: reading.Timestamp,
		})

		if c.lastCheckpointAt.IsZero() || reading.Timestamp.Sub(c.lastCheckpointAt) >= c.checkpointInterval {
			c.bus.Publish(eventbus.TopicEstimatorCheckpoint, c.truckID, models.EstimatorCheckpointEvent{
				TruckID:   c.truckID,
				EKF:       *c.ekfState,
				Idle:      *c.idleState,
				Timestamp: reading.Timestamp,
			})
			c.lastCheckpointAt = reading.Timestamp
		}

		c.bus.Publish(eventbus.TopicFuelLevelChange, c.truckID, models.FuelLevelChangeEvent{
			TruckID:        c.truckID,
			FuelPct:        chosenPct,
			VolumeL:        chosenVolume,
			ConsumptionGph: chosenGph,
			Efficiency:     ekfEstimate.Efficiency,
			SpeedMph:       speedMph,
			Activity:       newActivity,
			IdleGph:        next.Idle.IdleGph,
			Timestamp:      reading.Timestamp,
			Source:         source,
		})
		if refuel != nil {
			c.bus.Publish(eventbus.TopicRefuelDetected, c.truckID, *refuel)
		}
		if newActivity != prevActivity {
			c.bus.Publish(eventbus.TopicActivityTransition, c.truckID, models.ActivityTransitionEvent{
				TruckID:   c.truckID,
				FromState: prevActivity,
				ToState:   newActivity,
				Timestamp: reading.Timestamp,
			})
		}
	}

	return nil
}

func (c *Coordinator) applyChannels(reading models.Reading) {
	ts := reading.Timestamp

	if reading.FuelLevelPct != nil {
		valid := c.fusionEng.AddReading(models.ChannelFuelLevel, *reading.FuelLevelPct, ts)
		if valid {
			if c.ekfFilter.UpdateFuelSensor(*reading.FuelLevelPct, ts) {
				c.publishSensorMalfunction(models.ChannelFuelLevel, "EKF numeric anomaly on update, state reverted")
			}
		} else {
			c.publishSensorMalfunction(models.ChannelFuelLevel, "range or rate-of-change check failed")
		}
	}
	if reading.ECUTotalFuelUsedL != nil {
		valid := c.fusionEng.AddReading(models.ChannelECUUsed, *reading.ECUTotalFuelUsedL, ts)
		if valid {
			reverted, err := c.ekfFilter.UpdateECUFuelUsed(*reading.ECUTotalFuelUsedL, ts)
			if err != nil {
				logging.Debug("ECU fuel-used update rejected", "truck_id", c.truckID, "error", err.Error())
			}
			if reverted {
				c.publishSensorMalfunction(models.ChannelECUUsed, "EKF numeric anomaly on update, state reverted")
			}
		}
	}
	if reading.ECUFuelRateGph != nil {
		valid := c.fusionEng.AddReading(models.ChannelECURate, *reading.ECUFuelRateGph, ts)
		if valid {
			if c.ekfFilter.UpdateFuelRate(*reading.ECUFuelRateGph, ts) {
				c.publishSensorMalfunction(models.ChannelECURate, "EKF numeric anomaly on update, state reverted")
			}
		}
	}
}

// publishSensorMalfunction surfaces a per-channel anomaly (fusion rejection
// or an EKF update reverted for non-finite results) to the event bus.
func (c *Coordinator) publishSensorMalfunction(channel models.SensorChannel, reason string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.TopicSensorMalfunction, c.truckID, models.SensorMalfunctionEvent{
		TruckID: c.truckID, Channel: string(channel), Reason: reason,
	})
}

func (c *Coordinator) feedIdleKalman(reading models.Reading, dtHours float64, ekfEstimate models.EKFEstimate, fusionConfidence float64) {
	var in idlekalman.UpdateInput

	if reading.ECUTotalIdleFuelGl != nil && c.lastReading.ECUTotalIdleFuelGl != nil {
		delta := *reading.ECUTotalIdleFuelGl - *c.lastReading.ECUTotalIdleFuelGl
		in.ECUIdleDeltaGal = &delta
		in.ECUIdleDtHours = dtHours
	}
	if reading.ECUFuelRateGph != nil {
		// idlekalman.Filter.UpdateFuelRate's plausible-range check and unit
		// conversion both run against liters/hour, matching the raw ECU
		// channel rather than the gph the Reading carries.
		rateLph := *reading.ECUFuelRateGph * galPerLiter
		in.FuelRateRaw = &rateLph
	}
	if c.lastEKFVolumeL != nil && dtHours > 0 {
		consumedL := *c.lastEKFVolumeL - ekfEstimate.VolumeL
		if consumedL > 0 {
			consumedGal := consumedL / galPerLiter
			in.FuelConsumedDeltaGal = &consumedGal
			in.FuelDeltaDtHours = dtHours
			in.FuelDeltaConfidence = fusionConfidence
		}
	}
	if reading.RPM != nil {
		in.RPM = reading.RPM
	}
	if reading.EngineLoadPct != nil {
		in.EngineLoadPct = reading.EngineLoadPct
	}
	if reading.AmbientTempF != nil {
		in.AmbientTempF = reading.AmbientTempF
	}

	c.idleFilter.UpdateAll(in, reading.Timestamp)
}

func (c *Coordinator) deriveGradePct(reading models.Reading) float64 {
	if reading.AltitudeFt == nil || c.lastReading.AltitudeFt == nil || !c.haveReading {
		return 0
	}
	if reading.Latitude == nil || reading.Longitude == nil || c.lastReading.Latitude == nil || c.lastReading.Longitude == nil {
		return 0
	}
	distanceFt := haversineMiles(*c.lastReading.Latitude, *c.lastReading.Longitude, *reading.Latitude, *reading.Longitude) * 5280
	if distanceFt < 1 {
		return 0
	}
	riseFt := *reading.AltitudeFt - *c.lastReading.AltitudeFt
	return riseFt / distanceFt * 100
}

func (c *Coordinator) trimSpeedHistory(now time.Time) {
	cutoff := now.Add(-refuelSpeedWindowMinutes * time.Minute)
	kept := c.speedHistory[:0]
	for _, s := range c.speedHistory {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	c.speedHistory = kept
}

func (c *Coordinator) updateDriverSession(reading models.Reading, dtHours float64, gph float64) {
	if reading.DriverID == "" {
		c.closeSessionIfGapExceeded(reading.Timestamp)
		return
	}

	if c.session != nil && (c.session.DriverID != reading.DriverID || c.sessionGapExceeded(reading.Timestamp)) {
		c.closeSession()
	}
	if c.session == nil {
		c.session = &models.DriverSession{DriverID: reading.DriverID, TruckID: c.truckID, StartedAt: reading.Timestamp}
	}

	s := c.session
	s.LastSeen = reading.Timestamp
	s.TotalSeconds += dtHours * 3600

	if reading.SpeedMph != nil {
		s.SpeedSamples = appendBounded(s.SpeedSamples, *reading.SpeedMph, maxSampleWindow)
		if *reading.SpeedMph <= c.cfg.ActivityClassification.SpeedDrivingThresholdMph {
			s.IdleSeconds += dtHours * 3600
		}
	}
	if reading.RPM != nil {
		s.RPMSampleCount++
		if last, ok := s.LastRPM(); ok && math.Abs(*reading.RPM-last) > 1500 {
			s.RPMDeltaSpikes++
		}
		s.SetLastRPM(*reading.RPM)
	}
	s.ConsumptionSamples = appendBounded(s.ConsumptionSamples, gph, maxSampleWindow)
	s.FuelConsumedL += gph * galPerLiter * dtHours
	if c.haveReading && reading.Latitude != nil && reading.Longitude != nil &&
		c.lastReading.Latitude != nil && c.lastReading.Longitude != nil {
		s.DistanceMiles += haversineMiles(*c.lastReading.Latitude, *c.lastReading.Longitude, *reading.Latitude, *reading.Longitude)
	}
}

func (c *Coordinator) sessionGapExceeded(ts time.Time) bool {
	return c.session != nil && ts.Sub(c.session.LastSeen) > driverSessionGapMinutes*time.Minute
}

func (c *Coordinator) closeSessionIfGapExceeded(ts time.Time) {
	if c.session != nil && ts.Sub(c.session.LastSeen) > driverSessionGapMinutes*time.Minute {
		c.closeSession()
	}
}

func (c *Coordinator) closeSession() {
	if c.session == nil {
		return
	}
	scores := driverscore.Score(c.session)
	if c.bus != nil {
		c.bus.Publish(eventbus.TopicDriverSessionEnd, c.truckID, models.DriverSessionEndEvent{
			DriverID: c.session.DriverID,
			TruckID:  c.truckID,
			Scores:   scores,
		})
	}
	c.session = nil
}

// ResetEKF discards the truck's EKF state and rebuilds it fresh,
// half-full, with the same tuning the coordinator was constructed with.
// Intended for the reset_ekf operator command; callers are responsible
// for whatever confirmation policy that command requires before invoking
// this.
func (c *Coordinator) ResetEKF() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	*c.ekfState = *models.DefaultEKFState(c.truckID, c.spec.CapacityL*0.5)
	c.ekfFilter = ekf.New(c.spec, c.ekfState, c.tuning)
	c.lastEKFVolumeL = nil
	c.commitSnapshot(c.buildSnapshot(time.Now()))
	logging.Warn("ekf state reset by operator command", "truck_id", c.truckID)
}

// ResetIdleKalman discards the truck's idle-consumption filter state and
// rebuilds it fresh. Intended for the reset_idle_kalman operator command.
func (c *Coordinator) ResetIdleKalman() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	*c.idleState = *models.DefaultIdleKalmanState(c.truckID)
	c.idleFilter = idlekalman.New(c.idleState)
	c.commitSnapshot(c.buildSnapshot(time.Now()))
	logging.Warn("idle kalman state reset by operator command", "truck_id", c.truckID)
}

// ForceCloseDriverSession ends the truck's current driver session
// immediately, publishing a DriverSessionEnd event with the scores
// computed from whatever samples the session accumulated so far. It is a
// no-op if the given driver isn't the one currently active on this
// truck. Intended for the reset_driver_session operator command.
func (c *Coordinator) ForceCloseDriverSession(driverID string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.session == nil || c.session.DriverID != driverID {
		return
	}
	c.closeSession()
}

// markOfflineIfStale transitions the committed snapshot to OFFLINE when no
// reading has arrived within staleWindow. It does not touch filter state,
// only the snapshot's Activity and IsStale fields, so a late reading after
// a stale gap resumes from wherever the filters left off.
func (c *Coordinator) markOfflineIfStale(now time.Time, staleWindow time.Duration) {
	if !c.haveReading || now.Sub(c.lastReading.Timestamp) < staleWindow {
		return
	}
	if c.activity.Current == models.ActivityOffline {
		s := c.Snapshot()
		s.IsStale = true
		c.commitSnapshot(s)
		return
	}
	prevActivity := c.activity.Current
	c.activity.Current = models.ActivityOffline
	s := c.Snapshot()
	s.Activity = models.ActivityOffline
	s.IsStale = true
	c.commitSnapshot(s)
	if c.bus != nil {
		c.bus.Publish(eventbus.TopicActivityTransition, c.truckID, models.ActivityTransitionEvent{
			TruckID:   c.truckID,
			FromState: prevActivity,
			ToState:   models.ActivityOffline,
			Timestamp: now,
		})
	}
}

func (c *Coordinator) recordFailure(ts time.Time, reason string) {
	c.failures = append(c.failures, failedReading{Timestamp: ts, Reason: reason})
	if len(c.failures) > maxFailureHistory {
		c.failures = c.failures[len(c.failures)-maxFailureHistory:]
	}
}

func (c *Coordinator) buildSnapshot(ts time.Time) models.TruckSnapshot {
	ekfEstimate := c.ekfFilter.Estimate(ts)
	idleEstimate := c.idleFilter.Estimate()
	return models.TruckSnapshot{
		TruckID:       c.truckID,
		EKF:           ekfEstimate,
		Idle:          idleEstimate,
		Activity:      c.activity.Current,
		Confidence:    c.fusionEng.Fuse(ts).Confidence,
		LastReadingAt: ts,
		DataSource:    "live",
	}
}

func coalesceRefuel(prior *models.RefuelEvent, fresh *models.RefuelEvent) *models.RefuelEvent {
	if fresh != nil {
		return fresh
	}
	return prior
}

func appendBounded(samples []float64, v float64, max int) []float64 {
	samples = append(samples, v)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}

func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusMiles = 3958.8
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	Δφ := (lat2 - lat1) * math.Pi / 180
	Δλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	d := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMiles * d
}

func f64(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func f64OrDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
