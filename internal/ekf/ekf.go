// Package ekf implements the per-truck Extended Kalman Filter that fuses
// the fuel-level sensor, ECU cumulative fuel-used counter, and ECU
// instantaneous fuel-rate channels with a physics-based consumption model.
//
// Grounded 1:1 on the Python EKF this spec was distilled from: state
// x = [volume_L, rate_Lph, efficiency], Q = diag(0.1, 0.5, 0.001),
// R_fuel_sensor = 25, R_ecu_used = 0.01, R_fuel_rate = 1.0, the aero/load/
// grade/temp consumption model, and the refuel-jump detection rule.
package ekf

import (
	"fmt"
	"math"
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/logging"
	"github.com/fleetfuel/fleetfuel-core/internal/tankmodel"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const (
	galPerLiter = 3.78541

	baseIdleConsumptionLph = 1.2
	aeroCoefficient        = 0.0003

	rateSmoothingAlpha = 0.3 // weight given to the physics-predicted rate

	refuelWindowMinutes  = 15.0
	refuelMinPctJump     = 10.0
	refuelMaxSpeedMph    = 2.0
	refuelMinGallons     = 5.0
)

// Tuning groups the process/measurement noise a truck can override via
// configuration.
type Tuning struct {
	Q           [3]float64
	RFuelSensor float64
	RECUUsed    float64
	RFuelRate   float64
}

// DefaultTuning returns the documented default process/measurement noise
// constants.
func DefaultTuning() Tuning {
	return Tuning{
		Q:           [3]float64{0.1, 0.5, 0.001},
		RFuelSensor: 25.0,
		RECUUsed:    0.01,
		RFuelRate:   1.0,
	}
}

// Filter runs the EKF for one truck against its owned state. It is not
// safe for concurrent use; the coordinator's per-truck single-writer
// discipline makes that acceptable.
type Filter struct {
	spec   models.TankSpec
	curve  tankmodel.TankCurve
	tuning Tuning
	state  *models.EKFState
}

// New wraps an existing (or freshly-created) EKFState for one truck.
func New(spec models.TankSpec, state *models.EKFState, tuning Tuning) *Filter {
	return &Filter{spec: spec, curve: tankmodel.ForShape(spec), tuning: tuning, state: state}
}

// Predict runs the physics-based consumption model forward by dt_hours and
// propagates covariance via P = F P F^T + Q. It reports true when the
// result contained NaN/Inf, in which case state is left untouched at its
// pre-predict value.
func (f *Filter) Predict(dtHours, speedMph, rpm, engineLoadPct, gradePct, ambientTempF float64) bool {
	if dtHours <= 0 {
		return false
	}
	s := f.state

	predictedRate := predictedConsumptionRate(speedMph, engineLoadPct, gradePct, ambientTempF, s.Efficiency)

	newVolume := clampF(s.VolumeL-s.RateLph*dtHours, 0, f.spec.CapacityL)
	newRate := rateSmoothingAlpha*predictedRate + (1-rateSmoothingAlpha)*s.RateLph

	F := [3][3]float64{
		{1, -dtHours, 0},
		{0, 0.7, 0},
		{0, 0, 1},
	}
	newP := propagateCovariance(F, s.P, f.tuning.Q)

	if math.IsNaN(newVolume) || math.IsInf(newVolume, 0) ||
		math.IsNaN(newRate) || math.IsInf(newRate, 0) || hasNaNOrInf3x3(newP) {
		logging.Warn("EKF predict produced non-finite state, reverting", "truck_id", s.TruckID)
		return true
	}

	s.VolumeL = newVolume
	s.RateLph = newRate
	// efficiency drifts only via measurement updates.
	s.P = newP

	s.Clamp(f.spec.CapacityL)
	return false
}

func predictedConsumptionRate(speedMph, engineLoadPct, gradePct, ambientTempF, efficiency float64) float64 {
	aeroFactor := aeroCoefficient * speedMph * speedMph
	loadFactor := 1 + (engineLoadPct-50)/100
	gradeFactor := 1 + gradePct*0.05
	tempFactor := 1 + math.Max(0, (70-ambientTempF)/100)

	rate := baseIdleConsumptionLph + aeroFactor*loadFactor*gradeFactor*tempFactor
	rate *= efficiency
	return clampF(rate, 0.5, 30)
}

// UpdateFuelSensor applies a standard EKF scalar update using the tank
// model as the (nonlinear) measurement function. It reports true when the
// update was reverted for producing a non-finite state.
func (f *Filter) UpdateFuelSensor(sensorPct float64, ts time.Time) bool {
	s := f.state
	before := fuelPctSample{Timestamp: ts, Pct: fuelPctOf(s, f.spec.CapacityL)}

	zPred := f.curve.SensorPctFromVolume(s.VolumeL, f.spec.CapacityL)
	H := [3]float64{f.curve.DSensorPctDVolume(s.VolumeL, f.spec.CapacityL), 0, 0}

	y := sensorPct - zPred
	Sv := quadForm(H, s.P) + f.tuning.RFuelSensor
	if Sv <= 0 {
		return false
	}

	K := kalmanGain3(s.P, H, Sv)
	newX := [3]float64{s.VolumeL, s.RateLph, s.Efficiency}
	for i := 0; i < 3; i++ {
		newX[i] += K[i] * y
	}

	newP := covarianceAfterUpdate(s.P, K, H)
	if hasNaNOrInf(newX) || hasNaNOrInf3x3(newP) {
		logging.Warn("EKF fuel-sensor update produced non-finite state, reverting", "truck_id", s.TruckID)
		return true
	}

	s.VolumeL, s.RateLph, s.Efficiency = newX[0], newX[1], newX[2]
	s.P = newP
	s.Clamp(f.spec.CapacityL)

	after := fuelPctSample{Timestamp: ts, Pct: fuelPctOf(s, f.spec.CapacityL)}
	f.recordRefuelWindow(before, after, ts)
	return false
}

// UpdateECUFuelUsed processes the ECU's cumulative fuel-used counter. A
// negative or implausibly large (>50L) delta indicates a counter reset or
// corruption and is rejected (re-baselined, not applied); that rejection
// is reported via the returned error. A non-finite result from an
// in-bounds delta is reported via the returned bool instead, with state
// reverted to its pre-update value (the ECU counter itself still
// re-baselines, since the raw reading was plausible).
func (f *Filter) UpdateECUFuelUsed(ecuTotalL float64, ts time.Time) (bool, error) {
	s := f.state
	if s.LastECUTotalL == nil {
		s.LastECUTotalL = models.Ptr(ecuTotalL)
		return false, nil
	}

	prevVolume := s.VolumeL
	deltaECU := ecuTotalL - *s.LastECUTotalL
	if deltaECU < 0 || deltaECU > 50 {
		logging.Warn("ECU fuel-used delta rejected, re-baselining",
			"truck_id", s.TruckID, "delta_l", deltaECU)
		s.LastECUTotalL = models.Ptr(ecuTotalL)
		return false, fmt.Errorf("ecu delta %.2fL out of bounds, re-baselined", deltaECU)
	}
	if deltaECU == 0 {
		return false, nil
	}

	newP00 := s.P[0][0] * 0.5
	newEfficiency := s.Efficiency
	predictedConsumption := prevVolume - s.VolumeL
	if predictedConsumption > 0 {
		efficiencyUpdate := deltaECU / predictedConsumption
		const alpha = 0.05
		newEfficiency = clampF((1-alpha)*s.Efficiency+alpha*efficiencyUpdate, 0.5, 2.0)
	}

	if math.IsNaN(newP00) || math.IsInf(newP00, 0) || math.IsNaN(newEfficiency) || math.IsInf(newEfficiency, 0) {
		logging.Warn("EKF ECU fuel-used update produced non-finite state, reverting", "truck_id", s.TruckID)
		s.LastECUTotalL = models.Ptr(ecuTotalL)
		return true, nil
	}

	s.P[0][0] = newP00
	s.Efficiency = newEfficiency
	s.LastECUTotalL = models.Ptr(ecuTotalL)
	return false, nil
}

// UpdateFuelRate blends the ECU's instantaneous fuel-rate reading into the
// rate component when it disagrees with the current estimate by more than
// 5 Lph. It reports true when the blended result was non-finite, in which
// case the rate is left at its pre-update value.
func (f *Filter) UpdateFuelRate(fuelRateGph float64, ts time.Time) bool {
	s := f.state
	rateLph := fuelRateGph * galPerLiter
	diff := math.Abs(rateLph - s.RateLph)
	if diff > 5 {
		logging.Warn("fuel-rate mismatch", "truck_id", s.TruckID, "ecu_gph", fuelRateGph, "estimated_gph", s.RateLph/galPerLiter)
		const alpha = 0.1
		newRate := clampF((1-alpha)*s.RateLph+alpha*rateLph, 0.5, 30)
		if math.IsNaN(newRate) || math.IsInf(newRate, 0) {
			logging.Warn("EKF fuel-rate update produced non-finite state, reverting", "truck_id", s.TruckID)
			return true
		}
		s.RateLph = newRate
	}
	return false
}

// Estimate returns the EKF's current read-only output.
func (f *Filter) Estimate(ts time.Time) models.EKFEstimate {
	s := f.state
	return models.EKFEstimate{
		VolumeL:        s.VolumeL,
		FuelPct:        fuelPctOf(s, f.spec.CapacityL),
		ConsumptionGph: s.RateLph / galPerLiter,
		UncertaintyPct: math.Sqrt(math.Max(0, s.P[0][0])) / f.spec.CapacityL * 100,
		Efficiency:     s.Efficiency,
		Timestamp:      ts,
	}
}

func fuelPctOf(s *models.EKFState, capacityL float64) float64 {
	if capacityL <= 0 {
		return 0
	}
	return clampF(s.VolumeL/capacityL*100, 0, 100)
}

type fuelPctSample struct {
	Timestamp time.Time
	Pct       float64
}

// recordRefuelWindow appends the post-update sample to the truck's rolling
// refuel-detection window, evicting samples older than the window.
func (f *Filter) recordRefuelWindow(before, after fuelPctSample, ts time.Time) {
	s := f.state
	cutoff := ts.Add(-refuelWindowMinutes * time.Minute)
	kept := s.RefuelWindow[:0]
	for _, sample := range s.RefuelWindow {
		if sample.Timestamp.After(cutoff) {
			kept = append(kept, sample)
		}
	}
	s.RefuelWindow = append(kept, models.FuelLevelSample{Timestamp: after.Timestamp, Pct: after.Pct})
}

// DetectRefuel inspects the rolling window for an upward pct jump, from the
// lowest earlier sample to the latest one, that is consistent with a
// plausible refuel: >= refuelMinPctJump within the refuel window, speed
// below refuelMaxSpeedMph throughout, and the implied gallons within
// [refuelMinGallons, capacity in gallons]. LevelBefore and LevelAfter are
// reported as sensor percent through the tank's curve.
func (f *Filter) DetectRefuel(speedHistory []SpeedSample) *models.RefuelEvent {
	s := f.state
	if len(s.RefuelWindow) < 2 {
		return nil
	}
	first := s.RefuelWindow[0]
	for _, sample := range s.RefuelWindow[1 : len(s.RefuelWindow)-1] {
		if sample.Pct < first.Pct {
			first = sample
		}
	}
	last := s.RefuelWindow[len(s.RefuelWindow)-1]

	jump := last.Pct - first.Pct
	if jump < refuelMinPctJump {
		return nil
	}
	if !allBelowSpeed(speedHistory, first.Timestamp, last.Timestamp, refuelMaxSpeedMph) {
		return nil
	}

	gallonsAdded := (jump / 100) * f.spec.CapacityL / galPerLiter
	maxGallons := f.spec.CapacityL / galPerLiter
	if gallonsAdded < refuelMinGallons || gallonsAdded > maxGallons {
		return nil
	}

	s.RefuelWindow = nil
	s.LastECUTotalL = nil // re-baseline ECU counters after a detected refuel

	return &models.RefuelEvent{
		TruckID:      s.TruckID,
		Timestamp:    last.Timestamp,
		GallonsAdded: gallonsAdded,
		LevelBefore:  f.curve.SensorPctFromVolume(first.Pct/100*f.spec.CapacityL, f.spec.CapacityL),
		LevelAfter:   f.curve.SensorPctFromVolume(last.Pct/100*f.spec.CapacityL, f.spec.CapacityL),
	}
}

// SpeedSample is one (timestamp, speed) observation used only to confirm
// the truck was stationary throughout a candidate refuel window.
type SpeedSample struct {
	Timestamp time.Time
	SpeedMph  float64
}

func allBelowSpeed(samples []SpeedSample, from, to time.Time, maxSpeed float64) bool {
	for _, s := range samples {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		if s.SpeedMph >= maxSpeed {
			return false
		}
	}
	return true
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
