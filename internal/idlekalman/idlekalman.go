// Package idlekalman implements the per-truck idle-consumption scalar
// Kalman filter: a single-state (idle_gph) estimate fused from up to four
// channels (ECU idle-fuel counter, ECU fuel-rate sensor, Kalman-derived
// fuel delta, and an RPM/load physics model), each with its own
// measurement-noise prior.
//
// Grounded on the Python idle Kalman filter this spec was distilled from:
// Q=0.01, R_ecu_counter=0.05, R_fuel_rate=0.15, R_fuel_delta=0.25,
// R_rpm_model=0.35, the RPM/load base model, and the temperature-factor
// table. The adaptive-R ring buffer below is new: the source filter used
// its R priors unmodified, but a fixed R lets one noisy stretch (a sensor
// glitch, a PTO cycle) drag the estimate as hard as a clean one. Scaling R
// by the ratio of recent to nominal innovation variance lets the filter
// lean away from a channel exactly while it's acting up, and back once it
// settles.
package idlekalman

import (
	"time"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const (
	galPerLiter = 3.78541

	processNoiseQ = 0.01

	rECUCounter = 0.05
	rFuelRate   = 0.15
	rFuelDelta  = 0.25
	rRPMModel   = 0.35

	innovationWindow  = 20
	adaptiveFactorMin = 0.5
	adaptiveFactorMax = 5.0
)

// Filter runs the idle Kalman filter for one truck against its owned
// state. Not safe for concurrent use; the coordinator's single-writer
// discipline makes that acceptable.
type Filter struct {
	state *models.IdleKalmanState
}

// New wraps an existing (or freshly-created) IdleKalmanState for one truck.
func New(state *models.IdleKalmanState) *Filter {
	return &Filter{state: state}
}

// Predict increases the estimate's uncertainty by Q*dt. Idle consumption
// is assumed stable (engine held at a fixed RPM), so only the variance
// term evolves between measurements. Callers run this on every reading
// regardless of activity state; the Update* methods below are gated to
// idle periods by the caller.
func (f *Filter) Predict(dtHours float64) {
	if dtHours <= 0 {
		return
	}
	f.state.Variance += processNoiseQ * dtHours
}

// UpdateECUCounter folds in a delta from the ECU's cumulative idle-fuel
// counter, the most reliable channel. Deltas outside (0, 5) gallons, or
// spanning less than 0.01h, are rejected as implausible.
func (f *Filter) UpdateECUCounter(deltaGal, dtHours float64, ts time.Time) bool {
	if deltaGal <= 0 || deltaGal >= 5.0 || dtHours <= 0.01 {
		return false
	}
	f.update(deltaGal/dtHours, rECUCounter, models.IdleSourceECUCounter, ts)
	return true
}

// UpdateFuelRate folds in the ECU's instantaneous fuel-rate reading. The
// plausible-range check (1.5-12.0) is applied to the raw reading before
// unit conversion, matching the source filter's validation order.
func (f *Filter) UpdateFuelRate(fuelRateRaw float64, ts time.Time) bool {
	if fuelRateRaw < 1.5 || fuelRateRaw > 12.0 {
		return false
	}
	gph := fuelRateRaw / galPerLiter
	f.update(gph, rFuelRate, models.IdleSourceFuelRate, ts)
	return true
}

// UpdateFuelDelta folds in a consumption rate derived from the fuel-level
// EKF's volume change. Confidence (0-1, lower near refuels or sloshing)
// inflates the effective measurement noise. Requires at least a 12-minute
// window (0.2h) to damp out slosh noise.
func (f *Filter) UpdateFuelDelta(fuelConsumedGal, dtHours, confidence float64, ts time.Time) bool {
	if fuelConsumedGal <= 0 || dtHours < 0.2 {
		return false
	}
	if confidence <= 0 {
		confidence = 1.0
	}
	adjustedR := rFuelDelta / confidence
	f.update(fuelConsumedGal/dtHours, adjustedR, models.IdleSourceFuelDelta, ts)
	return true
}

// UpdateRPMModel folds in a physics-based estimate from RPM, engine load,
// and ambient temperature. Least reliable channel; used as a fallback when
// no direct fuel measurement is available.
func (f *Filter) UpdateRPMModel(rpm, engineLoadPct float64, ambientTempF *float64, ts time.Time) bool {
	if rpm <= 0 {
		return false
	}
	rpmFactor := rpm / 1000.0
	loadFactor := engineLoadPct / 100.0
	baseGph := 0.4 + rpmFactor*0.3
	loadGph := loadFactor * 0.5
	measurement := (baseGph + loadGph) * tempFactor(ambientTempF)
	f.update(measurement, rRPMModel, models.IdleSourceRPMModel, ts)
	return true
}

// tempFactor scales idle consumption for HVAC load outside the 60-75°F
// comfort band.
func tempFactor(tempF *float64) float64 {
	if tempF == nil {
		return 1.0
	}
	t := *tempF
	switch {
	case t >= 60 && t <= 75:
		return 1.0
	case t < 32:
		return 1.5
	case t < 60:
		return 1.25
	case t > 95:
		return 1.5
	case t > 75:
		return 1.3
	default:
		return 1.0
	}
}

// UpdateInput bundles the channels that may be available for a single
// idle reading. Every field is optional; channels that fail their own
// plausibility check are silently skipped, not errored.
type UpdateInput struct {
	ECUIdleDeltaGal *float64
	ECUIdleDtHours  float64

	FuelRateRaw *float64

	FuelConsumedDeltaGal *float64
	FuelDeltaDtHours     float64
	FuelDeltaConfidence  float64

	RPM           *float64
	EngineLoadPct *float64
	AmbientTempF  *float64
}

// UpdateAll applies every available channel in priority order (ECU
// counter, fuel-rate sensor, fuel delta, RPM model) and returns the
// resulting estimate. The source is reported as MULTI_SENSOR whenever two
// or more channels contributed.
func (f *Filter) UpdateAll(in UpdateInput, ts time.Time) models.IdleEstimate {
	sourcesUsed := 0

	if in.ECUIdleDeltaGal != nil {
		if f.UpdateECUCounter(*in.ECUIdleDeltaGal, in.ECUIdleDtHours, ts) {
			sourcesUsed++
		}
	}
	if in.FuelRateRaw != nil {
		if f.UpdateFuelRate(*in.FuelRateRaw, ts) {
			sourcesUsed++
		}
	}
	if in.FuelConsumedDeltaGal != nil {
		conf := in.FuelDeltaConfidence
		if conf <= 0 {
			conf = 1.0
		}
		if f.UpdateFuelDelta(*in.FuelConsumedDeltaGal, in.FuelDeltaDtHours, conf, ts) {
			sourcesUsed++
		}
	}
	if in.RPM != nil {
		load := 0.0
		if in.EngineLoadPct != nil {
			load = *in.EngineLoadPct
		}
		if f.UpdateRPMModel(*in.RPM, load, in.AmbientTempF, ts) {
			sourcesUsed++
		}
	}

	if sourcesUsed >= 2 {
		f.state.LastSource = models.IdleSourceMultiSensor
	}
	return f.Estimate()
}

// Estimate returns the filter's current read-only output. Confidence is
// derived from the estimate variance: 100*(1-variance), clamped to
// [0, 100].
func (f *Filter) Estimate() models.IdleEstimate {
	s := f.state
	return models.IdleEstimate{
		IdleGph:       s.IdleGph,
		ConfidencePct: clampF(100*(1-s.Variance), 0, 100),
		Source:        s.LastSource,
		SamplesUsed:   s.SamplesUsed,
	}
}

// update runs one scalar Kalman update with an R scaled by the adaptive
// factor derived from the recent innovation history, a single buffer
// shared by every channel rather than one per channel. The raw
// innovation is folded into that history before the factor is computed,
// so a single wild residual inflates its own effective R rather than
// waiting for a run of bad samples to accumulate first.
func (f *Filter) update(measurementGph, baseR float64, source models.IdleSource, ts time.Time) {
	s := f.state
	innovation := measurementGph - s.IdleGph
	recordInnovation(s, innovation, ts)

	effectiveR := baseR * adaptiveFactor(s, baseR)
	K := s.Variance / (s.Variance + effectiveR)
	s.IdleGph += K * innovation
	s.Variance = (1 - K) * s.Variance

	s.SamplesUsed++
	s.LastSource = source
	s.LastTimestamp = ts
}

// adaptiveFactor compares the variance of recent innovations against the
// channel's nominal noise prior. A run of large residuals (a glitching
// sensor) inflates the factor, softening that channel's pull on the
// estimate; a quiet run drives it below 1, down to adaptiveFactorMin.
func adaptiveFactor(s *models.IdleKalmanState, baseR float64) float64 {
	if len(s.Innovations) < 3 {
		return 1.0
	}
	values := make([]float64, len(s.Innovations))
	for i, sample := range s.Innovations {
		values[i] = sample.Value
	}
	recentVariance := variance(values)
	factor := recentVariance / baseR
	return clampF(factor, adaptiveFactorMin, adaptiveFactorMax)
}

func recordInnovation(s *models.IdleKalmanState, value float64, ts time.Time) {
	s.Innovations = append(s.Innovations, models.InnovationSample{Value: value, Timestamp: ts})
	if len(s.Innovations) > innovationWindow {
		s.Innovations = s.Innovations[len(s.Innovations)-innovationWindow:]
	}
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func variance(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := mean(vs)
	var sum float64
	for _, v := range vs {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(vs))
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
