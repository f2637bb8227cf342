// Package fusion implements the multi-sensor fuel fusion engine: per-channel
// validation, a bounded ring-buffer history, and a weighted-least-squares
// combination of the fuel_level, ecu_fuel_used, and ecu_fuel_rate channels.
//
// Grounded on the Python sensor fusion engine this spec was distilled from:
// base weights (fuel_level 0.4, ecu_used 0.8, ecu_rate 0.3), the 0.5^i
// recency weighting for fuel_level, the >100 pct² variance consistency
// check that halves the fuel_level weight, and the 0.3/no_estimates
// fallback when nothing contributed.
package fusion

import (
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/logging"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const varianceConsistencyThreshold = 100.0 // pct^2, ~10% disagreement

// Engine runs fusion for one truck. It is not safe for concurrent use; the
// Estimator Coordinator's single-writer-per-truck discipline is what makes
// that acceptable.
type Engine struct {
	capacityL float64
	history   *models.FusionHistory
}

// New creates a fusion Engine seeded with an empty history.
func New(truckID string, capacityL float64) *Engine {
	return &Engine{
		capacityL: capacityL,
		history:   models.NewFusionHistory(truckID),
	}
}

// AddReading validates one channel observation against its range and
// rate-of-change rules and appends it to the channel's history. It returns
// whether the reading was accepted as valid; invalid readings are retained
// but excluded from fusion.
func (e *Engine) AddReading(channel models.SensorChannel, value float64, ts time.Time) bool {
	rules, ok := defaultRules[channel]
	if !ok {
		logging.Warn("unknown fusion channel", "channel", string(channel))
		return false
	}

	isValid := true
	if buf := e.history.Channels[channel]; len(buf) > 0 {
		last := buf[len(buf)-1]
		dtMin := minutesBetween(last.Timestamp, ts)
		if dtMin > 0 {
			rate := abs(value-last.Value) / dtMin
			if rate > rules.MaxRateOfChange {
				isValid = false
				logging.Debug("fusion channel rate-of-change exceeded",
					"channel", string(channel), "rate", rate, "max", rules.MaxRateOfChange)
			}
		}
	}

	if value < rules.MinValue || value > rules.MaxValue {
		isValid = false
		logging.Debug("fusion channel out of range", "channel", string(channel), "value", value)
	}

	appendBounded(e.history, channel, models.SensorReading{
		Channel:   channel,
		Value:     value,
		Timestamp: ts,
		IsValid:   isValid,
	}, rules.HistoryWindow)

	return isValid
}

// Fuse produces the weighted estimate for this truck at ts. It never fails:
// with zero valid channels it returns the prior fused state at confidence
// 0.3 flagged no_estimates.
func (e *Engine) Fuse(ts time.Time) models.FusedEstimate {
	var estimatesPct []float64
	var weightsPct []float64
	var consumptionValues []float64
	var anomalous []string

	fuelLevelPct, fuelLevelOK := e.fuelLevelEstimate()
	if len(e.history.Channels[models.ChannelFuelLevel]) > 0 {
		if fuelLevelOK {
			estimatesPct = append(estimatesPct, fuelLevelPct)
			weightsPct = append(weightsPct, e.history.Weights[models.ChannelFuelLevel])
		} else {
			anomalous = append(anomalous, string(models.ChannelFuelLevel))
		}
	}

	if len(e.history.Channels[models.ChannelECUUsed]) > 0 {
		ref := e.lastFusedPct()
		if len(estimatesPct) > 0 {
			ref = estimatesPct[0]
		}
		ecuPct, ecuGph, ecuHasPct, ecuHasGph := e.ecuUsedEstimate(ref)
		if ecuHasPct {
			estimatesPct = append(estimatesPct, ecuPct)
			weightsPct = append(weightsPct, e.history.Weights[models.ChannelECUUsed])
		}
		if ecuHasGph {
			consumptionValues = append(consumptionValues, ecuGph)
		}
	}

	if len(e.history.Channels[models.ChannelECURate]) > 0 {
		if gph, ok := e.ecuRateEstimate(); ok {
			consumptionValues = append(consumptionValues, gph)
		}
	}

	if len(estimatesPct) >= 2 {
		if variance(estimatesPct) > varianceConsistencyThreshold {
			anomalous = append(anomalous, "high_variance")
			weightsPct[0] *= 0.5
		}
	}

	var fusedPct, confidence float64
	noEstimates := false
	if len(estimatesPct) > 0 {
		var totalWeight float64
		for _, w := range weightsPct {
			totalWeight += w
		}
		var sum float64
		for i, est := range estimatesPct {
			sum += est * weightsPct[i]
		}
		fusedPct = sum / totalWeight

		nSensors := len(defaultRules)
		nActive := 0
		for _, ch := range []models.SensorChannel{models.ChannelFuelLevel, models.ChannelECUUsed, models.ChannelECURate} {
			if len(e.history.Channels[ch]) > 0 {
				nActive++
			}
		}
		confidence = float64(nActive) / float64(nSensors)
	} else {
		fusedPct = e.lastFusedPct()
		confidence = 0.3
		noEstimates = true
		anomalous = append(anomalous, "no_estimates")
	}

	fusedGph := e.lastFusedGph()
	if len(consumptionValues) > 0 {
		fusedGph = mean(consumptionValues)
	}

	weights := make(map[models.SensorChannel]float64, len(e.history.Weights))
	for k, v := range e.history.Weights {
		weights[k] = v
	}

	estimate := models.FusedEstimate{
		FuelPct:                 fusedPct,
		FuelL:                   fusedPct / 100 * e.capacityL,
		ConsumptionGph:          fusedGph,
		Confidence:              confidence,
		PerSensorWeight:         weights,
		FlaggedAnomalousSensors: anomalous,
		NoEstimates:             noEstimates,
		Timestamp:               ts,
	}
	e.history.LastFused = &estimate
	return estimate
}

func (e *Engine) lastFusedPct() float64 {
	if e.history.LastFused != nil {
		return e.history.LastFused.FuelPct
	}
	return 50.0
}

func (e *Engine) lastFusedGph() float64 {
	if e.history.LastFused != nil {
		return e.history.LastFused.ConsumptionGph
	}
	return 5.0
}

// fuelLevelEstimate returns the exponentially-weighted mean (weight ratio
// 0.5^i, most recent highest) of the last ≤5 valid fuel_level readings.
func (e *Engine) fuelLevelEstimate() (float64, bool) {
	readings := lastValid(e.history, models.ChannelFuelLevel, 5)
	if len(readings) == 0 {
		return 0, false
	}
	var weightedSum, totalWeight float64
	n := len(readings)
	for i, r := range readings {
		w := pow(0.5, float64(n-1-i))
		weightedSum += r.Value * w
		totalWeight += w
	}
	return weightedSum / totalWeight, true
}

// ecuUsedEstimate computes the delta-derived consumption rate across the
// retained window and, given a reference fuel_pct, the implied current
// fuel_pct.
func (e *Engine) ecuUsedEstimate(referenceFuelPct float64) (pct, gph float64, hasPct, hasGph bool) {
	readings := lastValid(e.history, models.ChannelECUUsed, 5)
	if len(readings) < 2 {
		return 0, 0, false, false
	}
	first, last := readings[0], readings[len(readings)-1]
	deltaL := last.Value - first.Value
	dtHours := last.Timestamp.Sub(first.Timestamp).Hours()

	if dtHours <= 0 || deltaL <= 0 || deltaL >= e.capacityL {
		return 0, 0, false, false
	}
	gph = litersPerHourToGph(deltaL / dtHours)
	consumedPct := deltaL / e.capacityL * 100
	pct = clampPct(referenceFuelPct - consumedPct)
	return pct, gph, true, true
}

// ecuRateEstimate is the mean of the valid-window ECU fuel_rate values.
func (e *Engine) ecuRateEstimate() (float64, bool) {
	readings := lastValid(e.history, models.ChannelECURate, 5)
	if len(readings) == 0 {
		return 0, false
	}
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value
	}
	return mean(values), true
}

func litersPerHourToGph(lph float64) float64 { return lph / 3.78541 }

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0.0; i < exp; i++ {
		result *= base
	}
	return result
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
