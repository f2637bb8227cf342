// Package driverscore computes the three independent 0-100 driver scores
// (efficiency, aggressiveness, safety) and the derived 1-5 star rating
// from a closed DriverSession's bounded aggregates.
//
// Grounded on `original_source/driver_behavior_scoring_v2.py`'s
// `_calculate_efficiency_score` / `_calculate_aggressiveness_score` /
// `_calculate_safety_score`, adapted from the Python version's raw
// per-sample arrays to the session's running aggregates (RPM spike
// count, bounded speed/consumption sample windows) so a session never
// needs to retain every reading it ever saw.
package driverscore

import "github.com/fleetfuel/fleetfuel-core/pkg/models"

const (
	rpmAggressiveJump        = 1500.0
	speedAggressiveChangeMph = 20.0
	baselineMpg              = 6.0
	galPerLiter              = 3.78541
)

// Score evaluates a closed session against its retained aggregates.
func Score(s *models.DriverSession) models.DriverScores {
	efficiency := efficiencyScore(s)
	aggressiveness := aggressivenessScore(s)
	safety := safetyScore(s)

	overall := (efficiency*0.4 + safety*0.4 + (100-aggressiveness)*0.2) / 100
	stars := int(overall*5 + 0.5)
	if stars < 1 {
		stars = 1
	}
	if stars > 5 {
		stars = 5
	}

	return models.DriverScores{
		EfficiencyScore:     efficiency,
		AggressivenessScore: aggressiveness,
		SafetyScore:         safety,
		Stars:               stars,
	}
}

func efficiencyScore(s *models.DriverSession) float64 {
	if s.DistanceMiles == 0 {
		return 50
	}
	var actualMpg float64
	if s.FuelConsumedL > 0 {
		actualMpg = s.DistanceMiles / (s.FuelConsumedL / galPerLiter)
	}
	ratio := actualMpg / baselineMpg
	return clamp(ratio*100, 0, 100)
}

func aggressivenessScore(s *models.DriverSession) float64 {
	score := 30.0

	if len(s.SpeedSamples) > 2 {
		largeChanges := 0
		for i := 1; i < len(s.SpeedSamples); i++ {
			if abs(s.SpeedSamples[i]-s.SpeedSamples[i-1]) > speedAggressiveChangeMph {
				largeChanges++
			}
		}
		score += clamp(float64(largeChanges)*2, 0, 30)
	}

	score += clamp(float64(s.RPMDeltaSpikes)*2, 0, 20)

	if len(s.ConsumptionSamples) > 2 {
		score += clamp(variance(s.ConsumptionSamples)*5, 0, 20)
	}

	return clamp(score, 0, 100)
}

func safetyScore(s *models.DriverSession) float64 {
	score := 100.0

	if len(s.SpeedSamples) > 2 {
		score -= clamp(variance(s.SpeedSamples)*2, 0, 30)
	}

	if s.RPMSampleCount > 0 {
		spikeFraction := float64(s.RPMDeltaSpikes) / float64(s.RPMSampleCount)
		score -= clamp(spikeFraction*40, 0, 20)
	}

	idlePct := 0.0
	if s.TotalSeconds > 0 {
		idlePct = s.IdleSeconds / s.TotalSeconds * 100
	}
	switch {
	case idlePct < 10:
		score = clamp(score+5, 0, 100)
	case idlePct > 40:
		score -= clamp((idlePct-40)*0.5, 0, 20)
	}

	return clamp(score, 0, 100)
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

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
