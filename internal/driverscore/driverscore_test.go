package driverscore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func TestSmoothSessionScoresWell(t *testing.T) {
	s := &models.DriverSession{
		SpeedSamples:       []float64{55, 56, 55, 57, 56, 55},
		ConsumptionSamples: []float64{6.0, 6.1, 5.9, 6.0},
		RPMDeltaSpikes:     0,
		RPMSampleCount:     50,
		IdleSeconds:        60,
		TotalSeconds:       3600,
		FuelConsumedL:      50,
		DistanceMiles:      80,
	}
	scores := Score(s)
	assert.Greater(t, scores.SafetyScore, 90.0)
	assert.Less(t, scores.AggressivenessScore, 40.0)
	assert.GreaterOrEqual(t, scores.Stars, 3)
}

func TestErraticSessionScoresPoorly(t *testing.T) {
	s := &models.DriverSession{
		SpeedSamples:       []float64{20, 60, 15, 65, 10, 70},
		ConsumptionSamples: []float64{3, 9, 2, 10, 4},
		RPMDeltaSpikes:     12,
		RPMSampleCount:     50,
		IdleSeconds:        1800,
		TotalSeconds:       3600,
		FuelConsumedL:      120,
		DistanceMiles:      60,
	}
	scores := Score(s)
	assert.Greater(t, scores.AggressivenessScore, 60.0)
	assert.Less(t, scores.SafetyScore, 70.0)
	assert.LessOrEqual(t, scores.Stars, 3)
}

func TestZeroDistanceFallsBackToNeutralEfficiency(t *testing.T) {
	s := &models.DriverSession{DistanceMiles: 0}
	scores := Score(s)
	assert.Equal(t, 50.0, scores.EfficiencyScore)
}
