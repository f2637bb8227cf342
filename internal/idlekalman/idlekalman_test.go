package idlekalman

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func TestECUCounterRejectsOutOfBoundsDelta(t *testing.T) {
	state := models.DefaultIdleKalmanState("t1")
	f := New(state)
	ok := f.UpdateECUCounter(6.0, 1.0, time.Now()) // 6 gal > 5 gal cap
	assert.False(t, ok)
	assert.Equal(t, 0, state.SamplesUsed)
}

func TestFuelDeltaRequiresMinimumWindow(t *testing.T) {
	state := models.DefaultIdleKalmanState("t1")
	f := New(state)
	ok := f.UpdateFuelDelta(0.5, 0.1, 1.0, time.Now()) // 6 minutes, below the 12-minute floor
	assert.False(t, ok)
}

func TestRPMModelColdTemperatureRaisesEstimate(t *testing.T) {
	state := models.DefaultIdleKalmanState("t1")
	f := New(state)
	warm := 70.0
	cold := 20.0

	ok := f.UpdateRPMModel(700, 0, &warm, time.Now())
	require.True(t, ok)
	warmEstimate := state.IdleGph

	state2 := models.DefaultIdleKalmanState("t1")
	f2 := New(state2)
	ok = f2.UpdateRPMModel(700, 0, &cold, time.Now())
	require.True(t, ok)
	coldEstimate := state2.IdleGph

	assert.Greater(t, coldEstimate, warmEstimate)
}

func TestMultiSensorSourceWhenTwoChannelsContribute(t *testing.T) {
	state := models.DefaultIdleKalmanState("t1")
	f := New(state)
	rate := 3.0
	rpm := 700.0
	est := f.UpdateAll(UpdateInput{
		FuelRateRaw: &rate,
		RPM:         &rpm,
	}, time.Now())
	assert.Equal(t, models.IdleSourceMultiSensor, est.Source)
	assert.Equal(t, 2, state.SamplesUsed)
}

func TestAdaptiveRDampensSingleOutlier(t *testing.T) {
	state := models.DefaultIdleKalmanState("t1")
	f := New(state)
	base := time.Now()

	clean := 0.75 * galPerLiter // UpdateFuelRate's range check runs on the raw value
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		f.Predict(1.0 / 60)
		require.True(t, f.UpdateFuelRate(clean, ts))
	}
	require.InDelta(t, 0.75, state.IdleGph, 0.05)

	outlier := 2.0 * galPerLiter
	f.Predict(1.0 / 60)
	require.True(t, f.UpdateFuelRate(outlier, base.Add(10*time.Minute)))

	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(11+i) * time.Minute)
		f.Predict(1.0 / 60)
		require.True(t, f.UpdateFuelRate(clean, ts))
	}

	assert.InDelta(t, 0.75, state.IdleGph, 0.1)
}

func TestConfidenceTracksConvergence(t *testing.T) {
	state := models.DefaultIdleKalmanState("t1")
	f := New(state)
	base := time.Now()
	initial := f.Estimate().ConfidencePct

	clean := 0.75 * galPerLiter
	for i := 0; i < 5; i++ {
		f.Predict(1.0 / 60)
		f.UpdateFuelRate(clean, base.Add(time.Duration(i)*time.Minute))
	}
	assert.Greater(t, f.Estimate().ConfidencePct, initial)
}
