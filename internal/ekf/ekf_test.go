package ekf

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func newTestFilter(shape models.TankShape, capacity float64) (*Filter, *models.EKFState) {
	spec := models.TankSpec{TruckID: "t1", CapacityL: capacity, Shape: shape}
	state := models.DefaultEKFState("t1", capacity*0.5)
	return New(spec, state, DefaultTuning()), state
}

func TestPredictClampsVolumeAndRate(t *testing.T) {
	f, state := newTestFilter(models.TankShapeSaddle, 500)
	f.Predict(1.0, 65, 1400, 70, 0, 70)
	assert.GreaterOrEqual(t, state.VolumeL, 0.0)
	assert.LessOrEqual(t, state.VolumeL, 500.0)
	assert.GreaterOrEqual(t, state.RateLph, 0.5)
	assert.LessOrEqual(t, state.RateLph, 30.0)
}

func TestHighwayCruiseConvergesOnECURate(t *testing.T) {
	f, state := newTestFilter(models.TankShapeSaddle, 500)
	state.RateLph = 10 // start far from the ECU truth to prove convergence
	base := time.Now()
	for i := 0; i < 30; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		f.Predict(1.0/60, 65, 1400, 70, 0, 70)
		f.UpdateFuelRate(6.0, ts) // 6 gph ECU rate
	}
	gotGph := state.RateLph / galPerLiter
	assert.InDelta(t, 6.0, gotGph, 0.5)
}

func TestECUDeltaRejectsOutOfBoundsAndRebaselines(t *testing.T) {
	f, state := newTestFilter(models.TankShapeCylinder, 500)
	base := time.Now()
	_, err := f.UpdateECUFuelUsed(1000, base)
	require.NoError(t, err)

	_, err = f.UpdateECUFuelUsed(1000+60, base.Add(time.Minute)) // 60L > 50L cap
	assert.Error(t, err)
	assert.InDelta(t, 1060, *state.LastECUTotalL, 1e-9)
}

func TestECUDeltaHalvesVolumeUncertainty(t *testing.T) {
	f, state := newTestFilter(models.TankShapeCylinder, 500)
	base := time.Now()
	_, err := f.UpdateECUFuelUsed(1000, base)
	require.NoError(t, err)
	before := state.P[0][0]
	_, err = f.UpdateECUFuelUsed(1005, base.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, before*0.5, state.P[0][0], 1e-9)
}

func TestRefuelDetectionSaddleTank(t *testing.T) {
	f, state := newTestFilter(models.TankShapeSaddle, 500)
	state.VolumeL = 150 // ~30% of 500L
	base := time.Now()

	pcts := []float64{30, 29, 29, 28, 85, 86, 85}
	var speeds []SpeedSample
	var refuel *models.RefuelEvent
	for i, pct := range pcts {
		ts := base.Add(time.Duration(i) * time.Minute)
		// drive volume directly to the target pct via the saddle curve's
		// inverse so UpdateFuelSensor's innovation pulls state to it.
		targetVolume := f.curve.VolumeFromSensorPct(pct, 500)
		state.VolumeL = targetVolume
		f.UpdateFuelSensor(pct, ts)
		speeds = append(speeds, SpeedSample{Timestamp: ts, SpeedMph: 0})
		if r := f.DetectRefuel(speeds); r != nil {
			refuel = r
		}
	}
	require.NotNil(t, refuel)
	assert.InDelta(t, 28, refuel.LevelBefore, 1.0)
	assert.InDelta(t, 85, refuel.LevelAfter, 1.0)
}

func TestNumericalAnomalyRevertsUpdate(t *testing.T) {
	f, state := newTestFilter(models.TankShapeCylinder, 500)
	state.P[0][0] = math.NaN()
	preVolume := state.VolumeL
	reverted := f.UpdateFuelSensor(50, time.Now())
	assert.True(t, reverted, "a non-finite result must be reported to the caller")
	assert.Equal(t, preVolume, state.VolumeL, "state must not move on a non-finite update")
}

func TestNumericalAnomalyRevertsPredict(t *testing.T) {
	f, state := newTestFilter(models.TankShapeCylinder, 500)
	state.P[0][0] = math.NaN()
	preVolume, preRate, preP := state.VolumeL, state.RateLph, state.P

	reverted := f.Predict(1.0, 65, 1400, 70, 0, 70)

	assert.True(t, reverted, "a non-finite covariance must be reported to the caller")
	assert.Equal(t, preVolume, state.VolumeL, "volume must not move on a reverted predict")
	assert.Equal(t, preRate, state.RateLph, "rate must not move on a reverted predict")
	assert.Equal(t, fmt.Sprint(preP), fmt.Sprint(state.P), "covariance must not move on a reverted predict")
}
