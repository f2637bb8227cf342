package tankmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func TestCylinderRoundTrip(t *testing.T) {
	c := CylinderCurve{}
	capacity := 500.0
	for _, v := range []float64{0, 1, 100, 250, 499, 500} {
		pct := c.SensorPctFromVolume(v, capacity)
		got := c.VolumeFromSensorPct(pct, capacity)
		assert.InDelta(t, v, got, 1e-6)
	}
}

func TestCylinderSlope(t *testing.T) {
	c := CylinderCurve{}
	assert.InDelta(t, 100.0/500, c.DSensorPctDVolume(0, 500), 1e-9)
}

func TestSaddleRoundTripWithinRegions(t *testing.T) {
	c := SaddleCurve{}
	capacity := 500.0
	for _, pct := range []float64{5, 10, 19, 20, 50, 79, 80, 90, 99} {
		v := c.VolumeFromSensorPct(pct, capacity)
		got := c.SensorPctFromVolume(v, capacity)
		assert.InDelta(t, pct, got, 2.0, "region boundary tolerance is 2 pct")
	}
}

func TestSaddleSlopeByRegion(t *testing.T) {
	c := SaddleCurve{}
	capacity := 500.0

	lowVol := c.VolumeFromSensorPct(10, capacity)
	assert.InDelta(t, saddleLowSlope*100/capacity, c.DSensorPctDVolume(lowVol, capacity), 1e-6)

	midVol := c.VolumeFromSensorPct(50, capacity)
	assert.InDelta(t, saddleMidSlope*100/capacity, c.DSensorPctDVolume(midVol, capacity), 1e-6)

	highVol := c.VolumeFromSensorPct(90, capacity)
	assert.InDelta(t, saddleHighSlope*100/capacity, c.DSensorPctDVolume(highVol, capacity), 1e-6)
}

func TestForShapeUnknownFallsBackToLinear(t *testing.T) {
	spec := models.TankSpec{TruckID: "t1", CapacityL: 400, Shape: "unknown_shape"}
	curve := ForShape(spec)
	assert.IsType(t, CylinderCurve{}, curve)
}

func TestCustomCurveInterpolation(t *testing.T) {
	curve := CustomCurve{Calibration: []models.CalibrationPoint{
		{VolumeL: 0, SensorPct: 0},
		{VolumeL: 100, SensorPct: 50},
		{VolumeL: 200, SensorPct: 100},
	}}
	assert.InDelta(t, 25, curve.SensorPctFromVolume(50, 200), 1e-6)
	assert.InDelta(t, 50, curve.VolumeFromSensorPct(25, 200), 1e-6)
}
