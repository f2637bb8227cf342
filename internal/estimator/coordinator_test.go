package estimator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ActivityClassification.ProductiveGeofences = []config.ProductiveGeofence{
		{
			Name: "yard",
			Polygon: []config.GeoPoint{
				{Lat: 40.000, Lon: -75.000},
				{Lat: 40.000, Lon: -74.999},
				{Lat: 40.001, Lon: -74.999},
				{Lat: 40.001, Lon: -75.000},
			},
		},
	}
	return cfg
}

func testSpec() models.TankSpec {
	return models.TankSpec{TruckID: "truck-1", CapacityL: 400, Shape: models.TankShapeCylinder}
}

func baseReading(t time.Time) models.Reading {
	return models.Reading{
		TruckID:      "truck-1",
		Timestamp:    t,
		FuelLevelPct: models.Ptr(50.0),
		SpeedMph:     models.Ptr(45.0),
		RPM:          models.Ptr(1500.0),
	}
}

func TestProcessDropsOutOfOrderReading(t *testing.T) {
	c := New(testSpec(), testConfig(), nil)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.Process(baseReading(start)))
	firstSnapshot := c.Snapshot()

	stale := baseReading(start.Add(-5 * time.Minute))
	require.NoError(t, c.Process(stale))

	assert.Equal(t, firstSnapshot.LastReadingAt, c.Snapshot().LastReadingAt)
}

func TestProcessPublishesFuelLevelChangeEveryCycle(t *testing.T) {
	bus := eventbus.New()
	var received []models.FuelLevelChangeEvent
	bus.Subscribe(eventbus.TopicFuelLevelChange, "test", func(e eventbus.Event) {
		received = append(received, e.Payload.(models.FuelLevelChangeEvent))
	})

	c := New(testSpec(), testConfig(), bus)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Process(baseReading(start)))

	require.Len(t, received, 1)
	assert.Equal(t, "truck-1", received[0].TruckID)
}

func TestActivityTransitionEventFiresOnChange(t *testing.T) {
	bus := eventbus.New()
	var transitions []models.ActivityTransitionEvent
	bus.Subscribe(eventbus.TopicActivityTransition, "test", func(e eventbus.Event) {
		transitions = append(transitions, e.Payload.(models.ActivityTransitionEvent))
	})

	c := New(testSpec(), testConfig(), bus)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	driving := baseReading(start)
	require.NoError(t, c.Process(driving))
	require.Len(t, transitions, 1) // ENGINE_OFF -> DRIVING on first reading

	stopped := baseReading(start.Add(time.Minute))
	stopped.SpeedMph = models.Ptr(0.0)
	stopped.Latitude = models.Ptr(41.0) // well outside the configured geofence
	stopped.Longitude = models.Ptr(-76.0)
	require.NoError(t, c.Process(stopped))

	require.Len(t, transitions, 2)
	assert.Equal(t, models.ActivityDriving, transitions[1].FromState)
	assert.Equal(t, models.ActivityNonProductiveIdle, transitions[1].ToState)
}

func TestDriverSessionClosesAndScoresOnGap(t *testing.T) {
	bus := eventbus.New()
	var ended []models.DriverSessionEndEvent
	bus.Subscribe(eventbus.TopicDriverSessionEnd, "test", func(e eventbus.Event) {
		ended = append(ended, e.Payload.(models.DriverSessionEndEvent))
	})

	c := New(testSpec(), testConfig(), bus)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	r1 := baseReading(start)
	r1.DriverID = "driver-7"
	require.NoError(t, c.Process(r1))

	r2 := baseReading(start.Add(time.Minute))
	r2.DriverID = "driver-7"
	require.NoError(t, c.Process(r2))

	gapReading := baseReading(start.Add(time.Hour))
	gapReading.DriverID = "driver-9" // different driver after a long gap closes driver-7's session
	require.NoError(t, c.Process(gapReading))

	require.Len(t, ended, 1)
	assert.Equal(t, "driver-7", ended[0].DriverID)
	assert.GreaterOrEqual(t, ended[0].Scores.Stars, 1)
	assert.LessOrEqual(t, ended[0].Scores.Stars, 5)
}

func TestRefuelDetectedThroughCoordinator(t *testing.T) {
	bus := eventbus.New()
	var refuels []models.RefuelEvent
	bus.Subscribe(eventbus.TopicRefuelDetected, "test", func(e eventbus.Event) {
		refuels = append(refuels, e.Payload.(models.RefuelEvent))
	})

	c := New(testSpec(), testConfig(), bus)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	low := baseReading(start)
	low.FuelLevelPct = models.Ptr(20.0)
	low.SpeedMph = models.Ptr(0.0)
	require.NoError(t, c.Process(low))

	for i := 1; i <= 3; i++ {
		refill := baseReading(start.Add(time.Duration(i) * time.Minute))
		refill.FuelLevelPct = models.Ptr(20.0 + float64(i)*25)
		refill.SpeedMph = models.Ptr(0.0)
		require.NoError(t, c.Process(refill))
	}

	require.NotEmpty(t, refuels)
	assert.Greater(t, refuels[0].GallonsAdded, 0.0)
}

func TestProcessPublishesCheckpointAtConfiguredInterval(t *testing.T) {
	bus := eventbus.New()
	var checkpoints []models.EstimatorCheckpointEvent
	bus.Subscribe(eventbus.TopicEstimatorCheckpoint, "test", func(e eventbus.Event) {
		checkpoints = append(checkpoints, e.Payload.(models.EstimatorCheckpointEvent))
	})

	cfg := testConfig()
	cfg.CheckpointIntervalSeconds = 60
	c := New(testSpec(), cfg, bus)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.Process(baseReading(start)))
	require.Len(t, checkpoints, 1, "first accepted reading always checkpoints")

	require.NoError(t, c.Process(baseReading(start.Add(30*time.Second))))
	assert.Len(t, checkpoints, 1, "within the interval, no second checkpoint")

	require.NoError(t, c.Process(baseReading(start.Add(90*time.Second))))
	assert.Len(t, checkpoints, 2, "past the interval, a second checkpoint fires")
}

func TestResetEKFRebuildsFreshState(t *testing.T) {
	bus := eventbus.New()
	c := New(testSpec(), testConfig(), bus)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r := baseReading(start.Add(time.Duration(i) * time.Minute))
		r.FuelLevelPct = models.Ptr(50.0 - float64(i)*5)
		require.NoError(t, c.Process(r))
	}

	before := c.Snapshot()
	assert.NotEqual(t, testSpec().CapacityL*0.5, before.EKF.VolumeL)

	c.ResetEKF()

	after := c.Snapshot()
	assert.InDelta(t, testSpec().CapacityL*0.5, after.EKF.VolumeL, 0.001)
}

func TestResetIdleKalmanRebuildsFreshState(t *testing.T) {
	bus := eventbus.New()
	c := New(testSpec(), testConfig(), bus)

	c.ResetIdleKalman()

	after := c.Snapshot()
	assert.Equal(t, 0.8, after.Idle.IdleGph)
}

func TestForceCloseDriverSessionEndsActiveSession(t *testing.T) {
	bus := eventbus.New()
	var ended []models.DriverSessionEndEvent
	bus.Subscribe(eventbus.TopicDriverSessionEnd, "test", func(e eventbus.Event) {
		ended = append(ended, e.Payload.(models.DriverSessionEndEvent))
	})

	c := New(testSpec(), testConfig(), bus)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	r := baseReading(start)
	r.DriverID = "driver-3"
	require.NoError(t, c.Process(r))

	c.ForceCloseDriverSession("driver-9")
	assert.Empty(t, ended, "closing a driver that isn't active is a no-op")

	c.ForceCloseDriverSession("driver-3")
	require.Len(t, ended, 1)
	assert.Equal(t, "driver-3", ended[0].DriverID)
}
