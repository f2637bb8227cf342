package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func TestAnomalyServiceFlagsSiphoning(t *testing.T) {
	bus := eventbus.New()
	cfg := config.Default()
	var anomalies []models.AnomalyEvent
	bus.Subscribe(eventbus.TopicAnomalyDetected, "test", func(e eventbus.Event) {
		anomalies = append(anomalies, e.Payload.(models.AnomalyEvent))
	})
	NewAnomalyService(cfg, bus)

	bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{
		TruckID:        "truck-1",
		ConsumptionGph: cfg.Thresholds.IdleMaxGph*2 + 1,
		SpeedMph:       0,
		Activity:       models.ActivityNonProductiveIdle,
		Timestamp:      time.Now().Add(-time.Hour),
	})

	require.Len(t, anomalies, 1)
	assert.Equal(t, models.AnomalySiphoning, anomalies[0].Kind)
}

func TestAnomalyServiceFlagsConsumptionSpike(t *testing.T) {
	bus := eventbus.New()
	cfg := config.Default()
	var anomalies []models.AnomalyEvent
	bus.Subscribe(eventbus.TopicAnomalyDetected, "test", func(e eventbus.Event) {
		anomalies = append(anomalies, e.Payload.(models.AnomalyEvent))
	})
	NewAnomalyService(cfg, bus)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		bus.Publish(eventbus.TopicFuelLevelChange, "truck-2", models.FuelLevelChangeEvent{
			TruckID:        "truck-2",
			ConsumptionGph: 3.0,
			SpeedMph:       40,
			Activity:       models.ActivityDriving,
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
		})
	}
	anomalies = nil
	bus.Publish(eventbus.TopicFuelLevelChange, "truck-2", models.FuelLevelChangeEvent{
		TruckID:        "truck-2",
		ConsumptionGph: 20.0,
		SpeedMph:       40,
		Activity:       models.ActivityDriving,
		Timestamp:      base.Add(9 * time.Minute),
	})

	require.NotEmpty(t, anomalies)
	assert.Equal(t, models.AnomalyConsumptionSpike, anomalies[0].Kind)
}

func TestAnomalyServiceFlagsInconsistentRefuel(t *testing.T) {
	bus := eventbus.New()
	cfg := config.Default()
	var anomalies []models.AnomalyEvent
	bus.Subscribe(eventbus.TopicAnomalyDetected, "test", func(e eventbus.Event) {
		anomalies = append(anomalies, e.Payload.(models.AnomalyEvent))
	})
	NewAnomalyService(cfg, bus)

	bus.Publish(eventbus.TopicRefuelDetected, "truck-3", models.RefuelEvent{
		TruckID:      "truck-3",
		GallonsAdded: 5,
		LevelBefore:  80,
		LevelAfter:   60, // went down, not up: inconsistent
		Timestamp:    time.Now(),
	})

	require.Len(t, anomalies, 1)
	assert.Equal(t, models.AnomalyInconsistentRefuel, anomalies[0].Kind)
}
