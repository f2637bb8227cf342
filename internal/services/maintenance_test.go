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

func TestMaintenanceServiceFiresOnceAfterSustainedDegradation(t *testing.T) {
	bus := eventbus.New()
	cfg := config.Default()
	cfg.Thresholds.EfficiencyDegradedThreshold = 0.85
	cfg.Thresholds.EfficiencyDegradedWindowMinutes = 60

	var hints []models.MaintenanceHintEvent
	bus.Subscribe(eventbus.TopicMaintenanceHint, "test", func(e eventbus.Event) {
		hints = append(hints, e.Payload.(models.MaintenanceHintEvent))
	})
	s := NewMaintenanceService(cfg, bus)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{
		TruckID: "truck-1", Efficiency: 0.7, Timestamp: start,
	})
	require.Empty(t, hints)

	bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{
		TruckID: "truck-1", Efficiency: 0.7, Timestamp: start.Add(90 * time.Minute),
	})
	require.Len(t, hints, 1)

	// a further degraded reading should not fire a second hint
	bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{
		TruckID: "truck-1", Efficiency: 0.7, Timestamp: start.Add(120 * time.Minute),
	})
	assert.Len(t, hints, 1)
	assert.Len(t, s.Hints("truck-1"), 1)
}

func TestMaintenanceServiceResetsOnRecovery(t *testing.T) {
	bus := eventbus.New()
	cfg := config.Default()
	cfg.Thresholds.EfficiencyDegradedThreshold = 0.85
	cfg.Thresholds.EfficiencyDegradedWindowMinutes = 60

	var hints []models.MaintenanceHintEvent
	bus.Subscribe(eventbus.TopicMaintenanceHint, "test", func(e eventbus.Event) {
		hints = append(hints, e.Payload.(models.MaintenanceHintEvent))
	})
	NewMaintenanceService(cfg, bus)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{
		TruckID: "truck-1", Efficiency: 0.7, Timestamp: start,
	})
	bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{
		TruckID: "truck-1", Efficiency: 0.95, Timestamp: start.Add(30 * time.Minute),
	})
	bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{
		TruckID: "truck-1", Efficiency: 0.7, Timestamp: start.Add(150 * time.Minute),
	})

	assert.Empty(t, hints)
}
