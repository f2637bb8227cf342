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

func TestAlertServiceDedupsWithinWindow(t *testing.T) {
	bus := eventbus.New()
	cfg := config.Default()
	cfg.Thresholds.AlertDedupWindowMinutes = 30
	s := NewAlertService(cfg, bus)

	ts := time.Now()
	bus.Publish(eventbus.TopicAnomalyDetected, "truck-1", models.AnomalyEvent{
		TruckID: "truck-1", Kind: models.AnomalySiphoning, Severity: models.SeverityCritical, Timestamp: ts,
	})
	bus.Publish(eventbus.TopicAnomalyDetected, "truck-1", models.AnomalyEvent{
		TruckID: "truck-1", Kind: models.AnomalySiphoning, Severity: models.SeverityCritical, Timestamp: ts.Add(10 * time.Minute),
	})

	require.Len(t, s.Alerts("truck-1"), 1)

	bus.Publish(eventbus.TopicAnomalyDetected, "truck-1", models.AnomalyEvent{
		TruckID: "truck-1", Kind: models.AnomalySiphoning, Severity: models.SeverityCritical, Timestamp: ts.Add(45 * time.Minute),
	})
	assert.Len(t, s.Alerts("truck-1"), 2)
}

func TestAlertServiceMapsRefuelAndOfflineTransition(t *testing.T) {
	bus := eventbus.New()
	cfg := config.Default()
	s := NewAlertService(cfg, bus)

	bus.Publish(eventbus.TopicRefuelDetected, "truck-1", models.RefuelEvent{
		TruckID: "truck-1", GallonsAdded: 40, Timestamp: time.Now(),
	})
	bus.Publish(eventbus.TopicActivityTransition, "truck-1", models.ActivityTransitionEvent{
		TruckID: "truck-1", FromState: models.ActivityDriving, ToState: models.ActivityOffline, Timestamp: time.Now(),
	})
	bus.Publish(eventbus.TopicActivityTransition, "truck-1", models.ActivityTransitionEvent{
		TruckID: "truck-1", FromState: models.ActivityDriving, ToState: models.ActivityNonProductiveIdle, Timestamp: time.Now(),
	})

	alerts := s.Alerts("truck-1")
	require.Len(t, alerts, 2)
	assert.Equal(t, "refuel_detected", alerts[0].Kind)
	assert.Equal(t, "vehicle_offline", alerts[1].Kind)
}
