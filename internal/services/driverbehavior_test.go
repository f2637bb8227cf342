package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func TestDriverBehaviorServiceAggregatesAcrossSessions(t *testing.T) {
	bus := eventbus.New()
	s := NewDriverBehaviorService(bus)

	bus.Publish(eventbus.TopicDriverSessionEnd, "truck-1", models.DriverSessionEndEvent{
		DriverID: "driver-1",
		TruckID:  "truck-1",
		Scores:   models.DriverScores{Stars: 4},
	})
	bus.Publish(eventbus.TopicDriverSessionEnd, "truck-1", models.DriverSessionEndEvent{
		DriverID: "driver-1",
		TruckID:  "truck-1",
		Scores:   models.DriverScores{Stars: 2},
	})

	summary, ok := s.Summary("driver-1")
	require.True(t, ok)
	assert.Equal(t, 2, summary.SessionCount)
	assert.Equal(t, 3.0, summary.AverageStars)
}

func TestDriverBehaviorServiceUnknownDriver(t *testing.T) {
	bus := eventbus.New()
	s := NewDriverBehaviorService(bus)

	_, ok := s.Summary("nobody")
	assert.False(t, ok)
}
