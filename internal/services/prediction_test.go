package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func TestPredictionServiceForecastsFourHorizons(t *testing.T) {
	bus := eventbus.New()
	s := NewPredictionService(bus, nil)

	for i := 0; i < 10; i++ {
		bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{
			TruckID:        "truck-1",
			ConsumptionGph: 2.0 + float64(i)*0.1,
		})
	}

	forecasts := s.Forecast("truck-1")
	require.Len(t, forecasts, 4)
	for _, f := range forecasts {
		assert.LessOrEqual(t, f.RangeLowGph, f.PredictedGph)
		assert.GreaterOrEqual(t, f.RangeHighGph, f.PredictedGph)
	}
}

func TestPredictionServiceNoSamplesYieldsNoForecast(t *testing.T) {
	bus := eventbus.New()
	s := NewPredictionService(bus, nil)

	assert.Empty(t, s.Forecast("unknown-truck"))
}

type stubForecaster struct{}

func (stubForecaster) Forecast(truckID string, samples []float64) []Forecast {
	return []Forecast{{PredictedGph: 42}}
}

func TestPredictionServiceAcceptsPluggableForecaster(t *testing.T) {
	bus := eventbus.New()
	s := NewPredictionService(bus, stubForecaster{})

	bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{
		TruckID: "truck-1", ConsumptionGph: 3.0,
	})

	forecasts := s.Forecast("truck-1")
	require.Len(t, forecasts, 1)
	assert.Equal(t, 42.0, forecasts[0].PredictedGph)
}
