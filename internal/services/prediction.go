package services

import (
	"math"
	"sync"
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const predictionSampleWindow = 30

var predictionHorizons = []time.Duration{1 * time.Hour, 4 * time.Hour, 12 * time.Hour, 24 * time.Hour}

// Forecast is one horizon's predicted consumption with its uncertainty
// band.
type Forecast struct {
	Horizon      time.Duration `json:"horizon"`
	PredictedGph float64       `json:"predicted_gph"`
	RangeLowGph  float64       `json:"range_low_gph"`
	RangeHighGph float64       `json:"range_high_gph"`
}

// Forecaster produces a forecast for every configured horizon from a
// window of recent consumption samples. Internal model training is out
// of scope; this interface is the seam a learned model plugs into
// without the rest of the service knowing the difference.
type Forecaster interface {
	Forecast(truckID string, samples []float64) []Forecast
}

// linearForecaster is the deterministic default: a least-squares trend
// over the sample window, projected per horizon, with a fixed-width
// uncertainty band that widens with horizon length. No ML backend is
// required for the service's contract to hold.
type linearForecaster struct{}

func (linearForecaster) Forecast(_ string, samples []float64) []Forecast {
	if len(samples) == 0 {
		return nil
	}
	slope := leastSquaresSlope(samples)
	last := samples[len(samples)-1]
	stdev := stddev(samples)

	forecasts := make([]Forecast, 0, len(predictionHorizons))
	for _, h := range predictionHorizons {
		hoursAhead := h.Hours()
		predicted := last + slope*hoursAhead
		if predicted < 0 {
			predicted = 0
		}
		band := stdev * (1 + hoursAhead/24)
		forecasts = append(forecasts, Forecast{
			Horizon:      h,
			PredictedGph: predicted,
			RangeLowGph:  clampNonNegative(predicted - band),
			RangeHighGph: predicted + band,
		})
	}
	return forecasts
}

// PredictionService keeps a bounded consumption-sample window per truck
// and produces on-demand forecasts through its Forecaster.
type PredictionService struct {
	forecaster Forecaster

	mu      sync.Mutex
	samples map[string][]float64
}

// NewPredictionService subscribes to FuelLevelChange and returns the
// running service using the default linear forecaster. Pass a non-nil
// forecaster to plug in a learned model instead.
func NewPredictionService(bus *eventbus.Bus, forecaster Forecaster) *PredictionService {
	if forecaster == nil {
		forecaster = linearForecaster{}
	}
	s := &PredictionService{
		forecaster: forecaster,
		samples:    make(map[string][]float64),
	}
	bus.Subscribe(eventbus.TopicFuelLevelChange, "prediction-service", s.handleFuelLevelChange)
	return s
}

func (s *PredictionService) handleFuelLevelChange(e eventbus.Event) {
	evt, ok := e.Payload.(models.FuelLevelChangeEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	s.samples[evt.TruckID] = appendBounded(s.samples[evt.TruckID], evt.ConsumptionGph, predictionSampleWindow)
	s.mu.Unlock()
}

// Forecast returns the current forecast set for a truck, or nil if no
// samples have been observed yet.
func (s *PredictionService) Forecast(truckID string) []Forecast {
	s.mu.Lock()
	samples := append([]float64(nil), s.samples[truckID]...)
	s.mu.Unlock()
	return s.forecaster.Forecast(truckID, samples)
}

func stddev(vs []float64) float64 {
	if len(vs) < 2 {
		return 0
	}
	var mean float64
	for _, v := range vs {
		mean += v
	}
	mean /= float64(len(vs))

	var sumSq float64
	for _, v := range vs {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vs)-1))
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
