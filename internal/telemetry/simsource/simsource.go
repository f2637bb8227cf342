// Package simsource is a demo Source that simulates a small fleet
// driving fixed routes, draining fuel as they go and refueling when low.
// Grounded on seeds/gps_tracks.go's route-interpolation and
// bearing-calculation helpers, adapted from one-shot GPSTrack DB rows to
// a live, continuously-advancing telemetry.Source.
package simsource

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// waypoint is one vertex of a simulated route.
type waypoint struct {
	lat, lon float64
}

var defaultRoute = []waypoint{
	{-6.1751, 106.8272},
	{-6.1800, 106.8250},
	{-6.1900, 106.8230},
	{-6.2000, 106.8210},
	{-6.2100, 106.8190},
	{-6.2200, 106.8170},
	{-6.2350, 106.8000},
}

const (
	tankCapacityL   = 400.0
	cruiseMph       = 45.0
	idleProbability = 0.1
	refuelFloorPct  = 15.0
)

// truckState is one simulated truck's continuously-advancing position
// and fuel level.
type truckState struct {
	truckID      string
	route        []waypoint
	legIndex     int
	legProgress  float64
	fuelPct      float64
	totalUsedL   float64
	idleFuelGal  float64
	idling       bool
	idleSince    time.Time
	driverID     string
}

// Source simulates a fixed-size fleet, producing one Reading per truck
// per Fetch call.
type Source struct {
	trucks   []*truckState
	rng      *rand.Rand
	interval time.Duration
	clock    time.Time
}

// New builds a simulated source for the given truck IDs, each assigned a
// copy of the default demo route offset by its index so the fleet isn't
// perfectly synchronized.
func New(truckIDs []string, pollInterval time.Duration) *Source {
	rng := rand.New(rand.NewSource(1))
	trucks := make([]*truckState, 0, len(truckIDs))
	for i, id := range truckIDs {
		trucks = append(trucks, &truckState{
			truckID:     id,
			route:       defaultRoute,
			legIndex:    i % (len(defaultRoute) - 1),
			legProgress: rng.Float64(),
			fuelPct:     60 + rng.Float64()*35,
			driverID:    "driver-" + id,
		})
	}
	return &Source{
		trucks:   trucks,
		rng:      rng,
		interval: pollInterval,
		clock:    time.Now(),
	}
}

// Fetch advances every simulated truck by one polling interval and
// returns a reading per truck.
func (s *Source) Fetch(ctx context.Context) ([]models.Reading, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.clock = s.clock.Add(s.interval)
	readings := make([]models.Reading, 0, len(s.trucks))
	for _, t := range s.trucks {
		readings = append(readings, s.advance(t, s.clock))
	}
	return readings, nil
}

func (s *Source) advance(t *truckState, now time.Time) models.Reading {
	if t.fuelPct < refuelFloorPct && s.rng.Float64() < 0.3 {
		t.fuelPct = 85 + s.rng.Float64()*15
	}

	idling := !t.idling && s.rng.Float64() < idleProbability
	if idling {
		t.idling = true
		t.idleSince = now
	} else if t.idling && s.rng.Float64() < 0.4 {
		t.idling = false
	}

	var speed, rpm, engineLoad float64
	if t.idling {
		speed = 0
		rpm = 650 + s.rng.Float64()*50
		engineLoad = 8 + s.rng.Float64()*4
	} else {
		speed = cruiseMph + (s.rng.Float64()-0.5)*15
		if speed < 5 {
			speed = 5
		}
		rpm = 1200 + speed*15
		engineLoad = 35 + s.rng.Float64()*25
		t.advancePosition(speed, s.interval)
	}

	gph := idleGph(t.idling, speed, engineLoad)
	hoursElapsed := s.interval.Hours()
	litersUsed := gph * galPerLiterSim * hoursElapsed
	t.totalUsedL += litersUsed
	if t.idling {
		t.idleFuelGal += gph * hoursElapsed
	}
	t.fuelPct -= litersUsed / tankCapacityL * 100
	if t.fuelPct < 0 {
		t.fuelPct = 0
	}

	lat, lon := t.position()

	return models.Reading{
		TruckID:            t.truckID,
		Timestamp:          now,
		FuelLevelPct:       models.Ptr(t.fuelPct),
		ECUTotalFuelUsedL:  models.Ptr(t.totalUsedL),
		ECUFuelRateGph:     models.Ptr(gph),
		ECUTotalIdleFuelGl: models.Ptr(t.idleFuelGal),
		SpeedMph:           models.Ptr(speed),
		RPM:                models.Ptr(rpm),
		EngineLoadPct:      models.Ptr(engineLoad),
		AltitudeFt:         models.Ptr(20 + s.rng.Float64()*10),
		AmbientTempF:       models.Ptr(75.0),
		Latitude:           models.Ptr(lat),
		Longitude:          models.Ptr(lon),
		DriverID:           t.driverID,
	}
}

func (t *truckState) advancePosition(speedMph float64, dt time.Duration) {
	milesThisTick := speedMph * dt.Hours()
	t.legProgress += milesThisTick / legLengthMiles(t)
	for t.legProgress >= 1 {
		t.legProgress -= 1
		t.legIndex = (t.legIndex + 1) % (len(t.route) - 1)
	}
}

func legLengthMiles(t *truckState) float64 {
	a, b := t.route[t.legIndex], t.route[(t.legIndex+1)%len(t.route)]
	return haversineMiles(a.lat, a.lon, b.lat, b.lon)
}

func (t *truckState) position() (float64, float64) {
	a, b := t.route[t.legIndex], t.route[(t.legIndex+1)%len(t.route)]
	lat := a.lat + (b.lat-a.lat)*t.legProgress
	lon := a.lon + (b.lon-a.lon)*t.legProgress
	return lat, lon
}

func idleGph(idling bool, speedMph, engineLoadPct float64) float64 {
	if idling {
		return 0.6 + engineLoadPct*0.02
	}
	return 2.0 + speedMph*0.03 + engineLoadPct*0.01
}

const (
	galPerLiterSim   = 3.78541
	earthRadiusMiSim = 3958.8
)

func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMiSim * c
}
