package estimator

import (
	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// classifyActivity runs the per-reading activity state machine: engine-off
// and driving take priority over idle, and idle is split into
// productive/non-productive by whether the truck sits inside a configured
// geofence. OFFLINE is never returned here; it is assigned only by the
// separate staleness sweep in registry.go, since it depends on the
// absence of a reading rather than the content of one.
func classifyActivity(speedMph, rpm float64, lat, lon *float64, cfg config.ActivityClassification) models.ActivityState {
	if rpm == 0 {
		return models.ActivityEngineOff
	}
	if speedMph > cfg.SpeedDrivingThresholdMph {
		return models.ActivityDriving
	}
	if lat != nil && lon != nil && insideAnyGeofence(*lat, *lon, cfg.ProductiveGeofences) {
		return models.ActivityProductiveIdle
	}
	return models.ActivityNonProductiveIdle
}

func insideAnyGeofence(lat, lon float64, geofences []config.ProductiveGeofence) bool {
	for _, g := range geofences {
		if pointInPolygon(lat, lon, g.Polygon) {
			return true
		}
	}
	return false
}

// pointInPolygon is the standard ray-casting test over a polygon
// expressed as (lat, lon) vertices treated as a flat 2D plane, adequate
// for the small geofence footprints (loading docks, yards) this
// classification targets.
func pointInPolygon(lat, lon float64, polygon []config.GeoPoint) bool {
	if len(polygon) < 3 {
		return false
	}
	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		pi, pj := polygon[i], polygon[j]
		if ((pi.Lon > lon) != (pj.Lon > lon)) &&
			(lat < (pj.Lat-pi.Lat)*(lon-pi.Lon)/(pj.Lon-pi.Lon)+pi.Lat) {
			inside = !inside
		}
		j = i
	}
	return inside
}
