// Package telemetry defines the boundary between the core and whatever
// produces Reading records: a live fleet gateway, a replay file, or (for
// the demo binary) the simulated generator in ./simsource. Grounded on
// seeds/gps_tracks.go for the kind of realistic route/fuel simulation a
// demo data source needs, adapted from one-shot DB seeding to a
// continuously-polled live source.
package telemetry

import (
	"context"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// Source yields batches of Reading records, sorted per truck, with
// at-least-once delivery semantics. Fetch should block until at least
// one reading is available or ctx is done.
type Source interface {
	Fetch(ctx context.Context) ([]models.Reading, error)
}
