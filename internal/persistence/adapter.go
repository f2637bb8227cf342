// Package persistence defines the sink the core writes to and never reads
// from at runtime, beyond replay at startup: checkpointed estimator state,
// every published event, and the accepted reading stream. The core treats
// every write as fire-and-forget: it never blocks Process on I/O, so
// every Adapter implementation must do its own buffering/retry internally.
//
// Grounded on internal/common/repository/base.go's generic repository
// shape and internal/tracking/cached_service.go's cache-in-front-of-store
// pattern, adapted from a CRUD-over-HTTP-resource repository to a
// three-stream append-only sink.
package persistence

import (
	"context"
	"time"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// Adapter is the persistence sink the core produces records to. Per
// spec: "The adapter must be crash-safe at the record level; the core
// guarantees only that recovery replay from the latest estimator_snapshot
// plus subsequent reading_archive records reproduces the same state
// bit-for-bit given identical configuration."
type Adapter interface {
	// EstimatorSnapshot records a periodic per-truck checkpoint of raw
	// EKF and idle Kalman state.
	EstimatorSnapshot(ctx context.Context, truckID string, ekf models.EKFState, idle models.IdleKalmanState, ts time.Time) error

	// Event records one published bus event, for audit and replay.
	Event(ctx context.Context, topic string, truckID string, payload interface{}, ts time.Time) error

	// ReadingArchive records one accepted reading, for history queries.
	ReadingArchive(ctx context.Context, reading models.Reading) error

	// LatestSnapshot returns the most recent checkpoint for a truck, if
	// any, for startup replay via estimator.Restore.
	LatestSnapshot(ctx context.Context, truckID string) (*models.EKFState, *models.IdleKalmanState, bool, error)

	// History returns accepted readings for a truck within a window,
	// oldest first, backing the Query API's history operation.
	History(ctx context.Context, truckID string, since, until time.Time) ([]models.Reading, error)
}
