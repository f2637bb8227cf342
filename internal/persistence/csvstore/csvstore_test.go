package csvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func TestStoreRoundTripsLatestSnapshot(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	ekf := models.EKFState{TruckID: "truck-1", VolumeL: 120, RateLph: 2, Efficiency: 0.95}
	idle := models.IdleKalmanState{TruckID: "truck-1", IdleGph: 0.8}

	require.NoError(t, store.EstimatorSnapshot(ctx, "truck-1", ekf, idle, time.Now()))

	gotEKF, gotIdle, found, err := store.LatestSnapshot(ctx, "truck-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ekf.VolumeL, gotEKF.VolumeL)
	assert.Equal(t, idle.IdleGph, gotIdle.IdleGph)
}

func TestStoreLatestSnapshotKeepsMostRecentRow(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	first := models.EKFState{TruckID: "truck-1", VolumeL: 100}
	second := models.EKFState{TruckID: "truck-1", VolumeL: 200}
	idle := models.IdleKalmanState{TruckID: "truck-1"}

	require.NoError(t, store.EstimatorSnapshot(ctx, "truck-1", first, idle, time.Now()))
	require.NoError(t, store.EstimatorSnapshot(ctx, "truck-1", second, idle, time.Now()))

	got, _, found, err := store.LatestSnapshot(ctx, "truck-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 200.0, got.VolumeL)
}

func TestStoreHistoryFiltersByWindow(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Now().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		r := models.Reading{TruckID: "truck-1", Timestamp: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.ReadingArchive(ctx, r))
	}

	readings, err := store.History(ctx, "truck-1", base.Add(time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Len(t, readings, 3)
}

func TestStoreLatestSnapshotUnknownTruckNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, _, found, err := store.LatestSnapshot(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}
