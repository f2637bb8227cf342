package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

type fakeAdapter struct {
	mu        sync.Mutex
	snapshots int
	events    int
	readings  int
}

func (f *fakeAdapter) EstimatorSnapshot(ctx context.Context, truckID string, ekf models.EKFState, idle models.IdleKalmanState, ts time.Time) error {
	f.mu.Lock()
	f.snapshots++
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Event(ctx context.Context, topic string, truckID string, payload interface{}, ts time.Time) error {
	f.mu.Lock()
	f.events++
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) ReadingArchive(ctx context.Context, reading models.Reading) error {
	f.mu.Lock()
	f.readings++
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) LatestSnapshot(ctx context.Context, truckID string) (*models.EKFState, *models.IdleKalmanState, bool, error) {
	return nil, nil, false, nil
}

func (f *fakeAdapter) History(ctx context.Context, truckID string, since, until time.Time) ([]models.Reading, error) {
	return nil, nil
}

func (f *fakeAdapter) counts() (snapshots, events, readings int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots, f.events, f.readings
}

func TestWriterDrainsAllThreeStreams(t *testing.T) {
	bus := eventbus.New()
	adapter := &fakeAdapter{}
	w := NewWriter(bus, adapter)

	now := time.Now()
	bus.Publish(eventbus.TopicEstimatorCheckpoint, "truck-1", models.EstimatorCheckpointEvent{TruckID: "truck-1", Timestamp: now})
	bus.Publish(eventbus.TopicReadingAccepted, "truck-1", models.ReadingAcceptedEvent{Reading: models.Reading{TruckID: "truck-1"}, Timestamp: now})
	bus.Publish(eventbus.TopicFuelLevelChange, "truck-1", models.FuelLevelChangeEvent{TruckID: "truck-1", Timestamp: now})

	w.Close()

	snapshots, events, readings := adapter.counts()
	assert.Equal(t, 1, snapshots)
	assert.Equal(t, 1, events)
	assert.Equal(t, 1, readings)
}

func TestWriterReportsDroppedOnQueueOverflow(t *testing.T) {
	adapter := &fakeAdapter{}
	w := &Writer{adapter: adapter, jobs: make(chan writeJob, 1), done: make(chan struct{})}

	for i := 0; i < 5; i++ {
		w.enqueue(writeJob{kind: "event", truckID: "truck-1"})
	}

	assert.Greater(t, w.DroppedCount(), uint64(0))
}
