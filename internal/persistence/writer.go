package persistence

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/internal/logging"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const writeQueueDepth = 2048

type writeJob struct {
	kind    string
	topic   eventbus.Topic
	truckID string
	payload interface{}
	ts      time.Time
}

// Writer is the event-bus subscriber that drains every published event
// into an Adapter. It owns a single bounded channel and goroutine so the
// Coordinator's synchronous Publish calls never block on the adapter's
// I/O, per the concurrency model's "subscribers ... enqueue to their own
// bounded channel for parallel processing elsewhere." On overflow the
// incoming job is dropped and a counter is incremented; jobs already
// queued are kept. Snapshot jobs share the same channel and are dropped
// on overflow just like archive records.
type Writer struct {
	adapter Adapter
	jobs    chan writeJob
	done    chan struct{}
	dropped uint64
}

// NewWriter subscribes to every persisted topic and starts the drain
// goroutine.
func NewWriter(bus *eventbus.Bus, adapter Adapter) *Writer {
	w := &Writer{
		adapter: adapter,
		jobs:    make(chan writeJob, writeQueueDepth),
		done:    make(chan struct{}),
	}

	bus.Subscribe(eventbus.TopicEstimatorCheckpoint, "persistence-writer", w.handleCheckpoint)
	bus.Subscribe(eventbus.TopicReadingAccepted, "persistence-writer", w.handleReadingAccepted)
	for _, topic := range archivedEventTopics {
		bus.Subscribe(topic, "persistence-writer", w.handleGenericEvent)
	}

	go w.drain()
	return w
}

var archivedEventTopics = []eventbus.Topic{
	eventbus.TopicFuelLevelChange,
	eventbus.TopicRefuelDetected,
	eventbus.TopicAnomalyDetected,
	eventbus.TopicSensorMalfunction,
	eventbus.TopicActivityTransition,
	eventbus.TopicDriverSessionEnd,
	eventbus.TopicMaintenanceHint,
}

func (w *Writer) handleCheckpoint(e eventbus.Event) {
	evt, ok := e.Payload.(models.EstimatorCheckpointEvent)
	if !ok {
		return
	}
	w.enqueue(writeJob{kind: "snapshot", truckID: evt.TruckID, payload: evt, ts: evt.Timestamp})
}

func (w *Writer) handleReadingAccepted(e eventbus.Event) {
	evt, ok := e.Payload.(models.ReadingAcceptedEvent)
	if !ok {
		return
	}
	w.enqueue(writeJob{kind: "reading", truckID: e.TruckID, payload: evt.Reading, ts: evt.Timestamp})
}

func (w *Writer) handleGenericEvent(e eventbus.Event) {
	w.enqueue(writeJob{kind: "event", topic: e.Topic, truckID: e.TruckID, payload: e.Payload, ts: e.Timestamp})
}

func (w *Writer) enqueue(j writeJob) {
	select {
	case w.jobs <- j:
	default:
		atomic.AddUint64(&w.dropped, 1)
		logging.Warn("persistence writer queue full, dropping archive record", "kind", j.kind, "truck_id", j.truckID)
	}
}

func (w *Writer) drain() {
	defer close(w.done)
	ctx := context.Background()
	for j := range w.jobs {
		var err error
		switch j.kind {
		case "snapshot":
			evt := j.payload.(models.EstimatorCheckpointEvent)
			err = w.adapter.EstimatorSnapshot(ctx, evt.TruckID, evt.EKF, evt.Idle, evt.Timestamp)
		case "reading":
			err = w.adapter.ReadingArchive(ctx, j.payload.(models.Reading))
		case "event":
			err = w.adapter.Event(ctx, string(j.topic), j.truckID, j.payload, j.ts)
		}
		if err != nil {
			logging.Error("persistence adapter write failed", "kind", j.kind, "truck_id", j.truckID, "error", err.Error())
		}
	}
}

// Close stops accepting new jobs and waits for the drain goroutine to
// flush whatever is already queued.
func (w *Writer) Close() {
	close(w.jobs)
	<-w.done
}

// DroppedCount reports how many queued jobs (archive records and
// snapshots) were dropped due to queue overflow.
func (w *Writer) DroppedCount() uint64 { return atomic.LoadUint64(&w.dropped) }
