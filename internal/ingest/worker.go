package ingest

import (
	"sync"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// truckQueue is a bounded, mutex-guarded deque for one truck's readings.
// Unlike a plain buffered channel, it supports dropping the OLDEST
// queued reading when a non-critical push arrives at capacity (a
// channel can only refuse the newest); ECU-cumulative readings bypass
// the cap entirely because they carry accumulation state that must
// never be lost (spec §4.8).
type truckQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []models.Reading
	capacity int
	closed   bool
}

func newTruckQueue(capacity int) *truckQueue {
	q := &truckQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends r, evicting the oldest queued reading first if the queue
// is full and r is not critical. Reports whether a reading was dropped.
func (q *truckQueue) push(r models.Reading, critical bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.buf) >= q.capacity && q.capacity > 0 {
		if critical {
			// never dropped; the queue grows past capacity rather than
			// lose accumulation state.
		} else {
			q.buf = q.buf[1:]
			dropped = true
		}
	}
	q.buf = append(q.buf, r)
	q.cond.Signal()
	return dropped
}

// pop blocks until a reading is available or the queue is closed and
// drained.
func (q *truckQueue) pop() (models.Reading, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return models.Reading{}, false
	}
	r := q.buf[0]
	q.buf = q.buf[1:]
	return r, true
}

// close marks the queue closed; blocked and future pop calls drain
// whatever remains, then return false. Returns the number of readings
// still queued at the moment of closing, for shutdown logging.
func (q *truckQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return len(q.buf)
}

// isCritical reports whether a reading carries ECU-cumulative
// accumulation state, which the backpressure policy never drops.
func isCritical(r models.Reading) bool {
	return r.ECUTotalFuelUsedL != nil || r.ECUTotalIdleFuelGl != nil
}
