// Package eventbus is the in-process publish/subscribe backbone that
// decouples the Estimator Coordinator from the domain services and live
// dashboard feed. It replaces a Kafka producer/consumer group layout with
// in-process handler calls, run on the publishing goroutine, carrying
// interface{} payloads: there is exactly one process, so a broker buys nothing but latency and
// an extra ops dependency.
//
// Grounded on the Kafka event bus's topic taxonomy, and on
// internal/common/realtime.WebSocketHub for the register/unregister/
// broadcast channel shape this bus's subscriber bookkeeping is built
// from.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/logging"
)

const ringBufferCapacity = 10000

// subscription pairs a handler with the idempotency key it was registered
// under, so a repeated Subscribe(topic, "same-id", ...) call replaces
// rather than duplicates it.
type subscription struct {
	id      string
	handler Handler
}

// Bus is the process-wide typed pub/sub hub. Safe for concurrent use:
// Publish and Subscribe both take the bus mutex, and each subscriber
// handler runs on the publishing goroutine so ordering-per-topic holds
// without extra coordination.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]subscription

	ring     []Event
	ringHead int
	ringLen  int
	seq      uint64

	failureCounts map[string]int // keyed by topic + "/" + subscriber id
}

// New creates an empty Bus with its replay ring pre-allocated.
func New() *Bus {
	return &Bus{
		subscribers:   make(map[Topic][]subscription),
		ring:          make([]Event, ringBufferCapacity),
		failureCounts: make(map[string]int),
	}
}

// Subscribe registers handler under id for topic. Calling Subscribe again
// with the same (topic, id) replaces the previous handler rather than
// adding a second delivery: subscription is idempotent.
func (b *Bus) Subscribe(topic Topic, id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			subs[i].handler = handler
			return
		}
	}
	b.subscribers[topic] = append(subs, subscription{id: id, handler: handler})
}

// Unsubscribe removes the handler registered under id for topic, if any.
func (b *Bus) Unsubscribe(topic Topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers payload to every subscriber of topic, in registration
// order, on the calling goroutine. A subscriber whose handler panics has
// its panic recovered, logged, and counted; delivery continues to the
// remaining subscribers and Publish itself never returns an error.
func (b *Bus) Publish(topic Topic, truckID string, payload interface{}) {
	ts := time.Now()

	b.mu.Lock()
	b.seq++
	event := Event{Seq: b.seq, Topic: topic, TruckID: truckID, Payload: payload, Timestamp: ts}
	b.appendToRing(event)
	subs := append([]subscription(nil), b.subscribers[topic]...)
	b.mu.Unlock()

	logging.Debug("event published", "topic", string(topic), "truck_id", truckID, "subscriber_count", len(subs))

	for _, s := range subs {
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.recordFailure(event.Topic, s.id)
			logging.GetLogger().LogSubscriberFailure(string(event.Topic), s.id, fmt.Errorf("panic: %v", r))
		}
	}()
	s.handler(event)
}

func (b *Bus) recordFailure(topic Topic, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCounts[string(topic)+"/"+subscriberID]++
}

// FailureCount returns how many times the subscriber registered under id
// for topic has panicked.
func (b *Bus) FailureCount(topic Topic, id string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failureCounts[string(topic)+"/"+id]
}

func (b *Bus) appendToRing(event Event) {
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % ringBufferCapacity
	if b.ringLen < ringBufferCapacity {
		b.ringLen++
	}
}

// snapshot returns the retained events in publish order (oldest first).
func (b *Bus) snapshot() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, b.ringLen)
	start := (b.ringHead - b.ringLen + ringBufferCapacity) % ringBufferCapacity
	for i := 0; i < b.ringLen; i++ {
		out = append(out, b.ring[(start+i)%ringBufferCapacity])
	}
	return out
}

// ReplayByTruck returns the retained events for one truck, oldest first.
func (b *Bus) ReplayByTruck(truckID string) []Event {
	var out []Event
	for _, e := range b.snapshot() {
		if e.TruckID == truckID {
			out = append(out, e)
		}
	}
	return out
}

// ReplayByType returns the retained events for one topic, oldest first.
func (b *Bus) ReplayByType(topic Topic) []Event {
	var out []Event
	for _, e := range b.snapshot() {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
