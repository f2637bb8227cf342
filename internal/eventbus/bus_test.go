package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe(TopicFuelLevelChange, "a", func(e Event) { order = append(order, "a") })
	b.Subscribe(TopicFuelLevelChange, "b", func(e Event) { order = append(order, "b") })

	b.Publish(TopicFuelLevelChange, "t1", nil)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestSubscribeIsIdempotentPerID(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(TopicRefuelDetected, "svc", func(e Event) { calls++ })
	b.Subscribe(TopicRefuelDetected, "svc", func(e Event) { calls++ }) // replaces, not adds

	b.Publish(TopicRefuelDetected, "t1", nil)
	assert.Equal(t, 1, calls)
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New()
	secondRan := false
	b.Subscribe(TopicAnomalyDetected, "bad", func(e Event) { panic("boom") })
	b.Subscribe(TopicAnomalyDetected, "good", func(e Event) { secondRan = true })

	require.NotPanics(t, func() { b.Publish(TopicAnomalyDetected, "t1", nil) })
	assert.True(t, secondRan)
	assert.Equal(t, 1, b.FailureCount(TopicAnomalyDetected, "bad"))
}

func TestReplayByTruckAndByType(t *testing.T) {
	b := New()
	b.Publish(TopicFuelLevelChange, "t1", "p1")
	b.Publish(TopicFuelLevelChange, "t2", "p2")
	b.Publish(TopicRefuelDetected, "t1", "p3")

	byTruck := b.ReplayByTruck("t1")
	require.Len(t, byTruck, 2)
	assert.Equal(t, TopicFuelLevelChange, byTruck[0].Topic)
	assert.Equal(t, TopicRefuelDetected, byTruck[1].Topic)

	byType := b.ReplayByType(TopicFuelLevelChange)
	require.Len(t, byType, 2)
	assert.Equal(t, "t1", byType[0].TruckID)
	assert.Equal(t, "t2", byType[1].TruckID)
}

func TestRingBufferEvictsOldestPastCapacity(t *testing.T) {
	b := New()
	for i := 0; i < ringBufferCapacity+10; i++ {
		b.Publish(TopicFuelLevelChange, "t1", i)
	}
	all := b.ReplayByType(TopicFuelLevelChange)
	require.Len(t, all, ringBufferCapacity)
	assert.Equal(t, 10, all[0].Payload)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(TopicSensorMalfunction, "x", func(e Event) { calls++ })
	b.Unsubscribe(TopicSensorMalfunction, "x")

	b.Publish(TopicSensorMalfunction, "t1", nil)
	assert.Equal(t, 0, calls)
}
