package eventbus

import "time"

// Topic is the fixed set of subjects the bus carries. Every topic has one
// associated Go payload type by convention; the payload itself travels in
// Event's untyped Payload field and handlers cast it out.
type Topic string

const (
	TopicFuelLevelChange    Topic = "FuelLevelChange"
	TopicRefuelDetected     Topic = "RefuelDetected"
	TopicAnomalyDetected    Topic = "AnomalyDetected"
	TopicSensorMalfunction  Topic = "SensorMalfunction"
	TopicActivityTransition Topic = "ActivityTransition"
	TopicDriverSessionEnd   Topic = "DriverSessionEnd"
	TopicMaintenanceHint    Topic = "MaintenanceHint"
	TopicEstimatorCheckpoint Topic = "EstimatorCheckpoint"
	TopicReadingAccepted    Topic = "ReadingAccepted"
)

// Event is one published occurrence. Payload is one of the models.*Event
// types associated with Topic; handlers type-assert it themselves rather
// than the bus enforcing the mapping, which keeps the bus itself generic
// over any future topic without a central registry to update.
type Event struct {
	Seq       uint64
	Topic     Topic
	TruckID   string
	Payload   interface{}
	Timestamp time.Time
}

// Handler processes one delivered event. A handler that panics has its
// recovery logged and counted by the bus; it never aborts delivery to
// other subscribers or the publish call itself.
type Handler func(Event)
