package models

import "time"

// AnomalyKind enumerates the fixed set of anomaly classifications the
// AnomalyService can emit.
type AnomalyKind string

const (
	AnomalySiphoning          AnomalyKind = "siphoning"
	AnomalySensorMalfunction  AnomalyKind = "sensor_malfunction"
	AnomalySlowLeak           AnomalyKind = "slow_leak"
	AnomalyConsumptionSpike   AnomalyKind = "consumption_spike"
	AnomalyInconsistentRefuel AnomalyKind = "inconsistent_refuel"
	AnomalyIdleExcessive      AnomalyKind = "idle_excessive"
)

// Severity is the operator-facing urgency of an anomaly or alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// RefuelEvent is emitted when a fuel-level jump is consistent with a
// plausible refueling.
type RefuelEvent struct {
	TruckID      string    `json:"truck_id"`
	Timestamp    time.Time `json:"timestamp"`
	GallonsAdded float64   `json:"gallons_added"`
	LevelBefore  float64   `json:"level_before"`
	LevelAfter   float64   `json:"level_after"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
}

// AnomalyEvent carries a single anomaly detection with its supporting
// evidence.
type AnomalyEvent struct {
	TruckID    string                 `json:"truck_id"`
	Kind       AnomalyKind            `json:"kind"`
	Severity   Severity               `json:"severity"`
	Confidence float64                `json:"confidence"`
	Message    string                 `json:"message"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// FuelLevelChangeEvent is published after every successfully committed
// estimator cycle, carrying the fused read-model the Query API serves.
// SpeedMph, Activity, and IdleGph ride along so downstream services
// (AnomalyService's siphoning/idle-excessive rules in particular) don't
// need to re-derive truck context from raw readings themselves.
type FuelLevelChangeEvent struct {
	TruckID        string        `json:"truck_id"`
	FuelPct        float64       `json:"fuel_pct"`
	VolumeL        float64       `json:"volume_l"`
	ConsumptionGph float64       `json:"consumption_gph"`
	Efficiency     float64       `json:"efficiency"`
	SpeedMph       float64       `json:"speed_mph"`
	Activity       ActivityState `json:"activity"`
	IdleGph        float64       `json:"idle_gph"`
	Timestamp      time.Time     `json:"timestamp"`
	Source         string        `json:"source"`
}

// SensorMalfunctionEvent is published on each single rejection of a
// channel reading by the fusion engine or a reverted EKF update; there is
// no threshold of repeated rejections before it fires.
type SensorMalfunctionEvent struct {
	TruckID string `json:"truck_id"`
	Channel string `json:"channel"`
	Reason  string `json:"reason"`
}

// ActivityTransitionEvent is published whenever a truck's derived
// activity classification changes.
type ActivityTransitionEvent struct {
	TruckID   string        `json:"truck_id"`
	FromState ActivityState `json:"from_state"`
	ToState   ActivityState `json:"to_state"`
	Timestamp time.Time     `json:"timestamp"`
}

// DriverSessionEndEvent is published when a driver session closes and is
// scored.
type DriverSessionEndEvent struct {
	DriverID        string       `json:"driver_id"`
	TruckID         string       `json:"truck_id"`
	Scores          DriverScores `json:"scores"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// MaintenanceHintEvent is published by the MaintenanceService once a
// sustained efficiency degradation crosses its configured
// window, so AlertService can surface it without recomputing the trend
// itself.
type MaintenanceHintEvent struct {
	TruckID        string    `json:"truck_id"`
	Reason         string    `json:"reason"`
	DegradedSince  time.Time `json:"degraded_since"`
	LastEfficiency float64   `json:"last_efficiency"`
	Timestamp      time.Time `json:"timestamp"`
}

// EstimatorCheckpointEvent carries a periodic, per-truck snapshot of raw
// EKF and idle Kalman state for the persistence adapter's
// estimator_snapshot stream. It is only ever built and published from
// within Coordinator.Process, the truck's single writer, so the embedded
// state is never copied concurrently with its own mutation.
type EstimatorCheckpointEvent struct {
	TruckID   string            `json:"truck_id"`
	EKF       EKFState          `json:"ekf"`
	Idle      IdleKalmanState   `json:"idle"`
	Timestamp time.Time         `json:"timestamp"`
}

// ReadingAcceptedEvent is published for every reading that passes
// ordering/dedup validation, feeding the persistence adapter's
// reading_archive stream.
type ReadingAcceptedEvent struct {
	Reading   Reading   `json:"reading"`
	Timestamp time.Time `json:"timestamp"`
}
