package models

import "time"

// VehicleFuelStats is a derived, on-demand read-model computed from the
// event log; it is never part of the estimation core's mutated state.
type VehicleFuelStats struct {
	TruckID            string    `json:"truck_id"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	TotalFuelConsumedL float64   `json:"total_fuel_consumed_l"`
	TotalDistanceMiles float64   `json:"total_distance_miles"`
	AverageEfficiency  float64   `json:"average_efficiency"`
	RefuelCount        int       `json:"refuel_count"`
	AnomalyCount       int       `json:"anomaly_count"`
}

// FuelTrendPoint is one bucket of a fuel-consumption trend series.
type FuelTrendPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	ConsumptionGph float64   `json:"consumption_gph"`
	FuelPct        float64   `json:"fuel_pct"`
}

// TruckSnapshot is the atomic, read-only view the Query API Adapter
// produces for one truck: a consistent read of state between coordinator
// updates.
type TruckSnapshot struct {
	TruckID            string        `json:"truck_id"`
	EKF                EKFEstimate   `json:"ekf"`
	Idle               IdleEstimate  `json:"idle"`
	Activity           ActivityState `json:"activity"`
	LastRefuel         *RefuelEvent  `json:"last_refuel,omitempty"`
	Confidence         float64       `json:"confidence"`
	LastReadingAt      time.Time     `json:"last_reading_at"`
	DataSource         string        `json:"data_source"` // "live" or "checkpoint"
	IsStale            bool          `json:"is_stale"`
}
