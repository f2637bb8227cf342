package models

import "time"

// EKFState is the per-truck Extended Kalman Filter state: a 3x3 symmetric
// covariance over x = [volume_L, rate_Lph, efficiency]. It evolves on every
// reading, is persisted between restarts, and is reset only by explicit
// operator command.
type EKFState struct {
	TruckID string `json:"truck_id"`

	VolumeL    float64 `json:"volume_l"`
	RateLph    float64 `json:"rate_lph"`
	Efficiency float64 `json:"efficiency"`

	// P is row-major 3x3 covariance.
	P [3][3]float64 `json:"p"`

	LastECUTotalL    *float64          `json:"last_ecu_total_l,omitempty"`
	LastTimestamp    time.Time        `json:"last_timestamp"`
	RefuelWindow     []FuelLevelSample `json:"-"`
}

// FuelLevelSample backs the rolling window used for refuel-jump detection.
type FuelLevelSample struct {
	Timestamp time.Time
	Pct       float64
	SpeedMph  float64
}

// DefaultEKFState constructs the initial state per spec: P = diag(100, 1, 0.01),
// efficiency = 1.0, rate at the idle baseline, volume bootstrapped by the caller.
func DefaultEKFState(truckID string, initialVolumeL float64) *EKFState {
	return &EKFState{
		TruckID:    truckID,
		VolumeL:    initialVolumeL,
		RateLph:    1.2,
		Efficiency: 1.0,
		P: [3][3]float64{
			{100, 0, 0},
			{0, 1, 0},
			{0, 0, 0.01},
		},
	}
}

// Clamp enforces the EKF's invariants in-place: volume within tank capacity,
// rate and efficiency within their physically plausible bounds.
func (s *EKFState) Clamp(capacityL float64) {
	s.VolumeL = clampF(s.VolumeL, 0, capacityL)
	s.RateLph = clampF(s.RateLph, 0.5, 30)
	s.Efficiency = clampF(s.Efficiency, 0.5, 2.0)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EKFEstimate is the read-only output of the EKF at a point in time.
type EKFEstimate struct {
	VolumeL         float64   `json:"volume_l"`
	FuelPct         float64   `json:"fuel_pct"`
	ConsumptionGph  float64   `json:"consumption_gph"`
	UncertaintyPct  float64   `json:"uncertainty_pct"`
	Efficiency      float64   `json:"efficiency"`
	Timestamp       time.Time `json:"timestamp"`
}
