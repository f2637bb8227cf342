package models

// ActivityState is the derived per-truck classification computed at each
// reading.
type ActivityState string

const (
	ActivityDriving            ActivityState = "DRIVING"
	ActivityProductiveIdle     ActivityState = "PRODUCTIVE_IDLE"
	ActivityNonProductiveIdle  ActivityState = "NON_PRODUCTIVE_IDLE"
	ActivityEngineOff          ActivityState = "ENGINE_OFF"
	ActivityOffline            ActivityState = "OFFLINE"
)

// TruckActivityState is the truck's current derived classification plus the
// bookkeeping needed to detect transitions and staleness.
type TruckActivityState struct {
	TruckID string        `json:"truck_id"`
	Current ActivityState `json:"current"`
}
