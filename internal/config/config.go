// Package config loads and validates the core's startup configuration:
// tank specs, thresholds, EKF tuning overrides, activity-classification
// geofences, rate limits, worker-pool sizing, and checkpoint/shutdown
// timing. Configuration errors are fail-fast per the error-handling design:
// the core never starts with an invalid or incomplete configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/fleetfuel/fleetfuel-core/internal/logging"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// TankSpecConfig is the registration-time configuration for one truck's tank.
type TankSpecConfig struct {
	TruckID          string                    `json:"truck_id" validate:"required"`
	CapacityL        float64                   `json:"capacity_l" validate:"required,gt=0"`
	Shape            models.TankShape          `json:"shape" validate:"required,oneof=cylinder saddle rectangular custom"`
	CalibrationCurve []models.CalibrationPoint `json:"calibration_curve,omitempty"`
}

// Thresholds groups the tunable constants the domain services compare
// readings against; StaleReadingMinutes also sets StaleWindow. The fusion
// engine reads none of them, and RefuelMinPctJump and RefuelWindowMinutes
// are validated but not read: the EKF's refuel detector uses its own
// constants.
type Thresholds struct {
	IdleMaxGph                  float64 `json:"idle_max_gph" validate:"gt=0"`
	RefuelMinPctJump            float64 `json:"refuel_min_pct_jump" validate:"gt=0"`
	RefuelWindowMinutes         float64 `json:"refuel_window_minutes" validate:"gt=0"`
	StaleReadingMinutes         float64 `json:"stale_reading_minutes" validate:"gt=0"`
	AnomalySlowLeakLphPerHr     float64 `json:"anomaly_slow_leak_lph_per_hour" validate:"gt=0"`
	HighConsumptionRatio        float64 `json:"high_consumption_ratio" validate:"gt=0"`
	NonProductiveIdleMaxMinutesPerDay float64 `json:"non_productive_idle_max_minutes_per_day" validate:"gt=0"`
	EfficiencyDegradedThreshold float64 `json:"efficiency_degraded_threshold" validate:"gt=0"`
	EfficiencyDegradedWindowMinutes float64 `json:"efficiency_degraded_window_minutes" validate:"gt=0"`
	AlertDedupWindowMinutes     float64 `json:"alert_dedup_window_minutes" validate:"gt=0"`
}

// EKFTuning is a per-truck override of the EKF's process/measurement noise.
type EKFTuning struct {
	TruckID string     `json:"truck_id" validate:"required"`
	Q       *[3]float64 `json:"q,omitempty"`
	RFuelSensor *float64 `json:"r_fuel_sensor,omitempty"`
	RECUUsed    *float64 `json:"r_ecu_used,omitempty"`
	RFuelRate   *float64 `json:"r_fuel_rate,omitempty"`
}

// GeoPoint is one vertex of a productive-idle geofence polygon.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ProductiveGeofence is a polygon inside which idling counts as
// operationally required (e.g. a loading dock).
type ProductiveGeofence struct {
	Name    string     `json:"name"`
	Polygon []GeoPoint `json:"polygon" validate:"min=3"`
}

// ActivityClassification groups the inputs to the truck activity-state
// machine.
type ActivityClassification struct {
	SpeedDrivingThresholdMph float64              `json:"speed_driving_threshold_mph" validate:"gt=0"`
	ProductiveGeofences      []ProductiveGeofence `json:"productive_geofences,omitempty"`
}

// ChannelRateLimit describes a sensor channel's rate-of-change limit. It is
// exposed through RateLimitFor; the fusion engine's checks use their own
// built-in per-channel rules rather than these entries.
type ChannelRateLimit struct {
	Channel         models.SensorChannel `json:"channel" validate:"required"`
	MaxRateOfChange float64              `json:"max_rate_of_change" validate:"gt=0"`
	HistoryWindow   int                  `json:"history_window" validate:"gt=0"`
}

// Config is the fully validated startup configuration for the core.
type Config struct {
	TankSpecs              []TankSpecConfig         `validate:"dive"`
	Thresholds             Thresholds               `validate:"required"`
	EKFTuning              []EKFTuning              `validate:"dive"`
	ActivityClassification ActivityClassification   `validate:"required"`
	RateLimits             []ChannelRateLimit       `validate:"dive"`

	WorkerPoolSize                 int           `validate:"gt=0"`
	PerTruckQueueDepth              int           `validate:"gt=0"`
	CheckpointIntervalSeconds       int           `validate:"gt=0"`
	GracefulShutdownDeadlineSeconds int           `validate:"gt=0"`

	LogLevel logging.LogLevel

	JWTSigningSecret string `validate:"required,min=16"`
	HTTPAddr         string `validate:"required"`
}

// Default returns a Config populated with the fleet's documented default
// thresholds and tunables; production deployments override fields via
// environment variables in Load.
func Default() *Config {
	return &Config{
		Thresholds: Thresholds{
			IdleMaxGph:                      1.5,
			RefuelMinPctJump:                10,
			RefuelWindowMinutes:             15,
			StaleReadingMinutes:             10,
			AnomalySlowLeakLphPerHr:         0.1,
			HighConsumptionRatio:            1.5,
			NonProductiveIdleMaxMinutesPerDay: 120,
			EfficiencyDegradedThreshold:     0.85,
			EfficiencyDegradedWindowMinutes: 60,
			AlertDedupWindowMinutes:         30,
		},
		ActivityClassification: ActivityClassification{
			SpeedDrivingThresholdMph: 5,
		},
		RateLimits: []ChannelRateLimit{
			{Channel: models.ChannelFuelLevel, MaxRateOfChange: 2.0, HistoryWindow: 20},
			{Channel: models.ChannelECUUsed, MaxRateOfChange: 5.0, HistoryWindow: 20},
			{Channel: models.ChannelECURate, MaxRateOfChange: 10.0, HistoryWindow: 20},
		},
		WorkerPoolSize:                  8,
		PerTruckQueueDepth:               256,
		CheckpointIntervalSeconds:       60,
		GracefulShutdownDeadlineSeconds: 30,
		LogLevel:                        logging.LevelInfo,
		HTTPAddr:                        ":8080",
	}
}

// Load reads a local .env (if present), overlays environment variables onto
// the documented defaults, validates the result, and fails fast on error:
// the only component in this core allowed to treat a processing error as
// fatal, per the error-handling design.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.Warn("no .env file found, using process environment", "error", err.Error())
	}

	cfg := Default()

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = logging.LogLevel(v)
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("JWT_SIGNING_SECRET"); v != "" {
		cfg.JWTSigningSecret = v
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("PER_TRUCK_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PerTruckQueueDepth = n
		}
	}
	if v := os.Getenv("CKPT_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CheckpointIntervalSeconds = n
		}
	}
	if v := os.Getenv("GRACEFUL_SHUTDOWN_DEADLINE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GracefulShutdownDeadlineSeconds = n
		}
	}
	if v := os.Getenv("TRUCK_TANK_SPECS"); v != "" {
		specs, err := parseTankSpecs(v)
		if err != nil {
			return nil, fmt.Errorf("parsing TRUCK_TANK_SPECS: %w", err)
		}
		cfg.TankSpecs = specs
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for i := range cfg.TankSpecs {
		if !isKnownShape(cfg.TankSpecs[i].Shape) {
			return nil, fmt.Errorf("truck %s: unknown tank shape %q has no fallback at startup",
				cfg.TankSpecs[i].TruckID, cfg.TankSpecs[i].Shape)
		}
	}
	return cfg, nil
}

func isKnownShape(s models.TankShape) bool {
	switch s {
	case models.TankShapeCylinder, models.TankShapeSaddle, models.TankShapeRectangular, models.TankShapeCustom:
		return true
	default:
		return false
	}
}

// parseTankSpecs parses a compact "truck_id:capacity_l:shape;..." env
// format, a minimal format for the demo binary; production deployments
// load tank specs from the relational fleet store via the persistence
// adapter instead.
func parseTankSpecs(raw string) ([]TankSpecConfig, error) {
	var out []TankSpecConfig
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed tank spec entry %q", entry)
		}
		capacity, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed capacity in %q: %w", entry, err)
		}
		out = append(out, TankSpecConfig{
			TruckID:   parts[0],
			CapacityL: capacity,
			Shape:     models.TankShape(parts[2]),
		})
	}
	return out, nil
}

// RateLimitFor returns the configured rate limit for a channel, or a
// permissive fallback if unconfigured.
func (c *Config) RateLimitFor(channel models.SensorChannel) ChannelRateLimit {
	for _, rl := range c.RateLimits {
		if rl.Channel == channel {
			return rl
		}
	}
	return ChannelRateLimit{Channel: channel, MaxRateOfChange: 1e9, HistoryWindow: 20}
}

// TankSpecFor returns the configured tank spec for a truck, if any.
func (c *Config) TankSpecFor(truckID string) (*models.TankSpec, bool) {
	for _, ts := range c.TankSpecs {
		if ts.TruckID == truckID {
			return &models.TankSpec{
				TruckID:          ts.TruckID,
				CapacityL:        ts.CapacityL,
				Shape:            ts.Shape,
				CalibrationCurve: ts.CalibrationCurve,
			}, true
		}
	}
	return nil, false
}

// StaleWindow returns the configured stale-reading window as a
// time.Duration.
func (c *Config) StaleWindow() time.Duration {
	return time.Duration(c.Thresholds.StaleReadingMinutes * float64(time.Minute))
}
