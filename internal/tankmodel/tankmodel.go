// Package tankmodel implements the bijective map between fuel volume and
// capacitive-sensor percent for each supported tank geometry, plus its
// derivative for the EKF's measurement Jacobian.
//
// Shape is modeled as a tagged variant (one TankCurve implementation per
// shape) rather than a switch scattered through the EKF, per the
// "tank calibration as hard-coded conditionals" redesign: adding a shape
// means adding one case here, and never touches internal/ekf.
package tankmodel

import (
	"math"

	"github.com/fleetfuel/fleetfuel-core/internal/logging"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// TankCurve maps volume to sensor percent (and back) for one tank shape.
type TankCurve interface {
	SensorPctFromVolume(volumeL, capacityL float64) float64
	DSensorPctDVolume(volumeL, capacityL float64) float64
	VolumeFromSensorPct(pct, capacityL float64) float64
}

// CylinderCurve is the linear cylinder-tank model: pct = 100*volume/capacity.
type CylinderCurve struct{}

func (CylinderCurve) SensorPctFromVolume(volumeL, capacityL float64) float64 {
	if capacityL <= 0 {
		return 0
	}
	return 100 * volumeL / capacityL
}

func (CylinderCurve) DSensorPctDVolume(_, capacityL float64) float64 {
	if capacityL <= 0 {
		return 0
	}
	return 100 / capacityL
}

func (CylinderCurve) VolumeFromSensorPct(pct, capacityL float64) float64 {
	return pct / 100 * capacityL
}

// SaddleCurve is the piecewise-linear saddle-tank model: two interconnected
// tanks whose combined level-to-volume relation under-reads below a 20%
// sensor reading (slope 0.9), is linear between 20% and 80% readings
// (slope 1.0), and saturates above an 80% reading (slope 0.7).
type SaddleCurve struct{}

const (
	saddleLowBreakPct  = 20.0
	saddleHighBreakPct = 80.0
	saddleLowSlope     = 0.9
	saddleMidSlope     = 1.0
	saddleHighSlope    = 0.7
)

// volume fraction at which the sensor reads exactly 20% / 80%, derived by
// integrating the piecewise slopes from 0.
var (
	saddleLowBreakFrac  = saddleLowBreakPct / 100 / saddleLowSlope
	saddleHighBreakFrac = saddleLowBreakFrac + (saddleHighBreakPct-saddleLowBreakPct)/100/saddleMidSlope
)

func (SaddleCurve) SensorPctFromVolume(volumeL, capacityL float64) float64 {
	if capacityL <= 0 {
		return 0
	}
	frac := volumeL / capacityL

	switch {
	case frac <= saddleLowBreakFrac:
		return frac * saddleLowSlope * 100
	case frac <= saddleHighBreakFrac:
		return saddleLowBreakPct + (frac-saddleLowBreakFrac)*saddleMidSlope*100
	default:
		return saddleHighBreakPct + (frac-saddleHighBreakFrac)*saddleHighSlope*100
	}
}

func (SaddleCurve) DSensorPctDVolume(volumeL, capacityL float64) float64 {
	if capacityL <= 0 {
		return 0
	}
	frac := volumeL / capacityL
	var slope float64
	switch {
	case frac <= saddleLowBreakFrac:
		slope = saddleLowSlope
	case frac <= saddleHighBreakFrac:
		slope = saddleMidSlope
	default:
		slope = saddleHighSlope
	}
	return slope * 100 / capacityL
}

func (SaddleCurve) VolumeFromSensorPct(pct, capacityL float64) float64 {
	var frac float64
	switch {
	case pct <= saddleLowBreakPct:
		frac = pct / 100 / saddleLowSlope
	case pct <= saddleHighBreakPct:
		frac = saddleLowBreakFrac + (pct-saddleLowBreakPct)/100/saddleMidSlope
	default:
		frac = saddleHighBreakFrac + (pct-saddleHighBreakPct)/100/saddleHighSlope
	}
	return frac * capacityL
}

// RectangularCurve uses the documented calibration curve if supplied,
// falling back to the linear cylinder relation otherwise.
type RectangularCurve struct {
	Calibration []models.CalibrationPoint
}

func (r RectangularCurve) SensorPctFromVolume(volumeL, capacityL float64) float64 {
	if len(r.Calibration) >= 2 {
		return interpolatePct(r.Calibration, volumeL)
	}
	return CylinderCurve{}.SensorPctFromVolume(volumeL, capacityL)
}

func (r RectangularCurve) DSensorPctDVolume(volumeL, capacityL float64) float64 {
	if len(r.Calibration) >= 2 {
		return interpolateSlope(r.Calibration, volumeL)
	}
	return CylinderCurve{}.DSensorPctDVolume(volumeL, capacityL)
}

func (r RectangularCurve) VolumeFromSensorPct(pct, capacityL float64) float64 {
	if len(r.Calibration) >= 2 {
		return interpolateVolume(r.Calibration, pct)
	}
	return CylinderCurve{}.VolumeFromSensorPct(pct, capacityL)
}

// CustomCurve is a fully calibrated curve with no shape-specific fallback
// assumptions beyond linear interpolation between points.
type CustomCurve struct {
	Calibration []models.CalibrationPoint
}

func (c CustomCurve) SensorPctFromVolume(volumeL, capacityL float64) float64 {
	if len(c.Calibration) >= 2 {
		return interpolatePct(c.Calibration, volumeL)
	}
	return CylinderCurve{}.SensorPctFromVolume(volumeL, capacityL)
}

func (c CustomCurve) DSensorPctDVolume(volumeL, capacityL float64) float64 {
	if len(c.Calibration) >= 2 {
		return interpolateSlope(c.Calibration, volumeL)
	}
	return CylinderCurve{}.DSensorPctDVolume(volumeL, capacityL)
}

func (c CustomCurve) VolumeFromSensorPct(pct, capacityL float64) float64 {
	if len(c.Calibration) >= 2 {
		return interpolateVolume(c.Calibration, pct)
	}
	return CylinderCurve{}.VolumeFromSensorPct(pct, capacityL)
}

func interpolatePct(curve []models.CalibrationPoint, volumeL float64) float64 {
	if volumeL <= curve[0].VolumeL {
		return curve[0].SensorPct
	}
	last := curve[len(curve)-1]
	if volumeL >= last.VolumeL {
		return last.SensorPct
	}
	for i := 1; i < len(curve); i++ {
		if volumeL <= curve[i].VolumeL {
			lo, hi := curve[i-1], curve[i]
			t := (volumeL - lo.VolumeL) / (hi.VolumeL - lo.VolumeL)
			return lo.SensorPct + t*(hi.SensorPct-lo.SensorPct)
		}
	}
	return last.SensorPct
}

func interpolateSlope(curve []models.CalibrationPoint, volumeL float64) float64 {
	for i := 1; i < len(curve); i++ {
		if volumeL <= curve[i].VolumeL {
			lo, hi := curve[i-1], curve[i]
			if hi.VolumeL == lo.VolumeL {
				return 0
			}
			return (hi.SensorPct - lo.SensorPct) / (hi.VolumeL - lo.VolumeL)
		}
	}
	n := len(curve)
	lo, hi := curve[n-2], curve[n-1]
	if hi.VolumeL == lo.VolumeL {
		return 0
	}
	return (hi.SensorPct - lo.SensorPct) / (hi.VolumeL - lo.VolumeL)
}

func interpolateVolume(curve []models.CalibrationPoint, pct float64) float64 {
	if pct <= curve[0].SensorPct {
		return curve[0].VolumeL
	}
	last := curve[len(curve)-1]
	if pct >= last.SensorPct {
		return last.VolumeL
	}
	for i := 1; i < len(curve); i++ {
		if pct <= curve[i].SensorPct {
			lo, hi := curve[i-1], curve[i]
			t := (pct - lo.SensorPct) / (hi.SensorPct - lo.SensorPct)
			return lo.VolumeL + t*(hi.VolumeL-lo.VolumeL)
		}
	}
	return last.VolumeL
}

// ForShape returns the TankCurve implementation for a tank spec. An unknown
// shape falls back to linear with a logged warning; it never fails the
// read, per the tank model's failure contract.
func ForShape(spec models.TankSpec) TankCurve {
	switch spec.Shape {
	case models.TankShapeCylinder:
		return CylinderCurve{}
	case models.TankShapeSaddle:
		return SaddleCurve{}
	case models.TankShapeRectangular:
		return RectangularCurve{Calibration: spec.CalibrationCurve}
	case models.TankShapeCustom:
		return CustomCurve{Calibration: spec.CalibrationCurve}
	default:
		logging.Warn("unknown tank shape, falling back to linear", "truck_id", spec.TruckID, "shape", string(spec.Shape))
		return CylinderCurve{}
	}
}

// clamp is a small shared helper for the curves' arithmetic.
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
