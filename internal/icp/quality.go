package icp

import (
	"fmt"
	"math"
)

// Quality grades an alignment by its registration RMSE.
type Quality string

const (
	// QualityExcellent indicates RMSE < 0.05m
	QualityExcellent Quality = "excellent"
	// QualityGood indicates RMSE 0.05-0.15m
	QualityGood Quality = "good"
	// QualityFair indicates RMSE 0.15-0.30m, usable for odometry with care
	QualityFair Quality = "fair"
	// QualityPoor indicates RMSE > 0.30m
	QualityPoor Quality = "poor"
	// QualityUnknown indicates no usable estimate
	QualityUnknown Quality = "unknown"
)

// RMSE thresholds (meters)
const (
	RMSEThresholdExcellent = 0.05
	RMSEThresholdGood      = 0.15
	RMSEThresholdFair      = 0.30
)

// Quality grades the result by RMSE. Failed results are QualityUnknown.
func (r Result) Quality() Quality {
	if r.State == StateFailed || math.IsNaN(r.Error) {
		return QualityUnknown
	}
	rmse := r.RMSE()
	switch {
	case rmse < RMSEThresholdExcellent:
		return QualityExcellent
	case rmse < RMSEThresholdGood:
		return QualityGood
	case rmse < RMSEThresholdFair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// String returns a human-readable description of the quality.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent (RMSE < 0.05m)"
	case QualityGood:
		return "good (RMSE 0.05-0.15m)"
	case QualityFair:
		return "fair (RMSE 0.15-0.30m)"
	case QualityPoor:
		return "poor (RMSE > 0.30m)"
	case QualityUnknown:
		return "unknown (no estimate)"
	default:
		return string(q)
	}
}

// Validation is the outcome of ValidateResult.
type Validation struct {
	Usable  bool
	Quality Quality
	Issues  []string
}

// ValidateResult decides whether a result may be chained into odometry.
// maxScaleDeviation bounds |scale-1|; scan-to-scan motion of a rigid sensor
// should not change scale, so a large deviation signals a false match.
// A non-positive maxScaleDeviation disables the scale check.
func ValidateResult(r Result, maxScaleDeviation float64) Validation {
	v := Validation{Quality: r.Quality(), Issues: make([]string, 0)}

	if r.State == StateFailed {
		v.Issues = append(v.Issues, "alignment failed")
		return v
	}
	if r.State == StateExhausted {
		v.Issues = append(v.Issues, fmt.Sprintf("did not converge after %d iterations", r.Iterations))
	}
	if maxScaleDeviation > 0 {
		if dev := math.Abs(r.Scale - 1); dev > maxScaleDeviation {
			v.Issues = append(v.Issues, fmt.Sprintf("scale %.3f deviates from 1 by more than %.3f", r.Scale, maxScaleDeviation))
			return v
		}
	}
	if v.Quality == QualityPoor {
		v.Issues = append(v.Issues, "registration error too high")
		return v
	}

	v.Usable = true
	return v
}

// IsUsableForOdometry reports whether r can be chained onto a running pose
// with the given scale bound.
func (r Result) IsUsableForOdometry(maxScaleDeviation float64) bool {
	return ValidateResult(r, maxScaleDeviation).Usable
}
