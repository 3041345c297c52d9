// Package detector turns raw location and motion streams into trigger proposals.
package detector

import (
	"math"
	"time"

	"github.com/t77yq/safewatch/internal/model"
	"github.com/t77yq/safewatch/internal/ruleset"
)

const (
	StandardGravity    = 9.81
	FallThresholdG     = 2.5
	AccidentThresholdG = 4.0

	// SensorCooldown is the minimum spacing between sensor-originated triggers
	SensorCooldown = 5000 * time.Millisecond
)

// GForce returns the magnitude of the sample in multiples of gravity
func GForce(s model.MotionSample) float64 {
	return math.Sqrt(s.X*s.X+s.Y*s.Y+s.Z*s.Z) / StandardGravity
}

// Classify maps a g-force reading to a detection, checking the more severe
// accident threshold first.
func Classify(g float64, fall, accident bool) (model.DetectionKind, bool) {
	if accident && g > AccidentThresholdG {
		return model.DetectionAccident, true
	}
	if fall && g > FallThresholdG {
		return model.DetectionFall, true
	}
	return "", false
}

// SensorDetector classifies accelerometer samples into fall and accident
// events. It is not safe for concurrent use; the monitor owns it.
type SensorDetector struct {
	cooldown    time.Duration
	lastTrigger time.Time
}

// NewSensorDetector creates a detector with the standard cooldown
func NewSensorDetector() *SensorDetector {
	return &SensorDetector{cooldown: SensorCooldown}
}

// Evaluate classifies a sample. Events are discarded while the engine is
// not idle and within the cooldown of the previous accepted event.
func (d *SensorDetector) Evaluate(s model.MotionSample, rules *ruleset.RuleSet, idle bool) (model.DetectionKind, bool) {
	if rules == nil {
		return "", false
	}
	kind, ok := Classify(GForce(s), rules.FallDetection, rules.AccidentDetection)
	if !ok || !idle {
		return "", false
	}
	if !d.lastTrigger.IsZero() && s.Timestamp.Sub(d.lastTrigger) < d.cooldown {
		return "", false
	}
	d.lastTrigger = s.Timestamp
	return kind, true
}

// LastTrigger returns the timestamp of the last accepted event
func (d *SensorDetector) LastTrigger() time.Time {
	return d.lastTrigger
}

// Reset forgets the last accepted event
func (d *SensorDetector) Reset() {
	d.lastTrigger = time.Time{}
}
