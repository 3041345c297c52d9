package detector

import (
	"time"

	"github.com/t77yq/safewatch/internal/geofence"
	"github.com/t77yq/safewatch/internal/model"
	"github.com/t77yq/safewatch/internal/ruleset"
)

const (
	MpsToKmh = 3.6

	// a fix faster than this or further than MovementRadiusMeters from the
	// stationary anchor counts as movement
	MovementSpeedMps     = 0.5
	MovementRadiusMeters = 50.0
)

// LocationDetector checks fixes against geofences, the speed limit and the
// inactivity threshold. It is owned by the monitor and not safe for
// concurrent use.
type LocationDetector struct {
	anchor   *model.LocationFix
	reported bool
}

// NewLocationDetector creates a location detector
func NewLocationDetector() *LocationDetector {
	return &LocationDetector{}
}

// Evaluate checks one fix. Violations are only raised while the engine is
// idle; geofence takes precedence over speed, and speed over inactivity.
func (d *LocationDetector) Evaluate(fix model.LocationFix, rules *ruleset.RuleSet, idle bool) (model.DetectionKind, bool) {
	stationaryFor := d.track(fix)

	if !idle || rules == nil {
		return "", false
	}

	if rules.HasZones() && !geofence.IsInsideAnyActiveZone(fix.Latitude, fix.Longitude, rules.Zones) {
		return model.DetectionGeofence, true
	}

	if rules.SpeedLimitKmh != nil && fix.SpeedMps*MpsToKmh > *rules.SpeedLimitKmh {
		return model.DetectionSpeedLimit, true
	}

	if rules.InactivityMinutes != nil && !d.reported {
		limit := time.Duration(*rules.InactivityMinutes * float64(time.Minute))
		if stationaryFor >= limit {
			d.reported = true
			return model.DetectionInactivity, true
		}
	}

	return "", false
}

// track updates the stationary anchor and returns how long the device has
// been stationary
func (d *LocationDetector) track(fix model.LocationFix) time.Duration {
	if d.anchor == nil || d.moved(fix) {
		f := fix
		d.anchor = &f
		d.reported = false
		return 0
	}
	return fix.Timestamp.Sub(d.anchor.Timestamp)
}

func (d *LocationDetector) moved(fix model.LocationFix) bool {
	if fix.SpeedMps > MovementSpeedMps {
		return true
	}
	return geofence.DistanceMeters(d.anchor.Latitude, d.anchor.Longitude, fix.Latitude, fix.Longitude) > MovementRadiusMeters
}

// Reset drops the stationary anchor
func (d *LocationDetector) Reset() {
	d.anchor = nil
	d.reported = false
}
