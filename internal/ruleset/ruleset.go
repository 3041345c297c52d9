// Package ruleset builds the immutable snapshot of rules the engine evaluates.
package ruleset

import (
	"sort"
	"time"

	"github.com/t77yq/safewatch/internal/geofence"
	"github.com/t77yq/safewatch/internal/model"
)

// RuleSet is the active configuration of the detectors. A RuleSet is never
// mutated after Build; reloads replace it wholesale.
type RuleSet struct {
	// Zones is the union of all active geofence rules
	Zones []geofence.Zone

	// SpeedLimitKmh is the lowest active speed limit, nil when none is set
	SpeedLimitKmh *float64

	// InactivityMinutes is the lowest active inactivity threshold
	InactivityMinutes *float64

	FallDetection     bool
	AccidentDetection bool

	// RuleIDs lists the rules that passed the filters
	RuleIDs []string

	// Boundaries holds the start and end of every schedule window among the
	// accepted, active assignments, whether or not the window is open now.
	Boundaries []model.ClockTime

	BuiltAt time.Time
}

// Empty returns a rule set with no active rules
func Empty() *RuleSet {
	return &RuleSet{}
}

// Build filters the assigned rules down to accepted, active and in-window
// rules and partitions them by kind.
func Build(rules []model.AssignedRule, now time.Time) *RuleSet {
	set := &RuleSet{BuiltAt: now}
	boundaries := make(map[model.ClockTime]struct{})

	for _, ar := range rules {
		if !ar.Assignment.IsAccepted || !ar.Rule.IsActive {
			continue
		}
		if w := ar.Assignment.Window; w != nil {
			if w.Start != w.End {
				boundaries[w.Start] = struct{}{}
				boundaries[w.End] = struct{}{}
			}
			if !w.Contains(now) {
				continue
			}
		}

		rule := ar.Rule
		switch rule.Kind {
		case model.RuleKindGeofence:
			set.Zones = append(set.Zones, geofence.Zone{
				RuleID:       rule.ID,
				Latitude:     rule.Latitude,
				Longitude:    rule.Longitude,
				RadiusMeters: rule.Threshold,
			})
		case model.RuleKindSpeedLimit:
			if rule.Threshold == nil {
				continue
			}
			set.SpeedLimitKmh = lowest(set.SpeedLimitKmh, *rule.Threshold)
		case model.RuleKindInactivity:
			if rule.Threshold == nil {
				continue
			}
			set.InactivityMinutes = lowest(set.InactivityMinutes, *rule.Threshold)
		case model.RuleKindFallDetection:
			set.FallDetection = true
		case model.RuleKindAccidentDetection:
			set.AccidentDetection = true
		default:
			continue
		}
		set.RuleIDs = append(set.RuleIDs, rule.ID)
	}

	for b := range boundaries {
		set.Boundaries = append(set.Boundaries, b)
	}
	sort.Slice(set.Boundaries, func(i, j int) bool { return set.Boundaries[i] < set.Boundaries[j] })

	return set
}

// NeedsMotion reports whether accelerometer samples are required
func (s *RuleSet) NeedsMotion() bool {
	return s != nil && (s.FallDetection || s.AccidentDetection)
}

// HasZones reports whether any geofence constrains the position
func (s *RuleSet) HasZones() bool {
	return s != nil && len(s.Zones) > 0
}

// Count returns the number of active rules in the set
func (s *RuleSet) Count() int {
	if s == nil {
		return 0
	}
	return len(s.RuleIDs)
}

func lowest(current *float64, v float64) *float64 {
	if current == nil || v < *current {
		return &v
	}
	return current
}
