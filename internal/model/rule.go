package model

import (
	"fmt"
	"time"
)

// RuleKind represents the kind of condition a rule checks
type RuleKind string

const (
	RuleKindFallDetection     RuleKind = "fall_detection"
	RuleKindAccidentDetection RuleKind = "accident_detection"
	RuleKindSpeedLimit        RuleKind = "speed_limit"
	RuleKindInactivity        RuleKind = "inactivity"
	RuleKindGeofence          RuleKind = "geofence"
)

// Rule is a monitor-authored condition. Threshold is km/h for speed limits,
// minutes for inactivity and the radius in meters for geofences.
type Rule struct {
	ID        string   `json:"id"`
	MonitorID string   `json:"monitor_id"`
	Name      string   `json:"name"`
	Kind      RuleKind `json:"kind"`
	Threshold *float64 `json:"threshold,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	IsActive  bool     `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleAssignment binds a rule to a protected user
type RuleAssignment struct {
	ID          string      `json:"id"`
	RuleID      string      `json:"rule_id"`
	ProtectedID string      `json:"protected_id"`
	IsAccepted  bool        `json:"is_accepted"`
	Window      *TimeWindow `json:"window,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssignedRule is a rule joined with the assignment that activates it
type AssignedRule struct {
	Rule       Rule           `json:"rule"`
	Assignment RuleAssignment `json:"assignment"`
}

// ClockTime is a time of day expressed in minutes after midnight
type ClockTime int

const minutesPerDay = 24 * 60

// ParseClockTime parses an "HH:MM" clock time
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

// ClockTimeOf returns the clock time of t in its own location
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Valid reports whether c lies within a single day
func (c ClockTime) Valid() bool {
	return c >= 0 && c < minutesPerDay
}

// TimeWindow is a daily active window. Start is inclusive, End exclusive.
// A window whose End is before its Start wraps past midnight; equal bounds
// cover the whole day.
type TimeWindow struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// Contains reports whether t falls inside the window
func (w TimeWindow) Contains(t time.Time) bool {
	if w.Start == w.End {
		return true
	}
	c := ClockTimeOf(t)
	if w.Start < w.End {
		return c >= w.Start && c < w.End
	}
	return c >= w.Start || c < w.End
}
