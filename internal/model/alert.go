package model

import "time"

// TriggerKind is the persisted cause of an alert
type TriggerKind string

const (
	TriggerManualSOS         TriggerKind = "manual_sos"
	TriggerGeofenceViolation TriggerKind = "geofence_violation"
	TriggerRuleViolation     TriggerKind = "rule_violation"
)

// AlertStatus represents the lifecycle status of an alert
type AlertStatus string

const (
	AlertStatusActive           AlertStatus = "active"
	AlertStatusResolved         AlertStatus = "resolved"
	AlertStatusCancelledLocally AlertStatus = "cancelled_locally"
)

// DetectionKind is the live cause reported by a detector or the SOS button
type DetectionKind string

const (
	DetectionManualSOS  DetectionKind = "manual_sos"
	DetectionGeofence   DetectionKind = "geofence_violation"
	DetectionSpeedLimit DetectionKind = "speed_limit_exceeded"
	DetectionFall       DetectionKind = "fall"
	DetectionAccident   DetectionKind = "accident"
	DetectionInactivity DetectionKind = "inactivity"
)

// TriggerKind collapses a detection into the persisted trigger kind.
// Fall, accident, speed and inactivity all persist as rule violations.
func (k DetectionKind) TriggerKind() TriggerKind {
	switch k {
	case DetectionManualSOS:
		return TriggerManualSOS
	case DetectionGeofence:
		return TriggerGeofenceViolation
	default:
		return TriggerRuleViolation
	}
}

// Alert is created by the engine when a countdown elapses. Only Status,
// ResolvedBy and ResolvedAt change afterwards, and only by a monitor.
type Alert struct {
	ID            string        `json:"id"`
	ProtectedID   string        `json:"protected_id"`
	ProtectedName string        `json:"protected_name"`
	TriggerKind   TriggerKind   `json:"trigger_kind"`
	Detection     DetectionKind `json:"detection"`
	Status        AlertStatus   `json:"status"`
	Latitude      *float64      `json:"latitude,omitempty"`
	Longitude     *float64      `json:"longitude,omitempty"`
	VideoRef      string        `json:"video_ref,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ResolvedBy    string        `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}
