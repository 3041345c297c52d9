package alerting

import (
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/safewatch/internal/model"
)

// NewAlert builds the active alert for an expired countdown
func NewAlert(profile model.Profile, detection model.DetectionKind, lastFix *model.LocationFix, now time.Time) *model.Alert {
	alert := &model.Alert{
		ID:            uuid.New().String(),
		ProtectedID:   profile.UserID,
		ProtectedName: profile.DisplayName,
		TriggerKind:   detection.TriggerKind(),
		Detection:     detection,
		Status:        model.AlertStatusActive,
		CreatedAt:     now,
	}
	if lastFix != nil {
		lat, lon := lastFix.Latitude, lastFix.Longitude
		alert.Latitude = &lat
		alert.Longitude = &lon
	}
	return alert
}
