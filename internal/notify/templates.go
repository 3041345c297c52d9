package notify

import (
	"fmt"

	"github.com/t77yq/safewatch/internal/model"
)

// RecordLink is the deep link that opens video recording for an alert
func RecordLink(alertID string) string {
	return fmt.Sprintf("safewatch://alerts/%s/record", alertID)
}

// CancelLink is the deep link that opens the PIN prompt for a countdown
const CancelLink = "safewatch://countdown/cancel"

var detectionTitles = map[model.DetectionKind]string{
	model.DetectionManualSOS:  "SOS requested",
	model.DetectionGeofence:   "Left safe zone",
	model.DetectionSpeedLimit: "Speed limit exceeded",
	model.DetectionFall:       "Fall detected",
	model.DetectionAccident:   "Possible accident detected",
	model.DetectionInactivity: "No movement detected",
}

// DetectionTitle returns the human readable title of a detection
func DetectionTitle(kind model.DetectionKind) string {
	if title, ok := detectionTitles[kind]; ok {
		return title
	}
	return "Alert condition detected"
}

// Monitoring is the ongoing notification shown while the engine is idle
func Monitoring(ruleCount int) model.Notification {
	return model.Notification{
		Kind:    model.NotificationMonitoring,
		Ongoing: true,
		Title:   "Safety monitoring active",
		Body:    fmt.Sprintf("%d active rules", ruleCount),
	}
}

// Countdown is the ongoing notification updated on every countdown tick
func Countdown(kind model.DetectionKind, secondsLeft int, progress float64) model.Notification {
	return model.Notification{
		Kind:        model.NotificationCountdown,
		Ongoing:     true,
		Title:       DetectionTitle(kind),
		Body:        fmt.Sprintf("Sending alert in %ds. Enter your PIN to cancel.", secondsLeft),
		Progress:    progress,
		SecondsLeft: secondsLeft,
		Action:      &model.NotificationAction{Label: "Cancel", Link: CancelLink},
	}
}

// Cancelled confirms that a countdown was cancelled with the PIN
func Cancelled(kind model.DetectionKind) model.Notification {
	return model.Notification{
		Kind:  model.NotificationCancelled,
		Title: "Alert cancelled",
		Body:  fmt.Sprintf("%s: no alert was sent", DetectionTitle(kind)),
	}
}

// AlertSent reports a persisted alert with an action to start recording
func AlertSent(alert *model.Alert) model.Notification {
	return model.Notification{
		Kind:    model.NotificationAlertSent,
		Title:   "Alert sent",
		Body:    fmt.Sprintf("%s: your monitors have been notified", DetectionTitle(alert.Detection)),
		AlertID: alert.ID,
		Action:  &model.NotificationAction{Label: "Record video", Link: RecordLink(alert.ID)},
	}
}

// AlertFailed reports an alert that could not be persisted
func AlertFailed(kind model.DetectionKind) model.Notification {
	return model.Notification{
		Kind:  model.NotificationAlertFail,
		Title: "Alert could not be sent",
		Body:  fmt.Sprintf("%s: check your connection and contact your monitors", DetectionTitle(kind)),
	}
}

// Stopped is shown once monitoring ends
func Stopped() model.Notification {
	return model.Notification{
		Kind:  model.NotificationStopped,
		Title: "Safety monitoring stopped",
	}
}
