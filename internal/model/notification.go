package model

// NotificationKind identifies what a notification reports
type NotificationKind string

const (
	NotificationMonitoring NotificationKind = "monitoring"
	NotificationCountdown  NotificationKind = "countdown"
	NotificationCancelled  NotificationKind = "countdown_cancelled"
	NotificationAlertSent  NotificationKind = "alert_sent"
	NotificationAlertFail  NotificationKind = "alert_failed"
	NotificationStopped    NotificationKind = "monitoring_stopped"
)

// Notification is a user-facing message. Ongoing notifications replace each
// other in place; terminal ones are shown once.
type Notification struct {
	Kind        NotificationKind    `json:"kind"`
	Ongoing     bool                `json:"ongoing"`
	Title       string              `json:"title"`
	Body        string              `json:"body"`
	Progress    float64             `json:"progress,omitempty"`
	SecondsLeft int                 `json:"seconds_left,omitempty"`
	AlertID     string              `json:"alert_id,omitempty"`
	Action      *NotificationAction `json:"action,omitempty"`
}

// NotificationAction is a tappable action carried by a notification
type NotificationAction struct {
	Label string `json:"label"`
	Link  string `json:"link"`
}
