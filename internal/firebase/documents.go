package firebase

import (
	"fmt"
	"time"

	"github.com/t77yq/safewatch/internal/model"
)

// Collection names shared with the mobile apps
const (
	CollectionRules       = "rules"
	CollectionAssignments = "rule_assignments"
	CollectionUsers       = "users"
	CollectionAlerts      = "alerts"
	CollectionLinks       = "links"
)

type ruleDoc struct {
	MonitorID string    `firestore:"monitorId"`
	Name      string    `firestore:"name"`
	Kind      string    `firestore:"kind"`
	Threshold *float64  `firestore:"threshold"`
	Latitude  *float64  `firestore:"latitude"`
	Longitude *float64  `firestore:"longitude"`
	IsActive  bool      `firestore:"isActive"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d ruleDoc) toModel(id string) model.Rule {
	return model.Rule{
		ID:        id,
		MonitorID: d.MonitorID,
		Name:      d.Name,
		Kind:      model.RuleKind(d.Kind),
		Threshold: d.Threshold,
		Latitude:  d.Latitude,
		Longitude: d.Longitude,
		IsActive:  d.IsActive,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// assignmentDoc stores the schedule window as "HH:MM" strings; both empty
// means the rule applies all day.
type assignmentDoc struct {
	RuleID      string    `firestore:"ruleId"`
	ProtectedID string    `firestore:"protectedId"`
	IsAccepted  bool      `firestore:"isAccepted"`
	StartTime   string    `firestore:"startTime,omitempty"`
	EndTime     string    `firestore:"endTime,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d assignmentDoc) toModel(id string) (model.RuleAssignment, error) {
	a := model.RuleAssignment{
		ID:          id,
		RuleID:      d.RuleID,
		ProtectedID: d.ProtectedID,
		IsAccepted:  d.IsAccepted,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.StartTime == "" && d.EndTime == "" {
		return a, nil
	}

	start, err := model.ParseClockTime(d.StartTime)
	if err != nil {
		return a, fmt.Errorf("assignment %s: %w", id, err)
	}
	end, err := model.ParseClockTime(d.EndTime)
	if err != nil {
		return a, fmt.Errorf("assignment %s: %w", id, err)
	}
	a.Window = &model.TimeWindow{Start: start, End: end}
	return a, nil
}

type userDoc struct {
	DisplayName              string `firestore:"displayName"`
	CancellationPIN          string `firestore:"cancellationPin"`
	CancellationTimerSeconds int    `firestore:"cancellationTimerSeconds"`
	FCMToken                 string `firestore:"fcmToken,omitempty"`
}

func (d userDoc) toProfile(userID string) model.Profile {
	return model.Profile{
		UserID:                   userID,
		DisplayName:              d.DisplayName,
		CancellationPIN:          d.CancellationPIN,
		CancellationTimerSeconds: d.CancellationTimerSeconds,
	}.WithDefaults()
}

type alertDoc struct {
	ProtectedID   string     `firestore:"protectedId"`
	ProtectedName string     `firestore:"protectedName"`
	TriggerKind   string     `firestore:"triggerKind"`
	Detection     string     `firestore:"detection"`
	Status        string     `firestore:"status"`
	Latitude      *float64   `firestore:"latitude"`
	Longitude     *float64   `firestore:"longitude"`
	VideoRef      string     `firestore:"videoRef,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	ResolvedBy    string     `firestore:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time `firestore:"resolvedAt"`
}

func newAlertDoc(a *model.Alert) alertDoc {
	return alertDoc{
		ProtectedID:   a.ProtectedID,
		ProtectedName: a.ProtectedName,
		TriggerKind:   string(a.TriggerKind),
		Detection:     string(a.Detection),
		Status:        string(a.Status),
		Latitude:      a.Latitude,
		Longitude:     a.Longitude,
		VideoRef:      a.VideoRef,
		CreatedAt:     a.CreatedAt,
		ResolvedBy:    a.ResolvedBy,
		ResolvedAt:    a.ResolvedAt,
	}
}

type linkDoc struct {
	MonitorID   string `firestore:"monitorId"`
	ProtectedID string `firestore:"protectedId"`
}
