package firebase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/safewatch/internal/model"
)

func ptr(v float64) *float64 { return &v }

func TestAssignmentDoc_ToModel(t *testing.T) {
	t.Run("all day", func(t *testing.T) {
		a, err := assignmentDoc{RuleID: "r1", ProtectedID: "p1", IsAccepted: true}.toModel("a1")
		require.NoError(t, err)
		assert.Equal(t, "a1", a.ID)
		assert.Equal(t, "r1", a.RuleID)
		assert.True(t, a.IsAccepted)
		assert.Nil(t, a.Window)
	})

	t.Run("window", func(t *testing.T) {
		a, err := assignmentDoc{RuleID: "r1", StartTime: "22:00", EndTime: "06:30"}.toModel("a1")
		require.NoError(t, err)
		require.NotNil(t, a.Window)
		assert.Equal(t, model.ClockTime(22*60), a.Window.Start)
		assert.Equal(t, model.ClockTime(6*60+30), a.Window.End)
	})

	t.Run("half window", func(t *testing.T) {
		_, err := assignmentDoc{RuleID: "r1", StartTime: "22:00"}.toModel("a1")
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := assignmentDoc{RuleID: "r1", StartTime: "25:00", EndTime: "06:00"}.toModel("a1")
		assert.Error(t, err)
	})
}

func TestRuleDoc_ToModel(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := ruleDoc{
		MonitorID: "m1",
		Name:      "Home",
		Kind:      "geofence",
		Threshold: ptr(150),
		Latitude:  ptr(38.7),
		Longitude: ptr(-9.1),
		IsActive:  true,
		CreatedAt: created,
	}.toModel("home")

	assert.Equal(t, "home", r.ID)
	assert.Equal(t, model.RuleKindGeofence, r.Kind)
	assert.Equal(t, 150.0, *r.Threshold)
	assert.Equal(t, created, r.CreatedAt)
}

func TestUserDoc_ToProfile(t *testing.T) {
	p := userDoc{DisplayName: "Ana"}.toProfile("p1")
	assert.Equal(t, "p1", p.UserID)
	assert.Equal(t, "Ana", p.DisplayName)
	assert.Equal(t, model.DefaultCancellationPIN, p.CancellationPIN)
	assert.Equal(t, model.DefaultCancellationTimerSeconds, p.CancellationTimerSeconds)

	p = userDoc{CancellationPIN: "4321", CancellationTimerSeconds: 20}.toProfile("p1")
	assert.Equal(t, "4321", p.CancellationPIN)
	assert.Equal(t, 20, p.CancellationTimerSeconds)
}

func TestNewAlertDoc(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	d := newAlertDoc(&model.Alert{
		ID:            "a1",
		ProtectedID:   "p1",
		ProtectedName: "Ana",
		TriggerKind:   model.TriggerRuleViolation,
		Detection:     model.DetectionFall,
		Status:        model.AlertStatusActive,
		Latitude:      ptr(1),
		Longitude:     ptr(2),
		CreatedAt:     created,
	})

	assert.Equal(t, "p1", d.ProtectedID)
	assert.Equal(t, "rule_violation", d.TriggerKind)
	assert.Equal(t, "fall", d.Detection)
	assert.Equal(t, "active", d.Status)
	assert.Equal(t, 1.0, *d.Latitude)
	assert.Nil(t, d.ResolvedAt)
}
