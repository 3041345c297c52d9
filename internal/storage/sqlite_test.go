package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/safewatch/internal/model"
)

func ptr(v float64) *float64 { return &v }

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "data", "safewatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_AcceptedActiveRules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rules := []*model.Rule{
		{ID: "home", MonitorID: "m1", Name: "Home", Kind: model.RuleKindGeofence, Threshold: ptr(200), Latitude: ptr(40), Longitude: ptr(-8), IsActive: true},
		{ID: "speed", MonitorID: "m1", Name: "Speed", Kind: model.RuleKindSpeedLimit, Threshold: ptr(60), IsActive: true},
		{ID: "fall", MonitorID: "m1", Name: "Fall", Kind: model.RuleKindFallDetection, IsActive: false},
		{ID: "idle", MonitorID: "m2", Name: "Idle", Kind: model.RuleKindInactivity, Threshold: ptr(30), IsActive: true},
	}
	for _, r := range rules {
		require.NoError(t, store.UpsertRule(ctx, r))
	}

	night := &model.TimeWindow{Start: 22 * 60, End: 6 * 60}
	assignments := []*model.RuleAssignment{
		{ID: "a1", RuleID: "home", ProtectedID: "p1", IsAccepted: true, Window: night},
		{ID: "a2", RuleID: "speed", ProtectedID: "p1", IsAccepted: true},
		{ID: "a3", RuleID: "fall", ProtectedID: "p1", IsAccepted: true},
		{ID: "a4", RuleID: "idle", ProtectedID: "p1", IsAccepted: false},
		{ID: "a5", RuleID: "speed", ProtectedID: "p2", IsAccepted: true},
	}
	for _, a := range assignments {
		require.NoError(t, store.UpsertAssignment(ctx, a))
	}

	got, err := store.AcceptedActiveRules(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]model.AssignedRule{}
	for _, ar := range got {
		byID[ar.Rule.ID] = ar
	}

	home := byID["home"]
	assert.Equal(t, model.RuleKindGeofence, home.Rule.Kind)
	require.NotNil(t, home.Rule.Latitude)
	assert.Equal(t, 40.0, *home.Rule.Latitude)
	assert.Equal(t, 200.0, *home.Rule.Threshold)
	require.NotNil(t, home.Assignment.Window)
	assert.Equal(t, *night, *home.Assignment.Window)
	assert.True(t, home.Assignment.IsAccepted)

	speed := byID["speed"]
	assert.Nil(t, speed.Rule.Latitude)
	assert.Nil(t, speed.Assignment.Window)
	assert.Equal(t, "a2", speed.Assignment.ID)

	// accepting and activating brings the rules in
	assignments[3].IsAccepted = true
	require.NoError(t, store.UpsertAssignment(ctx, assignments[3]))
	rules[2].IsActive = true
	require.NoError(t, store.UpsertRule(ctx, rules[2]))

	got, err = store.AcceptedActiveRules(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, got, 4)

	require.NoError(t, store.DeleteAssignment(ctx, "a1"))
	assert.ErrorIs(t, store.DeleteAssignment(ctx, "a1"), ErrNotFound)

	require.NoError(t, store.DeleteRule(ctx, "speed"))
	assert.ErrorIs(t, store.DeleteRule(ctx, "speed"), ErrNotFound)

	got, err = store.AcceptedActiveRules(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	got, err = store.AcceptedActiveRules(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_Profile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Profile(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	p := &model.Profile{UserID: "p1", DisplayName: "Ana", CancellationPIN: "1234", CancellationTimerSeconds: 15}
	require.NoError(t, store.SaveProfile(ctx, p))

	got, err := store.Profile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, *p, *got)

	p.CancellationTimerSeconds = 20
	require.NoError(t, store.SaveProfile(ctx, p))
	got, err = store.Profile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.CancellationTimerSeconds)
}

func TestSQLiteStore_AlertLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	geofence := &model.Alert{
		ProtectedID:   "p1",
		ProtectedName: "Ana",
		TriggerKind:   model.TriggerGeofenceViolation,
		Detection:     model.DetectionGeofence,
		Status:        model.AlertStatusActive,
		Latitude:      ptr(40.01),
		Longitude:     ptr(-8),
		CreatedAt:     base,
	}
	id, err := store.CreateAlert(ctx, geofence)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, geofence.ID)

	fall := &model.Alert{
		ID:          "fall-1",
		ProtectedID: "p1",
		TriggerKind: model.TriggerRuleViolation,
		Detection:   model.DetectionFall,
		Status:      model.AlertStatusActive,
		CreatedAt:   base.Add(48 * time.Hour),
	}
	_, err = store.CreateAlert(ctx, fall)
	require.NoError(t, err)

	_, err = store.CreateAlert(ctx, &model.Alert{
		ProtectedID: "p2",
		TriggerKind: model.TriggerManualSOS,
		Detection:   model.DetectionManualSOS,
		Status:      model.AlertStatusActive,
		CreatedAt:   base.Add(time.Hour),
	})
	require.NoError(t, err)

	t.Run("Get", func(t *testing.T) {
		got, err := store.GetAlert(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.TriggerGeofenceViolation, got.TriggerKind)
		assert.Equal(t, model.DetectionGeofence, got.Detection)
		assert.Equal(t, "Ana", got.ProtectedName)
		require.NotNil(t, got.Latitude)
		assert.Equal(t, 40.01, *got.Latitude)
		assert.True(t, base.Equal(got.CreatedAt))
		assert.Nil(t, got.ResolvedAt)

		_, err = store.GetAlert(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		all, err := store.ListAlerts(ctx, AlertFilter{ProtectedID: "p1"}, 0, 10)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "fall-1", all[0].ID)

		page, err := store.ListAlerts(ctx, AlertFilter{}, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, model.TriggerManualSOS, page[0].TriggerKind)

		rule, err := store.ListAlerts(ctx, AlertFilter{TriggerKind: model.TriggerRuleViolation}, 0, 10)
		require.NoError(t, err)
		require.Len(t, rule, 1)

		recent, err := store.ListAlerts(ctx, AlertFilter{Since: base.Add(24 * time.Hour)}, 0, 10)
		require.NoError(t, err)
		require.Len(t, recent, 1)
	})

	t.Run("Resolve", func(t *testing.T) {
		at := base.Add(2 * time.Hour)
		require.NoError(t, store.ResolveAlert(ctx, id, "m1", at))

		got, err := store.GetAlert(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.AlertStatusResolved, got.Status)
		assert.Equal(t, "m1", got.ResolvedBy)
		require.NotNil(t, got.ResolvedAt)
		assert.True(t, at.Equal(*got.ResolvedAt))

		// one-way transition
		assert.ErrorIs(t, store.ResolveAlert(ctx, id, "m2", at), ErrNotFound)

		resolved, err := store.ListAlerts(ctx, AlertFilter{Status: model.AlertStatusResolved}, 0, 10)
		require.NoError(t, err)
		assert.Len(t, resolved, 1)
	})

	t.Run("DeleteBefore", func(t *testing.T) {
		n, err := store.DeleteAlertsBefore(ctx, base.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		left, err := store.ListAlerts(ctx, AlertFilter{}, 0, 10)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "fall-1", left[0].ID)
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safewatch.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	require.NoError(t, store.SaveProfile(ctx, &model.Profile{UserID: "p1", CancellationPIN: "0000", CancellationTimerSeconds: 10}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Profile(ctx, "p1")
	assert.NoError(t, err)
}
