package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// SQLiteStore keeps rules, assignments, profiles and the alert log in a
// local SQLite database.
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
	clock  func() time.Time
}

// NewSQLiteStore opens or creates the database at dbPath
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		logger: logger.Named("sqlite"),
		db:     db,
		clock:  time.Now,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			monitor_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			threshold REAL,
			latitude REAL,
			longitude REAL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS rule_assignments (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			protected_id TEXT NOT NULL,
			is_accepted INTEGER NOT NULL DEFAULT 0,
			start_minute INTEGER,
			end_minute INTEGER,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rule_assignments_protected_id ON rule_assignments(protected_id);
		CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			cancellation_pin TEXT NOT NULL,
			cancellation_timer_seconds INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			protected_id TEXT NOT NULL,
			protected_name TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			detection TEXT NOT NULL,
			status TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			video_ref TEXT,
			created_at DATETIME NOT NULL,
			resolved_by TEXT,
			resolved_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_protected_id ON alerts(protected_id);
		CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// UpsertRule stores or replaces a rule
func (s *SQLiteStore) UpsertRule(ctx context.Context, rule *model.Rule) error {
	now := s.clock().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (
			id, monitor_id, name, kind, threshold, latitude, longitude, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			monitor_id = excluded.monitor_id,
			name = excluded.name,
			kind = excluded.kind,
			threshold = excluded.threshold,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		rule.ID,
		rule.MonitorID,
		rule.Name,
		rule.Kind,
		nullFloat(rule.Threshold),
		nullFloat(rule.Latitude),
		nullFloat(rule.Longitude),
		rule.IsActive,
		rule.CreatedAt.UTC(),
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule together with its assignments
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM rule_assignments WHERE rule_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete rule assignments: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertAssignment stores or replaces a rule assignment
func (s *SQLiteStore) UpsertAssignment(ctx context.Context, a *model.RuleAssignment) error {
	now := s.clock().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	var start, end sql.NullInt64
	if a.Window != nil {
		start = sql.NullInt64{Int64: int64(a.Window.Start), Valid: true}
		end = sql.NullInt64{Int64: int64(a.Window.End), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_assignments (
			id, rule_id, protected_id, is_accepted, start_minute, end_minute, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rule_id = excluded.rule_id,
			protected_id = excluded.protected_id,
			is_accepted = excluded.is_accepted,
			start_minute = excluded.start_minute,
			end_minute = excluded.end_minute,
			updated_at = excluded.updated_at`,
		a.ID,
		a.RuleID,
		a.ProtectedID,
		a.IsAccepted,
		start,
		end,
		a.CreatedAt.UTC(),
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store rule assignment: %w", err)
	}
	return nil
}

// DeleteAssignment removes a rule assignment
func (s *SQLiteStore) DeleteAssignment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rule_assignments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule assignment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AcceptedActiveRules returns the accepted assignments of active rules for
// a protected user
func (s *SQLiteStore) AcceptedActiveRules(ctx context.Context, userID string) ([]model.AssignedRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			r.id, r.monitor_id, r.name, r.kind, r.threshold, r.latitude, r.longitude,
			r.is_active, r.created_at, r.updated_at,
			a.id, a.rule_id, a.protected_id, a.is_accepted, a.start_minute, a.end_minute,
			a.created_at, a.updated_at
		FROM rule_assignments a
		JOIN rules r ON r.id = a.rule_id
		WHERE a.protected_id = ? AND a.is_accepted = 1 AND r.is_active = 1
		ORDER BY a.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []model.AssignedRule
	for rows.Next() {
		var (
			ar                     model.AssignedRule
			threshold, lat, lon    sql.NullFloat64
			startMinute, endMinute sql.NullInt64
		)
		err := rows.Scan(
			&ar.Rule.ID,
			&ar.Rule.MonitorID,
			&ar.Rule.Name,
			&ar.Rule.Kind,
			&threshold,
			&lat,
			&lon,
			&ar.Rule.IsActive,
			&ar.Rule.CreatedAt,
			&ar.Rule.UpdatedAt,
			&ar.Assignment.ID,
			&ar.Assignment.RuleID,
			&ar.Assignment.ProtectedID,
			&ar.Assignment.IsAccepted,
			&startMinute,
			&endMinute,
			&ar.Assignment.CreatedAt,
			&ar.Assignment.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		ar.Rule.Threshold = floatPtr(threshold)
		ar.Rule.Latitude = floatPtr(lat)
		ar.Rule.Longitude = floatPtr(lon)
		if startMinute.Valid && endMinute.Valid {
			ar.Assignment.Window = &model.TimeWindow{
				Start: model.ClockTime(startMinute.Int64),
				End:   model.ClockTime(endMinute.Int64),
			}
		}
		rules = append(rules, ar)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return rules, nil
}

// SaveProfile stores or replaces a profile
func (s *SQLiteStore) SaveProfile(ctx context.Context, p *model.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, display_name, cancellation_pin, cancellation_timer_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			cancellation_pin = excluded.cancellation_pin,
			cancellation_timer_seconds = excluded.cancellation_timer_seconds`,
		p.UserID,
		p.DisplayName,
		p.CancellationPIN,
		p.CancellationTimerSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

// Profile returns the profile of userID
func (s *SQLiteStore) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, cancellation_pin, cancellation_timer_seconds
		FROM profiles
		WHERE user_id = ?`, userID).Scan(
		&p.UserID,
		&p.DisplayName,
		&p.CancellationPIN,
		&p.CancellationTimerSeconds,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	return &p, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
