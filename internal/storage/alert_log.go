package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/model"
)

// AlertFilter narrows ListAlerts. Empty fields match everything.
type AlertFilter struct {
	ProtectedID string
	Status      model.AlertStatus
	TriggerKind model.TriggerKind
	Since       time.Time
}

const alertColumns = `id, protected_id, protected_name, trigger_kind, detection, status,
	latitude, longitude, video_ref, created_at, resolved_by, resolved_at`

// CreateAlert appends alert to the alert log and returns its ID
func (s *SQLiteStore) CreateAlert(ctx context.Context, alert *model.Alert) (string, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.clock()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.ProtectedID,
		alert.ProtectedName,
		alert.TriggerKind,
		alert.Detection,
		alert.Status,
		nullFloat(alert.Latitude),
		nullFloat(alert.Longitude),
		sql.NullString{String: alert.VideoRef, Valid: alert.VideoRef != ""},
		alert.CreatedAt.UTC(),
		sql.NullString{String: alert.ResolvedBy, Valid: alert.ResolvedBy != ""},
		nullTime(alert.ResolvedAt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store alert: %w", err)
	}
	return alert.ID, nil
}

// GetAlert returns the alert with the given ID
func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts matching filter, newest first
func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter, offset, limit int) ([]*model.Alert, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.ProtectedID != "" {
		conditions = append(conditions, "protected_id = ?")
		args = append(args, filter.ProtectedID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.TriggerKind != "" {
		conditions = append(conditions, "trigger_kind = ?")
		args = append(args, filter.TriggerKind)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := "SELECT " + alertColumns + " FROM alerts"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

// ResolveAlert marks an active alert as resolved. Resolution is one-way:
// resolving an alert that is not active returns ErrNotFound.
func (s *SQLiteStore) ResolveAlert(ctx context.Context, id, resolvedBy string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		model.AlertStatusResolved,
		resolvedBy,
		at.UTC(),
		id,
		model.AlertStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAlertsBefore deletes alerts created before the given time
func (s *SQLiteStore) DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete alerts: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old alert records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*model.Alert, error) {
	var (
		alert                model.Alert
		lat, lon             sql.NullFloat64
		videoRef, resolvedBy sql.NullString
		resolvedAt           sql.NullTime
	)
	err := row.Scan(
		&alert.ID,
		&alert.ProtectedID,
		&alert.ProtectedName,
		&alert.TriggerKind,
		&alert.Detection,
		&alert.Status,
		&lat,
		&lon,
		&videoRef,
		&alert.CreatedAt,
		&resolvedBy,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Latitude = floatPtr(lat)
	alert.Longitude = floatPtr(lon)
	alert.VideoRef = videoRef.String
	alert.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	return &alert, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
