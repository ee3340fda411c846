package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nightwatch/pkg/models"
)

// AlertExists reports whether an alert with the dedup key
// (ruleName, endpointID, lastEventID) is already persisted.
func (t *Tx) AlertExists(ctx context.Context, ruleName, endpointID, lastEventID string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `
		SELECT 1 FROM alerts
		WHERE rule_name = ? AND endpoint_id = ? AND last_event_id = ?`,
		ruleName, endpointID, lastEventID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query alert dedup key: %w", err)
	}
	return true, nil
}

// InsertAlert persists a new alert. Losing a race on the dedup unique
// constraint yields ErrDuplicateAlert.
func (t *Tx) InsertAlert(ctx context.Context, alert *models.Alert) error {
	linked, err := json.Marshal(alert.LinkedEventIDs)
	if err != nil {
		return fmt.Errorf("encode linked event ids: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO alerts (id, rule_name, endpoint_id, severity, risk_score, event_count,
			first_event_id, last_event_id, linked_event_ids, status, is_escalated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.RuleName,
		alert.EndpointID,
		string(alert.Severity),
		alert.RiskScore,
		alert.EventCount,
		alert.FirstEventID,
		alert.LastEventID,
		string(linked),
		string(alert.Status),
		boolToInt(alert.IsEscalated),
		alert.CreatedAt.UTC().UnixNano(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateAlert
	}
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetAlert loads one alert by id.
func (t *Tx) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return getAlert(ctx, t.tx, id)
}

// GetAlert loads one alert by id outside a transaction.
func (s *Store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return getAlert(ctx, s.db, id)
}

// UpdateAlertStatus writes the new status for an alert. This is the
// only sanctioned mutation of a persisted alert and is reserved for the
// lifecycle service, which pairs it with a history insert in the same
// transaction.
func (t *Tx) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE alerts SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertStatusHistory appends one audit row. History rows are never
// updated or deleted.
func (t *Tx) InsertStatusHistory(ctx context.Context, h *models.AlertStatusHistory) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO alert_status_history (alert_id, previous_status, new_status, changed_at)
		VALUES (?, ?, ?, ?)`,
		h.AlertID,
		string(h.PreviousStatus),
		string(h.NewStatus),
		h.ChangedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// StatusHistory returns the audit trail for an alert, oldest first.
func (s *Store) StatusHistory(ctx context.Context, alertID string) ([]models.AlertStatusHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, previous_status, new_status, changed_at
		FROM alert_status_history WHERE alert_id = ? ORDER BY id ASC`, alertID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []models.AlertStatusHistory
	for rows.Next() {
		var h models.AlertStatusHistory
		var prev, next string
		var changed int64
		if err := rows.Scan(&h.AlertID, &prev, &next, &changed); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		h.PreviousStatus = models.AlertStatus(prev)
		h.NewStatus = models.AlertStatus(next)
		h.ChangedAt = time.Unix(0, changed).UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

// AlertFilter narrows ListAlerts output. Zero values mean no filter.
type AlertFilter struct {
	EndpointID string
	Status     models.AlertStatus
	Severity   models.Severity
	MinRisk    int
	Limit      int
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []interface{}
	if filter.EndpointID != "" {
		query += ` AND endpoint_id = ?`
		args = append(args, filter.EndpointID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(filter.Severity))
	}
	if filter.MinRisk > 0 {
		query += ` AND risk_score >= ?`
		args = append(args, filter.MinRisk)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

const alertColumns = `id, rule_name, endpoint_id, severity, risk_score, event_count,
	first_event_id, last_event_id, linked_event_ids, status, is_escalated, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func getAlert(ctx context.Context, q querier, id string) (*models.Alert, error) {
	row := q.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var severity, status, linked string
	var escalated int
	var created int64
	err := row.Scan(
		&alert.ID, &alert.RuleName, &alert.EndpointID, &severity, &alert.RiskScore,
		&alert.EventCount, &alert.FirstEventID, &alert.LastEventID, &linked,
		&status, &escalated, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert row: %w", err)
	}
	if err := json.Unmarshal([]byte(linked), &alert.LinkedEventIDs); err != nil {
		return nil, fmt.Errorf("decode linked event ids: %w", err)
	}
	alert.Severity = models.Severity(severity)
	alert.Status = models.AlertStatus(status)
	alert.IsEscalated = escalated != 0
	alert.CreatedAt = time.Unix(0, created).UTC()
	return &alert, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
