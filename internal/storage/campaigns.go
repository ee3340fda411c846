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

// LatestCampaign returns the most recently created campaign for an
// endpoint, or ErrNotFound when the endpoint has none.
func (t *Tx) LatestCampaign(ctx context.Context, endpointID string) (*models.Campaign, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE endpoint_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, endpointID)
	return scanCampaign(row)
}

// InsertCampaign persists a new campaign row.
func (t *Tx) InsertCampaign(ctx context.Context, c *models.Campaign) error {
	breakdown, err := json.Marshal(c.ScoreBreakdown)
	if err != nil {
		return fmt.Errorf("encode score breakdown: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, endpoint_id, chain_length, risk_score, score_breakdown,
			first_alert_id, last_alert_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.EndpointID,
		c.ChainLength,
		c.RiskScore,
		string(breakdown),
		c.FirstAlertID,
		c.LastAlertID,
		c.CreatedAt.UTC().UnixNano(),
		c.UpdatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert campaign %s: %w", c.ID, err)
	}
	return nil
}

// InsertCampaignAlert links an alert into a campaign at a position.
func (t *Tx) InsertCampaignAlert(ctx context.Context, link *models.CampaignAlert) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO campaign_alerts (campaign_id, alert_id, position)
		VALUES (?, ?, ?)`,
		link.CampaignID, link.AlertID, link.Position,
	)
	if err != nil {
		return fmt.Errorf("insert campaign link: %w", err)
	}
	return nil
}

// UpdateCampaignChain extends a campaign's chain head.
func (t *Tx) UpdateCampaignChain(ctx context.Context, id string, chainLength int, lastAlertID string, updatedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE campaigns SET chain_length = ?, last_alert_id = ?, updated_at = ?
		WHERE id = ?`,
		chainLength, lastAlertID, updatedAt.UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update campaign chain: %w", err)
	}
	return nil
}

// UpdateCampaignScore stores a freshly recomputed score breakdown.
func (t *Tx) UpdateCampaignScore(ctx context.Context, id string, breakdown models.ScoreBreakdown, updatedAt time.Time) error {
	encoded, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("encode score breakdown: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		UPDATE campaigns SET risk_score = ?, score_breakdown = ?, updated_at = ?
		WHERE id = ?`,
		breakdown.FinalScore, string(encoded), updatedAt.UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update campaign score: %w", err)
	}
	return nil
}

// CampaignAlerts returns the alerts linked to a campaign in position
// order.
func (t *Tx) CampaignAlerts(ctx context.Context, campaignID string) ([]*models.Alert, error) {
	return campaignAlerts(ctx, t.tx, campaignID)
}

// CampaignAlerts is the out-of-transaction variant for read paths.
func (s *Store) CampaignAlerts(ctx context.Context, campaignID string) ([]*models.Alert, error) {
	return campaignAlerts(ctx, s.db, campaignID)
}

// GetCampaign loads one campaign by id.
func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

// ListCampaigns returns campaigns, optionally filtered by endpoint,
// newest first.
func (s *Store) ListCampaigns(ctx context.Context, endpointID string, limit int) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	var args []interface{}
	if endpointID != "" {
		query += ` WHERE endpoint_id = ?`
		args = append(args, endpointID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const campaignColumns = `id, endpoint_id, chain_length, risk_score, score_breakdown,
	first_alert_id, last_alert_id, created_at, updated_at`

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var c models.Campaign
	var breakdown string
	var created, updated int64
	err := row.Scan(
		&c.ID, &c.EndpointID, &c.ChainLength, &c.RiskScore, &breakdown,
		&c.FirstAlertID, &c.LastAlertID, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign row: %w", err)
	}
	if err := json.Unmarshal([]byte(breakdown), &c.ScoreBreakdown); err != nil {
		return nil, fmt.Errorf("decode score breakdown: %w", err)
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	c.UpdatedAt = time.Unix(0, updated).UTC()
	return &c, nil
}

func campaignAlerts(ctx context.Context, q querier, campaignID string) ([]*models.Alert, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+alertColumnsQualified+`
		FROM alerts a
		JOIN campaign_alerts ca ON ca.alert_id = a.id
		WHERE ca.campaign_id = ?
		ORDER BY ca.position ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query campaign alerts: %w", err)
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

const alertColumnsQualified = `a.id, a.rule_name, a.endpoint_id, a.severity, a.risk_score, a.event_count,
	a.first_event_id, a.last_event_id, a.linked_event_ids, a.status, a.is_escalated, a.created_at`
