package models

import "time"

// ScoreBreakdown itemizes how a campaign risk score was computed. It is
// stored alongside the score so the number is always explainable from
// the record alone.
type ScoreBreakdown struct {
	BaseScore      int  `json:"base_score"`
	CriticalBonus  int  `json:"critical_bonus"`
	MultiRuleBonus int  `json:"multi_rule_bonus"`
	ChainBonus     int  `json:"chain_bonus"`
	RawScore       int  `json:"raw_score"`
	FinalScore     int  `json:"final_score"`
	Capped         bool `json:"capped"`
}

// Campaign is a chain of alerts for one endpoint linked inside the
// correlation window. ChainLength always equals the number of
// CampaignAlert links; LastAlertID is the highest-position link.
type Campaign struct {
	ID             string         `json:"id"`
	EndpointID     string         `json:"endpoint_id"`
	ChainLength    int            `json:"chain_length"`
	RiskScore      int            `json:"risk_score"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown"`
	FirstAlertID   string         `json:"first_alert_id"`
	LastAlertID    string         `json:"last_alert_id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CampaignAlert links one alert into a campaign at a 1-based position.
type CampaignAlert struct {
	CampaignID string `json:"campaign_id"`
	AlertID    string `json:"alert_id"`
	Position   int    `json:"position"`
}
