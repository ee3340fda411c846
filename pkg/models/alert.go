package models

import "time"

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusOpen         AlertStatus = "open"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

// Valid reports whether the status is a known value.
func (s AlertStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// Alert is a persisted, deduplicated detection. Every field except
// Status is immutable after creation; the only sanctioned mutation path
// is the lifecycle transition service.
type Alert struct {
	ID             string      `json:"id"`
	RuleName       string      `json:"rule_name"`
	EndpointID     string      `json:"endpoint_id"`
	Severity       Severity    `json:"severity"`
	RiskScore      int         `json:"risk_score"`
	EventCount     int         `json:"event_count"`
	FirstEventID   string      `json:"first_event_id"`
	LastEventID    string      `json:"last_event_id"`
	LinkedEventIDs []string    `json:"linked_event_ids"`
	Status         AlertStatus `json:"status"`
	IsEscalated    bool        `json:"is_escalated"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AlertStatusHistory is one append-only audit row per status transition.
type AlertStatusHistory struct {
	AlertID        string      `json:"alert_id"`
	PreviousStatus AlertStatus `json:"previous_status"`
	NewStatus      AlertStatus `json:"new_status"`
	ChangedAt      time.Time   `json:"changed_at"`
}
