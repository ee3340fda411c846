package models

// DetectionResult is the output of one rule evaluation: the events that
// matched, oldest first, with the triggering event last.
type DetectionResult struct {
	RuleName      string   `json:"rule_name"`
	Severity      Severity `json:"severity"`
	RiskScore     int      `json:"risk_score"`
	MatchedEvents []*Event `json:"matched_events"`
}

// LastEventID returns the id of the triggering event, or "" when the
// result carries no events.
func (r *DetectionResult) LastEventID() string {
	if len(r.MatchedEvents) == 0 {
		return ""
	}
	return r.MatchedEvents[len(r.MatchedEvents)-1].EventID
}
