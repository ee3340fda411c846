package risk

import (
	"nightwatch/pkg/models"
)

// Scoring constants. The breakdown stored with every campaign keeps
// the arithmetic reproducible from the linked alerts alone.
const (
	CriticalBonus        = 20
	MultiRuleBonus       = 15
	ChainBonus           = 10
	ChainLengthThreshold = 3
	MaxScore             = 100
)

// Score computes a campaign's risk breakdown from its linked alerts.
// It is a pure function: no storage access, no clock, no side effects.
// An empty alert list scores zero across the board.
func Score(alerts []*models.Alert) models.ScoreBreakdown {
	if len(alerts) == 0 {
		return models.ScoreBreakdown{}
	}

	base := 0
	critical := false
	ruleNames := make(map[string]struct{}, len(alerts))
	for _, alert := range alerts {
		base += alert.RiskScore
		if alert.Severity == models.SeverityCritical {
			critical = true
		}
		ruleNames[alert.RuleName] = struct{}{}
	}

	breakdown := models.ScoreBreakdown{BaseScore: base}
	if critical {
		breakdown.CriticalBonus = CriticalBonus
	}
	if len(ruleNames) >= 2 {
		breakdown.MultiRuleBonus = MultiRuleBonus
	}
	if len(alerts) >= ChainLengthThreshold {
		breakdown.ChainBonus = ChainBonus
	}

	breakdown.RawScore = breakdown.BaseScore + breakdown.CriticalBonus +
		breakdown.MultiRuleBonus + breakdown.ChainBonus
	breakdown.FinalScore = breakdown.RawScore
	if breakdown.RawScore > MaxScore {
		breakdown.FinalScore = MaxScore
		breakdown.Capped = true
	}
	return breakdown
}
