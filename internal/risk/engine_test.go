package risk

import (
	"testing"

	"nightwatch/pkg/models"
)

func alert(rule string, severity models.Severity, score int) *models.Alert {
	return &models.Alert{RuleName: rule, Severity: severity, RiskScore: score}
}

func TestScoreEmpty(t *testing.T) {
	breakdown := Score(nil)
	if breakdown.FinalScore != 0 || breakdown.RawScore != 0 || breakdown.Capped {
		t.Fatalf("empty input should score zero, got %+v", breakdown)
	}
}

func TestScoreSingleAlert(t *testing.T) {
	breakdown := Score([]*models.Alert{alert("RULE_A", models.SeverityHigh, 70)})
	if breakdown.BaseScore != 70 {
		t.Fatalf("base score = %d, want 70", breakdown.BaseScore)
	}
	if breakdown.CriticalBonus != 0 || breakdown.MultiRuleBonus != 0 || breakdown.ChainBonus != 0 {
		t.Fatalf("single non-critical alert should earn no bonuses, got %+v", breakdown)
	}
	if breakdown.FinalScore != 70 || breakdown.Capped {
		t.Fatalf("final = %d capped=%v, want 70 uncapped", breakdown.FinalScore, breakdown.Capped)
	}
}

func TestScoreTwoRulesEarnsMultiRuleBonus(t *testing.T) {
	breakdown := Score([]*models.Alert{
		alert("r1", models.SeverityLow, 10),
		alert("r2", models.SeverityLow, 10),
	})
	if breakdown.BaseScore != 20 {
		t.Fatalf("base score = %d, want 20", breakdown.BaseScore)
	}
	if breakdown.MultiRuleBonus != MultiRuleBonus {
		t.Fatalf("multi-rule bonus = %d, want %d", breakdown.MultiRuleBonus, MultiRuleBonus)
	}
	if breakdown.FinalScore != 35 {
		t.Fatalf("final = %d, want 35", breakdown.FinalScore)
	}
}

func TestScoreRepeatedRuleIsNotMultiRule(t *testing.T) {
	breakdown := Score([]*models.Alert{
		alert("RULE_A", models.SeverityLow, 20),
		alert("RULE_A", models.SeverityLow, 20),
	})
	if breakdown.MultiRuleBonus != 0 {
		t.Fatalf("same rule twice should not earn multi-rule bonus, got %+v", breakdown)
	}
}

func TestScoreCriticalBonus(t *testing.T) {
	breakdown := Score([]*models.Alert{alert("RULE_A", models.SeverityCritical, 30)})
	if breakdown.CriticalBonus != CriticalBonus {
		t.Fatalf("critical bonus = %d, want %d", breakdown.CriticalBonus, CriticalBonus)
	}
	if breakdown.FinalScore != 50 {
		t.Fatalf("final = %d, want 50", breakdown.FinalScore)
	}
}

func TestScoreChainBonusAtThreeAlerts(t *testing.T) {
	breakdown := Score([]*models.Alert{
		alert("RULE_A", models.SeverityLow, 10),
		alert("RULE_A", models.SeverityLow, 10),
		alert("RULE_A", models.SeverityLow, 10),
	})
	if breakdown.ChainBonus != ChainBonus {
		t.Fatalf("chain bonus = %d, want %d", breakdown.ChainBonus, ChainBonus)
	}
	if breakdown.FinalScore != 40 {
		t.Fatalf("final = %d, want 40", breakdown.FinalScore)
	}
}

func TestScoreIsOrderIndependent(t *testing.T) {
	forward := []*models.Alert{
		alert("RULE_A", models.SeverityCritical, 30),
		alert("RULE_B", models.SeverityLow, 20),
		alert("RULE_C", models.SeverityLow, 10),
	}
	reversed := []*models.Alert{forward[2], forward[1], forward[0]}
	if Score(forward) != Score(reversed) {
		t.Fatalf("breakdown depends on alert order: %+v vs %+v", Score(forward), Score(reversed))
	}
}

func TestScoreCapsAtMax(t *testing.T) {
	breakdown := Score([]*models.Alert{
		alert("RULE_A", models.SeverityCritical, 90),
		alert("RULE_B", models.SeverityCritical, 90),
	})
	// 180 base + 20 critical + 15 multi-rule = 215 raw.
	if breakdown.RawScore != 215 {
		t.Fatalf("raw = %d, want 215", breakdown.RawScore)
	}
	if breakdown.FinalScore != MaxScore || !breakdown.Capped {
		t.Fatalf("final = %d capped=%v, want %d capped", breakdown.FinalScore, breakdown.Capped, MaxScore)
	}
}

func TestScoreBonusesStack(t *testing.T) {
	breakdown := Score([]*models.Alert{
		alert("RULE_A", models.SeverityCritical, 10),
		alert("RULE_B", models.SeverityLow, 10),
		alert("RULE_C", models.SeverityLow, 10),
	})
	if breakdown.CriticalBonus != CriticalBonus || breakdown.MultiRuleBonus != MultiRuleBonus || breakdown.ChainBonus != ChainBonus {
		t.Fatalf("all bonuses should apply, got %+v", breakdown)
	}
	if breakdown.FinalScore != 75 {
		t.Fatalf("final = %d, want 75", breakdown.FinalScore)
	}
}
