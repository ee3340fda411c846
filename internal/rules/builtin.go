package rules

import (
	"context"
	"strings"

	"nightwatch/pkg/models"
)

// Static detection parameters for the shipped rules.
const (
	authFailureThreshold     = 5
	authFailureWindowSeconds = 60
)

var suspiciousProcessNames = map[string]struct{}{
	"mimikatz":       {},
	"nc":             {},
	"netcat":         {},
	"ncat":           {},
	"powershell.exe": {},
	"cmd.exe":        {},
}

// Builtin returns the rules shipped with the engine: execution of known
// offensive tooling, and repeated auth failures in a short window.
func Builtin() []Rule {
	bruteforce, err := Compile(Definition{
		Name:          "AUTH_BRUTE_FORCE",
		Description:   "Detect repeated authentication failures within short time window",
		Severity:      models.SeverityCritical,
		RiskScore:     90,
		EventType:     models.EventAuthFailure,
		Threshold:     authFailureThreshold,
		WindowSeconds: authFailureWindowSeconds,
	})
	if err != nil {
		// Static definition; cannot fail.
		panic(err)
	}
	return []Rule{suspiciousProcessRule{}, bruteforce}
}

// suspiciousProcessRule flags process starts whose name matches a known
// offensive tool, case-insensitively.
type suspiciousProcessRule struct{}

func (suspiciousProcessRule) Name() string { return "SUSPICIOUS_PROCESS_NAME" }

func (suspiciousProcessRule) Evaluate(_ context.Context, event *models.Event, _ EventHistory) ([]models.DetectionResult, error) {
	if event.Type != models.EventProcessStart || event.Process == nil {
		return nil, nil
	}
	name := strings.ToLower(strings.TrimSpace(event.Process.Name))
	if name == "" {
		return nil, nil
	}
	if _, ok := suspiciousProcessNames[name]; !ok {
		return nil, nil
	}
	return []models.DetectionResult{{
		RuleName:      "SUSPICIOUS_PROCESS_NAME",
		Severity:      models.SeverityHigh,
		RiskScore:     70,
		MatchedEvents: []*models.Event{event},
	}}, nil
}
