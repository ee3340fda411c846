package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"nightwatch/pkg/models"
)

// SigmaLoadStats tracks Sigma rule loading outcomes.
type SigmaLoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedComplex int
	SkippedInvalid int
}

// sigmaSeverities maps Sigma levels onto the alert severity scale.
var sigmaSeverities = map[string]models.Severity{
	"informational": models.SeverityInfo,
	"low":           models.SeverityLow,
	"medium":        models.SeverityMedium,
	"high":          models.SeverityHigh,
	"critical":      models.SeverityCritical,
}

// LoadSigmaDir loads single-event Sigma rules from a directory and
// wraps them as stateless rules. Rules needing timeframes, aggregations
// or keyword searches are skipped and counted; this adapter only covers
// per-event matching.
func LoadSigmaDir(dir string) ([]Rule, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	resolved, err := filepath.Abs(dir)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve sigma dir: %w", err)
	}
	if _, err := os.Stat(resolved); err != nil {
		return nil, stats, fmt.Errorf("stat sigma dir: %w", err)
	}

	var files []string
	err = filepath.WalkDir(resolved, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		if isYAMLFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk sigma dir: %w", err)
	}

	stats.TotalFiles = len(files)
	loaded := make([]Rule, 0, len(files))
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		if !isSimpleSigmaRule(rule) {
			stats.SkippedComplex++
			continue
		}
		loaded = append(loaded, &sigmaRule{
			name:      sigmaRuleName(rule),
			severity:  sigmaSeverity(rule.Level),
			riskScore: defaultRiskScores[sigmaSeverity(rule.Level)],
			eval:      sigmaevaluator.ForRule(rule),
		})
		stats.Loaded++
	}
	return loaded, stats, nil
}

// sigmaRule adapts one compiled Sigma evaluator to the Rule interface.
type sigmaRule struct {
	name      string
	severity  models.Severity
	riskScore int
	eval      *sigmaevaluator.RuleEvaluator
}

func (r *sigmaRule) Name() string { return r.name }

func (r *sigmaRule) Evaluate(ctx context.Context, event *models.Event, _ EventHistory) ([]models.DetectionResult, error) {
	res, err := r.eval.Matches(ctx, event.FlatView())
	if err != nil {
		return nil, fmt.Errorf("sigma match: %w", err)
	}
	if !res.Match {
		return nil, nil
	}
	return []models.DetectionResult{{
		RuleName:      r.name,
		Severity:      r.severity,
		RiskScore:     r.riskScore,
		MatchedEvents: []*models.Event{event},
	}}, nil
}

func sigmaRuleName(rule sigma.Rule) string {
	if name := strings.TrimSpace(rule.Title); name != "" {
		return name
	}
	return strings.TrimSpace(rule.ID)
}

func sigmaSeverity(level string) models.Severity {
	if sev, ok := sigmaSeverities[strings.ToLower(strings.TrimSpace(level))]; ok {
		return sev
	}
	return models.SeverityMedium
}

func isSimpleSigmaRule(rule sigma.Rule) bool {
	if rule.Detection.Timeframe > 0 {
		return false
	}
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false
		}
	}
	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return false
		}
		if len(search.EventMatchers) == 0 {
			return false
		}
	}
	return true
}
