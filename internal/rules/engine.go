package rules

import (
	"context"

	"nightwatch/internal/logger"
	"nightwatch/pkg/models"
)

// Engine applies the active rule set to events.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine over the given rules.
func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Len returns the number of active rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Evaluate runs every rule against the event. A rule evaluation error
// is logged and skipped; it never aborts the remaining rules.
func (e *Engine) Evaluate(ctx context.Context, event *models.Event, history EventHistory) []models.DetectionResult {
	if event == nil {
		return nil
	}
	var out []models.DetectionResult
	for _, rule := range e.rules {
		results, err := rule.Evaluate(ctx, event, history)
		if err != nil {
			logger.Warnf("Rule %s failed on %s: %v", rule.Name(), event, err)
			continue
		}
		out = append(out, results...)
	}
	return out
}
