package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nightwatch/pkg/models"
)

// EventHistory exposes the committed event history to stateful rules.
// The pipeline backs it with the transaction the triggering event was
// persisted in, so a window query observes exactly the durable events
// plus the trigger itself.
type EventHistory interface {
	EventsInWindow(ctx context.Context, endpointID string, eventType models.EventType, from, to time.Time) ([]*models.Event, error)
}

// Rule evaluates one event, optionally consulting history, and returns
// zero or more detection results. Evaluation is a pure function of the
// rule definition, the event, and the queryable history.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, event *models.Event, history EventHistory) ([]models.DetectionResult, error)
}

// Condition is a single field predicate in a rule definition.
type Condition struct {
	Field    string      `yaml:"field"`
	Operator string      `yaml:"operator"`
	Value    interface{} `yaml:"value"`
}

// Definition is the declarative rule format. A definition with a
// threshold and window is a stateful time-window aggregate; otherwise
// it is a stateless predicate rule over single events.
type Definition struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Severity    models.Severity `yaml:"severity"`
	RiskScore   int             `yaml:"risk_score"`
	Conditions  []Condition     `yaml:"conditions"`
	Match       string          `yaml:"match"`
	Action      string          `yaml:"action"`

	// Aggregate fields.
	EventType     models.EventType `yaml:"event_type"`
	Threshold     int              `yaml:"threshold"`
	WindowSeconds int              `yaml:"window_seconds"`
}

const (
	matchAll = "all"
	matchAny = "any"
)

// defaultRiskScores backfills a risk score when a definition omits one.
var defaultRiskScores = map[models.Severity]int{
	models.SeverityInfo:     10,
	models.SeverityLow:      25,
	models.SeverityMedium:   40,
	models.SeverityHigh:     60,
	models.SeverityCritical: 80,
}

// Compile validates a definition and returns a runnable rule. Unknown
// operators, bad regexes, missing fields and unknown enum values are
// load-time errors; the loader skips such definitions.
func Compile(def Definition) (Rule, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("rule has no name")
	}
	if def.Severity == "" {
		def.Severity = models.SeverityMedium
	}
	if !def.Severity.Valid() {
		return nil, fmt.Errorf("rule %s: unknown severity %q", def.Name, def.Severity)
	}
	if def.RiskScore <= 0 {
		def.RiskScore = defaultRiskScores[def.Severity]
	}
	if def.Match == "" {
		def.Match = matchAll
	}
	if def.Match != matchAll && def.Match != matchAny {
		return nil, fmt.Errorf("rule %s: unknown match mode %q", def.Name, def.Match)
	}

	if def.Threshold > 0 || def.WindowSeconds > 0 {
		return compileAggregate(def)
	}
	return compileStateless(def)
}

func compileStateless(def Definition) (Rule, error) {
	if len(def.Conditions) == 0 {
		return nil, fmt.Errorf("rule %s: no conditions", def.Name)
	}
	preds := make([]predicate, 0, len(def.Conditions))
	for i, cond := range def.Conditions {
		p, err := compilePredicate(cond)
		if err != nil {
			return nil, fmt.Errorf("rule %s condition %d: %w", def.Name, i+1, err)
		}
		preds = append(preds, p)
	}
	return &statelessRule{def: def, predicates: preds}, nil
}

func compileAggregate(def Definition) (Rule, error) {
	if def.Threshold <= 0 {
		return nil, fmt.Errorf("rule %s: aggregate threshold must be positive", def.Name)
	}
	if def.WindowSeconds <= 0 {
		return nil, fmt.Errorf("rule %s: aggregate window must be positive", def.Name)
	}
	if !def.EventType.Valid() {
		return nil, fmt.Errorf("rule %s: unknown aggregate event type %q", def.Name, def.EventType)
	}
	return &aggregateRule{def: def}, nil
}

// statelessRule matches a boolean combination of predicates against a
// single event.
type statelessRule struct {
	def        Definition
	predicates []predicate
}

func (r *statelessRule) Name() string { return r.def.Name }

func (r *statelessRule) Evaluate(_ context.Context, event *models.Event, _ EventHistory) ([]models.DetectionResult, error) {
	view := event.View()
	matched := r.def.Match == matchAll
	for _, p := range r.predicates {
		hit := p.evaluate(view)
		if r.def.Match == matchAll && !hit {
			matched = false
			break
		}
		if r.def.Match == matchAny && hit {
			matched = true
			break
		}
	}
	if !matched {
		return nil, nil
	}
	return []models.DetectionResult{{
		RuleName:      r.def.Name,
		Severity:      r.def.Severity,
		RiskScore:     r.def.RiskScore,
		MatchedEvents: []*models.Event{event},
	}}, nil
}

// aggregateRule counts same-type events for the trigger's endpoint in a
// sliding window ending at the trigger timestamp.
type aggregateRule struct {
	def Definition
}

func (r *aggregateRule) Name() string { return r.def.Name }

func (r *aggregateRule) Evaluate(ctx context.Context, event *models.Event, history EventHistory) ([]models.DetectionResult, error) {
	if event.Type != r.def.EventType {
		return nil, nil
	}
	if history == nil || event.Timestamp.IsZero() {
		return nil, nil
	}

	from := event.Timestamp.Add(-time.Duration(r.def.WindowSeconds) * time.Second)
	window, err := history.EventsInWindow(ctx, event.EndpointID, r.def.EventType, from, event.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("rule %s window query: %w", r.def.Name, err)
	}
	if len(window) < r.def.Threshold {
		return nil, nil
	}
	return []models.DetectionResult{{
		RuleName:      r.def.Name,
		Severity:      r.def.Severity,
		RiskScore:     r.def.RiskScore,
		MatchedEvents: window,
	}}, nil
}
