package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operators supported by stateless conditions.
const (
	opEquals    = "equals"
	opNotEquals = "not_equals"
	opContains  = "contains"
	opRegex     = "regex"
	opGT        = "gt"
	opLT        = "lt"
	opGTE       = "gte"
	opLTE       = "lte"
	opIn        = "in"
)

var validOperators = map[string]struct{}{
	opEquals: {}, opNotEquals: {}, opContains: {}, opRegex: {},
	opGT: {}, opLT: {}, opGTE: {}, opLTE: {}, opIn: {},
}

// predicate is one compiled field condition. A missing field or a
// failed numeric coercion evaluates to false, never to an error.
type predicate struct {
	field    string
	operator string
	value    interface{}
	regex    *regexp.Regexp
}

func compilePredicate(cond Condition) (predicate, error) {
	field := strings.TrimSpace(cond.Field)
	if field == "" {
		return predicate{}, fmt.Errorf("condition has no field")
	}
	if _, ok := validOperators[cond.Operator]; !ok {
		return predicate{}, fmt.Errorf("unknown operator %q", cond.Operator)
	}

	p := predicate{field: field, operator: cond.Operator, value: cond.Value}
	if cond.Operator == opRegex {
		re, err := regexp.Compile("(?i)" + stringify(cond.Value))
		if err != nil {
			return predicate{}, fmt.Errorf("bad regex: %w", err)
		}
		p.regex = re
	}
	return p, nil
}

func (p predicate) evaluate(view map[string]interface{}) bool {
	raw, ok := resolvePath(view, p.field)
	if !ok || raw == nil {
		return false
	}

	switch p.operator {
	case opEquals:
		return stringify(raw) == stringify(p.value)
	case opNotEquals:
		return stringify(raw) != stringify(p.value)
	case opContains:
		return strings.Contains(stringify(raw), stringify(p.value))
	case opRegex:
		return p.regex.MatchString(stringify(raw))
	case opGT, opLT, opGTE, opLTE:
		left, lok := toFloat(raw)
		right, rok := toFloat(p.value)
		if !lok || !rok {
			return false
		}
		switch p.operator {
		case opGT:
			return left > right
		case opLT:
			return left < right
		case opGTE:
			return left >= right
		default:
			return left <= right
		}
	case opIn:
		if list, ok := p.value.([]interface{}); ok {
			needle := stringify(raw)
			for _, item := range list {
				if needle == stringify(item) {
					return true
				}
			}
			return false
		}
		return strings.Contains(stringify(p.value), stringify(raw))
	}
	return false
}

// resolvePath walks a dot path through nested maps. Any missing key
// along the way resolves to not-found.
func resolvePath(view map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = view
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
