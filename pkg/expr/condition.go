package expr

import (
	"regexp"
	"strings"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

// EvaluateGroup applies a condition group against the scope. An empty group
// is vacuously true. Unresolvable fields do not error: they evaluate as null,
// which fails every comparison except is_empty, so triggers and guards treat
// a missing field as a non-match rather than a fault.
func EvaluateGroup(group *models.ConditionGroup, scope Scope) bool {
	if group == nil || len(group.Conditions) == 0 {
		return true
	}
	logic := group.Logic
	if logic == "" {
		logic = models.AndLogic
	}
	for _, cond := range group.Conditions {
		ok := evaluateCondition(cond, scope)
		if logic == models.AndLogic && !ok {
			return false
		}
		if logic == models.OrLogic && ok {
			return true
		}
	}
	return logic == models.AndLogic
}

func evaluateCondition(cond models.Condition, scope Scope) bool {
	actual := resolveField(cond.Field, scope)
	expected := normalize(cond.Value)

	switch cond.Operator {
	case models.OpEq:
		return looseEqual(actual, expected)
	case models.OpNe:
		return !looseEqual(actual, expected)
	case models.OpGt, models.OpGe, models.OpLt, models.OpLe:
		return orderedCompare(cond.Operator, actual, expected)
	case models.OpContains:
		return contains(actual, expected)
	case models.OpNotContains:
		return !contains(actual, expected)
	case models.OpStartsWith:
		a, aok := actual.(string)
		b, bok := expected.(string)
		return aok && bok && strings.HasPrefix(a, b)
	case models.OpEndsWith:
		a, aok := actual.(string)
		b, bok := expected.(string)
		return aok && bok && strings.HasSuffix(a, b)
	case models.OpIsEmpty:
		return isEmpty(actual)
	case models.OpIsNotEmpty:
		return !isEmpty(actual)
	case models.OpInList:
		return inList(actual, expected)
	case models.OpNotInList:
		return !inList(actual, expected)
	case models.OpMatchesRx:
		a, aok := actual.(string)
		pattern, bok := expected.(string)
		if !aok || !bok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(a)
	}
	return false
}

// resolveField walks a dotted path ("entity.amount") through nested maps,
// starting from the scope and falling through the reserved roots.
func resolveField(field string, scope Scope) any {
	parts := strings.Split(field, ".")
	ev := &evaluator{src: field, scope: scope}
	current, err := ev.lookup(parts[0])
	if err != nil {
		return nil
	}
	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return normalize(current)
}

// normalize folds numeric types to the evaluator's int64/float64 pair so
// comparisons behave the same regardless of how the payload was decoded.
func normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	}
	return v
}

func looseEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return a == b
}

func orderedCompare(op models.ConditionOperator, a, b any) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch op {
			case models.OpGt:
				return as > bs
			case models.OpGe:
				return as >= bs
			case models.OpLt:
				return as < bs
			case models.OpLe:
				return as <= bs
			}
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case models.OpGt:
		return af > bf
	case models.OpGe:
		return af >= bf
	case models.OpLt:
		return af < bf
	case models.OpLe:
		return af <= bf
	}
	return false
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if looseEqual(normalize(item), needle) {
				return true
			}
		}
	case map[string]any:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		_, found := h[n]
		return found
	}
	return false
}

func inList(value, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if looseEqual(value, normalize(item)) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
