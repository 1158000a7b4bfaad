package condition

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Operator represents a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

// toFloat64 coerces a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compare applies a binary comparison operator to two resolved values.
func compare(op Operator, left, right any) (bool, error) {
	switch op {
	case OpEq:
		return equal(left, right), nil
	case OpNeq:
		return !equal(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		return ordered(op, left, right)
	case OpIn:
		items, ok := right.([]any)
		if !ok {
			return false, fmt.Errorf("in: right operand must be a list, got %T", right)
		}
		for _, item := range items {
			if equal(left, item) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		ls, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("contains: left operand must be a string, got %T", left)
		}
		return strings.Contains(ls, fmt.Sprint(right)), nil
	case OpMatches:
		ls, lok := left.(string)
		pattern, rok := right.(string)
		if !lok || !rok {
			return false, fmt.Errorf("matches: operands must be strings, got %T and %T", left, right)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
		}
		return re.MatchString(ls), nil
	default:
		return false, fmt.Errorf("unknown operator: %s", op)
	}
}

// equal compares numerics by value, bools strictly, everything else by string form.
func equal(left, right any) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	lb, lok := left.(bool)
	rb, rok := right.(bool)
	if lok || rok {
		return lok && rok && lb == rb
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

func ordered(op Operator, left, right any) (bool, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case OpGt:
		return lf > rf, nil
	case OpGte:
		return lf >= rf, nil
	case OpLt:
		return lf < rf, nil
	default:
		return lf <= rf, nil
	}
}
