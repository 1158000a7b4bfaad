package condition

import (
	"fmt"
	"strings"
)

// Env resolves field paths during evaluation.
type Env interface {
	Lookup(path []string) (any, bool)
}

// MapEnv is an Env over nested maps.
type MapEnv map[string]any

// Lookup walks path through nested map[string]any values.
func (m MapEnv) Lookup(path []string) (any, bool) {
	var cur any = map[string]any(m)
	for _, seg := range path {
		sub, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = sub[seg]; !ok {
			return nil, false
		}
	}
	return cur, len(path) > 0
}

// Rule is a compiled expression. The zero Rule and a Rule compiled from an
// empty string always match.
type Rule struct {
	src  string
	expr Expr
}

// Compile parses src into a Rule.
func Compile(src string) (Rule, error) {
	if strings.TrimSpace(src) == "" {
		return Rule{}, nil
	}
	expr, err := Parse(src)
	if err != nil {
		return Rule{}, fmt.Errorf("compile %q: %w", src, err)
	}
	return Rule{src: src, expr: expr}, nil
}

// String returns the source expression.
func (r Rule) String() string { return r.src }

// Match evaluates the rule against env.
func (r Rule) Match(env Env) (bool, error) {
	if r.expr == nil {
		return true, nil
	}
	return Evaluate(r.expr, env)
}

// Evaluate walks the AST and returns true/false or an error.
func Evaluate(expr Expr, env Env) (bool, error) {
	switch e := expr.(type) {
	case *LogicalExpr:
		left, err := Evaluate(e.Left, env)
		if err != nil {
			return false, err
		}
		// short-circuit
		if e.Op == "AND" && !left {
			return false, nil
		}
		if e.Op == "OR" && left {
			return true, nil
		}
		return Evaluate(e.Right, env)
	case *NotExpr:
		v, err := Evaluate(e.Expr, env)
		return !v, err
	case *ComparisonExpr:
		left, err := resolve(e.Left, env)
		if err != nil {
			return false, err
		}
		right, err := resolve(e.Right, env)
		if err != nil {
			return false, err
		}
		return compare(e.Op, left, right)
	case *BareExpr:
		v, err := resolve(e.Operand, env)
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		if !ok {
			return false, fmt.Errorf("operand of type %T used as a condition", v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("unknown expr type %T", expr)
	}
}

func resolve(op Operand, env Env) (any, error) {
	switch o := op.(type) {
	case *Literal:
		return o.Value, nil
	case *List:
		return o.Values, nil
	case *Field:
		v, ok := env.Lookup(o.Path)
		if !ok {
			return nil, fmt.Errorf("field %q not found", strings.Join(o.Path, "."))
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown operand type %T", op)
	}
}
