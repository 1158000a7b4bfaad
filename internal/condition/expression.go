// Package condition compiles small boolean rule expressions such as
//
//	prereq.rank != "entry" AND dependent.tier >= 1
//
// into an AST once, so evaluation never re-parses.
package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// -----------------------------------------------------------------------
// AST nodes
// -----------------------------------------------------------------------

// Expr is the common interface for all AST nodes.
type Expr interface {
	exprNode()
}

// LogicalExpr joins two expressions with AND / OR.
type LogicalExpr struct {
	Op    string // "AND" | "OR"
	Left  Expr
	Right Expr
}

// NotExpr negates an expression.
type NotExpr struct {
	Expr Expr
}

// ComparisonExpr is <operand> <operator> <operand>.
type ComparisonExpr struct {
	Left  Operand
	Op    Operator
	Right Operand
}

// BareExpr is a single operand used as a truth value, e.g. "dependent.selected".
type BareExpr struct {
	Operand Operand
}

func (*LogicalExpr) exprNode()    {}
func (*NotExpr) exprNode()        {}
func (*ComparisonExpr) exprNode() {}
func (*BareExpr) exprNode()       {}

// Operand is a literal, a list of literals, or a field path.
type Operand interface {
	operandNode()
}

// Literal holds a constant: string, float64 or bool.
type Literal struct {
	Value any
}

// List holds a bracketed literal list, the right side of "in".
type List struct {
	Values []any
}

// Field is a dot-separated path like "prereq.rank".
type Field struct {
	Path []string
}

func (*Literal) operandNode() {}
func (*List) operandNode()    {}
func (*Field) operandNode()   {}

// -----------------------------------------------------------------------
// Lexer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func lex(src string) ([]token, error) {
	var out []token
	for i := 0; i < len(src); {
		ch := rune(src[i])
		switch {
		case unicode.IsSpace(ch):
			i++
		case strings.ContainsRune("()[],", ch):
			kind := map[rune]tokenKind{'(': tokLParen, ')': tokRParen, '[': tokLBracket, ']': tokRBracket, ',': tokComma}[ch]
			out = append(out, token{kind, string(ch), i})
			i++
		case strings.ContainsRune("=!<>", ch):
			if i+1 < len(src) && src[i+1] == '=' {
				out = append(out, token{tokOp, src[i : i+2], i})
				i += 2
				continue
			}
			if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
			}
			out = append(out, token{tokOp, string(ch), i})
			i++
		case ch == '"' || ch == '\'':
			var sb strings.Builder
			j := i + 1
			for ; j < len(src) && rune(src[j]) != ch; j++ {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string at position %d", i)
			}
			out = append(out, token{tokString, sb.String(), i})
			i = j + 1
		case unicode.IsDigit(ch) || (ch == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			out = append(out, token{tokNumber, src[i:j], i})
			i = j
		case unicode.IsLetter(ch) || ch == '_':
			j := i + 1
			for j < len(src) {
				c := rune(src[j])
				if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' && c != '.' {
					break
				}
				j++
			}
			out = append(out, token{tokIdent, src[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	return append(out, token{tokEOF, "", len(src)}), nil
}

// -----------------------------------------------------------------------
// Parser
// -----------------------------------------------------------------------

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.val, kw)
}

// Parse parses an expression string into an AST.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", t.val, t.pos)
	}
	return e, nil
}

// or = and { "OR" and }
func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// and = unary { "AND" unary }
func (p *parser) and() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

// unary = "NOT" unary | "(" or ")" | comparison
func (p *parser) unary() (Expr, error) {
	if p.keyword("NOT") {
		p.next()
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected \")\" at position %d, got %q", t.pos, t.val)
		}
		return inner, nil
	}
	return p.comparison()
}

// comparison = operand [ operator operand ]
func (p *parser) comparison() (Expr, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	var op Operator
	switch t := p.peek(); {
	case t.kind == tokOp:
		op = Operator(t.val)
	case t.kind == tokIdent && strings.EqualFold(t.val, "in"):
		op = OpIn
	case t.kind == tokIdent && strings.EqualFold(t.val, "contains"):
		op = OpContains
	case t.kind == tokIdent && strings.EqualFold(t.val, "matches"):
		op = OpMatches
	default:
		return &BareExpr{Operand: left}, nil
	}
	p.next()
	right, err := p.operand()
	if err != nil {
		return nil, err
	}
	if _, isList := right.(*List); isList != (op == OpIn) {
		return nil, fmt.Errorf("operator %s and list operand mismatch", op)
	}
	return &ComparisonExpr{Left: left, Op: op, Right: right}, nil
}

// operand = literal | field | "[" literal { "," literal } "]"
func (p *parser) operand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokString, tokNumber:
		v, err := literalValue(t)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: v}, nil
	case tokIdent:
		switch strings.ToLower(t.val) {
		case "true":
			return &Literal{Value: true}, nil
		case "false":
			return &Literal{Value: false}, nil
		case "and", "or", "not", "in", "contains", "matches":
			return nil, fmt.Errorf("expected operand at position %d, got keyword %q", t.pos, t.val)
		}
		return &Field{Path: strings.Split(t.val, ".")}, nil
	case tokLBracket:
		list := &List{}
		for p.peek().kind != tokRBracket {
			item := p.next()
			v, err := literalValue(item)
			if err != nil {
				return nil, err
			}
			list.Values = append(list.Values, v)
			if p.peek().kind == tokComma {
				p.next()
			}
		}
		p.next()
		return list, nil
	default:
		return nil, fmt.Errorf("expected operand at position %d, got %q", t.pos, t.val)
	}
}

func literalValue(t token) (any, error) {
	switch t.kind {
	case tokString:
		return t.val, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.val)
		}
		return f, nil
	case tokIdent:
		switch strings.ToLower(t.val) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, fmt.Errorf("expected literal at position %d, got %q", t.pos, t.val)
}
