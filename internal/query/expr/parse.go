// Package expr implements the where-expression language used to filter
// events on their attributes:
//
//	attributes.region == "eu" AND (attributes.retries > 3 OR severity >= "error")
//
// Operators are == != > >= < <= contains matches, combined with AND, OR,
// NOT and parentheses. Paths are source, severity, message and
// attributes.<key>.
package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
)

// -----------------------------------------------------------------------
// AST nodes
// -----------------------------------------------------------------------

// Expr is the common interface for all AST nodes.
type Expr interface {
	exprNode()
}

// BinaryExpr represents AND / OR.
type BinaryExpr struct {
	Op    string // "AND" | "OR"
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// NotExpr represents NOT <expr>.
type NotExpr struct {
	Expr Expr
}

func (*NotExpr) exprNode() {}

// ComparisonExpr represents <operand> <operator> <operand>.
type ComparisonExpr struct {
	Left  Operand
	Op    Operator
	Right Operand

	re *regexp.Regexp // compiled pattern for matches
}

func (*ComparisonExpr) exprNode() {}

// Operand is either a literal value or an event field.
type Operand interface {
	operandNode()
}

// LiteralOperand holds a string, float64 or bool constant.
type LiteralOperand struct {
	Value interface{}
}

func (*LiteralOperand) operandNode() {}

// FieldOperand names an event field. Key is set for attributes.<key>.
type FieldOperand struct {
	Field string // "source" | "severity" | "message" | "attributes"
	Key   string
}

func (*FieldOperand) operandNode() {}

func (f *FieldOperand) String() string {
	if f.Field == "attributes" {
		return "attributes." + f.Key
	}
	return f.Field
}

// -----------------------------------------------------------------------
// Tokenizer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokWord   tokenKind = iota // identifier or keyword
	tokOp                      // ==, !=, >=, <=, >, <
	tokString                  // "…" or '…'
	tokNumber                  // 42 | -3.5 | 1e3
	tokBool                    // true | false
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func isNumberStart(s string, i int) bool {
	if unicode.IsDigit(rune(s[i])) {
		return true
	}
	return s[i] == '-' && i+1 < len(s) && unicode.IsDigit(rune(s[i+1]))
}

func tokenize(s string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(s) {
		ch := s[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			if i+1 < len(s) && s[i+1] == '=' {
				tokens = append(tokens, token{tokOp, s[i : i+2], i})
				i += 2
			} else {
				tokens = append(tokens, token{tokOp, string(ch), i})
				i++
			}
		case ch == '"' || ch == '\'':
			quote := ch
			var b strings.Builder
			j := i + 1
			for j < len(s) && s[j] != quote {
				if s[j] == '\\' && j+1 < len(s) {
					j++
				}
				b.WriteByte(s[j])
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			tokens = append(tokens, token{tokString, b.String(), i})
			i = j + 1
		case isNumberStart(s, i):
			j := i + 1
			for j < len(s) && (unicode.IsDigit(rune(s[j])) || strings.IndexByte(".eE+-", s[j]) >= 0) {
				if (s[j] == '+' || s[j] == '-') && s[j-1] != 'e' && s[j-1] != 'E' {
					break
				}
				j++
			}
			tokens = append(tokens, token{tokNumber, s[i:j], i})
			i = j
		case unicode.IsLetter(rune(ch)) || ch == '_':
			j := i
			for j < len(s) && (unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j])) || strings.IndexByte("_.-", s[j]) >= 0) {
				j++
			}
			word := s[i:j]
			switch strings.ToLower(word) {
			case "true", "false":
				tokens = append(tokens, token{tokBool, strings.ToLower(word), i})
			default:
				tokens = append(tokens, token{tokWord, word, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(s)})
	return tokens, nil
}

// -----------------------------------------------------------------------
// Recursive-descent parser
// -----------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.EqualFold(t.val, kw)
}

// Parse parses and checks an expression. Field paths, severity names and
// regular expressions are all validated here so evaluation cannot fail.
func Parse(s string) (Expr, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", t.val, t.pos)
	}
	return node, nil
}

// or_expr = and_expr ( "OR" and_expr )*
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.consume()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// and_expr = not_expr ( "AND" not_expr )*
func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.consume()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

// not_expr = "NOT" not_expr | "(" or_expr ")" | comparison
func (p *parser) parseNot() (Expr, error) {
	if p.keyword("NOT") {
		p.consume()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	if p.peek().kind == tokLParen {
		open := p.consume()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing ')' for '(' at position %d", open.pos)
		}
		p.consume()
		return inner, nil
	}
	return p.parseComparison()
}

// comparison = operand operator operand
func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	var op Operator
	switch {
	case t.kind == tokOp:
		op = Operator(t.val)
	case p.keyword("contains"):
		op = OpContains
	case p.keyword("matches"):
		op = OpMatches
	default:
		return nil, fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.val)
	}
	if !op.valid() {
		return nil, fmt.Errorf("unknown operator %q at position %d", t.val, t.pos)
	}
	p.consume()

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	cmp := &ComparisonExpr{Left: left, Op: op, Right: right}
	if err := check(cmp); err != nil {
		return nil, err
	}
	return cmp, nil
}

// operand = field_path | literal
func (p *parser) parseOperand() (Operand, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.consume()
		return &LiteralOperand{Value: t.val}, nil
	case tokNumber:
		p.consume()
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.val, t.pos)
		}
		return &LiteralOperand{Value: f}, nil
	case tokBool:
		p.consume()
		return &LiteralOperand{Value: t.val == "true"}, nil
	case tokWord:
		p.consume()
		return parseField(t)
	default:
		if t.kind == tokEOF {
			return nil, fmt.Errorf("unexpected end of expression")
		}
		return nil, fmt.Errorf("expected operand at position %d, got %q", t.pos, t.val)
	}
}

func parseField(t token) (*FieldOperand, error) {
	switch t.val {
	case "source", "severity", "message":
		return &FieldOperand{Field: t.val}, nil
	}
	if key, ok := strings.CutPrefix(t.val, "attributes."); ok && key != "" {
		return &FieldOperand{Field: "attributes", Key: key}, nil
	}
	return nil, fmt.Errorf("unknown field %q at position %d (want source, severity, message or attributes.<key>)", t.val, t.pos)
}

// check rewrites severity literals to their rank and compiles patterns.
func check(cmp *ComparisonExpr) error {
	for _, pair := range [][2]Operand{{cmp.Left, cmp.Right}, {cmp.Right, cmp.Left}} {
		f, ok := pair[0].(*FieldOperand)
		if !ok || f.Field != "severity" {
			continue
		}
		lit, ok := pair[1].(*LiteralOperand)
		if !ok {
			continue
		}
		if name, ok := lit.Value.(string); ok {
			sev, err := event.ParseSeverity(name)
			if err != nil {
				return err
			}
			lit.Value = float64(sev)
		}
	}

	if cmp.Op == OpMatches {
		lit, ok := cmp.Right.(*LiteralOperand)
		if !ok {
			return fmt.Errorf("matches: pattern must be a string literal")
		}
		pattern, ok := lit.Value.(string)
		if !ok {
			return fmt.Errorf("matches: pattern must be a string literal, got %v", lit.Value)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
		}
		cmp.re = re
	}
	return nil
}
