package expr

import (
	"strings"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
)

// Predicate is a parsed where-expression ready to be applied to events.
type Predicate struct {
	src  string
	root Expr
}

// Compile parses s into a Predicate.
func Compile(s string) (*Predicate, error) {
	root, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &Predicate{src: strings.TrimSpace(s), root: root}, nil
}

// String returns the expression text.
func (p *Predicate) String() string { return p.src }

// Match reports whether ev satisfies the predicate.
func (p *Predicate) Match(ev event.Event) bool {
	return Evaluate(p.root, ev)
}

// Evaluate walks the AST against ev. A comparison on an attribute the event
// does not carry is false.
func Evaluate(e Expr, ev event.Event) bool {
	switch n := e.(type) {
	case *BinaryExpr:
		if n.Op == "AND" {
			return Evaluate(n.Left, ev) && Evaluate(n.Right, ev)
		}
		return Evaluate(n.Left, ev) || Evaluate(n.Right, ev)
	case *NotExpr:
		return !Evaluate(n.Expr, ev)
	case *ComparisonExpr:
		left, ok := resolve(n.Left, ev)
		if !ok {
			return false
		}
		right, ok := resolve(n.Right, ev)
		if !ok {
			return false
		}
		return compare(n, left, right)
	}
	return false
}

func resolve(op Operand, ev event.Event) (interface{}, bool) {
	switch o := op.(type) {
	case *LiteralOperand:
		return o.Value, true
	case *FieldOperand:
		switch o.Field {
		case "source":
			return ev.Source, true
		case "message":
			return ev.Message, true
		case "severity":
			return float64(ev.Severity), true
		case "attributes":
			v, ok := ev.Attributes[o.Key]
			if !ok {
				return nil, false
			}
			return v.Interface(), true
		}
	}
	return nil, false
}
