package expr

import (
	"fmt"
	"math"
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
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

func (op Operator) valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpMatches:
		return true
	}
	return false
}

// compare applies op to two resolved values. Operands of the wrong type
// make the comparison false rather than failing the query.
func compare(cmp *ComparisonExpr, left, right interface{}) bool {
	switch cmp.Op {
	case OpEq:
		return equal(left, right)
	case OpNeq:
		return !equal(left, right)
	case OpGt, OpGte, OpLt, OpLte:
		return numericCompare(cmp.Op, left, right)
	case OpContains:
		ls, ok := left.(string)
		return ok && strings.Contains(ls, fmt.Sprintf("%v", right))
	case OpMatches:
		ls, ok := left.(string)
		return ok && cmp.re != nil && cmp.re.MatchString(ls)
	}
	return false
}

// equal compares numbers by value, bools as bools and falls back to the
// string forms.
func equal(left, right interface{}) bool {
	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func numericCompare(op Operator, left, right interface{}) bool {
	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if !lok || !rok {
		return false
	}
	switch op {
	case OpGt:
		return lf > rf
	case OpGte:
		return lf >= rf
	case OpLt:
		return lf < rf
	case OpLte:
		return lf <= rf
	}
	return false
}
