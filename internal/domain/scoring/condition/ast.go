// Package condition parses and evaluates the boolean guard language used by
// scoring rules, e.g. `player.count.GOAL >= 2 AND event.minute > 80`.
package condition

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Expr is a parsed condition node.
type Expr interface {
	exprNode()
}

// BinaryExpr is AND / OR.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// NotExpr negates its operand.
type NotExpr struct {
	Expr Expr
}

func (*NotExpr) exprNode() {}

// ComparisonExpr is <operand> <operator> <operand>.
type ComparisonExpr struct {
	Left  Operand
	Op    Operator
	Right Operand
	re    *regexp.Regexp
}

func (*ComparisonExpr) exprNode() {}

// Operand is a literal or a field path.
type Operand interface {
	operandNode()
}

// Literal holds a constant: string, bool or decimal.Decimal.
type Literal struct {
	Value any
}

func (*Literal) operandNode() {}

// Field holds a dotted path such as player.count.GOAL.
type Field struct {
	Path []string
}

func (*Field) operandNode() {}

// String returns the dotted path.
func (f *Field) String() string { return strings.Join(f.Path, ".") }

// Fields lists every field path referenced by expr, in source order.
func Fields(expr Expr) []string {
	var out []string
	var walk func(Expr)
	addOperand := func(o Operand) {
		if f, ok := o.(*Field); ok {
			out = append(out, f.String())
		}
	}
	walk = func(e Expr) {
		switch n := e.(type) {
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *NotExpr:
			walk(n.Expr)
		case *ComparisonExpr:
			addOperand(n.Left)
			addOperand(n.Right)
		}
	}
	walk(expr)
	return out
}

func decimalLiteral(s string) (*Literal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &Literal{Value: d}, nil
}
