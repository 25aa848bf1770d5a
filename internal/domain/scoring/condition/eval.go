package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Operator is a comparison operator.
type Operator string

// Supported operators.
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

// ErrUnknownField is returned when a path cannot be resolved.
var ErrUnknownField = errors.New("unknown field")

// Resolver supplies values for field paths. Numeric values must be
// returned as decimal.Decimal or an integer type.
type Resolver interface {
	Resolve(path []string) (any, bool)
}

// Evaluate walks expr against r. Evaluation has no side effects.
func Evaluate(expr Expr, r Resolver) (bool, error) {
	switch e := expr.(type) {
	case *BinaryExpr:
		left, err := Evaluate(e.Left, r)
		if err != nil {
			return false, err
		}
		if e.Op == "AND" && !left {
			return false, nil
		}
		if e.Op == "OR" && left {
			return true, nil
		}
		return Evaluate(e.Right, r)
	case *NotExpr:
		v, err := Evaluate(e.Expr, r)
		return !v, err
	case *ComparisonExpr:
		return evalComparison(e, r)
	default:
		return false, fmt.Errorf("unknown expression %T", expr)
	}
}

func evalComparison(e *ComparisonExpr, r Resolver) (bool, error) {
	left, err := operandValue(e.Left, r)
	if err != nil {
		return false, err
	}
	right, err := operandValue(e.Right, r)
	if err != nil {
		return false, err
	}
	switch e.Op {
	case OpEq:
		return equal(left, right), nil
	case OpNeq:
		return !equal(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		ld, lok := Number(left)
		rd, rok := Number(right)
		if !lok || !rok {
			return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", e.Op, left, right)
		}
		c := ld.Cmp(rd)
		switch e.Op {
		case OpGt:
			return c > 0, nil
		case OpGte:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case OpContains:
		s, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("contains: left operand must be a string, got %T", left)
		}
		return strings.Contains(s, fmt.Sprint(right)), nil
	case OpMatches:
		s, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("matches: left operand must be a string, got %T", left)
		}
		return e.re.MatchString(s), nil
	default:
		return false, fmt.Errorf("unknown operator %s", e.Op)
	}
}

func operandValue(o Operand, r Resolver) (any, error) {
	switch v := o.(type) {
	case *Literal:
		return v.Value, nil
	case *Field:
		val, ok := r.Resolve(v.Path)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, v.String())
		}
		return val, nil
	default:
		return nil, fmt.Errorf("unknown operand %T", o)
	}
}

// Number coerces integers, decimals and numeric strings to a decimal.
func Number(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case int32:
		return decimal.NewFromInt32(n), true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}

// equal compares numerically when both sides are numbers (numeric strings
// from event metadata included), otherwise by exact value.
func equal(left, right any) bool {
	_, lstr := left.(string)
	_, rstr := right.(string)
	if !(lstr && rstr) {
		if ld, ok := Number(left); ok {
			if rd, ok := Number(right); ok {
				return ld.Equal(rd)
			}
		}
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}
