// Package formula evaluates restricted arithmetic over a rule's base variables.
//
// Expressions are parsed with the CEL parser and then walked by a decimal
// evaluator that accepts only numeric literals, the variables amount,
// base_reduction and rate, the four arithmetic operators and unary minus.
// Anything else (functions, fields, macros, strings) is rejected at compile time.
package formula

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/shopspring/decimal"
)

// Variable names available to a formula.
const (
	VarAmount        = "amount"
	VarBaseReduction = "base_reduction"
	VarRate          = "rate"
)

// DefaultMaxLength bounds expression source length.
const DefaultMaxLength = 256

// divisionPrecision is the number of fractional digits kept by division.
const divisionPrecision int32 = 16

var (
	ErrEmpty          = errors.New("formula is empty")
	ErrTooLong        = errors.New("formula is too long")
	ErrDivisionByZero = errors.New("division by zero")
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func celEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable(VarAmount, cel.DoubleType),
			cel.Variable(VarBaseReduction, cel.DoubleType),
			cel.Variable(VarRate, cel.DoubleType),
		)
	})
	return env, envErr
}

// Vars binds the formula variables.
type Vars struct {
	Amount        decimal.Decimal
	BaseReduction decimal.Decimal
	Rate          decimal.Decimal
}

func (v Vars) lookup(name string) (decimal.Decimal, bool) {
	switch name {
	case VarAmount:
		return v.Amount, true
	case VarBaseReduction:
		return v.BaseReduction, true
	case VarRate:
		return v.Rate, true
	}
	return decimal.Zero, false
}

// Expression is a compiled, validated formula.
type Expression struct {
	source string
	root   celast.Expr
}

// Source returns the original text.
func (e *Expression) Source() string {
	return e.source
}

// Compile parses src and checks that it only uses permitted constructs.
// maxLen <= 0 means DefaultMaxLength.
func Compile(src string, maxLen int) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrEmpty
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if len(src) > maxLen {
		return nil, fmt.Errorf("%w: %d > %d characters", ErrTooLong, len(src), maxLen)
	}

	e, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("formula environment: %w", err)
	}
	parsed, iss := e.Parse(src)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("parse formula: %w", iss.Err())
	}

	root := parsed.NativeRep().Expr()
	if err := check(root); err != nil {
		return nil, err
	}
	return &Expression{source: src, root: root}, nil
}

// Eval computes the expression with full decimal precision.
func (e *Expression) Eval(vars Vars) (decimal.Decimal, error) {
	return eval(e.root, vars)
}

func check(node celast.Expr) error {
	switch node.Kind() {
	case celast.LiteralKind:
		switch node.AsLiteral().(type) {
		case celtypes.Int, celtypes.Uint, celtypes.Double:
			return nil
		}
		return fmt.Errorf("only numeric literals are allowed, got %v", node.AsLiteral().Type())
	case celast.IdentKind:
		if _, ok := (Vars{}).lookup(node.AsIdent()); !ok {
			return fmt.Errorf("unknown variable %q (allowed: amount, base_reduction, rate)", node.AsIdent())
		}
		return nil
	case celast.CallKind:
		call := node.AsCall()
		if call.IsMemberFunction() {
			return fmt.Errorf("method calls are not allowed")
		}
		want := 2
		switch call.FunctionName() {
		case operators.Add, operators.Subtract, operators.Multiply, operators.Divide:
		case operators.Negate:
			want = 1
		default:
			return fmt.Errorf("operator or function %q is not allowed", displayName(call.FunctionName()))
		}
		if len(call.Args()) != want {
			return fmt.Errorf("operator %q expects %d operands", displayName(call.FunctionName()), want)
		}
		for _, arg := range call.Args() {
			if err := check(arg); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported expression construct")
	}
}

func eval(node celast.Expr, vars Vars) (decimal.Decimal, error) {
	switch node.Kind() {
	case celast.LiteralKind:
		switch lit := node.AsLiteral().(type) {
		case celtypes.Int:
			return decimal.NewFromInt(int64(lit)), nil
		case celtypes.Uint:
			return decimal.NewFromUint64(uint64(lit)), nil
		case celtypes.Double:
			return decimal.NewFromFloat(float64(lit)), nil
		}
	case celast.IdentKind:
		if v, ok := vars.lookup(node.AsIdent()); ok {
			return v, nil
		}
	case celast.CallKind:
		call := node.AsCall()
		args := call.Args()
		if call.FunctionName() == operators.Negate {
			v, err := eval(args[0], vars)
			if err != nil {
				return decimal.Zero, err
			}
			return v.Neg(), nil
		}

		left, err := eval(args[0], vars)
		if err != nil {
			return decimal.Zero, err
		}
		right, err := eval(args[1], vars)
		if err != nil {
			return decimal.Zero, err
		}
		switch call.FunctionName() {
		case operators.Add:
			return left.Add(right), nil
		case operators.Subtract:
			return left.Sub(right), nil
		case operators.Multiply:
			return left.Mul(right), nil
		case operators.Divide:
			if right.IsZero() {
				return decimal.Zero, ErrDivisionByZero
			}
			return left.DivRound(right, divisionPrecision), nil
		}
	}
	return decimal.Zero, fmt.Errorf("unsupported expression construct")
}

func displayName(fn string) string {
	return strings.Trim(fn, "_")
}
