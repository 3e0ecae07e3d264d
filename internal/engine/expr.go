package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/mesadb/mesa/internal/storage"
)

func getVal(row Row, name string) (any, bool) { v, ok := row[strings.ToLower(name)]; return v, ok }
func putVal(row Row, key string, val any)     { row[strings.ToLower(key)] = val }
func isNull(v any) bool                       { return v == nil }

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return false
	}
}

// tri-state
const (
	tvFalse   = 0
	tvTrue    = 1
	tvUnknown = 2
)

func toTri(v any) int {
	if v == nil {
		return tvUnknown
	}
	if truthy(v) {
		return tvTrue
	}
	return tvFalse
}

func triNot(t int) int {
	if t == tvTrue {
		return tvFalse
	}
	if t == tvFalse {
		return tvTrue
	}
	return tvUnknown
}

func triAnd(a, b int) int {
	if a == tvFalse || b == tvFalse {
		return tvFalse
	}
	if a == tvTrue && b == tvTrue {
		return tvTrue
	}
	return tvUnknown
}

func triOr(a, b int) int {
	if a == tvTrue || b == tvTrue {
		return tvTrue
	}
	if a == tvFalse && b == tvFalse {
		return tvFalse
	}
	return tvUnknown
}

func triToValue(t int) any {
	switch t {
	case tvTrue:
		return true
	case tvFalse:
		return false
	default:
		return nil
	}
}

// compare orders two non-null values of compatible kinds. Mixing kinds that
// have no common order is a type mismatch, not a silent inequality.
func compare(a, b any) (int, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("cannot compare with null")
	}
	switch ax := a.(type) {
	case int:
		return compareNumeric(float64(ax), b)
	case int64:
		return compareNumeric(float64(ax), b)
	case float64:
		return compareNumeric(ax, b)
	case string:
		return compareString(ax, b)
	case bool:
		return compareBool(ax, b)
	case time.Time:
		return compareTime(ax, b)
	}
	return 0, fmt.Errorf("%w: incomparable %T and %T", ErrTypeMismatch, a, b)
}

func compareNumeric(af float64, b any) (int, error) {
	f, ok := numeric(b)
	if !ok {
		return 0, fmt.Errorf("%w: incomparable number and %T", ErrTypeMismatch, b)
	}
	if af < f {
		return -1, nil
	}
	if af > f {
		return 1, nil
	}
	return 0, nil
}

func compareString(ax string, b any) (int, error) {
	bs, ok := b.(string)
	if !ok {
		return 0, fmt.Errorf("%w: incomparable string and %T", ErrTypeMismatch, b)
	}
	if ax < bs {
		return -1, nil
	}
	if ax > bs {
		return 1, nil
	}
	return 0, nil
}

func compareBool(ax bool, b any) (int, error) {
	bb, ok := b.(bool)
	if !ok {
		return 0, fmt.Errorf("%w: incomparable bool and %T", ErrTypeMismatch, b)
	}
	if !ax && bb {
		return -1, nil
	}
	if ax && !bb {
		return 1, nil
	}
	return 0, nil
}

func compareTime(ax time.Time, b any) (int, error) {
	bt, ok := b.(time.Time)
	if !ok {
		return 0, fmt.Errorf("%w: incomparable time and %T", ErrTypeMismatch, b)
	}
	if ax.Before(bt) {
		return -1, nil
	}
	if ax.After(bt) {
		return 1, nil
	}
	return 0, nil
}

// compareForOrder is the sort comparator: nulls sort last ascending and
// first descending, and incomparable pairs collapse to equal so sorting
// never fails mid-swap.
func compareForOrder(a, b any, desc bool) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		if desc {
			return -1
		}
		return 1
	}
	if b == nil {
		if desc {
			return 1
		}
		return -1
	}
	c, err := compare(a, b)
	if err != nil {
		return 0
	}
	return c
}

func evalExpr(env ExecEnv, e Expr, row Row) (any, error) {
	switch ex := e.(type) {
	case *ColRef:
		return evalColRef(ex, row)
	case *Literal:
		return ex.Val, nil
	case *Unary:
		return evalUnary(env, ex, row)
	case *Binary:
		return evalBinary(env, ex, row)
	case *IsNull:
		return evalIsNull(env, ex, row)
	case *Membership:
		return evalMembership(env, ex, row)
	case *FuncCall:
		return evalFuncCall(env, ex, row)
	case nil:
		return nil, fmt.Errorf("nil expression")
	default:
		return nil, fmt.Errorf("unknown expression type %T", e)
	}
}

func evalColRef(ex *ColRef, row Row) (any, error) {
	v, ok := getVal(row, ex.Name)
	if !ok {
		return nil, fmt.Errorf("%w %q", storage.ErrUnknownColumn, ex.Name)
	}
	return v, nil
}

func evalIsNull(env ExecEnv, ex *IsNull, row Row) (any, error) {
	v, err := evalExpr(env, ex.Expr, row)
	if err != nil {
		return nil, err
	}
	if ex.Negate {
		return !isNull(v), nil
	}
	return isNull(v), nil
}

func evalUnary(env ExecEnv, ex *Unary, row Row) (any, error) {
	v, err := evalExpr(env, ex.Expr, row)
	if err != nil {
		return nil, err
	}
	switch ex.Op {
	case "+":
		if v == nil {
			return nil, nil
		}
		if f, ok := numeric(v); ok {
			return f, nil
		}
		return nil, fmt.Errorf("%w: unary + over %T", ErrTypeMismatch, v)
	case "-":
		if v == nil {
			return nil, nil
		}
		if f, ok := numeric(v); ok {
			return -f, nil
		}
		return nil, fmt.Errorf("%w: unary - over %T", ErrTypeMismatch, v)
	case "NOT":
		return triToValue(triNot(toTri(v))), nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", ex.Op)
}

func evalBinary(env ExecEnv, ex *Binary, row Row) (any, error) {
	if ex.Op == "AND" || ex.Op == "OR" {
		return evalLogicalBinary(env, ex, row)
	}
	lv, err := evalExpr(env, ex.Left, row)
	if err != nil {
		return nil, err
	}
	rv, err := evalExpr(env, ex.Right, row)
	if err != nil {
		return nil, err
	}
	switch ex.Op {
	case "+", "-", "*", "/":
		return evalArithmeticBinary(ex.Op, lv, rv)
	case "=", "<>", "<", "<=", ">", ">=":
		return evalComparisonBinary(ex.Op, lv, rv)
	}
	return nil, fmt.Errorf("unknown binary operator %q", ex.Op)
}

func evalLogicalBinary(env ExecEnv, ex *Binary, row Row) (any, error) {
	lv, err := evalExpr(env, ex.Left, row)
	if err != nil {
		return nil, err
	}
	rv, err := evalExpr(env, ex.Right, row)
	if err != nil {
		return nil, err
	}
	if ex.Op == "AND" {
		return triToValue(triAnd(toTri(lv), toTri(rv))), nil
	}
	return triToValue(triOr(toTri(lv), toTri(rv))), nil
}

func evalArithmeticBinary(op string, lv, rv any) (any, error) {
	if lv == nil || rv == nil {
		return nil, nil
	}
	lf, lok := numeric(lv)
	rf, rok := numeric(rv)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: %q over %T and %T", ErrTypeMismatch, op, lv, rv)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func evalComparisonBinary(op string, lv, rv any) (any, error) {
	if lv == nil || rv == nil {
		return nil, nil
	}
	c, err := compare(lv, rv)
	if err != nil {
		return nil, err
	}
	switch op {
	case "=":
		return c == 0, nil
	case "<>":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return nil, fmt.Errorf("unknown comparison operator %q", op)
}

// evalMembership implements SQL IN / NOT IN over a key set. A null candidate
// is unknown either way. A candidate that matches is true; one that misses a
// set containing a null is unknown, because the null member might have been
// equal. NOT negates through three-valued logic, so NOT IN over a null-
// bearing set never returns true for any row.
func evalMembership(env ExecEnv, ex *Membership, row Row) (any, error) {
	v, err := evalExpr(env, ex.Expr, row)
	if err != nil {
		return nil, err
	}
	var tri int
	switch {
	case v == nil:
		tri = tvUnknown
	case ex.Set.Contains(v):
		tri = tvTrue
	case ex.Set.HasNull():
		tri = tvUnknown
	default:
		tri = tvFalse
	}
	if ex.Negate {
		tri = triNot(tri)
	}
	return triToValue(tri), nil
}

func evalFuncCall(env ExecEnv, ex *FuncCall, row Row) (any, error) {
	name := strings.ToUpper(ex.Name)
	switch name {
	case "MONTH_LABEL", "MONTH_INDEX", "MONTH_NUM", "YEAR":
		return evalCalendarFunc(env, name, ex.Args, row)
	case "COALESCE":
		return evalCoalesce(env, ex.Args, row)
	case "ROUND":
		return evalRound(env, ex.Args, row)
	}
	return nil, fmt.Errorf("unknown function %q", ex.Name)
}

func evalCoalesce(env ExecEnv, args []Expr, row Row) (any, error) {
	for _, a := range args {
		v, err := evalExpr(env, a, row)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func evalRound(env ExecEnv, args []Expr, row Row) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("ROUND expects 1 or 2 args")
	}
	v, err := evalExpr(env, args[0], row)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	f, ok := numeric(v)
	if !ok {
		return nil, fmt.Errorf("%w: ROUND over %T", ErrTypeMismatch, v)
	}
	digits := 0
	if len(args) == 2 {
		dv, err := evalExpr(env, args[1], row)
		if err != nil {
			return nil, err
		}
		df, ok := numeric(dv)
		if !ok {
			return nil, fmt.Errorf("%w: ROUND digits must be numeric, got %T", ErrTypeMismatch, dv)
		}
		digits = int(df)
	}
	scale := 1.0
	for i := 0; i < digits; i++ {
		scale *= 10
	}
	rounded := float64(int64(f*scale+copysignHalf(f))) / scale
	return rounded, nil
}

func copysignHalf(f float64) float64 {
	if f < 0 {
		return -0.5
	}
	return 0.5
}
