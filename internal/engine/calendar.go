package engine

import (
	"fmt"
	"time"
)

// Calendar extractors. The label form ("January") reads well in report
// output but sorts alphabetically; the index form (year*12 + month) sorts
// chronologically. A query can group by the label while ordering by the
// index; sorting on the label itself is the classic April-before-January
// mistake.

func evalCalendarFunc(env ExecEnv, name string, args []Expr, row Row) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s expects 1 arg", name)
	}
	v, err := evalExpr(env, args[0], row)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%w: %s over %T value", ErrTypeMismatch, name, v)
	}
	switch name {
	case "MONTH_LABEL":
		return t.Month().String(), nil
	case "MONTH_INDEX":
		return int64(t.Year()*12 + int(t.Month()) - 1), nil
	case "MONTH_NUM":
		return int64(t.Month()), nil
	case "YEAR":
		return int64(t.Year()), nil
	}
	return nil, fmt.Errorf("unknown calendar function %q", name)
}
