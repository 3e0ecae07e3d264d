package engine

import (
	"fmt"
)

// evalAgg computes one aggregate over the rows of a group. Null arguments
// never contribute: COUNT skips them, COUNT DISTINCT deduplicates the rest,
// and the numeric aggregates ignore them entirely. A group with no
// contributing values yields nil for SUM, AVG, MIN, and MAX, never zero;
// COUNT yields 0. A non-null, non-numeric argument under SUM or AVG is a
// type mismatch and fails the whole query.
func evalAgg(env ExecEnv, a AggSpec, rows []Row) (any, error) {
	switch a.Fn {
	case AggCount:
		return evalAggCount(env, a, rows)
	case AggCountDistinct:
		return evalAggCountDistinct(env, a, rows)
	case AggSum, AggAvg:
		return evalAggSumAvg(env, a, rows)
	case AggMin, AggMax:
		return evalAggMinMax(env, a, rows)
	default:
		return nil, fmt.Errorf("unknown aggregate %d", a.Fn)
	}
}

func evalAggCount(env ExecEnv, a AggSpec, rows []Row) (any, error) {
	if a.Arg == nil {
		return int64(len(rows)), nil
	}
	var cnt int64
	for _, r := range rows {
		if err := checkCtx(env.ctx); err != nil {
			return nil, err
		}
		v, err := evalExpr(env, a.Arg, r)
		if err != nil {
			return nil, err
		}
		if v != nil {
			cnt++
		}
	}
	return cnt, nil
}

func evalAggCountDistinct(env ExecEnv, a AggSpec, rows []Row) (any, error) {
	seen := map[string]bool{}
	for _, r := range rows {
		if err := checkCtx(env.ctx); err != nil {
			return nil, err
		}
		v, err := evalExpr(env, a.Arg, r)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		seen[fmtKeyPart(v)] = true
	}
	return int64(len(seen)), nil
}

func evalAggSumAvg(env ExecEnv, a AggSpec, rows []Row) (any, error) {
	sum := 0.0
	n := 0
	for _, r := range rows {
		if err := checkCtx(env.ctx); err != nil {
			return nil, err
		}
		v, err := evalExpr(env, a.Arg, r)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		f, ok := numeric(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s over %T value", ErrTypeMismatch, a.Fn, v)
		}
		sum += f
		n++
	}
	if n == 0 {
		return nil, nil
	}
	if a.Fn == AggSum {
		return sum, nil
	}
	return sum / float64(n), nil
}

func evalAggMinMax(env ExecEnv, a AggSpec, rows []Row) (any, error) {
	var have bool
	var best any
	for _, r := range rows {
		if err := checkCtx(env.ctx); err != nil {
			return nil, err
		}
		v, err := evalExpr(env, a.Arg, r)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if !have {
			best = v
			have = true
			continue
		}
		cmp, err := compare(v, best)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Fn, err)
		}
		if a.Fn == AggMin && cmp < 0 {
			best = v
		}
		if a.Fn == AggMax && cmp > 0 {
			best = v
		}
	}
	if !have {
		return nil, nil
	}
	return best, nil
}
