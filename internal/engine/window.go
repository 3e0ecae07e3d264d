package engine

import (
	"fmt"
	"sort"
	"strings"
)

// applyWindow annotates every row with one window value, in place. Rows stay
// in pipeline order; only the annotation column is added. Partitions keep
// first-seen order, though nothing downstream depends on it.
func applyWindow(env ExecEnv, w WindowSpec, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	partitions, err := partitionRows(env, w.PartitionBy, rows)
	if err != nil {
		return err
	}
	for _, idxs := range partitions {
		if err := checkCtx(env.ctx); err != nil {
			return err
		}
		switch w.Mode {
		case WinMax:
			err = annotateMax(env, w, rows, idxs)
		case WinDenseRank:
			err = annotateDenseRank(env, w, rows, idxs)
		case WinLag:
			err = annotateLag(env, w, rows, idxs)
		default:
			err = fmt.Errorf("unknown window mode %d", w.Mode)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func partitionRows(env ExecEnv, exprs []Expr, rows []Row) ([][]int, error) {
	if len(exprs) == 0 {
		all := make([]int, len(rows))
		for i := range rows {
			all[i] = i
		}
		return [][]int{all}, nil
	}
	byKey := map[string][]int{}
	var order []string
	for i, r := range rows {
		if err := checkCtx(env.ctx); err != nil {
			return nil, err
		}
		parts := make([]string, len(exprs))
		for j, p := range exprs {
			v, err := evalExpr(env, p, r)
			if err != nil {
				return nil, err
			}
			parts[j] = fmtKeyPart(v)
		}
		key := strings.Join(parts, "\x1f")
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], i)
	}
	out := make([][]int, len(order))
	for i, k := range order {
		out[i] = byKey[k]
	}
	return out, nil
}

// sortedByOrder returns the partition's row indexes sorted by the window
// order, with the evaluated order keys aligned to the sorted positions.
func sortedByOrder(env ExecEnv, order []WindowOrder, rows []Row, idxs []int) ([]int, [][]any, error) {
	keys := make([][]any, len(idxs))
	for i, ri := range idxs {
		ks := make([]any, len(order))
		for j, o := range order {
			v, err := evalExpr(env, o.Expr, rows[ri])
			if err != nil {
				return nil, nil, err
			}
			ks[j] = v
		}
		keys[i] = ks
	}
	pos := make([]int, len(idxs))
	for i := range pos {
		pos[i] = i
	}
	sort.SliceStable(pos, func(a, b int) bool {
		ka, kb := keys[pos[a]], keys[pos[b]]
		for j, o := range order {
			cmp := compareForOrder(ka[j], kb[j], o.Desc)
			if cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	sortedIdx := make([]int, len(idxs))
	sortedKeys := make([][]any, len(idxs))
	for i, p := range pos {
		sortedIdx[i] = idxs[p]
		sortedKeys[i] = keys[p]
	}
	return sortedIdx, sortedKeys, nil
}

// annotateDenseRank walks the ordered partition and assigns ranks: rows
// whose order keys compare equal share a rank, and the next distinct key
// increments the rank by exactly one. A later rank == 1 filter therefore
// keeps every row tied for the top.
func annotateDenseRank(env ExecEnv, w WindowSpec, rows []Row, idxs []int) error {
	sortedIdx, keys, err := sortedByOrder(env, w.OrderBy, rows, idxs)
	if err != nil {
		return err
	}
	rank := int64(0)
	for pos, ri := range sortedIdx {
		if pos == 0 || !orderKeysEqual(keys[pos-1], keys[pos]) {
			rank++
		}
		putVal(rows[ri], w.As, rank)
	}
	return nil
}

func orderKeysEqual(a, b []any) bool {
	for j := range a {
		if compareForOrder(a[j], b[j], false) != 0 {
			return false
		}
	}
	return true
}

// annotateMax broadcasts the partition's maximum of the value expression
// onto every row. Null values do not participate; an all-null partition
// broadcasts null.
func annotateMax(env ExecEnv, w WindowSpec, rows []Row, idxs []int) error {
	var have bool
	var best any
	for _, ri := range idxs {
		v, err := evalExpr(env, w.Value, rows[ri])
		if err != nil {
			return err
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
			return fmt.Errorf("%s: %w", w.Mode, err)
		}
		if cmp > 0 {
			best = v
		}
	}
	if !have {
		best = nil
	}
	for _, ri := range idxs {
		putVal(rows[ri], w.As, best)
	}
	return nil
}

// annotateLag carries the value expression from the row Offset positions
// earlier in the declared order. Rows with no predecessor at that distance
// get null.
func annotateLag(env ExecEnv, w WindowSpec, rows []Row, idxs []int) error {
	sortedIdx, _, err := sortedByOrder(env, w.OrderBy, rows, idxs)
	if err != nil {
		return err
	}
	offset := w.Offset
	if offset == 0 {
		offset = 1
	}
	vals := make([]any, len(sortedIdx))
	for pos, ri := range sortedIdx {
		v, err := evalExpr(env, w.Value, rows[ri])
		if err != nil {
			return err
		}
		vals[pos] = v
	}
	for pos, ri := range sortedIdx {
		target := pos - offset
		if target < 0 {
			putVal(rows[ri], w.As, nil)
			continue
		}
		putVal(rows[ri], w.As, vals[target])
	}
	return nil
}
