// Package engine evaluates analytical query plans for mesa.
//
// What: A pure, synchronous pipeline over in-memory tables: scan, key-based
// joins (inner/left), three-valued filters, group-by aggregation, window
// annotations (dense rank, partition max, lag), projection, ordering, and
// limits. Plans are plain structs; there is no query text anywhere.
// How: Rows travel as maps keyed by lower-cased qualified and bare column
// names, so expressions can address either form. Grouping and join keys are
// normalized into type-prefixed strings; partitions and groups preserve
// first-seen order. Null is Go nil and propagates through arithmetic,
// comparisons, and membership per three-valued logic.
// Why: The analytics this engine reproduces hinge on exactly the semantics
// SQL makes easy to get wrong by accident: ties under ranking, nulls under
// NOT IN, and label-versus-chronological month ordering. Making each stage
// an explicit typed step keeps those semantics visible and testable.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mesadb/mesa/internal/storage"
)

// Row is one evaluated row; keys are lower-cased column names, both
// alias-qualified and bare.
type Row map[string]any

// ResultSet is an ordered sequence of result rows with named columns.
type ResultSet struct {
	Cols []string
	Rows []Row
}

// ColumnValues returns one column across all rows, in row order.
func (rs *ResultSet) ColumnValues(name string) ([]any, error) {
	out := make([]any, len(rs.Rows))
	for i, r := range rs.Rows {
		v, ok := getVal(r, name)
		if !ok {
			return nil, fmt.Errorf("%w %q in result", storage.ErrUnknownColumn, name)
		}
		out[i] = v
	}
	return out, nil
}

// ExecEnv carries the evaluation context through the pipeline stages.
type ExecEnv struct {
	ctx  context.Context
	snap *storage.Snapshot
}

// Evaluate runs a plan against a snapshot. The snapshot is only read; any
// number of Evaluate calls may run concurrently against the same one.
func Evaluate(ctx context.Context, snap *storage.Snapshot, q *Query) (*ResultSet, error) {
	if q == nil {
		return nil, fmt.Errorf("nil query")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	env := ExecEnv{ctx: ctx, snap: snap}

	t, err := snap.Get(q.From.Table)
	if err != nil {
		return nil, err
	}
	rows, cols := rowsFromTable(t, q.From.alias())

	for _, j := range q.Joins {
		var jcols []string
		rows, jcols, err = applyJoin(env, j, rows)
		if err != nil {
			return nil, err
		}
		cols = append(cols, jcols...)
	}

	rows, err = applyWhere(env, q.Where, rows)
	if err != nil {
		return nil, err
	}

	if len(q.GroupBy) > 0 || len(q.Aggs) > 0 {
		rows, cols, err = applyAggregate(env, q, rows)
		if err != nil {
			return nil, err
		}
	}

	for _, w := range q.Windows {
		if err := applyWindow(env, w, rows); err != nil {
			return nil, err
		}
		cols = appendUnique(cols, strings.ToLower(w.As))
	}

	if q.WindowWhere != nil {
		rows, err = applyWhere(env, q.WindowWhere, rows)
		if err != nil {
			return nil, err
		}
	}

	// Order keys come from the pre-projection rows, so sorting may use
	// columns the projection drops.
	ordKeys, err := orderKeysFor(env, q.OrderBy, rows)
	if err != nil {
		return nil, err
	}

	rows, cols, err = applyProjection(env, q.Projs, rows, cols)
	if err != nil {
		return nil, err
	}

	if q.Distinct {
		rows, ordKeys = distinctRows(rows, cols, ordKeys)
	}

	rows = sortByKeys(rows, ordKeys, q.OrderBy)
	rows = applyOffsetLimit(q, rows)

	return &ResultSet{Cols: cols, Rows: rows}, nil
}

func rowsFromTable(t *storage.Table, alias string) ([]Row, []string) {
	cols := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		cols[i] = strings.ToLower(alias + "." + c.Name)
	}
	out := make([]Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := Row{}
		for i, c := range t.Cols {
			putVal(row, alias+"."+c.Name, r[i])
		}
		for i, c := range t.Cols {
			if _, exists := row[strings.ToLower(c.Name)]; !exists {
				putVal(row, c.Name, r[i])
			}
		}
		out = append(out, row)
	}
	return out, cols
}

// applyJoin hash-joins the current rows with one table on the given key
// columns. Nulls never match: a left row with a null key misses under both
// join types, and a null right key never enters the index.
func applyJoin(env ExecEnv, j JoinSpec, leftRows []Row) ([]Row, []string, error) {
	rt, err := env.snap.Get(j.Table.Table)
	if err != nil {
		return nil, nil, err
	}
	alias := j.Table.alias()
	rightRows, rightCols := rowsFromTable(rt, alias)

	leftCols := make([]string, len(j.On))
	rightKeyCols := make([]string, len(j.On))
	for i, k := range j.On {
		leftCols[i] = k.Left
		rightKeyCols[i] = k.Right
	}

	index := make(map[string][]int, len(rightRows))
	for i, rr := range rightRows {
		key, ok, err := joinKeyOf(rr, rightKeyCols)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			index[key] = append(index[key], i)
		}
	}

	var out []Row
	for _, lr := range leftRows {
		if err := checkCtx(env.ctx); err != nil {
			return nil, nil, err
		}
		key, ok, err := joinKeyOf(lr, leftCols)
		if err != nil {
			return nil, nil, err
		}
		var matches []int
		if ok {
			matches = index[key]
		}
		if len(matches) > 0 {
			for _, m := range matches {
				out = append(out, mergeRows(lr, rightRows[m]))
			}
			continue
		}
		if j.Type == JoinLeft {
			padded := cloneRow(lr)
			addRightNulls(padded, alias, rt)
			out = append(out, padded)
		}
	}
	return out, rightCols, nil
}

func joinKeyOf(row Row, cols []string) (string, bool, error) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		v, ok := getVal(row, c)
		if !ok {
			return "", false, fmt.Errorf("%w %q in join key", storage.ErrUnknownColumn, c)
		}
		if v == nil {
			return "", false, nil
		}
		parts[i] = fmtKeyPart(v)
	}
	return strings.Join(parts, "\x1f"), true, nil
}

func applyWhere(env ExecEnv, where Expr, rows []Row) ([]Row, error) {
	if where == nil {
		return rows, nil
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if err := checkCtx(env.ctx); err != nil {
			return nil, err
		}
		v, err := evalExpr(env, where, r)
		if err != nil {
			return nil, err
		}
		if toTri(v) == tvTrue {
			out = append(out, r)
		}
	}
	return out, nil
}

// applyAggregate groups the rows and computes one output row per group,
// carrying the grouping keys and the aggregate results. With no grouping
// keys the whole input is a single group, and that group exists even for
// empty input: counts come out 0 and the other aggregates null, matching
// SQL's aggregate-over-zero-rows behavior.
func applyAggregate(env ExecEnv, q *Query, filtered []Row) ([]Row, []string, error) {
	groups := make(map[string][]Row)
	groupOrder := make([]string, 0)

	if len(q.GroupBy) == 0 {
		groups[""] = filtered
		groupOrder = append(groupOrder, "")
	} else {
		for _, r := range filtered {
			if err := checkCtx(env.ctx); err != nil {
				return nil, nil, err
			}
			parts := make([]string, len(q.GroupBy))
			for i, g := range q.GroupBy {
				v, err := evalExpr(env, g.Expr, r)
				if err != nil {
					return nil, nil, err
				}
				parts[i] = fmtKeyPart(v)
			}
			ks := strings.Join(parts, "\x1f")
			if _, ok := groups[ks]; !ok {
				groupOrder = append(groupOrder, ks)
			}
			groups[ks] = append(groups[ks], r)
		}
	}

	outCols := make([]string, 0, len(q.GroupBy)+len(q.Aggs))
	for i, g := range q.GroupBy {
		outCols = appendUnique(outCols, keyName(g, i))
	}
	for _, a := range q.Aggs {
		outCols = appendUnique(outCols, strings.ToLower(a.As))
	}

	outRows := make([]Row, 0, len(groupOrder))
	for _, ks := range groupOrder {
		rows := groups[ks]
		out := Row{}
		for i, g := range q.GroupBy {
			// all rows of a group share the key value
			v, err := evalExpr(env, g.Expr, rows[0])
			if err != nil {
				return nil, nil, err
			}
			putVal(out, keyName(g, i), v)
		}
		for _, a := range q.Aggs {
			v, err := evalAgg(env, a, rows)
			if err != nil {
				return nil, nil, err
			}
			putVal(out, a.As, v)
		}
		if q.Having != nil {
			hv, err := evalExpr(env, q.Having, out)
			if err != nil {
				return nil, nil, err
			}
			if toTri(hv) != tvTrue {
				continue
			}
		}
		outRows = append(outRows, out)
	}
	return outRows, outCols, nil
}

// keyName picks the output column for a grouping key: the explicit alias,
// the bare column name for plain references, or a positional fallback.
func keyName(g GroupKey, i int) string {
	if g.As != "" {
		return strings.ToLower(g.As)
	}
	if c, ok := g.Expr.(*ColRef); ok {
		name := c.Name
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		return strings.ToLower(name)
	}
	return "key" + strconv.Itoa(i+1)
}

func projName(it SelectItem, i int) string {
	if it.As != "" {
		return strings.ToLower(it.As)
	}
	if c, ok := it.Expr.(*ColRef); ok {
		return strings.ToLower(c.Name)
	}
	return "col" + strconv.Itoa(i+1)
}

func applyProjection(env ExecEnv, projs []SelectItem, rows []Row, cols []string) ([]Row, []string, error) {
	if len(projs) == 0 {
		return rows, cols, nil
	}
	outCols := make([]string, 0, len(projs))
	for i, it := range projs {
		outCols = appendUnique(outCols, projName(it, i))
	}
	outRows := make([]Row, 0, len(rows))
	for _, r := range rows {
		if err := checkCtx(env.ctx); err != nil {
			return nil, nil, err
		}
		out := Row{}
		for i, it := range projs {
			v, err := evalExpr(env, it.Expr, r)
			if err != nil {
				return nil, nil, err
			}
			putVal(out, projName(it, i), v)
		}
		outRows = append(outRows, out)
	}
	return outRows, outCols, nil
}

// orderKeysFor evaluates the ordering expressions once per row so the sort
// comparator never re-evaluates or fails mid-sort.
func orderKeysFor(env ExecEnv, order []OrderItem, rows []Row) ([][]any, error) {
	if len(order) == 0 {
		return nil, nil
	}
	keys := make([][]any, len(rows))
	for i, r := range rows {
		if err := checkCtx(env.ctx); err != nil {
			return nil, err
		}
		ks := make([]any, len(order))
		for j, o := range order {
			v, err := evalExpr(env, o.Expr, r)
			if err != nil {
				return nil, err
			}
			ks[j] = v
		}
		keys[i] = ks
	}
	return keys, nil
}

func sortByKeys(rows []Row, keys [][]any, order []OrderItem) []Row {
	if len(order) == 0 || len(rows) < 2 {
		return rows
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
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
	out := make([]Row, len(rows))
	for i, ii := range idx {
		out[i] = rows[ii]
	}
	return out
}

func applyOffsetLimit(q *Query, rows []Row) []Row {
	start := 0
	if q.Offset != nil && *q.Offset > 0 {
		start = *q.Offset
	}
	if start > len(rows) {
		return []Row{}
	}
	rows = rows[start:]
	if q.Limit != nil && *q.Limit < len(rows) {
		rows = rows[:*q.Limit]
	}
	return rows
}

// distinctRows keeps the first occurrence of each distinct projected row,
// dropping the matching order keys alongside.
func distinctRows(rows []Row, cols []string, ordKeys [][]any) ([]Row, [][]any) {
	seen := map[string]bool{}
	var outRows []Row
	var outKeys [][]any
	for i, r := range rows {
		parts := make([]string, len(cols))
		for j, c := range cols {
			parts[j] = fmtKeyPart(r[strings.ToLower(c)])
		}
		key := strings.Join(parts, "\x1f")
		if seen[key] {
			continue
		}
		seen[key] = true
		outRows = append(outRows, r)
		if ordKeys != nil {
			outKeys = append(outKeys, ordKeys[i])
		}
	}
	return outRows, outKeys
}

func checkCtx(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func mergeRows(l, r Row) Row {
	m := make(Row, len(l)+len(r))
	for k, v := range l {
		m[k] = v
	}
	for k, v := range r {
		m[k] = v
	}
	return m
}

func cloneRow(r Row) Row {
	m := make(Row, len(r))
	for k, v := range r {
		m[k] = v
	}
	return m
}

func addRightNulls(m Row, alias string, t *storage.Table) {
	for _, c := range t.Cols {
		putVal(m, alias+"."+c.Name, nil)
		if _, ex := m[strings.ToLower(c.Name)]; !ex {
			putVal(m, c.Name, nil)
		}
	}
}

// fmtKeyPart renders a value into a type-prefixed string so grouping and
// join keys never confuse 1, 1.0, "1", and true.
func fmtKeyPart(v any) string {
	switch x := v.(type) {
	case nil:
		return "N:"
	case int:
		return "I:" + strconv.Itoa(x)
	case int64:
		return "I:" + strconv.FormatInt(x, 10)
	case float64:
		return "F:" + strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "B:1"
		}
		return "B:0"
	case string:
		return "S:" + x
	case time.Time:
		return "T:" + strconv.FormatInt(x.UTC().UnixNano(), 10)
	default:
		b, _ := json.Marshal(x)
		return "J:" + string(b)
	}
}

func appendUnique(list []string, s string) []string {
	for _, e := range list {
		if e == s {
			return list
		}
	}
	return append(list, s)
}
