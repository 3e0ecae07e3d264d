package engine

import (
	"fmt"

	"github.com/mesadb/mesa/internal/storage"
)

// Expr is an expression node evaluated against a row.
type Expr interface{}

type (
	// ColRef refers to a column (qualified or unqualified) in expressions.
	ColRef struct{ Name string }
	// Literal holds a constant value (number, string, bool, time, NULL).
	Literal struct{ Val any }
	// Unary represents unary operators +, -, NOT.
	Unary struct {
		Op   string
		Expr Expr
	}
	// Binary represents binary operators (+,-,*,/, comparisons, AND/OR).
	Binary struct {
		Op          string
		Left, Right Expr
	}
	// IsNull represents the IS [NOT] NULL predicate.
	IsNull struct {
		Expr   Expr
		Negate bool
	}
	// Membership tests an expression against a key set with three-valued
	// semantics: a null candidate is unknown; a candidate that misses a set
	// containing a null is unknown, never true.
	Membership struct {
		Expr   Expr
		Set    *KeySet
		Negate bool
	}
	// FuncCall represents a scalar function call (calendar extractors,
	// COALESCE, ROUND).
	FuncCall struct {
		Name string
		Args []Expr
	}
)

// TableRef names a source table with an optional alias.
type TableRef struct {
	Table string
	Alias string
}

func (t TableRef) alias() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Table
}

// JoinType selects the join behavior for unmatched left rows.
type JoinType int

const (
	// JoinInner drops left rows with no partner.
	JoinInner JoinType = iota
	// JoinLeft keeps left rows with no partner, padding the right columns
	// with nulls.
	JoinLeft
)

func (jt JoinType) String() string {
	switch jt {
	case JoinInner:
		return "INNER"
	case JoinLeft:
		return "LEFT"
	default:
		return "UNKNOWN"
	}
}

// JoinKey pairs an existing column with one on the joined table. A null on
// either side never matches, as in SQL equality.
type JoinKey struct {
	Left  string
	Right string
}

// JoinSpec describes one join stage. Joins are key-based equi-joins; the
// type is always chosen explicitly by the caller.
type JoinSpec struct {
	Type  JoinType
	Table TableRef
	On    []JoinKey
}

// GroupKey is a grouping-key extractor with its output column name.
type GroupKey struct {
	Expr Expr
	As   string
}

// AggFunc enumerates the aggregate functions.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggCountDistinct
	AggSum
	AggAvg
	AggMin
	AggMax
)

func (f AggFunc) String() string {
	switch f {
	case AggCount:
		return "COUNT"
	case AggCountDistinct:
		return "COUNT DISTINCT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return "UNKNOWN"
	}
}

// AggSpec is one aggregate output column. A nil Arg counts rows and is only
// valid for AggCount.
type AggSpec struct {
	Fn  AggFunc
	Arg Expr
	As  string
}

// WindowMode selects what a window annotation computes.
type WindowMode int

const (
	// WinDenseRank ranks rows within their partition; ties share a rank and
	// the next distinct value increments the rank by exactly one.
	WinDenseRank WindowMode = iota
	// WinMax broadcasts the partition's maximum of Value onto every row.
	WinMax
	// WinLag copies Value from the row Offset positions earlier in the
	// partition's declared order; rows before the partition start get null.
	WinLag
)

func (m WindowMode) String() string {
	switch m {
	case WinDenseRank:
		return "DENSE_RANK"
	case WinMax:
		return "MAX OVER"
	case WinLag:
		return "LAG"
	default:
		return "UNKNOWN"
	}
}

// WindowOrder is one intra-partition ordering term.
type WindowOrder struct {
	Expr Expr
	Desc bool
}

// WindowSpec annotates each row with a value computed over its partition.
// Dense-rank and lag depend on row order, so both demand an explicit OrderBy;
// a spec without one is rejected before any row is touched.
type WindowSpec struct {
	Mode        WindowMode
	PartitionBy []Expr
	OrderBy     []WindowOrder
	Value       Expr // WinMax: maximized column; WinLag: carried column
	Offset      int  // WinLag: rows back, 0 means 1
	As          string
}

// SelectItem is one projected output column.
type SelectItem struct {
	Expr Expr
	As   string
}

// OrderItem is one result ordering term. It is evaluated against the rows
// before projection, so sorting may use columns the projection drops (for
// example a chronological month index behind a month label).
type OrderItem struct {
	Expr Expr
	Desc bool
}

// Query is a complete evaluation plan. Stages apply in pipeline order:
// from, joins, where, group/aggregate, having, windows, window filter,
// projection, distinct, order, offset/limit. Zero-valued stages are skipped.
type Query struct {
	From        TableRef
	Joins       []JoinSpec
	Where       Expr
	GroupBy     []GroupKey
	Aggs        []AggSpec
	Having      Expr
	Windows     []WindowSpec
	WindowWhere Expr
	Projs       []SelectItem
	Distinct    bool
	OrderBy     []OrderItem
	Offset      *int
	Limit       *int
}

// Validate rejects structurally broken plans before evaluation starts.
// Everything it catches is a programming error on the caller's side, so the
// messages name the offending piece rather than any row data.
func (q *Query) Validate() error {
	if q.From.Table == "" {
		return fmt.Errorf("query has no source table")
	}
	for _, j := range q.Joins {
		if j.Table.Table == "" {
			return fmt.Errorf("join has no table")
		}
		if len(j.On) == 0 {
			return fmt.Errorf("join on %q has no keys", j.Table.Table)
		}
		for _, k := range j.On {
			if k.Left == "" || k.Right == "" {
				return fmt.Errorf("join on %q has an empty key column", j.Table.Table)
			}
		}
	}
	for i, g := range q.GroupBy {
		if g.Expr == nil {
			return fmt.Errorf("group key %d has no expression", i)
		}
	}
	for _, a := range q.Aggs {
		if a.As == "" {
			return fmt.Errorf("aggregate %s has no output name", a.Fn)
		}
		if a.Arg == nil && a.Fn != AggCount {
			return fmt.Errorf("aggregate %s on %q needs an argument", a.Fn, a.As)
		}
	}
	if len(q.Aggs) == 0 && len(q.GroupBy) > 0 {
		return fmt.Errorf("grouping without aggregates; project the keys instead")
	}
	for _, w := range q.Windows {
		if w.As == "" {
			return fmt.Errorf("window %s has no output name", w.Mode)
		}
		switch w.Mode {
		case WinDenseRank:
			if len(w.OrderBy) == 0 {
				return fmt.Errorf("%w: %s %q", ErrUnorderedWindow, w.Mode, w.As)
			}
		case WinLag:
			if len(w.OrderBy) == 0 {
				return fmt.Errorf("%w: %s %q", ErrUnorderedWindow, w.Mode, w.As)
			}
			if w.Value == nil {
				return fmt.Errorf("window %s %q has no value expression", w.Mode, w.As)
			}
			if w.Offset < 0 {
				return fmt.Errorf("window %s %q has negative offset %d", w.Mode, w.As, w.Offset)
			}
		case WinMax:
			if w.Value == nil {
				return fmt.Errorf("window %s %q has no value expression", w.Mode, w.As)
			}
		default:
			return fmt.Errorf("unknown window mode %d", w.Mode)
		}
	}
	if q.WindowWhere != nil && len(q.Windows) == 0 {
		return fmt.Errorf("window filter without windows")
	}
	return nil
}

// KeySet is a membership set with explicit null tracking for three-valued
// NOT IN semantics. Values are normalized with storage.KeyOf so int widths,
// float widths, and time instants compare like the evaluator compares them.
type KeySet struct {
	vals    map[any]struct{}
	hasNull bool
}

// NewKeySet builds a set from the given values.
func NewKeySet(vals ...any) *KeySet {
	s := &KeySet{vals: make(map[any]struct{}, len(vals))}
	for _, v := range vals {
		s.Add(v)
	}
	return s
}

// Add inserts one value; nil is remembered as "the set contains a null".
func (s *KeySet) Add(v any) {
	if v == nil {
		s.hasNull = true
		return
	}
	s.vals[storage.KeyOf(v)] = struct{}{}
}

// Contains reports non-null membership.
func (s *KeySet) Contains(v any) bool {
	if v == nil {
		return false
	}
	_, ok := s.vals[storage.KeyOf(v)]
	return ok
}

// HasNull reports whether any added value was null.
func (s *KeySet) HasNull() bool { return s.hasNull }

// Len returns the number of distinct non-null values.
func (s *KeySet) Len() int { return len(s.vals) }

// KeySetFromTable collects one column of a stored table into a key set.
func KeySetFromTable(t *storage.Table, col string) (*KeySet, error) {
	ci, err := t.ColIndex(col)
	if err != nil {
		return nil, err
	}
	s := NewKeySet()
	for _, r := range t.Rows {
		s.Add(r[ci])
	}
	return s, nil
}

// KeySetFromResult collects one result column into a key set, so a prior
// query can feed a membership predicate the way a subquery would.
func KeySetFromResult(rs *ResultSet, col string) (*KeySet, error) {
	s := NewKeySet()
	for _, r := range rs.Rows {
		v, ok := getVal(r, col)
		if !ok {
			return nil, fmt.Errorf("%w %q in result", storage.ErrUnknownColumn, col)
		}
		s.Add(v)
	}
	return s, nil
}
