// Package mesa - Fluent Plan Builder API
//
// This file provides a type-safe, fluent interface for constructing
// evaluation plans programmatically, similar to JOOQ, GORM, or Squirrel.

package mesa

import (
	"fmt"
	"strings"

	"github.com/mesadb/mesa/internal/engine"
	"github.com/mesadb/mesa/internal/storage"
)

// ============================================================================
// Plan Builder - Fluent API for constructing evaluation plans
// ============================================================================

// QueryBuilder provides a fluent interface for building evaluation plans.
type QueryBuilder struct {
	from     engine.TableRef
	joins    []engine.JoinSpec
	where    engine.Expr
	groupBy  []engine.GroupKey
	aggs     []engine.AggSpec
	having   engine.Expr
	windows  []engine.WindowSpec
	winWhere engine.Expr
	projs    []engine.SelectItem
	distinct bool
	orderBy  []engine.OrderItem
	limit    *int
	offset   *int
}

// From starts a new plan rooted at the named table.
//
// Example:
//
//	q := mesa.From("orders").
//	     Where(Gt(Col("amount"), Val(500))).
//	     Select(Col("order_id"), Col("amount"))
func From(table string) *QueryBuilder {
	return &QueryBuilder{from: engine.TableRef{Table: table}}
}

// FromAs starts a new plan rooted at the named table under an alias.
func FromAs(table, alias string) *QueryBuilder {
	return &QueryBuilder{from: engine.TableRef{Table: table, Alias: alias}}
}

// Join adds an inner join on the given key pairs. Rows whose keys find no
// partner are dropped; null keys never match.
func (qb *QueryBuilder) Join(table string, on ...engine.JoinKey) *QueryBuilder {
	qb.joins = append(qb.joins, engine.JoinSpec{
		Type:  engine.JoinInner,
		Table: engine.TableRef{Table: table},
		On:    on,
	})
	return qb
}

// JoinAs adds an inner join with an alias.
func (qb *QueryBuilder) JoinAs(table, alias string, on ...engine.JoinKey) *QueryBuilder {
	qb.joins = append(qb.joins, engine.JoinSpec{
		Type:  engine.JoinInner,
		Table: engine.TableRef{Table: table, Alias: alias},
		On:    on,
	})
	return qb
}

// LeftJoin adds a left outer join on the given key pairs. Rows whose keys
// find no partner survive with the joined columns set to null.
func (qb *QueryBuilder) LeftJoin(table string, on ...engine.JoinKey) *QueryBuilder {
	qb.joins = append(qb.joins, engine.JoinSpec{
		Type:  engine.JoinLeft,
		Table: engine.TableRef{Table: table},
		On:    on,
	})
	return qb
}

// LeftJoinAs adds a left outer join with an alias.
func (qb *QueryBuilder) LeftJoinAs(table, alias string, on ...engine.JoinKey) *QueryBuilder {
	qb.joins = append(qb.joins, engine.JoinSpec{
		Type:  engine.JoinLeft,
		Table: engine.TableRef{Table: table, Alias: alias},
		On:    on,
	})
	return qb
}

// On pairs a column of the rows built so far with a column of the table
// being joined.
func On(left, right string) engine.JoinKey {
	return engine.JoinKey{Left: left, Right: right}
}

// Where sets the row filter. The condition is evaluated with three-valued
// logic: only rows where it is true survive.
func (qb *QueryBuilder) Where(condition ExprBuilder) *QueryBuilder {
	qb.where = condition.Build()
	return qb
}

// GroupBy adds grouping columns. Each output row carries the column under
// its bare name.
func (qb *QueryBuilder) GroupBy(columns ...string) *QueryBuilder {
	for _, c := range columns {
		qb.groupBy = append(qb.groupBy, engine.GroupKey{Expr: &engine.ColRef{Name: c}})
	}
	return qb
}

// GroupByAs adds one grouping expression under an explicit output name.
func (qb *QueryBuilder) GroupByAs(as string, expr ExprBuilder) *QueryBuilder {
	qb.groupBy = append(qb.groupBy, engine.GroupKey{Expr: expr.Build(), As: as})
	return qb
}

// Aggregate adds aggregate output columns. Combine with GroupBy for grouped
// aggregation; without GroupBy the whole input forms one group, which exists
// even when the input is empty.
func (qb *QueryBuilder) Aggregate(aggs ...engine.AggSpec) *QueryBuilder {
	qb.aggs = append(qb.aggs, aggs...)
	return qb
}

// Having sets the group filter, evaluated against the aggregated rows.
func (qb *QueryBuilder) Having(condition ExprBuilder) *QueryBuilder {
	qb.having = condition.Build()
	return qb
}

// Window adds window annotations. Each runs over the rows produced by the
// stages before it and writes one extra column per row.
func (qb *QueryBuilder) Window(windows ...*WindowBuilder) *QueryBuilder {
	for _, w := range windows {
		qb.windows = append(qb.windows, w.Build())
	}
	return qb
}

// WindowWhere sets a filter evaluated after the window annotations, so it
// can reference their output columns.
func (qb *QueryBuilder) WindowWhere(condition ExprBuilder) *QueryBuilder {
	qb.winWhere = condition.Build()
	return qb
}

// RankAtMost keeps rows whose rank column is n or better. Combined with a
// dense rank window this is the standard way to take the top n of every
// partition: rows that tie share a rank, so a call with n = 1 returns every
// row tied for first place rather than an arbitrary single one.
func (qb *QueryBuilder) RankAtMost(rankCol string, n int) *QueryBuilder {
	cond := Le(Col(rankCol), Val(n))
	if qb.winWhere != nil {
		qb.winWhere = And(exprWrapper{qb.winWhere}, cond).Build()
		return qb
	}
	qb.winWhere = cond.Build()
	return qb
}

// Select sets the projected output columns.
func (qb *QueryBuilder) Select(items ...ExprBuilder) *QueryBuilder {
	for _, it := range items {
		qb.projs = append(qb.projs, engine.SelectItem{Expr: it.Build()})
	}
	return qb
}

// SelectAs adds one projected column under an explicit output name.
func (qb *QueryBuilder) SelectAs(as string, expr ExprBuilder) *QueryBuilder {
	qb.projs = append(qb.projs, engine.SelectItem{Expr: expr.Build(), As: as})
	return qb
}

// Distinct collapses duplicate output rows.
func (qb *QueryBuilder) Distinct() *QueryBuilder {
	qb.distinct = true
	return qb
}

// OrderBy adds an ascending ordering term. Ordering terms are evaluated
// against the rows before projection, so a plan may sort by a column its
// projection drops.
func (qb *QueryBuilder) OrderBy(column string) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, engine.OrderItem{Expr: &engine.ColRef{Name: column}})
	return qb
}

// OrderByDesc adds a descending ordering term.
func (qb *QueryBuilder) OrderByDesc(column string) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, engine.OrderItem{Expr: &engine.ColRef{Name: column}, Desc: true})
	return qb
}

// OrderByExpr adds an ordering term computed from an expression.
func (qb *QueryBuilder) OrderByExpr(expr ExprBuilder, desc bool) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, engine.OrderItem{Expr: expr.Build(), Desc: desc})
	return qb
}

// Limit caps the number of output rows. Truncation happens after ordering
// and cuts ties arbitrarily; rank with RankAtMost instead when rows tied at
// the cutoff must survive.
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.limit = &n
	return qb
}

// Offset skips the first n output rows.
func (qb *QueryBuilder) Offset(n int) *QueryBuilder {
	qb.offset = &n
	return qb
}

// Build converts the builder to an engine.Query plan.
func (qb *QueryBuilder) Build() engine.Query {
	return engine.Query{
		From:        qb.from,
		Joins:       qb.joins,
		Where:       qb.where,
		GroupBy:     qb.groupBy,
		Aggs:        qb.aggs,
		Having:      qb.having,
		Windows:     qb.windows,
		WindowWhere: qb.winWhere,
		Projs:       qb.projs,
		Distinct:    qb.distinct,
		OrderBy:     qb.orderBy,
		Offset:      qb.offset,
		Limit:       qb.limit,
	}
}

// ============================================================================
// Expression Builders
// ============================================================================

// ExprBuilder is an interface for building plan expressions.
type ExprBuilder interface {
	Build() engine.Expr
}

// exprWrapper wraps an engine.Expr to implement ExprBuilder.
type exprWrapper struct {
	expr engine.Expr
}

func (e exprWrapper) Build() engine.Expr { return e.expr }

// Col creates a column reference expression.
//
// Example:
//
//	Col("users.u_id")
//	Col("name")
func Col(name string) ExprBuilder {
	return exprWrapper{&engine.ColRef{Name: name}}
}

// Val creates a literal value expression.
//
// Example:
//
//	Val(42)
//	Val("hello")
//	Val(true)
func Val(value any) ExprBuilder {
	return exprWrapper{&engine.Literal{Val: value}}
}

// Null creates a null literal.
func Null() ExprBuilder {
	return exprWrapper{&engine.Literal{Val: nil}}
}

// ============================================================================
// Comparison Operators
// ============================================================================

// Eq creates an equality comparison (=). Comparing against null yields
// unknown, never true.
func Eq(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    "=",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// Ne creates a not-equal comparison (<>).
func Ne(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    "<>",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// Lt creates a less-than comparison (<).
func Lt(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    "<",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// Le creates a less-than-or-equal comparison (<=).
func Le(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    "<=",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// Gt creates a greater-than comparison (>).
func Gt(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    ">",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// Ge creates a greater-than-or-equal comparison (>=).
func Ge(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    ">=",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// ============================================================================
// Logical Operators
// ============================================================================

// And creates a logical AND expression.
func And(exprs ...ExprBuilder) ExprBuilder {
	if len(exprs) == 0 {
		return Val(true)
	}
	if len(exprs) == 1 {
		return exprs[0]
	}
	result := exprs[0].Build()
	for i := 1; i < len(exprs); i++ {
		result = &engine.Binary{
			Op:    "AND",
			Left:  result,
			Right: exprs[i].Build(),
		}
	}
	return exprWrapper{result}
}

// Or creates a logical OR expression.
func Or(exprs ...ExprBuilder) ExprBuilder {
	if len(exprs) == 0 {
		return Val(false)
	}
	if len(exprs) == 1 {
		return exprs[0]
	}
	result := exprs[0].Build()
	for i := 1; i < len(exprs); i++ {
		result = &engine.Binary{
			Op:    "OR",
			Left:  result,
			Right: exprs[i].Build(),
		}
	}
	return exprWrapper{result}
}

// Not creates a logical NOT expression. NOT of unknown stays unknown.
func Not(expr ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Unary{
		Op:   "NOT",
		Expr: expr.Build(),
	}}
}

// ============================================================================
// NULL Checks
// ============================================================================

// IsNull creates an IS NULL predicate.
func IsNull(expr ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.IsNull{
		Expr:   expr.Build(),
		Negate: false,
	}}
}

// IsNotNull creates an IS NOT NULL predicate.
func IsNotNull(expr ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.IsNull{
		Expr:   expr.Build(),
		Negate: true,
	}}
}

// ============================================================================
// Arithmetic Operators
// ============================================================================

// Add creates an addition expression (+). A null operand makes the result
// null.
func Add(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    "+",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// Sub creates a subtraction expression (-).
func Sub(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    "-",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// Mul creates a multiplication expression (*).
func Mul(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    "*",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// Div creates a division expression (/). Division by zero is an arithmetic
// error, not a null.
func Div(left, right ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.Binary{
		Op:    "/",
		Left:  left.Build(),
		Right: right.Build(),
	}}
}

// ============================================================================
// Set Membership
// ============================================================================

// In tests whether an expression's value is a member of the key set.
func In(expr ExprBuilder, set *engine.KeySet) ExprBuilder {
	return exprWrapper{&engine.Membership{
		Expr: expr.Build(),
		Set:  set,
	}}
}

// NotIn tests whether an expression's value is absent from the key set.
// The test follows three-valued logic: a null candidate is unknown, and a
// candidate that misses a set containing a null is unknown rather than true.
// Either way such rows do not pass a filter.
func NotIn(expr ExprBuilder, set *engine.KeySet) ExprBuilder {
	return exprWrapper{&engine.Membership{
		Expr:   expr.Build(),
		Set:    set,
		Negate: true,
	}}
}

// InValues is In over an inline value list.
func InValues(expr ExprBuilder, values ...any) ExprBuilder {
	return In(expr, engine.NewKeySet(values...))
}

// NotInValues is NotIn over an inline value list.
func NotInValues(expr ExprBuilder, values ...any) ExprBuilder {
	return NotIn(expr, engine.NewKeySet(values...))
}

// ============================================================================
// Aggregate Functions
// ============================================================================

// Count creates a COUNT aggregate over an expression, counting rows where
// it evaluates non-null.
func Count(expr ExprBuilder, as string) engine.AggSpec {
	return engine.AggSpec{Fn: engine.AggCount, Arg: expr.Build(), As: as}
}

// CountAll creates a COUNT aggregate over whole rows.
func CountAll(as string) engine.AggSpec {
	return engine.AggSpec{Fn: engine.AggCount, As: as}
}

// CountDistinct creates a COUNT DISTINCT aggregate, counting distinct
// non-null values of the expression.
func CountDistinct(expr ExprBuilder, as string) engine.AggSpec {
	return engine.AggSpec{Fn: engine.AggCountDistinct, Arg: expr.Build(), As: as}
}

// Sum creates a SUM aggregate. With no non-null input the result is null,
// not zero.
func Sum(expr ExprBuilder, as string) engine.AggSpec {
	return engine.AggSpec{Fn: engine.AggSum, Arg: expr.Build(), As: as}
}

// Avg creates an AVG aggregate. With no non-null input the result is null,
// not zero.
func Avg(expr ExprBuilder, as string) engine.AggSpec {
	return engine.AggSpec{Fn: engine.AggAvg, Arg: expr.Build(), As: as}
}

// Min creates a MIN aggregate.
func Min(expr ExprBuilder, as string) engine.AggSpec {
	return engine.AggSpec{Fn: engine.AggMin, Arg: expr.Build(), As: as}
}

// Max creates a MAX aggregate.
func Max(expr ExprBuilder, as string) engine.AggSpec {
	return engine.AggSpec{Fn: engine.AggMax, Arg: expr.Build(), As: as}
}

// ============================================================================
// Calendar Functions
// ============================================================================

// MonthLabel extracts the month name ("January" .. "December") from a time
// value. Labels sort alphabetically, not chronologically; order by
// MonthIndex when the output must follow the calendar.
func MonthLabel(expr ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.FuncCall{
		Name: "MONTH_LABEL",
		Args: []engine.Expr{expr.Build()},
	}}
}

// MonthIndex extracts a single integer that orders (year, month) pairs
// chronologically across year boundaries.
func MonthIndex(expr ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.FuncCall{
		Name: "MONTH_INDEX",
		Args: []engine.Expr{expr.Build()},
	}}
}

// MonthNum extracts the month number (1..12) from a time value.
func MonthNum(expr ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.FuncCall{
		Name: "MONTH_NUM",
		Args: []engine.Expr{expr.Build()},
	}}
}

// Year extracts the year from a time value.
func Year(expr ExprBuilder) ExprBuilder {
	return exprWrapper{&engine.FuncCall{
		Name: "YEAR",
		Args: []engine.Expr{expr.Build()},
	}}
}

// ============================================================================
// Window Builders
// ============================================================================

// WindowBuilder provides a fluent interface for window annotations.
type WindowBuilder struct {
	w engine.WindowSpec
}

// DenseRank creates a dense rank window writing its rank under the given
// column name. Rows that compare equal under the window's order share a
// rank and the next distinct value increments the rank by exactly one.
// The window must be ordered with OrderBy or OrderByDesc before use.
func DenseRank(as string) *WindowBuilder {
	return &WindowBuilder{w: engine.WindowSpec{Mode: engine.WinDenseRank, As: as}}
}

// MaxOver creates a window that broadcasts the partition's maximum of the
// expression onto every row of the partition.
func MaxOver(expr ExprBuilder, as string) *WindowBuilder {
	return &WindowBuilder{w: engine.WindowSpec{
		Mode:  engine.WinMax,
		Value: expr.Build(),
		As:    as,
	}}
}

// Lag creates a window that copies the expression's value from the previous
// row of the partition, under the window's declared order. The first row of
// each partition gets null. The window must be ordered with OrderBy or
// OrderByDesc before use.
func Lag(expr ExprBuilder, as string) *WindowBuilder {
	return &WindowBuilder{w: engine.WindowSpec{
		Mode:  engine.WinLag,
		Value: expr.Build(),
		As:    as,
	}}
}

// PartitionBy splits the rows into partitions before the window runs.
// Without it the whole row set forms one partition.
func (wb *WindowBuilder) PartitionBy(exprs ...ExprBuilder) *WindowBuilder {
	for _, e := range exprs {
		wb.w.PartitionBy = append(wb.w.PartitionBy, e.Build())
	}
	return wb
}

// OrderBy adds an ascending intra-partition ordering term.
func (wb *WindowBuilder) OrderBy(expr ExprBuilder) *WindowBuilder {
	wb.w.OrderBy = append(wb.w.OrderBy, engine.WindowOrder{Expr: expr.Build()})
	return wb
}

// OrderByDesc adds a descending intra-partition ordering term.
func (wb *WindowBuilder) OrderByDesc(expr ExprBuilder) *WindowBuilder {
	wb.w.OrderBy = append(wb.w.OrderBy, engine.WindowOrder{Expr: expr.Build(), Desc: true})
	return wb
}

// Back sets how many rows a lag window reaches back. The default is one.
func (wb *WindowBuilder) Back(n int) *WindowBuilder {
	wb.w.Offset = n
	return wb
}

// Build converts the builder to an engine.WindowSpec.
func (wb *WindowBuilder) Build() engine.WindowSpec {
	return wb.w
}

// ============================================================================
// Special Functions
// ============================================================================

// Coalesce creates a COALESCE function call returning the first non-null
// argument.
func Coalesce(exprs ...ExprBuilder) ExprBuilder {
	args := make([]engine.Expr, len(exprs))
	for i, e := range exprs {
		args[i] = e.Build()
	}
	return exprWrapper{&engine.FuncCall{
		Name: "COALESCE",
		Args: args,
	}}
}

// Round creates a ROUND function call with the given number of decimal
// digits.
func Round(expr ExprBuilder, digits int) ExprBuilder {
	return exprWrapper{&engine.FuncCall{
		Name: "ROUND",
		Args: []engine.Expr{expr.Build(), &engine.Literal{Val: digits}},
	}}
}

// ============================================================================
// Schema Builder - For programmatic table definition
// ============================================================================

// TableBuilder provides a fluent interface for defining tables.
type TableBuilder struct {
	name string
	cols []storage.Column
}

// NewTableBuilder creates a new table builder for programmatic schema
// definition.
func NewTableBuilder(name string) *TableBuilder {
	return &TableBuilder{name: name}
}

// Column adds a column of the given type.
func (tb *TableBuilder) Column(name string, colType storage.ColType) *TableBuilder {
	tb.cols = append(tb.cols, storage.Column{Name: name, Type: colType})
	return tb
}

// Int adds an INT column.
func (tb *TableBuilder) Int(name string) *TableBuilder {
	return tb.Column(name, storage.IntType)
}

// Float adds a FLOAT column.
func (tb *TableBuilder) Float(name string) *TableBuilder {
	return tb.Column(name, storage.FloatType)
}

// Text adds a TEXT column.
func (tb *TableBuilder) Text(name string) *TableBuilder {
	return tb.Column(name, storage.TextType)
}

// Bool adds a BOOL column.
func (tb *TableBuilder) Bool(name string) *TableBuilder {
	return tb.Column(name, storage.BoolType)
}

// Date adds a DATE column.
func (tb *TableBuilder) Date(name string) *TableBuilder {
	return tb.Column(name, storage.DateType)
}

// Time adds a TIME column.
func (tb *TableBuilder) Time(name string) *TableBuilder {
	return tb.Column(name, storage.TimeType)
}

// Key marks the most recently added column as the primary key.
func (tb *TableBuilder) Key() *TableBuilder {
	if len(tb.cols) > 0 {
		tb.cols[len(tb.cols)-1].Constraint = storage.PrimaryKey
	}
	return tb
}

// Unique marks the most recently added column as unique.
func (tb *TableBuilder) Unique() *TableBuilder {
	if len(tb.cols) > 0 {
		tb.cols[len(tb.cols)-1].Constraint = storage.Unique
	}
	return tb
}

// References marks the most recently added column as a foreign key into the
// named table and column.
func (tb *TableBuilder) References(table, column string) *TableBuilder {
	if len(tb.cols) > 0 {
		tb.cols[len(tb.cols)-1].Constraint = storage.ForeignKey
		tb.cols[len(tb.cols)-1].ForeignKey = &storage.ForeignKeyRef{Table: table, Column: column}
	}
	return tb
}

// Build converts the builder to a storage.Table.
func (tb *TableBuilder) Build() *storage.Table {
	return storage.NewTable(tb.name, tb.cols)
}

// Into builds the table and registers it on the snapshot. Like MustPut it
// panics when the name is already taken.
func (tb *TableBuilder) Into(snap *storage.Snapshot) *storage.Table {
	t := tb.Build()
	snap.MustPut(t)
	return t
}

// ============================================================================
// Plan Rendering - Convert plans back into readable text
// ============================================================================

// Describe renders a plan as readable text, one stage per line, for logs
// and diagnostics.
func Describe(q engine.Query) string {
	var sb strings.Builder
	buildFromLine(&sb, q.From)
	buildJoinLines(&sb, q.Joins)
	buildFilterLine(&sb, "WHERE", q.Where)
	buildGroupLine(&sb, q.GroupBy, q.Aggs)
	buildFilterLine(&sb, "HAVING", q.Having)
	buildWindowLines(&sb, q.Windows)
	buildFilterLine(&sb, "WINDOW WHERE", q.WindowWhere)
	buildSelectLine(&sb, q.Projs, q.Distinct)
	buildOrderLine(&sb, q.OrderBy)
	buildOffsetLimitLines(&sb, q.Offset, q.Limit)
	return strings.TrimRight(sb.String(), "\n")
}

func buildFromLine(sb *strings.Builder, from engine.TableRef) {
	sb.WriteString("FROM ")
	sb.WriteString(from.Table)
	if from.Alias != "" {
		sb.WriteString(" AS ")
		sb.WriteString(from.Alias)
	}
	sb.WriteString("\n")
}

func buildJoinLines(sb *strings.Builder, joins []engine.JoinSpec) {
	for _, j := range joins {
		sb.WriteString(j.Type.String())
		sb.WriteString(" JOIN ")
		sb.WriteString(j.Table.Table)
		if j.Table.Alias != "" {
			sb.WriteString(" AS ")
			sb.WriteString(j.Table.Alias)
		}
		sb.WriteString(" ON ")
		for i, k := range j.On {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			sb.WriteString(k.Left)
			sb.WriteString(" = ")
			sb.WriteString(k.Right)
		}
		sb.WriteString("\n")
	}
}

func buildFilterLine(sb *strings.Builder, label string, cond engine.Expr) {
	if cond == nil {
		return
	}
	sb.WriteString(label)
	sb.WriteString(" ")
	sb.WriteString(exprToText(cond))
	sb.WriteString("\n")
}

func buildGroupLine(sb *strings.Builder, groupBy []engine.GroupKey, aggs []engine.AggSpec) {
	if len(groupBy) > 0 {
		sb.WriteString("GROUP BY ")
		for i, g := range groupBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(exprToText(g.Expr))
			if g.As != "" {
				sb.WriteString(" AS ")
				sb.WriteString(g.As)
			}
		}
		sb.WriteString("\n")
	}
	for _, a := range aggs {
		sb.WriteString("AGGREGATE ")
		sb.WriteString(a.Fn.String())
		sb.WriteString("(")
		if a.Arg != nil {
			sb.WriteString(exprToText(a.Arg))
		} else {
			sb.WriteString("*")
		}
		sb.WriteString(")")
		if a.As != "" {
			sb.WriteString(" AS ")
			sb.WriteString(a.As)
		}
		sb.WriteString("\n")
	}
}

func buildWindowLines(sb *strings.Builder, windows []engine.WindowSpec) {
	for _, w := range windows {
		sb.WriteString("WINDOW ")
		sb.WriteString(w.Mode.String())
		if w.Value != nil {
			sb.WriteString("(")
			sb.WriteString(exprToText(w.Value))
			sb.WriteString(")")
		}
		if len(w.PartitionBy) > 0 {
			sb.WriteString(" PARTITION BY ")
			for i, p := range w.PartitionBy {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(exprToText(p))
			}
		}
		if len(w.OrderBy) > 0 {
			sb.WriteString(" ORDER BY ")
			for i, o := range w.OrderBy {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(exprToText(o.Expr))
				if o.Desc {
					sb.WriteString(" DESC")
				}
			}
		}
		if w.As != "" {
			sb.WriteString(" AS ")
			sb.WriteString(w.As)
		}
		sb.WriteString("\n")
	}
}

func buildSelectLine(sb *strings.Builder, projs []engine.SelectItem, distinct bool) {
	if len(projs) == 0 && !distinct {
		return
	}
	sb.WriteString("SELECT ")
	if distinct {
		sb.WriteString("DISTINCT ")
	}
	if len(projs) == 0 {
		sb.WriteString("*")
	}
	for i, p := range projs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(exprToText(p.Expr))
		if p.As != "" {
			sb.WriteString(" AS ")
			sb.WriteString(p.As)
		}
	}
	sb.WriteString("\n")
}

func buildOrderLine(sb *strings.Builder, orderBy []engine.OrderItem) {
	if len(orderBy) == 0 {
		return
	}
	sb.WriteString("ORDER BY ")
	for i, o := range orderBy {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(exprToText(o.Expr))
		if o.Desc {
			sb.WriteString(" DESC")
		}
	}
	sb.WriteString("\n")
}

func buildOffsetLimitLines(sb *strings.Builder, offset, limit *int) {
	if offset != nil {
		fmt.Fprintf(sb, "OFFSET %d\n", *offset)
	}
	if limit != nil {
		fmt.Fprintf(sb, "LIMIT %d\n", *limit)
	}
}

func exprToText(e engine.Expr) string {
	switch ex := e.(type) {
	case *engine.ColRef:
		return ex.Name
	case *engine.Literal:
		if ex.Val == nil {
			return "NULL"
		}
		if s, ok := ex.Val.(string); ok {
			return "'" + strings.ReplaceAll(s, "'", "''") + "'"
		}
		return fmt.Sprintf("%v", ex.Val)
	case *engine.Unary:
		return ex.Op + " " + exprToText(ex.Expr)
	case *engine.Binary:
		return "(" + exprToText(ex.Left) + " " + ex.Op + " " + exprToText(ex.Right) + ")"
	case *engine.IsNull:
		if ex.Negate {
			return exprToText(ex.Expr) + " IS NOT NULL"
		}
		return exprToText(ex.Expr) + " IS NULL"
	case *engine.Membership:
		op := "IN"
		if ex.Negate {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s <set of %d>", exprToText(ex.Expr), op, ex.Set.Len())
	case *engine.FuncCall:
		args := make([]string, len(ex.Args))
		for i, a := range ex.Args {
			args[i] = exprToText(a)
		}
		return ex.Name + "(" + strings.Join(args, ", ") + ")"
	default:
		return fmt.Sprintf("%v", e)
	}
}
