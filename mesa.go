// Package mesa provides an embeddable, in-memory analytics evaluation layer
// for Go applications.
//
// Mesa holds relational data in immutable snapshots and evaluates
// programmatically constructed plans against them: filters, joins, grouped
// aggregation and window annotations, with SQL-style null semantics
// throughout. There is no query text and no parser; plans are built with a
// fluent builder and evaluated as plain function calls.
//
// # Basic Usage
//
// Create a snapshot, define tables, and evaluate a plan:
//
//	snap := mesa.NewSnapshot()
//	mesa.NewTableBuilder("users").
//	    Int("u_id").Key().
//	    Text("name").
//	    Bool("is_active").
//	    Into(snap)
//	users, _ := snap.Get("users")
//	users.Append(int64(1), "Nitish", true)
//	users.Append(int64(2), "Vartika", false)
//
//	rs, err := mesa.Evaluate(ctx, snap,
//	    mesa.From("users").
//	        Where(mesa.Eq(mesa.Col("is_active"), mesa.Val(false))).
//	        Select(mesa.Col("name")))
//	for _, row := range rs.Rows {
//	    name, _ := mesa.GetVal(row, "name")
//	    fmt.Println(name)
//	}
//
// # Null Semantics
//
// Filters run under three-valued logic: comparisons against null are
// unknown, and unknown never passes a filter. Aggregates skip null inputs;
// SUM and AVG over no surviving input yield null rather than zero. These
// outcomes are data, not errors. Structural mistakes (an unknown table or
// column, a type mismatch, a rank or lag window without an explicit order)
// fail loudly with a sentinel error instead.
//
// # Persistence
//
// Save and load snapshots:
//
//	// Save to file (gzip-compressed when the name ends in .gz)
//	mesa.SaveToFile(snap, "delivery.gob.gz")
//
//	// Load from file
//	snap, err := mesa.LoadFromFile("delivery.gob.gz")
//
// # Plan Inspection
//
// Render a plan as readable text for logs and diagnostics:
//
//	q := mesa.From("orders").GroupBy("restaurant_id").
//	    Aggregate(mesa.Sum(mesa.Col("amount"), "revenue"))
//	fmt.Println(mesa.Describe(q.Build()))
//
// For more examples, see the example_test.go file in the repository.
package mesa

import (
	"context"
	"strings"

	"github.com/mesadb/mesa/internal/engine"
	"github.com/mesadb/mesa/internal/storage"
)

// ============================================================================
// Core Types - Re-exported from internal packages for public API
// ============================================================================

// Snapshot is an immutable-by-convention collection of tables sharing one
// point in time. Build it up front, then treat it as read-only while plans
// evaluate; concurrent readers are safe.
type Snapshot = storage.Snapshot

// Table represents a table with columns and insertion-ordered rows.
type Table = storage.Table

// Column represents a table column with a name, type and optional
// constraint metadata.
type Column = storage.Column

// ColType enumerates supported column data types (INT, FLOAT, TEXT, ...).
type ColType = storage.ColType

// ConstraintType enumerates supported column constraints.
type ConstraintType = storage.ConstraintType

// ForeignKeyRef describes a foreign key reference target.
type ForeignKeyRef = storage.ForeignKeyRef

// Row represents a single result row mapped by column name
// (case-insensitive). Keys include both qualified (table.column) and
// unqualified (column) names.
type Row = engine.Row

// ResultSet holds evaluation results with column names and data rows.
type ResultSet = engine.ResultSet

// Query is a complete evaluation plan, normally produced by a
// QueryBuilder's Build.
type Query = engine.Query

// KeySet is a set of normalized scalar values for membership tests. It
// remembers whether a null was among the inserted values, which drives the
// three-valued NOT IN behavior.
type KeySet = engine.KeySet

// AggSpec is one aggregate output column, produced by Count, Sum, Avg and
// friends.
type AggSpec = engine.AggSpec

// WindowSpec is one window annotation, produced by a WindowBuilder's Build.
type WindowSpec = engine.WindowSpec

// JoinKey pairs the join columns of two tables, produced by On.
type JoinKey = engine.JoinKey

// ============================================================================
// Column Type Constants - Supported data types
// ============================================================================

const (
	IntType   ColType = storage.IntType
	FloatType ColType = storage.FloatType
	TextType  ColType = storage.TextType
	BoolType  ColType = storage.BoolType
	DateType  ColType = storage.DateType
	TimeType  ColType = storage.TimeType
)

// Constraint constants
const (
	NoConstraint  ConstraintType = storage.NoConstraint
	PrimaryKeyCol ConstraintType = storage.PrimaryKey
	ForeignKeyCol ConstraintType = storage.ForeignKey
	UniqueCol     ConstraintType = storage.Unique
)

// ============================================================================
// Sentinel Errors
// ============================================================================

// Sentinel errors, matched with errors.Is. Every one of these marks a
// structural mistake in the caller's plan or data, never a data-dependent
// null outcome.
var (
	// ErrUnknownTable reports a plan referencing a table the snapshot does
	// not hold.
	ErrUnknownTable = storage.ErrUnknownTable

	// ErrUnknownColumn reports an expression referencing a column no row
	// carries.
	ErrUnknownColumn = storage.ErrUnknownColumn

	// ErrTypeMismatch reports an operation applied to a value of the wrong
	// type, such as summing a string column.
	ErrTypeMismatch = engine.ErrTypeMismatch

	// ErrUnorderedWindow reports a rank or lag window declared without an
	// explicit order.
	ErrUnorderedWindow = engine.ErrUnorderedWindow
)

// ============================================================================
// Snapshot Creation and Management
// ============================================================================

// NewSnapshot creates a new empty snapshot with a fresh identity.
//
// The snapshot starts with no tables. Define tables with NewTableBuilder or
// NewTable, fill them with Append, then evaluate plans against it.
//
// Example:
//
//	snap := mesa.NewSnapshot()
//	mesa.NewTableBuilder("orders").
//	    Int("order_id").Key().
//	    Float("amount").
//	    Into(snap)
func NewSnapshot() *Snapshot {
	return storage.NewSnapshot()
}

// NewTable creates a new table with the specified columns.
//
// This is a low-level API; NewTableBuilder reads better for hand-written
// schemas. Register the result on a snapshot with Put.
//
// Example:
//
//	cols := []mesa.Column{
//	    {Name: "u_id", Type: mesa.IntType},
//	    {Name: "name", Type: mesa.TextType},
//	}
//	table := mesa.NewTable("users", cols)
//	snap.Put(table)
func NewTable(name string, cols []Column) *Table {
	return storage.NewTable(name, cols)
}

// ============================================================================
// Plan Evaluation
// ============================================================================

// Evaluate runs a built plan against the snapshot and returns the result.
//
// The context allows for cancellation and timeout control. Evaluation is
// read-only: the snapshot is never modified, and any number of evaluations
// may run concurrently against the same snapshot.
//
// The plan is validated before any row is touched, so structurally broken
// plans (a rank window without an order, a join without keys) fail fast.
//
// Example:
//
//	rs, err := mesa.Evaluate(ctx, snap,
//	    mesa.From("orders").
//	        GroupBy("restaurant_id").
//	        Aggregate(mesa.Sum(mesa.Col("amount"), "revenue")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, row := range rs.Rows {
//	    rev, _ := mesa.GetVal(row, "revenue")
//	    fmt.Println(rev)
//	}
func Evaluate(ctx context.Context, snap *Snapshot, qb *QueryBuilder) (*ResultSet, error) {
	q := qb.Build()
	return engine.Evaluate(ctx, snap, &q)
}

// EvaluatePlan runs an already built Query. Use this when plans are built
// once and reused, for example out of a report catalog.
func EvaluatePlan(ctx context.Context, snap *Snapshot, q *Query) (*ResultSet, error) {
	return engine.Evaluate(ctx, snap, q)
}

// ============================================================================
// Key Sets - Membership test inputs
// ============================================================================

// NewKeySet creates a key set holding the given values, for In and NotIn.
// Values are normalized the way join keys are, so int variants of the same
// number land on the same key.
func NewKeySet(values ...any) *KeySet {
	return engine.NewKeySet(values...)
}

// KeySetFromTable collects one column of a table into a key set. A null in
// the column is remembered and makes NOT IN misses unknown rather than
// true.
//
// Example:
//
//	orders, _ := snap.Get("orders")
//	ordered, _ := mesa.KeySetFromTable(orders, "user_id")
//	q := mesa.From("users").
//	    Where(mesa.NotIn(mesa.Col("user_id"), ordered))
func KeySetFromTable(t *Table, column string) (*KeySet, error) {
	return engine.KeySetFromTable(t, column)
}

// KeySetFromResult collects one column of a result set into a key set,
// allowing one evaluation's output to feed the next plan's membership test.
func KeySetFromResult(rs *ResultSet, column string) (*KeySet, error) {
	return engine.KeySetFromResult(rs, column)
}

// ============================================================================
// Result Access Helpers
// ============================================================================

// GetVal retrieves a value from a result row by column name
// (case-insensitive).
//
// Returns the value and true if the column exists, or nil and false
// otherwise. A present column holding null returns nil and true, which is
// how null results are told apart from missing columns.
//
// Example:
//
//	for _, row := range rs.Rows {
//	    name, ok := mesa.GetVal(row, "Name") // case-insensitive
//	    if ok {
//	        fmt.Printf("name: %v\n", name)
//	    }
//	}
func GetVal(row Row, name string) (any, bool) {
	v, ok := row[strings.ToLower(name)]
	return v, ok
}

// ============================================================================
// Persistence - GOB Serialization
// ============================================================================

// SaveToFile serializes the snapshot to a GOB file.
//
// This writes all tables, rows and metadata along with the snapshot's
// identity. Names ending in .gz are gzip-compressed. The file can be loaded
// later with LoadFromFile.
//
// Example:
//
//	err := mesa.SaveToFile(snap, "delivery.gob.gz")
//	if err != nil {
//	    log.Fatal(err)
//	}
func SaveToFile(snap *Snapshot, filename string) error {
	return storage.SaveToFile(snap, filename)
}

// LoadFromFile deserializes a snapshot from a GOB file created by
// SaveToFile.
//
// The restored snapshot keeps the identity and timestamp it was saved
// with, so a report run can state exactly which data revision it read.
//
// Example:
//
//	snap, err := mesa.LoadFromFile("delivery.gob.gz")
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadFromFile(filename string) (*Snapshot, error) {
	return storage.LoadFromFile(filename)
}

// SaveToBytes serializes the snapshot to a byte slice.
func SaveToBytes(snap *Snapshot) ([]byte, error) {
	return storage.SaveToBytes(snap)
}

// LoadFromBytes deserializes a snapshot from a byte slice created by
// SaveToBytes.
func LoadFromBytes(data []byte) (*Snapshot, error) {
	return storage.LoadFromBytes(data)
}
