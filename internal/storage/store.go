// Package storage provides the tabular data structures for mesa.
//
// What: An in-memory snapshot of typed, ordered tables with column metadata
// and key lookup, plus GOB-based snapshot persistence. A snapshot is the unit
// the evaluator reads from; it carries a UUID identity and a creation time so
// derived results can say which dataset they came from.
// How: Tables store rows as [][]any for compactness; a lower-cased column
// index accelerates name lookups. Rows keep insertion order, which is the
// scan order callers may rely on. Save/Load serialize the whole snapshot,
// gzip-compressed when the filename ends in .gz.
// Why: Evaluation here is pure and read-only, so a plain deep-copyable
// catalog beats page managers and write paths: any number of readers can
// share one snapshot without coordination.
package storage

import (
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

func init() {
	// Values inside the []any rows cross the gob boundary as interfaces,
	// so every concrete type a column can hold must be registered.
	gob.Register(time.Time{})
	gob.Register(uuid.UUID{})
	gob.Register(int64(0))
	gob.Register(float64(0))
}

// Sentinel errors for the two failure modes a read-only store can have.
// Both are configuration errors on the caller's side and are fatal: there is
// no retry that makes an unknown name known.
var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
)

// ColType enumerates supported column data types.
type ColType int

const (
	IntType ColType = iota
	FloatType
	TextType
	BoolType
	DateType
	TimeType
)

var colTypeToString = map[ColType]string{
	IntType:   "INT",
	FloatType: "FLOAT",
	TextType:  "TEXT",
	BoolType:  "BOOL",
	DateType:  "DATE",
	TimeType:  "TIME",
}

func (t ColType) String() string {
	if s, ok := colTypeToString[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// ConstraintType enumerates supported column constraints.
type ConstraintType int

const (
	NoConstraint ConstraintType = iota
	PrimaryKey
	ForeignKey
	Unique
)

func (c ConstraintType) String() string {
	switch c {
	case PrimaryKey:
		return "PRIMARY KEY"
	case ForeignKey:
		return "FOREIGN KEY"
	case Unique:
		return "UNIQUE"
	default:
		return ""
	}
}

// ForeignKeyRef describes a foreign key reference target.
type ForeignKeyRef struct {
	Table  string
	Column string
}

// Column holds column schema information in a table.
type Column struct {
	Name       string
	Type       ColType
	Constraint ConstraintType
	ForeignKey *ForeignKeyRef // only used if Constraint == ForeignKey
}

// Table stores rows along with column metadata. Rows keep insertion order;
// Scan iterates them in exactly that order.
type Table struct {
	Name   string
	Cols   []Column
	Rows   [][]any
	colPos map[string]int
}

// NewTable creates a new Table with case-insensitive column lookup indices.
func NewTable(name string, cols []Column) *Table {
	pos := make(map[string]int, len(cols))
	for i, c := range cols {
		pos[strings.ToLower(c.Name)] = i
	}
	return &Table{Name: name, Cols: cols, colPos: pos}
}

// ColIndex returns the zero-based index of the named column.
func (t *Table) ColIndex(name string) (int, error) {
	i, ok := t.colPos[strings.ToLower(name)]
	if !ok {
		return -1, fmt.Errorf("%w %q on table %q", ErrUnknownColumn, name, t.Name)
	}
	return i, nil
}

// ColNames returns the column names in declaration order.
func (t *Table) ColNames() []string {
	out := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		out[i] = c.Name
	}
	return out
}

// Append adds one row. The value count must match the column count; values
// are stored as given, nil meaning absent.
func (t *Table) Append(vals ...any) error {
	if len(vals) != len(t.Cols) {
		return fmt.Errorf("table %q expects %d values, got %d", t.Name, len(t.Cols), len(vals))
	}
	row := make([]any, len(vals))
	copy(row, vals)
	t.Rows = append(t.Rows, row)
	return nil
}

// MustAppend is Append for fixture construction; it panics on arity errors.
func (t *Table) MustAppend(vals ...any) {
	if err := t.Append(vals...); err != nil {
		panic(err)
	}
}

// Scan returns the table's rows in insertion order. The slice is shared with
// the table; callers treat it as read-only.
func (t *Table) Scan() [][]any {
	return t.Rows
}

// Lookup returns the first row whose keyCol equals key, or ok=false when no
// row matches. Absence is not an error; only an unknown column is.
func (t *Table) Lookup(keyCol string, key any) ([]any, bool, error) {
	ci, err := t.ColIndex(keyCol)
	if err != nil {
		return nil, false, err
	}
	kk := KeyOf(key)
	for _, r := range t.Rows {
		if KeyOf(r[ci]) == kk {
			return r, true, nil
		}
	}
	return nil, false, nil
}

// KeyOf normalizes a value for key equality: integer kinds collapse to
// int64, float32 widens to float64, times reduce to UTC nanoseconds. Using
// the normalized form as a map key gives hash-join and lookup semantics that
// agree with the evaluator's comparison rules. nil stays nil and never
// equals anything but itself here; null-aware predicates handle it above.
func KeyOf(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC().UnixNano()
	default:
		return v
	}
}

// Snapshot is an immutable-by-convention catalog of tables. Build it, hand
// it to readers, and stop mutating: every evaluator call is a pure function
// of its contents. The mutex only guards the build phase and table listing
// against racy fixture loaders.
type Snapshot struct {
	mu      sync.RWMutex
	id      uuid.UUID
	takenAt time.Time
	tables  map[string]*Table
}

// NewSnapshot creates an empty snapshot with a fresh identity.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		id:      uuid.New(),
		takenAt: time.Now().UTC(),
		tables:  map[string]*Table{},
	}
}

// ID returns the snapshot's identity.
func (s *Snapshot) ID() uuid.UUID { return s.id }

// TakenAt returns the snapshot's creation time (UTC).
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Put adds a table; it is an error if the name is already taken.
func (s *Snapshot) Put(t *Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc := strings.ToLower(t.Name)
	if _, exists := s.tables[lc]; exists {
		return fmt.Errorf("table %q already exists", t.Name)
	}
	s.tables[lc] = t
	return nil
}

// MustPut is Put for fixture construction; it panics on duplicates.
func (s *Snapshot) MustPut(t *Table) {
	if err := s.Put(t); err != nil {
		panic(err)
	}
}

// Get returns a table by name.
func (s *Snapshot) Get(name string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Drop removes a table by name.
func (s *Snapshot) Drop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc := strings.ToLower(name)
	if _, ok := s.tables[lc]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownTable, name)
	}
	delete(s.tables, lc)
	return nil
}

// ListTables returns the tables sorted by name.
func (s *Snapshot) ListTables() []*Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.tables) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.tables))
	for k := range s.tables {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]*Table, len(names))
	for i, n := range names {
		out[i] = s.tables[n]
	}
	return out
}

// Clone creates a full deep copy with a new identity. Use it when a loader
// wants to derive a modified dataset without touching one already shared
// with readers.
func (s *Snapshot) Clone() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := NewSnapshot()
	for _, t := range s.tables {
		cols := make([]Column, len(t.Cols))
		copy(cols, t.Cols)
		nt := NewTable(t.Name, cols)
		nt.Rows = make([][]any, len(t.Rows))
		for i := range t.Rows {
			row := make([]any, len(t.Rows[i]))
			copy(row, t.Rows[i])
			nt.Rows[i] = row
		}
		out.tables[strings.ToLower(nt.Name)] = nt
	}
	return out
}
