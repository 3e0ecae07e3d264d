package testhelper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mesadb/mesa"
	"github.com/mesadb/mesa/reports"
)

// Structure mirrors tests/reports.yml.
type fixtureFile struct {
	Tables map[string]fixtureTable `yaml:"tables"`
	Cases  []fixtureCase           `yaml:"cases"`
}

type fixtureTable struct {
	Cols []string `yaml:"cols"` // "name type" pairs, e.g. "order_id int"
	Rows [][]any  `yaml:"rows"`
}

type fixtureCase struct {
	ID     string `yaml:"id"`
	Report string `yaml:"report"`
	Params struct {
		Top   int       `yaml:"top"`
		User  int64     `yaml:"user"`
		Since time.Time `yaml:"since"`
		Until time.Time `yaml:"until"`
	} `yaml:"params"`
	Expected struct {
		Cols []string         `yaml:"cols"`
		Rows []map[string]any `yaml:"rows"`
	} `yaml:"expected"`
}

// TestReportsYAML replays every case in tests/reports.yml against one
// snapshot built from the fixture tables and compares full result sets.
// The cases are the golden outputs of the delivery catalog.
func TestReportsYAML(t *testing.T) {
	fixture := loadFixture(t)
	snap := buildSnapshot(t, fixture.Tables)
	cat := reports.DefaultCatalog()

	for _, tc := range fixture.Cases {
		tc := tc
		t.Run(tc.ID, func(t *testing.T) {
			p := reports.Params{
				TopN:   tc.Params.Top,
				UserID: tc.Params.User,
				Since:  tc.Params.Since,
				Until:  tc.Params.Until,
			}
			rr, err := cat.Run(context.Background(), snap, tc.Report, p)
			if err != nil {
				t.Fatalf("run %s: %v", tc.Report, err)
			}
			if rr.Err != nil {
				t.Fatalf("report %s: %v", tc.Report, rr.Err)
			}
			compareResult(t, tc, rr.Result)
		})
	}
}

// loadFixture locates tests/reports.yml. The working directory during
// `go test` is the package folder, so try a few relative candidates and
// take the first that exists.
func loadFixture(t *testing.T) *fixtureFile {
	t.Helper()
	candidates := []string{
		filepath.Join("tests", "reports.yml"),
		filepath.Join("..", "..", "tests", "reports.yml"),
		filepath.Join("..", "..", "..", "tests", "reports.yml"),
	}
	for _, p := range candidates {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var f fixtureFile
		if err := yaml.Unmarshal(b, &f); err != nil {
			t.Fatalf("parse %s: %v", p, err)
		}
		return &f
	}
	t.Fatalf("tests/reports.yml not found (tried %v)", candidates)
	return nil
}

func buildSnapshot(t *testing.T, tables map[string]fixtureTable) *mesa.Snapshot {
	t.Helper()
	snap := mesa.NewSnapshot()

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ft := tables[name]
		cols := make([]mesa.Column, len(ft.Cols))
		types := make([]mesa.ColType, len(ft.Cols))
		for i, spec := range ft.Cols {
			colName, typ, err := parseColSpec(spec)
			if err != nil {
				t.Fatalf("table %s: %v", name, err)
			}
			cols[i] = mesa.Column{Name: colName, Type: typ}
			types[i] = typ
		}
		tbl := mesa.NewTable(name, cols)
		for ri, row := range ft.Rows {
			vals := make([]any, len(row))
			for ci, cell := range row {
				v, err := coerceCell(cell, types[ci])
				if err != nil {
					t.Fatalf("table %s row %d column %s: %v", name, ri, cols[ci].Name, err)
				}
				vals[ci] = v
			}
			if err := tbl.Append(vals...); err != nil {
				t.Fatalf("append to %s: %v", name, err)
			}
		}
		if err := snap.Put(tbl); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	return snap
}

func parseColSpec(spec string) (string, mesa.ColType, error) {
	fields := strings.Fields(spec)
	if len(fields) != 2 {
		return "", mesa.TextType, fmt.Errorf("column spec %q: want \"name type\"", spec)
	}
	typ, err := colTypeOf(fields[1])
	return fields[0], typ, err
}

func colTypeOf(s string) (mesa.ColType, error) {
	switch strings.ToLower(s) {
	case "int":
		return mesa.IntType, nil
	case "float":
		return mesa.FloatType, nil
	case "text":
		return mesa.TextType, nil
	case "bool":
		return mesa.BoolType, nil
	case "date":
		return mesa.DateType, nil
	case "time":
		return mesa.TimeType, nil
	}
	return mesa.TextType, fmt.Errorf("unknown column type %q", s)
}

// coerceCell converts the types yaml.v3 produces into the values the
// tables store: ints widen to int64, numerics in float columns to
// float64, dates arrive as time.Time already.
func coerceCell(v any, typ mesa.ColType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case mesa.IntType:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int64:
			return x, nil
		}
	case mesa.FloatType:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		}
	case mesa.TextType:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case mesa.BoolType:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case mesa.DateType, mesa.TimeType:
		if ts, ok := v.(time.Time); ok {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("cannot store %T in a %s column", v, typ)
}

func compareResult(t *testing.T, tc fixtureCase, rs *mesa.ResultSet) {
	t.Helper()

	want, got := lowerAll(tc.Expected.Cols), lowerAll(rs.Cols)
	if !equalStrings(want, got) {
		t.Fatalf("columns differ\nwant: %v\ngot:  %v", tc.Expected.Cols, rs.Cols)
	}
	if len(rs.Rows) != len(tc.Expected.Rows) {
		t.Fatalf("row count = %d, want %d", len(rs.Rows), len(tc.Expected.Rows))
	}
	for i, wantRow := range tc.Expected.Rows {
		for col, wantVal := range wantRow {
			gotVal, ok := lookup(rs.Rows[i], col)
			if !ok {
				t.Fatalf("row %d has no column %q (keys %v)", i, col, rowKeys(rs.Rows[i]))
			}
			if !cellEqual(wantVal, gotVal) {
				t.Fatalf("row %d column %s = %v (%T), want %v (%T)",
					i, col, gotVal, gotVal, wantVal, wantVal)
			}
		}
	}
}

// lookup finds a column in a result row by its bare name or by any
// qualified key ending in ".name".
func lookup(row mesa.Row, col string) (any, bool) {
	key := strings.ToLower(col)
	if v, ok := row[key]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.HasSuffix(k, "."+key) {
			return v, true
		}
	}
	return nil, false
}

func rowKeys(row mesa.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cellEqual compares an expected YAML value against an engine value.
// Numerics compare across int, int64 and float64; dates by time.Equal.
func cellEqual(want, got any) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	if wt, ok := want.(time.Time); ok {
		gt, ok := got.(time.Time)
		return ok && wt.Equal(gt)
	}
	if wf, ok := toFloat(want); ok {
		gf, gok := toFloat(got)
		return gok && wf == gf
	}
	return want == got
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
