// Tests for the importer package. They cover the behavioral guarantees of
// ImportCSV (delimiter detection, header handling, type inference, null
// handling, charset decoding) rather than end-to-end CLI flows.
package importer

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mesadb/mesa/internal/storage"
)

// TestImportCSVBasic verifies a simple CSV with header is imported and
// rows/columns are recorded as expected.
func TestImportCSVBasic(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	csvData := `id,name,age
1,Alice,30
2,Bob,25
3,Charlie,35`

	result, err := ImportCSV(ctx, snap, "users",
		strings.NewReader(csvData), &ImportOptions{
			CreateTable:   true,
			TypeInference: true,
			HeaderMode:    "present",
		})

	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	if result.RowsInserted != 3 {
		t.Errorf("Expected 3 rows inserted, got %d", result.RowsInserted)
	}

	if len(result.ColumnNames) != 3 {
		t.Errorf("Expected 3 columns, got %d", len(result.ColumnNames))
	}

	if result.Delimiter != ',' {
		t.Errorf("Expected comma delimiter, got %c", result.Delimiter)
	}

	if result.Encoding != "utf-8" {
		t.Errorf("Expected utf-8 encoding, got %s", result.Encoding)
	}

	tbl, err := snap.Get("users")
	if err != nil {
		t.Fatalf("Failed to get table: %v", err)
	}

	if len(tbl.Rows) != 3 {
		t.Errorf("Expected 3 rows in table, got %d", len(tbl.Rows))
	}

	// Typed conversion: ids are int64, names text.
	if tbl.Rows[0][0] != int64(1) {
		t.Errorf("Expected int64(1) id, got %T %v", tbl.Rows[0][0], tbl.Rows[0][0])
	}
	if tbl.Rows[0][1] != "Alice" {
		t.Errorf("Expected Alice, got %v", tbl.Rows[0][1])
	}
}

// TestImportCSVNoHeader verifies behavior when the CSV has no header row:
// the importer synthesizes column names (col_1, col_2, ...).
func TestImportCSVNoHeader(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	csvData := `1,Alice,30
2,Bob,25
3,Charlie,35`

	result, err := ImportCSV(ctx, snap, "users",
		strings.NewReader(csvData), &ImportOptions{
			CreateTable: true,
			HeaderMode:  "absent",
		})

	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	if result.RowsInserted != 3 {
		t.Errorf("Expected 3 rows, got %d", result.RowsInserted)
	}

	expectedNames := []string{"col_1", "col_2", "col_3"}
	for i, name := range expectedNames {
		if result.ColumnNames[i] != name {
			t.Errorf("Expected column %s, got %s", name, result.ColumnNames[i])
		}
	}
}

// TestImportCSVTabDelimiter ensures the importer detects a tab delimiter
// and imports TSV data correctly.
func TestImportCSVTabDelimiter(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	tsvData := "id\tname\tage\n1\tAlice\t30\n2\tBob\t25"

	result, err := ImportCSV(ctx, snap, "users",
		strings.NewReader(tsvData), &ImportOptions{
			CreateTable: true,
		})

	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	if result.Delimiter != '\t' {
		t.Errorf("Expected tab delimiter, got %c", result.Delimiter)
	}

	if result.RowsInserted != 2 {
		t.Errorf("Expected 2 rows, got %d", result.RowsInserted)
	}
}

// TestImportCSVTypeInference checks that type inference classifies integer,
// text, float, boolean, date and datetime sample columns.
func TestImportCSVTypeInference(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	csvData := `id,name,price,active,day,created
1,Widget,19.99,true,2024-01-01,2024-01-01 08:30:00
2,Gadget,29.99,false,2024-01-02,2024-01-02 09:15:00
3,Doohickey,39.99,true,2024-01-03,2024-01-03 10:00:00`

	result, err := ImportCSV(ctx, snap, "products",
		strings.NewReader(csvData), &ImportOptions{
			CreateTable:   true,
			TypeInference: true,
			HeaderMode:    "present",
		})

	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	want := []storage.ColType{
		storage.IntType,
		storage.TextType,
		storage.FloatType,
		storage.BoolType,
		storage.DateType,
		storage.TimeType,
	}
	for i, wt := range want {
		if result.ColumnTypes[i] != wt {
			t.Errorf("Column %s: expected %v, got %v",
				result.ColumnNames[i], wt, result.ColumnTypes[i])
		}
	}

	// Date columns land as time.Time values.
	tbl, _ := snap.Get("products")
	if _, ok := tbl.Rows[0][4].(time.Time); !ok {
		t.Errorf("Expected time.Time day value, got %T", tbl.Rows[0][4])
	}
}

// TestImportCSVNullHandling verifies that configured null literal strings
// become nil values on import.
func TestImportCSVNullHandling(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	csvData := `id,name,age
1,Alice,30
2,,25
3,Charlie,`

	result, err := ImportCSV(ctx, snap, "users",
		strings.NewReader(csvData), &ImportOptions{
			CreateTable:   true,
			TypeInference: false,
			NullLiterals:  []string{"", "N/A", "null"},
		})

	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	if result.RowsInserted != 3 {
		t.Errorf("Expected 3 rows, got %d", result.RowsInserted)
	}

	tbl, _ := snap.Get("users")

	if tbl.Rows[1][1] != nil {
		t.Errorf("Expected nil for row 2 name, got %v", tbl.Rows[1][1])
	}
	if tbl.Rows[2][2] != nil {
		t.Errorf("Expected nil for row 3 age, got %v", tbl.Rows[2][2])
	}
}

// TestImportCSVQuotedFields verifies parsing with quoted fields containing
// delimiters and escaped quotes.
func TestImportCSVQuotedFields(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	csvData := `id,desc
1,"Hello, world"
2,"He said ""Hi"""`

	result, err := ImportCSV(ctx, snap, "quotes",
		strings.NewReader(csvData), &ImportOptions{CreateTable: true})
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}
	if result.RowsInserted != 2 {
		t.Fatalf("expected 2 rows inserted, got %d", result.RowsInserted)
	}

	tbl, _ := snap.Get("quotes")
	if tbl.Rows[0][1] != "Hello, world" {
		t.Fatalf("expected first desc to be Hello, world, got %v", tbl.Rows[0][1])
	}
	if tbl.Rows[1][1] != `He said "Hi"` {
		t.Fatalf("expected second desc to contain escaped quotes, got %v", tbl.Rows[1][1])
	}
}

// TestImportCSVCRLF ensures CRLF line endings are handled correctly.
func TestImportCSVCRLF(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()
	csvData := "id,name\r\n1,Alice\r\n2,Bob\r\n"

	result, err := ImportCSV(ctx, snap, "crlf",
		strings.NewReader(csvData), &ImportOptions{CreateTable: true})
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}
	if result.RowsInserted != 2 {
		t.Fatalf("expected 2 rows inserted, got %d", result.RowsInserted)
	}
}

// TestImportCSVGzip verifies transparent gzip decompression.
func TestImportCSVGzip(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte("id,name\n1,Alice\n2,Bob\n")); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	result, err := ImportCSV(ctx, snap, "zipped", &buf,
		&ImportOptions{CreateTable: true, HeaderMode: "present"})
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}
	if result.RowsInserted != 2 {
		t.Fatalf("expected 2 rows inserted, got %d", result.RowsInserted)
	}

	tbl, _ := snap.Get("zipped")
	if tbl.Rows[1][1] != "Bob" {
		t.Fatalf("expected Bob, got %v", tbl.Rows[1][1])
	}
}

// TestImportCSVIntoExistingTable checks that an existing table's declared
// types win over inference and Truncate clears prior rows.
func TestImportCSVIntoExistingTable(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	tbl := storage.NewTable("orders", []storage.Column{
		{Name: "order_id", Type: storage.IntType},
		{Name: "code", Type: storage.TextType},
	})
	tbl.MustAppend(int64(1), "old")
	snap.MustPut(tbl)

	// The code column holds digit strings; inference alone would call it
	// INT, the declared schema keeps it TEXT.
	csvData := "order_id,code\n10,001\n11,002\n"

	result, err := ImportCSV(ctx, snap, "orders",
		strings.NewReader(csvData), &ImportOptions{
			Truncate:   true,
			HeaderMode: "present",
		})
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	if result.RowsInserted != 2 {
		t.Fatalf("expected 2 rows inserted, got %d", result.RowsInserted)
	}
	if result.ColumnTypes[1] != storage.TextType {
		t.Fatalf("expected declared TEXT to win, got %v", result.ColumnTypes[1])
	}

	if len(tbl.Rows) != 2 {
		t.Fatalf("expected truncate to drop the old row, have %d rows", len(tbl.Rows))
	}
	if tbl.Rows[0][1] != "001" {
		t.Fatalf("expected code 001 as text, got %T %v", tbl.Rows[0][1], tbl.Rows[0][1])
	}
	if tbl.Rows[0][0] != int64(10) {
		t.Fatalf("expected order_id int64(10), got %T %v", tbl.Rows[0][0], tbl.Rows[0][0])
	}
}

// TestImportCSVColumnCountMismatch rejects input whose width differs from
// the existing table.
func TestImportCSVColumnCountMismatch(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()
	snap.MustPut(storage.NewTable("t", []storage.Column{
		{Name: "a", Type: storage.IntType},
	}))

	_, err := ImportCSV(ctx, snap, "t",
		strings.NewReader("a,b\n1,2\n"), &ImportOptions{HeaderMode: "present"})
	if err == nil {
		t.Fatal("expected column count mismatch error")
	}
}

// TestImportCSVStrictTypesStops verifies that StrictTypes halts at the
// first unconvertible row.
func TestImportCSVStrictTypesStops(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	tbl := storage.NewTable("nums", []storage.Column{
		{Name: "id", Type: storage.IntType},
		{Name: "n", Type: storage.IntType},
	})
	snap.MustPut(tbl)

	csvData := "id,n\n1,10\n2,oops\n3,30\n"

	result, err := ImportCSV(ctx, snap, "nums",
		strings.NewReader(csvData), &ImportOptions{
			HeaderMode:  "present",
			StrictTypes: true,
		})
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	if result.RowsSkipped != 1 {
		t.Errorf("expected 1 skipped row, got %d", result.RowsSkipped)
	}
	if len(result.Errors) == 0 {
		t.Error("expected the bad row to be reported")
	}
	// Row 3 never gets processed: strict mode stops at row 2.
	for _, r := range tbl.Rows {
		if r[0] == int64(3) {
			t.Error("row after the bad one should not be inserted")
		}
	}
}

// TestImportCSVLenientKeepsRawText verifies the default mode keeps the raw
// cell text when conversion fails.
func TestImportCSVLenientKeepsRawText(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	tbl := storage.NewTable("nums", []storage.Column{
		{Name: "id", Type: storage.IntType},
		{Name: "n", Type: storage.IntType},
	})
	snap.MustPut(tbl)

	csvData := "id,n\n1,10\n2,oops\n"

	result, err := ImportCSV(ctx, snap, "nums",
		strings.NewReader(csvData), &ImportOptions{HeaderMode: "present"})
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	if result.RowsInserted != 2 {
		t.Fatalf("expected 2 rows inserted, got %d", result.RowsInserted)
	}
	if tbl.Rows[1][1] != "oops" {
		t.Fatalf("expected raw text for bad cell, got %T %v", tbl.Rows[1][1], tbl.Rows[1][1])
	}
}

// TestImportCSVCreateTableDisabled requires an existing table when
// CreateTable is off.
func TestImportCSVCreateTableDisabled(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewSnapshot()

	_, err := ImportCSV(ctx, snap, "missing",
		strings.NewReader("a,b\n1,2\n"), &ImportOptions{
			Truncate:   true, // suppresses the CreateTable default
			HeaderMode: "present",
		})
	if err == nil {
		t.Fatal("expected error for missing table with CreateTable disabled")
	}
}

// TestImportCSVCancelledContext aborts the import.
func TestImportCSVCancelledContext(t *testing.T) {
	snap := storage.NewSnapshot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ImportCSV(ctx, snap, "t",
		strings.NewReader("a,b\n1,2\n3,4\n"), &ImportOptions{CreateTable: true})
	if err == nil {
		t.Fatal("expected context error")
	}
}

// TestTypeInferenceInteger asserts that integer-like samples infer INT.
func TestTypeInferenceInteger(t *testing.T) {
	samples := [][]string{
		{"1", "2", "3"},
		{"10", "20", "30"},
		{"100", "200", "300"},
	}

	types := inferColumnTypes(samples, 3, &ImportOptions{
		TypeInference: true,
		NullLiterals:  []string{""},
	})

	if types[0] != storage.IntType {
		t.Errorf("Expected INT type, got %v", types[0])
	}
}

// TestTypeInferenceFloatPromotion asserts a mix of ints and floats infers
// FLOAT rather than TEXT.
func TestTypeInferenceFloatPromotion(t *testing.T) {
	samples := [][]string{
		{"1", "1.5"},
		{"2", "2.7"},
		{"3", "3"},
	}

	types := inferColumnTypes(samples, 2, &ImportOptions{
		TypeInference: true,
		NullLiterals:  []string{""},
	})

	if types[0] != storage.IntType {
		t.Errorf("Column 0: expected INT type, got %v", types[0])
	}
	if types[1] != storage.FloatType {
		t.Errorf("Column 1: expected FLOAT type, got %v", types[1])
	}
}

// TestTypeInferenceBoolean asserts that boolean-like samples infer BOOL.
func TestTypeInferenceBoolean(t *testing.T) {
	samples := [][]string{
		{"true", "false", "true"},
		{"false", "true", "false"},
		{"true", "true", "false"},
	}

	types := inferColumnTypes(samples, 3, &ImportOptions{
		TypeInference: true,
		NullLiterals:  []string{""},
	})

	for i := 0; i < 3; i++ {
		if types[i] != storage.BoolType {
			t.Errorf("Column %d: expected BOOL type, got %v", i, types[i])
		}
	}
}

// TestTypeInferenceDates distinguishes date-only from datetime layouts.
func TestTypeInferenceDates(t *testing.T) {
	samples := [][]string{
		{"2024-01-01", "2024-01-01 10:30:00"},
		{"2024-02-15", "2024-02-15 11:00:00"},
	}

	opts := &ImportOptions{}
	applyDefaults(opts)

	types := inferColumnTypes(samples, 2, opts)
	if types[0] != storage.DateType {
		t.Errorf("Column 0: expected DATE type, got %v", types[0])
	}
	if types[1] != storage.TimeType {
		t.Errorf("Column 1: expected TIME type, got %v", types[1])
	}
}

// TestTypeInferenceMixedDefaultsToText ensures mixed-type columns fall back
// to TEXT to preserve data.
func TestTypeInferenceMixedDefaultsToText(t *testing.T) {
	samples := [][]string{
		{"1", "text", "true"},
		{"2", "more text", "3.14"},
		{"three", "100", "false"},
	}

	types := inferColumnTypes(samples, 3, &ImportOptions{
		TypeInference: true,
		NullLiterals:  []string{""},
	})

	for i := 0; i < 3; i++ {
		if types[i] != storage.TextType {
			t.Errorf("Column %d: expected TEXT type, got %v", i, types[i])
		}
	}
}

// TestTypeInferenceNullsCarryNoVotes checks that null literals do not drag
// a typed column down to TEXT.
func TestTypeInferenceNullsCarryNoVotes(t *testing.T) {
	samples := [][]string{
		{"1"},
		{""},
		{"null"},
		{"3"},
	}

	opts := &ImportOptions{}
	applyDefaults(opts)

	types := inferColumnTypes(samples, 1, opts)
	if types[0] != storage.IntType {
		t.Errorf("Expected INT despite nulls, got %v", types[0])
	}
}

// TestDelimiterDetection checks that common delimiters are detected from
// example lines.
func TestDelimiterDetection(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		expected rune
	}{
		{"comma", "a,b,c\n1,2,3", ','},
		{"semicolon", "a;b;c\n1;2;3", ';'},
		{"tab", "a\tb\tc\n1\t2\t3", '\t'},
		{"pipe", "a|b|c\n1|2|3", '|'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := splitUniversal(tt.data)
			delim := detectDelimiter(lines, []rune{',', ';', '\t', '|'})
			if delim != tt.expected {
				t.Errorf("Expected delimiter %c, got %c", tt.expected, delim)
			}
		})
	}
}

// TestSanitizeColumnNames ensures invalid characters are replaced and empty
// names become synthetic column names.
func TestSanitizeColumnNames(t *testing.T) {
	input := []string{"Name", "User-ID", "email.address", "", "age/years"}
	expected := []string{"Name", "User_ID", "email_address", "col_4", "age_years"}

	result := sanitizeColumnNames(input)

	for i, exp := range expected {
		if result[i] != exp {
			t.Errorf("Column %d: expected %s, got %s", i, exp, result[i])
		}
	}
}

// TestConvertValueSpellings covers the boolean and datetime spellings
// convertValue accepts.
func TestConvertValueSpellings(t *testing.T) {
	opts := &ImportOptions{}
	applyDefaults(opts)

	v, err := convertValue("Yes", storage.BoolType, opts.DateTimeFormats, opts.NullLiterals)
	if err != nil || v != true {
		t.Fatalf("expected true, got %v err %v", v, err)
	}

	v, err = convertValue("01/02/2006", storage.DateType, opts.DateTimeFormats, opts.NullLiterals)
	if err != nil {
		t.Fatalf("date conversion failed: %v", err)
	}
	tm, ok := v.(time.Time)
	if !ok || tm.Year() != 2006 {
		t.Fatalf("expected a 2006 time.Time, got %T %v", v, v)
	}

	v, err = convertValue("N/A", storage.IntType, opts.DateTimeFormats, opts.NullLiterals)
	if err != nil || v != nil {
		t.Fatalf("expected nil for null literal, got %v err %v", v, err)
	}
}
