package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mesadb/mesa/internal/storage"
)

// ============================================================================
// Table Operations
// ============================================================================

// targetTable resolves the destination table for an import. An existing
// table is reused (optionally truncated) and its declared column types
// override the inferred ones in colTypes; a missing table is created from
// the inferred schema when opts.CreateTable is set.
func targetTable(
	snap *storage.Snapshot,
	tableName string,
	colNames []string,
	colTypes []storage.ColType,
	opts *ImportOptions,
) (*storage.Table, error) {
	tbl, err := snap.Get(tableName)
	if err == nil {
		if len(tbl.Cols) != len(colNames) {
			return nil, fmt.Errorf("table %q has %d columns, input has %d",
				tableName, len(tbl.Cols), len(colNames))
		}
		// The declared schema wins over inference so converted values match
		// what the table already holds.
		for i := range tbl.Cols {
			colTypes[i] = tbl.Cols[i].Type
		}
		if opts.Truncate {
			tbl.Rows = tbl.Rows[:0]
		}
		return tbl, nil
	}
	if !errors.Is(err, storage.ErrUnknownTable) {
		return nil, err
	}
	if !opts.CreateTable {
		return nil, fmt.Errorf("table %q does not exist and CreateTable is disabled: %w",
			tableName, storage.ErrUnknownTable)
	}

	cols := make([]storage.Column, len(colNames))
	for i, name := range colNames {
		cols[i] = storage.Column{
			Name: name,
			Type: colTypes[i],
		}
	}
	tbl = storage.NewTable(tableName, cols)
	if err := snap.Put(tbl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", tableName, err)
	}
	return tbl, nil
}

// ============================================================================
// Data Insertion
// ============================================================================

// appendAllRecords converts and appends all records to the table with
// batching. With StrictTypes the first bad row aborts the import; otherwise
// bad rows are skipped and reported.
func appendAllRecords(
	ctx context.Context,
	tbl *storage.Table,
	colTypes []storage.ColType,
	allRecords [][]string,
	opts *ImportOptions,
) (rowsInserted int64, rowsSkipped int64, errs []string) {

	errs = make([]string, 0)
	batch := make([][]any, 0, opts.BatchSize)

	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		tbl.Rows = append(tbl.Rows, batch...)
		rowsInserted += int64(len(batch))
		batch = batch[:0]
	}

	for rowNum, rec := range allRecords {
		row, err := convertRow(rec, tbl.Cols, colTypes, opts)
		if err != nil {
			if opts.StrictTypes {
				errs = append(errs, fmt.Sprintf("row %d: %v", rowNum+1, err))
				return rowsInserted, rowsSkipped + 1, errs
			}
			errs = append(errs, fmt.Sprintf("row %d: %v (skipped)", rowNum+1, err))
			rowsSkipped++
			continue
		}

		batch = append(batch, row)
		if len(batch) >= opts.BatchSize {
			flushBatch()
		}

		select {
		case <-ctx.Done():
			errs = append(errs, "import cancelled")
			return rowsInserted, rowsSkipped, errs
		default:
		}
	}

	flushBatch()
	return rowsInserted, rowsSkipped, errs
}

// convertRow converts one record to a typed row matching the table's
// columns. Short records pad with empty values; extra fields are dropped.
func convertRow(rec []string, cols []storage.Column, colTypes []storage.ColType, opts *ImportOptions) ([]any, error) {
	row := make([]any, len(cols))

	for i := range cols {
		var val string
		if i < len(rec) {
			val = rec[i]
		}

		converted, err := convertValue(val, colTypes[i], opts.DateTimeFormats, opts.NullLiterals)
		if err != nil {
			if opts.StrictTypes {
				return nil, fmt.Errorf("column %s: %w", cols[i].Name, err)
			}
			// Lenient mode keeps the raw text rather than losing the cell.
			row[i] = val
			continue
		}
		row[i] = converted
	}

	return row, nil
}
