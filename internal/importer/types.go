package importer

import (
	"strconv"
	"strings"
	"time"

	"github.com/mesadb/mesa/internal/storage"
)

// ============================================================================
// Type Inference - Detect column types from sample data
// ============================================================================

// inferColumnTypes analyzes sample data to determine the best column type
// for each column. Values vote in order of specificity: BOOL, INT, FLOAT,
// DATE, TIME, TEXT.
func inferColumnTypes(sampleData [][]string, numCols int, opts *ImportOptions) []storage.ColType {
	types := make([]storage.ColType, numCols)

	votes := make([]map[storage.ColType]int, numCols)
	for i := range votes {
		votes[i] = make(map[storage.ColType]int)
	}

	for _, row := range sampleData {
		for colIdx := 0; colIdx < numCols; colIdx++ {
			var val string
			if colIdx < len(row) {
				val = strings.TrimSpace(row[colIdx])
			}

			// Nulls carry no type information.
			if isNullValue(val, opts.NullLiterals) {
				continue
			}

			votes[colIdx][detectValueType(val, opts.DateTimeFormats)]++
		}
	}

	for colIdx := 0; colIdx < numCols; colIdx++ {
		types[colIdx] = determineColumnType(votes[colIdx])
	}

	return types
}

// detectValueType parses a single value and returns its most specific type.
func detectValueType(val string, dateFormats []string) storage.ColType {
	if val == "" {
		return storage.TextType
	}

	lower := strings.ToLower(val)
	if lower == "true" || lower == "false" || lower == "yes" || lower == "no" ||
		(len(val) == 1 && (lower == "t" || lower == "f" || lower == "y" || lower == "n")) {
		return storage.BoolType
	}

	if _, err := strconv.ParseInt(val, 10, 64); err == nil {
		return storage.IntType
	}

	if _, err := strconv.ParseFloat(val, 64); err == nil {
		return storage.FloatType
	}

	for _, layout := range dateFormats {
		if _, err := time.Parse(layout, val); err == nil {
			if dateOnlyLayout(layout) {
				return storage.DateType
			}
			return storage.TimeType
		}
	}

	return storage.TextType
}

// dateOnlyLayout reports whether a layout carries no clock component.
func dateOnlyLayout(layout string) bool {
	return !strings.ContainsAny(layout, ":")
}

// determineColumnType picks the final type for a column: the most specific
// type covering at least 80% of the non-null values, else TEXT. INT is
// promoted to FLOAT when floats appear alongside.
func determineColumnType(votes map[storage.ColType]int) storage.ColType {
	if len(votes) == 0 {
		return storage.TextType
	}

	totalVotes := 0
	for _, count := range votes {
		totalVotes += count
	}
	if totalVotes == 0 {
		return storage.TextType
	}

	boolCount := votes[storage.BoolType]
	intCount := votes[storage.IntType]
	floatCount := votes[storage.FloatType]
	dateCount := votes[storage.DateType]
	timeCount := votes[storage.TimeType]

	threshold := float64(totalVotes) * 0.80

	if float64(boolCount) >= threshold {
		return storage.BoolType
	}
	if float64(dateCount) >= threshold {
		return storage.DateType
	}
	if float64(dateCount+timeCount) >= threshold {
		return storage.TimeType
	}
	if float64(intCount) >= threshold && floatCount == 0 {
		return storage.IntType
	}
	if float64(intCount+floatCount) >= threshold {
		return storage.FloatType
	}

	return storage.TextType
}

// isNullValue checks if a value should be treated as null.
func isNullValue(val string, nullLiterals []string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(val))
	for _, nl := range nullLiterals {
		if trimmed == strings.ToLower(strings.TrimSpace(nl)) {
			return true
		}
	}
	return false
}

// convertValue converts a string value to the Go type backing the column
// type. Null literals convert to nil regardless of column type.
func convertValue(val string, colType storage.ColType, dateFormats []string, nullLiterals []string) (any, error) {
	val = strings.TrimSpace(val)

	if isNullValue(val, nullLiterals) {
		return nil, nil
	}

	switch colType {
	case storage.BoolType:
		return parseBool(val)

	case storage.IntType:
		return strconv.ParseInt(val, 10, 64)

	case storage.FloatType:
		return strconv.ParseFloat(val, 64)

	case storage.DateType, storage.TimeType:
		return parseDateTime(val, dateFormats)

	default:
		return val, nil
	}
}

// parseBool handles the boolean spellings detectValueType accepts.
func parseBool(val string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	default:
		return strconv.ParseBool(val)
	}
}

// parseDateTime tries the configured layouts in order.
func parseDateTime(val string, formats []string) (time.Time, error) {
	for _, layout := range formats {
		if t, err := time.Parse(layout, val); err == nil {
			return t, nil
		}
	}
	return time.Time{}, strconv.ErrSyntax
}
