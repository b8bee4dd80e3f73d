package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cell spellings read as NULL, as spreadsheet tools and pandas treat them.
var nullTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// FromRecords builds a dataset from a header and string records, inferring
// one type per column from its non-null cells.
func FromRecords(name string, header []string, records [][]string) (*Dataset, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("dataset has no header row")
	}
	names := uniqueHeader(header)

	cells := make([][]string, 0, len(records))
	for i, record := range records {
		if blankRecord(record) {
			continue
		}
		if len(record) > len(names) {
			return nil, fmt.Errorf("line %d has %d fields, header has %d", i+2, len(record), len(names))
		}
		row := make([]string, len(names))
		copy(row, record)
		cells = append(cells, row)
	}

	columns := make([]Column, len(names))
	for c, columnName := range names {
		columns[c] = Column{Name: columnName, Type: inferColumn(cells, c)}
	}

	rows := make([][]any, len(cells))
	for r, record := range cells {
		row := make([]any, len(columns))
		for c, raw := range record {
			value, err := parseCell(columns[c].Type, raw)
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", r+2, columns[c].Name, err)
			}
			row[c] = value
		}
		rows[r] = row
	}
	return New(name, columns, rows)
}

// uniqueHeader names blank headers "Unnamed: i" and suffixes repeats as
// a, a.1, a.2.
func uniqueHeader(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]struct{}, len(header))
	counts := make(map[string]int, len(header))
	for i, raw := range header {
		base := strings.TrimSpace(raw)
		if i == 0 {
			base = strings.TrimPrefix(base, "\ufeff")
		}
		if base == "" {
			base = fmt.Sprintf("Unnamed: %d", i)
		}
		candidate := base
		for {
			if _, taken := used[candidate]; !taken {
				break
			}
			counts[base]++
			candidate = fmt.Sprintf("%s.%d", base, counts[base])
		}
		used[candidate] = struct{}{}
		names[i] = candidate
	}
	return names
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func isNull(raw string) bool {
	_, ok := nullTokens[strings.TrimSpace(raw)]
	return ok
}

func inferColumn(cells [][]string, c int) ColumnType {
	candidates := []ColumnType{TypeInteger, TypeFloat, TypeBoolean, TypeDatetime}
	sawValue := false
	for _, row := range cells {
		raw := row[c]
		if isNull(raw) {
			continue
		}
		sawValue = true
		kept := candidates[:0]
		for _, candidate := range candidates {
			if _, err := parseCell(candidate, raw); err == nil {
				kept = append(kept, candidate)
			}
		}
		candidates = kept
		if len(candidates) == 0 {
			return TypeString
		}
	}
	if !sawValue {
		return TypeString
	}
	return candidates[0]
}

func parseCell(t ColumnType, raw string) (any, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := strings.TrimSpace(raw)
	switch t {
	case TypeInteger:
		return strconv.ParseInt(trimmed, 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(trimmed, 64)
	case TypeBoolean:
		switch strings.ToLower(trimmed) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", raw)
	case TypeDatetime:
		for _, layout := range datetimeLayouts {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("invalid datetime %q", raw)
	default:
		return raw, nil
	}
}
