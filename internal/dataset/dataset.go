package dataset

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeString   ColumnType = "string"
	TypeBoolean  ColumnType = "boolean"
	TypeDatetime ColumnType = "datetime"
)

var ErrUnsupportedFormat = errors.New("unsupported dataset format")

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Dataset is an in-memory table. Cells hold int64, float64, string, bool,
// time.Time or nil, matching the type of their column.
type Dataset struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

// New validates the schema and normalizes every cell to its column type.
func New(name string, columns []Column, rows [][]any) (*Dataset, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("dataset has no columns")
	}
	seen := make(map[string]struct{}, len(columns))
	for i, column := range columns {
		if column.Name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if _, dup := seen[column.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", column.Name)
		}
		seen[column.Name] = struct{}{}
		if !validType(column.Type) {
			return nil, fmt.Errorf("column %q has unsupported type %q", column.Name, column.Type)
		}
	}

	normalized := make([][]any, len(rows))
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", r, len(row), len(columns))
		}
		out := make([]any, len(row))
		for c, value := range row {
			cell, err := normalizeCell(columns[c].Type, value)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", r, columns[c].Name, err)
			}
			out[c] = cell
		}
		normalized[r] = out
	}

	return &Dataset{
		Name:    name,
		Columns: append([]Column(nil), columns...),
		Rows:    normalized,
	}, nil
}

func (d *Dataset) RowCount() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, column := range d.Columns {
		names[i] = column.Name
	}
	return names
}

// Head returns a dataset sharing the schema and holding at most n rows.
func (d *Dataset) Head(n int) *Dataset {
	if n < 0 || n > len(d.Rows) {
		n = len(d.Rows)
	}
	return &Dataset{
		Name:    d.Name,
		Columns: d.Columns,
		Rows:    d.Rows[:n],
	}
}

type ColumnInfo struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	NonNull int        `json:"non_null"`
	Null    int        `json:"null"`
}

// Overview summarizes a dataset for display before any question is asked.
type Overview struct {
	Name        string       `json:"name"`
	RowCount    int          `json:"row_count"`
	ColumnCount int          `json:"column_count"`
	Columns     []ColumnInfo `json:"columns"`
	Head        *Dataset     `json:"-"`
}

const OverviewHeadRows = 10

func Describe(d *Dataset) Overview {
	infos := make([]ColumnInfo, len(d.Columns))
	for c, column := range d.Columns {
		info := ColumnInfo{Name: column.Name, Type: column.Type}
		for _, row := range d.Rows {
			if row[c] == nil {
				info.Null++
			} else {
				info.NonNull++
			}
		}
		infos[c] = info
	}
	return Overview{
		Name:        d.Name,
		RowCount:    len(d.Rows),
		ColumnCount: len(d.Columns),
		Columns:     infos,
		Head:        d.Head(OverviewHeadRows),
	}
}

func validType(t ColumnType) bool {
	switch t {
	case TypeInteger, TypeFloat, TypeString, TypeBoolean, TypeDatetime:
		return true
	default:
		return false
	}
}

func normalizeCell(t ColumnType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch t {
	case TypeInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case uint8:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		}
	case TypeFloat:
		switch v := value.(type) {
		case float64:
			if math.IsNaN(v) {
				return nil, nil
			}
			return v, nil
		case float32:
			if math.IsNaN(float64(v)) {
				return nil, nil
			}
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case int32:
			return float64(v), nil
		}
	case TypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case TypeBoolean:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case TypeDatetime:
		if v, ok := value.(time.Time); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) does not fit %s", value, value, t)
}

// DisplayName trims a path down to the file name shown in overviews.
func DisplayName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}
