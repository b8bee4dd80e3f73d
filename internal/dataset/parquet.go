package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"
)

// DecodeParquet reads a flat parquet file. Nested and repeated columns are
// rejected.
func DecodeParquet(name string, r io.Reader) (*Dataset, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode parquet %s: %w", name, err)
	}
	file, err := parquet.OpenFile(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("decode parquet %s: %w", name, err)
	}

	fields := file.Schema().Fields()
	columns := make([]Column, len(fields))
	converters := make([]func(parquet.Value) any, len(fields))
	for i, field := range fields {
		columnType, convert, err := parquetColumn(field)
		if err != nil {
			return nil, fmt.Errorf("decode parquet %s: %w", name, err)
		}
		columns[i] = Column{Name: field.Name(), Type: columnType}
		converters[i] = convert
	}

	reader := parquet.NewReader(file)
	defer reader.Close()

	rows := make([][]any, 0, file.NumRows())
	buffer := make([]parquet.Row, 128)
	for {
		n, readErr := reader.ReadRows(buffer)
		for _, row := range buffer[:n] {
			out := make([]any, len(columns))
			for _, value := range row {
				c := value.Column()
				if c < 0 || c >= len(columns) || value.IsNull() {
					continue
				}
				out[c] = converters[c](value)
			}
			rows = append(rows, out)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode parquet %s: read rows: %w", name, readErr)
		}
		if n == 0 {
			break
		}
	}
	return New(name, columns, rows)
}

func parquetColumn(field parquet.Field) (ColumnType, func(parquet.Value) any, error) {
	if !field.Leaf() {
		return "", nil, fmt.Errorf("column %q is nested", field.Name())
	}
	if field.Repeated() {
		return "", nil, fmt.Errorf("column %q is repeated", field.Name())
	}

	logical := field.Type().LogicalType()
	switch field.Type().Kind() {
	case parquet.Boolean:
		return TypeBoolean, func(v parquet.Value) any { return v.Boolean() }, nil
	case parquet.Int32:
		if logical != nil && logical.Date != nil {
			return TypeDatetime, func(v parquet.Value) any {
				return time.Unix(int64(v.Int32())*86400, 0).UTC()
			}, nil
		}
		if logical != nil && logical.Decimal != nil {
			scale := math.Pow10(int(logical.Decimal.Scale))
			return TypeFloat, func(v parquet.Value) any { return float64(v.Int32()) / scale }, nil
		}
		return TypeInteger, func(v parquet.Value) any { return int64(v.Int32()) }, nil
	case parquet.Int64:
		if logical != nil && logical.Timestamp != nil {
			unit := logical.Timestamp.Unit
			switch {
			case unit.Millis != nil:
				return TypeDatetime, func(v parquet.Value) any { return time.UnixMilli(v.Int64()).UTC() }, nil
			case unit.Micros != nil:
				return TypeDatetime, func(v parquet.Value) any { return time.UnixMicro(v.Int64()).UTC() }, nil
			default:
				return TypeDatetime, func(v parquet.Value) any { return time.Unix(0, v.Int64()).UTC() }, nil
			}
		}
		if logical != nil && logical.Decimal != nil {
			scale := math.Pow10(int(logical.Decimal.Scale))
			return TypeFloat, func(v parquet.Value) any { return float64(v.Int64()) / scale }, nil
		}
		return TypeInteger, func(v parquet.Value) any { return v.Int64() }, nil
	case parquet.Float:
		return TypeFloat, func(v parquet.Value) any { return float64(v.Float()) }, nil
	case parquet.Double:
		return TypeFloat, func(v parquet.Value) any { return v.Double() }, nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if logical != nil && logical.Decimal != nil {
			return "", nil, fmt.Errorf("column %q: byte-array decimals are not supported", field.Name())
		}
		return TypeString, func(v parquet.Value) any { return string(v.ByteArray()) }, nil
	default:
		return "", nil, fmt.Errorf("column %q has unsupported parquet type %s", field.Name(), field.Type())
	}
}
