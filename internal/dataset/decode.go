package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/duckask/duckask/internal/observability"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatExcel   Format = "excel"
	FormatParquet Format = "parquet"
)

// FormatForName maps a file name to a format by extension.
func FormatForName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatExcel, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: %q (want .csv, .xlsx or .parquet)", ErrUnsupportedFormat, name)
	}
}

// Decode reads r using the format implied by name.
func Decode(name string, r io.Reader) (*Dataset, error) {
	format, err := FormatForName(name)
	if err != nil {
		return nil, err
	}
	display := DisplayName(name)
	var ds *Dataset
	switch format {
	case FormatCSV:
		ds, err = DecodeCSV(display, r)
	case FormatExcel:
		ds, err = DecodeExcel(display, r)
	default:
		ds, err = DecodeParquet(display, r)
	}
	if err != nil {
		return nil, err
	}
	observability.ObserveDatasetLoaded(string(format))
	return ds, nil
}

func LoadFile(path string) (*Dataset, error) {
	if _, err := FormatForName(path); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()
	return Decode(path, file)
}
