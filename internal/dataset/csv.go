package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

func DecodeCSV(name string, r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode csv %s: file is empty", name)
		}
		return nil, fmt.Errorf("decode csv %s: %w", name, err)
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv %s: %w", name, err)
	}
	ds, err := FromRecords(name, header, records)
	if err != nil {
		return nil, fmt.Errorf("decode csv %s: %w", name, err)
	}
	return ds, nil
}
