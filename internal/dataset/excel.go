package dataset

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// DecodeExcel reads the first worksheet of an .xlsx workbook. The first
// row is the header.
func DecodeExcel(name string, r io.Reader) (*Dataset, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("decode excel %s: %w", name, err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("decode excel %s: workbook has no sheets", name)
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("decode excel %s: read sheet %q: %w", name, sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("decode excel %s: sheet %q is empty", name, sheets[0])
	}

	ds, err := FromRecords(name, rows[0], rows[1:])
	if err != nil {
		return nil, fmt.Errorf("decode excel %s: %w", name, err)
	}
	return ds, nil
}
