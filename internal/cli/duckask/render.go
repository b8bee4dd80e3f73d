package duckask

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/duckask/duckask/internal/dataset"
	"github.com/duckask/duckask/internal/pipeline"
	"github.com/duckask/duckask/internal/query"
)

const (
	formatTable = "table"
	formatCSV   = "csv"
	formatJSON  = "json"
)

type renderer struct {
	format string
	out    io.Writer
}

func newRenderer(format string, out io.Writer) (*renderer, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case formatTable, formatCSV, formatJSON:
		return &renderer{format: format, out: out}, nil
	default:
		return nil, usagef("unknown format %q (want table, csv or json)", format)
	}
}

type resultJSON struct {
	Kind        pipeline.Kind `json:"kind"`
	Explanation string        `json:"explanation,omitempty"`
	SQL         string        `json:"sql,omitempty"`
	Columns     *[]string     `json:"columns,omitempty"`
	Rows        *[][]any      `json:"rows,omitempty"`
}

// result prints a successful run. Failures never reach the renderer.
func (r *renderer) result(result pipeline.Result) error {
	var table *query.Result
	if result.Outcome.Succeeded() {
		table = result.Outcome.Result
	}

	switch r.format {
	case formatJSON:
		payload := resultJSON{Kind: result.Kind, Explanation: result.Explanation, SQL: result.SQL}
		if table != nil {
			columns := append([]string{}, table.Columns...)
			rows := append([][]any{}, table.Rows...)
			query.SanitizeRows(rows)
			payload.Columns = &columns
			payload.Rows = &rows
		}
		return r.json(payload)
	case formatCSV:
		switch {
		case table != nil:
			return query.WriteCSV(r.out, *table)
		case result.Kind == pipeline.KindSQLOnly:
			_, err := fmt.Fprintln(r.out, result.SQL)
			return err
		default:
			_, err := fmt.Fprintln(r.out, result.Explanation)
			return err
		}
	}

	switch result.Kind {
	case pipeline.KindExplanation:
		_, err := fmt.Fprintln(r.out, result.Explanation)
		return err
	case pipeline.KindSQLOnly:
		_, err := fmt.Fprintln(r.out, result.SQL)
		return err
	}
	if _, err := fmt.Fprintf(r.out, "Generated SQL:\n%s\n\n", result.SQL); err != nil {
		return err
	}
	if err := r.table(table.Columns, table.Rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(r.out, "\n(%d rows, %s)\n", len(table.Rows), table.Duration.Round(time.Microsecond))
	return err
}

func (r *renderer) overview(overview dataset.Overview) error {
	switch r.format {
	case formatJSON:
		head := overview.Head
		rows := make([][]any, len(head.Rows))
		for i, row := range head.Rows {
			rows[i] = append([]any(nil), row...)
		}
		query.SanitizeRows(rows)
		return r.json(map[string]any{
			"name":         overview.Name,
			"row_count":    overview.RowCount,
			"column_count": overview.ColumnCount,
			"columns":      overview.Columns,
			"head":         map[string]any{"columns": head.ColumnNames(), "rows": rows},
		})
	case formatCSV:
		return dataset.WriteCSV(r.out, overview.Head.ColumnNames(), overview.Head.Rows)
	}

	if _, err := fmt.Fprintf(r.out, "%s\nTotal rows: %d\nTotal columns: %d\n\n", overview.Name, overview.RowCount, overview.ColumnCount); err != nil {
		return err
	}
	info := make([][]any, len(overview.Columns))
	for i, column := range overview.Columns {
		info[i] = []any{column.Name, string(column.Type), column.NonNull, column.Null}
	}
	if err := r.table([]string{"column", "type", "non-null", "null"}, info); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(r.out, "\nFirst %d rows:\n", len(overview.Head.Rows)); err != nil {
		return err
	}
	return r.table(overview.Head.ColumnNames(), overview.Head.Rows)
}

func (r *renderer) table(columns []string, rows [][]any) error {
	writer := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(writer, strings.Join(columns, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = dataset.FormatValue(value)
		}
		_, _ = fmt.Fprintln(writer, strings.Join(cells, "\t"))
	}
	return writer.Flush()
}

func (r *renderer) json(payload any) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
