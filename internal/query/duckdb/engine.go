package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/duckask/duckask/internal/dataset"
	"github.com/duckask/duckask/internal/query"
)

// Engine is an in-process DuckDB database. Registered relations live as
// tables in the shared in-memory catalog until replaced or the engine is
// closed.
type Engine struct {
	db *sql.DB
	mu sync.Mutex
	// registered maps each relation to the dataset its table was last loaded
	// from. Datasets are immutable, so a matching pointer means the table is
	// current.
	registered map[string]*dataset.Dataset
}

func Open() (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Engine{db: db, registered: make(map[string]*dataset.Dataset)}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Register creates or replaces relation with the rows of ds. Registering
// the dataset already loaded under relation is a no-op.
func (e *Engine) Register(ctx context.Context, relation string, ds *dataset.Dataset) error {
	if strings.TrimSpace(relation) == "" {
		return fmt.Errorf("relation name is required")
	}
	if ds == nil || len(ds.Columns) == 0 {
		return fmt.Errorf("dataset has no columns")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registered[relation] == ds {
		return nil
	}
	delete(e.registered, relation)

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, createTableSQL(relation, ds.Columns)); err != nil {
		return fmt.Errorf("create relation %q: %w", relation, err)
	}

	err = conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", relation)
		if err != nil {
			return err
		}
		values := make([]driver.Value, len(ds.Columns))
		for _, row := range ds.Rows {
			for i, cell := range row {
				values[i] = cell
			}
			if err := appender.AppendRow(values...); err != nil {
				_ = appender.Close()
				return err
			}
		}
		return appender.Close()
	})
	if err != nil {
		return fmt.Errorf("load relation %q: %w", relation, err)
	}
	e.registered[relation] = ds
	return nil
}

// Query runs sqlText and materializes every row.
func (e *Engine) Query(ctx context.Context, sqlText string) (query.Result, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Anything but a single read may change a registered table.
	if !readOnlyStatement(sqlText) {
		clear(e.registered)
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}
	columnTypes := make([]string, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, columnType := range types {
			columnTypes[i] = columnType.DatabaseTypeName()
		}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, err
	}

	return query.Result{
		Columns:     columns,
		ColumnTypes: columnTypes,
		Rows:        resultRows,
		Duration:    time.Since(start),
	}, nil
}

func createTableSQL(relation string, columns []dataset.Column) string {
	defs := make([]string, len(columns))
	for i, column := range columns {
		defs[i] = quoteIdent(column.Name) + " " + sqlType(column.Type)
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", quoteIdent(relation), strings.Join(defs, ", "))
}

func sqlType(t dataset.ColumnType) string {
	switch t {
	case dataset.TypeInteger:
		return "BIGINT"
	case dataset.TypeFloat:
		return "DOUBLE"
	case dataset.TypeBoolean:
		return "BOOLEAN"
	case dataset.TypeDatetime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case *big.Int:
		if typed == nil {
			return nil
		}
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case duckdb.Decimal:
		if typed.Value == nil {
			return nil
		}
		f, _ := new(big.Float).Quo(
			new(big.Float).SetInt(typed.Value),
			new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(typed.Scale)), nil)),
		).Float64()
		return f
	case duckdb.Interval:
		return fmt.Sprintf("%d months %d days %d us", typed.Months, typed.Days, typed.Micros)
	case duckdb.Map:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[fmt.Sprint(k)] = normalizeValue(v)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = normalizeValue(v)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	default:
		return typed
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

var readOnlyKeywords = map[string]struct{}{
	"SELECT":    {},
	"WITH":      {},
	"FROM":      {},
	"VALUES":    {},
	"DESCRIBE":  {},
	"SHOW":      {},
	"SUMMARIZE": {},
}

func readOnlyStatement(sqlText string) bool {
	if strings.Contains(sqlText, ";") {
		return false
	}
	fields := strings.Fields(sqlText)
	if len(fields) == 0 {
		return false
	}
	keyword := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	if keyword == "" && len(fields) > 1 {
		keyword = strings.ToUpper(fields[1])
	}
	_, ok := readOnlyKeywords[keyword]
	return ok
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
