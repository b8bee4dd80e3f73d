package duckdb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/duckask/duckask/internal/dataset"
	"github.com/duckask/duckask/internal/query"
)

func TestExecuteCountsRegisteredRows(t *testing.T) {
	engine := openEngine(t)
	executor, err := query.NewExecutor(engine, "data_df")
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	ds := mustDataset(t, []dataset.Column{
		{Name: "id", Type: dataset.TypeInteger},
		{Name: "amount", Type: dataset.TypeFloat},
	}, [][]any{{1, 2.5}, {2, 4.0}, {3, nil}})

	outcome := executor.Execute(context.Background(), "SELECT COUNT(*) AS c FROM data_df", "raw", ds)
	if !outcome.Succeeded() {
		t.Fatalf("Execute() failed: %v", outcome.Err)
	}
	if len(outcome.Result.Rows) != 1 {
		t.Fatalf("rows = %d", len(outcome.Result.Rows))
	}
	if outcome.Result.Rows[0][0] != int64(3) {
		t.Fatalf("count = %#v", outcome.Result.Rows[0][0])
	}
	if outcome.Result.Columns[0] != "c" {
		t.Fatalf("columns = %v", outcome.Result.Columns)
	}
}

func TestExecuteReportsEngineErrorVerbatim(t *testing.T) {
	engine := openEngine(t)
	executor, err := query.NewExecutor(engine, "data_df")
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	ds := mustDataset(t, []dataset.Column{{Name: "x", Type: dataset.TypeInteger}}, [][]any{{1}})

	raw := "```sql\nSELEKT * FROM x\n```"
	outcome := executor.Execute(context.Background(), "SELEKT * FROM x", raw, ds)
	if outcome.Succeeded() || outcome.Err == nil {
		t.Fatal("Execute() expected failure")
	}
	if outcome.Result != nil {
		t.Fatalf("failure carries result: %#v", outcome.Result)
	}
	if outcome.Err.RawResponse != raw {
		t.Fatalf("RawResponse = %q", outcome.Err.RawResponse)
	}
	if !strings.Contains(strings.ToLower(outcome.Err.Message), "syntax error") {
		t.Fatalf("Message = %q", outcome.Err.Message)
	}
}

func TestRegisterReplacesPreviousDataset(t *testing.T) {
	engine := openEngine(t)
	ctx := context.Background()

	first := mustDataset(t, []dataset.Column{{Name: "a", Type: dataset.TypeInteger}}, [][]any{{1}, {2}})
	if err := engine.Register(ctx, "data_df", first); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	second := mustDataset(t, []dataset.Column{{Name: "b", Type: dataset.TypeString}}, [][]any{{"x"}})
	if err := engine.Register(ctx, "data_df", second); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result, err := engine.Query(ctx, "SELECT b FROM data_df;")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "x" {
		t.Fatalf("rows = %#v", result.Rows)
	}
	if _, err := engine.Query(ctx, "SELECT a FROM data_df"); err == nil {
		t.Fatal("Query() expected error for column of replaced dataset")
	}
}

func TestQueryNormalizesAggregates(t *testing.T) {
	engine := openEngine(t)
	ctx := context.Background()
	joined := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ds := mustDataset(t, []dataset.Column{
		{Name: "name", Type: dataset.TypeString},
		{Name: "salary", Type: dataset.TypeInteger},
		{Name: "active", Type: dataset.TypeBoolean},
		{Name: "joined", Type: dataset.TypeDatetime},
	}, [][]any{
		{"Alice", 100000, true, joined},
		{"Bob", 80000, false, joined},
		{"Cara", 120000, true, nil},
	})
	if err := engine.Register(ctx, "people", ds); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result, err := engine.Query(ctx, `SELECT SUM(salary) AS total, AVG(salary) AS mean, COUNT(joined) AS j, bool_and(active) AS all_active, MAX(joined) AS last FROM people`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	row := result.Rows[0]
	if row[0] != int64(300000) {
		t.Fatalf("total = %#v", row[0])
	}
	if row[1] != float64(100000) {
		t.Fatalf("mean = %#v", row[1])
	}
	if row[2] != int64(2) {
		t.Fatalf("count = %#v", row[2])
	}
	if row[3] != false {
		t.Fatalf("all_active = %#v", row[3])
	}
	last, ok := row[4].(time.Time)
	if !ok || !last.Equal(joined) {
		t.Fatalf("last = %#v", row[4])
	}
	if len(result.ColumnTypes) != 5 || result.ColumnTypes[1] != "DOUBLE" {
		t.Fatalf("column types = %v", result.ColumnTypes)
	}
}

func TestRegisterQuotesIdentifiers(t *testing.T) {
	engine := openEngine(t)
	ctx := context.Background()
	ds := mustDataset(t, []dataset.Column{{Name: `first "name"`, Type: dataset.TypeString}}, [][]any{{"x"}})
	if err := engine.Register(ctx, "my data", ds); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	result, err := engine.Query(ctx, `SELECT "first ""name""" FROM "my data"`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Rows[0][0] != "x" {
		t.Fatalf("value = %#v", result.Rows[0][0])
	}
}

func TestStripTrailingSemicolons(t *testing.T) {
	if got := stripTrailingSemicolons(" SELECT 1 ;; "); got != "SELECT 1" {
		t.Fatalf("stripTrailingSemicolons() = %q", got)
	}
}

func TestRegisterSkipsDatasetAlreadyLoaded(t *testing.T) {
	engine := openEngine(t)
	ctx := context.Background()
	ds := mustDataset(t, []dataset.Column{{Name: "x", Type: dataset.TypeInteger}}, [][]any{{1}, {2}, {3}})

	if err := engine.Register(ctx, "data", ds); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := engine.Query(ctx, "SELECT COUNT(*) FROM data"); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if engine.registered["data"] != ds {
		t.Fatal("read-only query dropped the registered dataset")
	}
	if err := engine.Register(ctx, "data", ds); err != nil {
		t.Fatalf("Register() again error = %v", err)
	}

	other := mustDataset(t, []dataset.Column{{Name: "x", Type: dataset.TypeInteger}}, [][]any{{9}})
	if err := engine.Register(ctx, "data", other); err != nil {
		t.Fatalf("Register(other) error = %v", err)
	}
	result, err := engine.Query(ctx, "SELECT COUNT(*) FROM data")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Rows[0][0] != int64(1) {
		t.Fatalf("count after replace = %#v", result.Rows[0][0])
	}
}

func TestRegisterReloadsAfterWriteStatement(t *testing.T) {
	engine := openEngine(t)
	ctx := context.Background()
	ds := mustDataset(t, []dataset.Column{{Name: "x", Type: dataset.TypeInteger}}, [][]any{{1}, {2}, {3}})

	if err := engine.Register(ctx, "data", ds); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := engine.Query(ctx, "DELETE FROM data"); err != nil {
		t.Fatalf("Query(DELETE) error = %v", err)
	}
	if err := engine.Register(ctx, "data", ds); err != nil {
		t.Fatalf("Register() again error = %v", err)
	}
	result, err := engine.Query(ctx, "SELECT COUNT(*) FROM data")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Rows[0][0] != int64(3) {
		t.Fatalf("count after reload = %#v", result.Rows[0][0])
	}
}

func TestReadOnlyStatement(t *testing.T) {
	cases := []struct {
		sql  string
		want bool
	}{
		{sql: "SELECT 1", want: true},
		{sql: "with t AS (SELECT 1) SELECT * FROM t", want: true},
		{sql: "(SELECT 1)", want: true},
		{sql: "DELETE FROM data", want: false},
		{sql: "SELECT 1; DROP TABLE data", want: false},
		{sql: "CREATE OR REPLACE TABLE data AS SELECT 1", want: false},
	}
	for _, tc := range cases {
		if got := readOnlyStatement(tc.sql); got != tc.want {
			t.Fatalf("readOnlyStatement(%q) = %v, want %v", tc.sql, got, tc.want)
		}
	}
}

func openEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func mustDataset(t *testing.T, columns []dataset.Column, rows [][]any) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New("test", columns, rows)
	if err != nil {
		t.Fatalf("dataset.New() error = %v", err)
	}
	return ds
}
