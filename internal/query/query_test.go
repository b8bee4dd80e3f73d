package query

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/duckask/duckask/internal/dataset"
)

type fakeEngine struct {
	registered  string
	registerErr error
	queryErr    error
	result      Result
	panicWith   any
}

func (f *fakeEngine) Register(_ context.Context, relation string, _ *dataset.Dataset) error {
	f.registered = relation
	return f.registerErr
}

func (f *fakeEngine) Query(context.Context, string) (Result, error) {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.result, f.queryErr
}

func testDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New("t", []dataset.Column{{Name: "id", Type: dataset.TypeInteger}}, [][]any{{1}})
	if err != nil {
		t.Fatalf("dataset.New() error = %v", err)
	}
	return ds
}

func TestExecutorSuccessDropsRawResponse(t *testing.T) {
	engine := &fakeEngine{result: Result{Columns: []string{"c"}, Rows: [][]any{{int64(1)}}}}
	executor, err := NewExecutor(engine, "data_df")
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	outcome := executor.Execute(context.Background(), "SELECT 1", "raw", testDataset(t))
	if !outcome.Succeeded() {
		t.Fatalf("Execute() failed: %v", outcome.Err)
	}
	if outcome.Err != nil {
		t.Fatal("success carries an error")
	}
	if engine.registered != "data_df" {
		t.Fatalf("registered = %q", engine.registered)
	}
}

func TestExecutorFailures(t *testing.T) {
	cases := map[string]struct {
		engine *fakeEngine
		ds     bool
		want   string
	}{
		"register": {engine: &fakeEngine{registerErr: errors.New("Conversion Error: bad")}, ds: true, want: "Conversion Error: bad"},
		"query":    {engine: &fakeEngine{queryErr: errors.New(`Parser Error: syntax error at or near "SELEKT"`)}, ds: true, want: `Parser Error: syntax error at or near "SELEKT"`},
		"panic":    {engine: &fakeEngine{panicWith: "boom"}, ds: true, want: "boom"},
		"dataset":  {engine: &fakeEngine{}, ds: false, want: "no dataset loaded"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			executor, err := NewExecutor(tc.engine, "data_df")
			if err != nil {
				t.Fatalf("NewExecutor() error = %v", err)
			}
			var ds *dataset.Dataset
			if tc.ds {
				ds = testDataset(t)
			}
			outcome := executor.Execute(context.Background(), "SELEKT", "the raw text", ds)
			if outcome.Succeeded() || outcome.Result != nil {
				t.Fatal("Execute() expected failure")
			}
			if outcome.Err.Message != tc.want {
				t.Fatalf("Message = %q, want %q", outcome.Err.Message, tc.want)
			}
			if outcome.Err.RawResponse != "the raw text" {
				t.Fatalf("RawResponse = %q", outcome.Err.RawResponse)
			}
		})
	}
}

func TestNewExecutorValidates(t *testing.T) {
	if _, err := NewExecutor(nil, "data_df"); err == nil {
		t.Fatal("expected error for nil engine")
	}
	if _, err := NewExecutor(&fakeEngine{}, " "); err == nil {
		t.Fatal("expected error for empty relation")
	}
}

func TestSanitizeRows(t *testing.T) {
	rows := [][]any{{math.NaN(), math.Inf(1), 1.5, "x", float32(math.Inf(-1))}}
	SanitizeRows(rows)
	if rows[0][0] != nil || rows[0][1] != nil || rows[0][4] != nil {
		t.Fatalf("rows = %#v", rows)
	}
	if rows[0][2] != 1.5 || rows[0][3] != "x" {
		t.Fatalf("rows = %#v", rows)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, Result{Columns: []string{"avg"}, Rows: [][]any{{100000.0}}})
	if err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if buf.String() != "avg\n100000.0\n" {
		t.Fatalf("csv = %q", buf.String())
	}
}
