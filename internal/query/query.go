package query

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/duckask/duckask/internal/dataset"
	"github.com/duckask/duckask/internal/observability"
)

type Result struct {
	Columns     []string
	ColumnTypes []string
	Rows        [][]any
	Duration    time.Duration
}

// Engine holds named relations and runs SQL against them.
type Engine interface {
	Register(ctx context.Context, relation string, ds *dataset.Dataset) error
	Query(ctx context.Context, sql string) (Result, error)
}

// ExecutionError carries the engine message verbatim together with the raw
// model response the SQL was extracted from.
type ExecutionError struct {
	Message     string
	RawResponse string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// Outcome is either a Result or an ExecutionError, never both.
type Outcome struct {
	Result *Result
	Err    *ExecutionError
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil
}

type Executor struct {
	engine   Engine
	relation string
}

func NewExecutor(engine Engine, relation string) (*Executor, error) {
	if engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	relation = strings.TrimSpace(relation)
	if relation == "" {
		return nil, fmt.Errorf("relation name is required")
	}
	return &Executor{engine: engine, relation: relation}, nil
}

func (e *Executor) Relation() string {
	return e.relation
}

// Execute registers ds under the executor's relation, replacing any earlier
// registration, and runs sql. Failures are returned inside the Outcome.
func (e *Executor) Execute(ctx context.Context, sql, raw string, ds *dataset.Dataset) Outcome {
	start := time.Now()
	outcome := e.execute(ctx, sql, raw, ds)
	observability.ObserveQueryExecution(time.Since(start), !outcome.Succeeded())
	return outcome
}

func (e *Executor) execute(ctx context.Context, sql, raw string, ds *dataset.Dataset) (outcome Outcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = failure(fmt.Sprintf("%v", recovered), raw)
		}
	}()

	if ds == nil {
		return failure("no dataset loaded", raw)
	}
	if err := e.engine.Register(ctx, e.relation, ds); err != nil {
		return failure(err.Error(), raw)
	}
	result, err := e.engine.Query(ctx, sql)
	if err != nil {
		return failure(err.Error(), raw)
	}
	return Outcome{Result: &result}
}

func failure(message, raw string) Outcome {
	return Outcome{Err: &ExecutionError{Message: message, RawResponse: raw}}
}

// WriteCSV writes a result as a CSV download.
func WriteCSV(w io.Writer, result Result) error {
	return dataset.WriteCSV(w, result.Columns, result.Rows)
}

// SanitizeRows replaces NaN and Inf values, which JSON cannot represent,
// with nil. Rows are modified in place.
func SanitizeRows(rows [][]any) {
	for _, row := range rows {
		for i, v := range row {
			switch f := v.(type) {
			case float64:
				if math.IsNaN(f) || math.IsInf(f, 0) {
					row[i] = nil
				}
			case float32:
				if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
					row[i] = nil
				}
			}
		}
	}
}
