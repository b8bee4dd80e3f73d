package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/duckask/duckask/internal/dataset"
	"github.com/duckask/duckask/internal/llm"
	"github.com/duckask/duckask/internal/nl2sql"
	"github.com/duckask/duckask/internal/observability"
	"github.com/duckask/duckask/internal/query"
)

type Kind string

const (
	KindExplanation   Kind = "explanation"
	KindSQLOnly       Kind = "sql_only"
	KindExecuted      Kind = "executed"
	KindParseFailed   Kind = "parse_failed"
	KindServiceFailed Kind = "service_failed"
)

const DefaultSampleRows = 10

// Completer returns the raw model response for a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string, opts ...llm.CompleteOption) (string, error)
}

type Request struct {
	Question string
	Dataset  *dataset.Dataset
	SQLOnly  bool
	// Model overrides the client default when set.
	Model string
}

// Result is the terminal state of one run. Fields not relevant to Kind are
// zero.
type Result struct {
	Kind        Kind
	Explanation string
	SQL         string
	Outcome     query.Outcome
	Raw         string
	Err         error
}

type Pipeline struct {
	prompts    nl2sql.PromptBuilder
	completer  Completer
	executor   *query.Executor
	sampleRows int
	logger     *slog.Logger
}

type Options struct {
	SampleRows int
	Logger     *slog.Logger
}

func New(completer Completer, executor *query.Executor, opts Options) (*Pipeline, error) {
	if completer == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("query executor is required")
	}
	sampleRows := opts.SampleRows
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		prompts:    nl2sql.NewPromptBuilder(executor.Relation()),
		completer:  completer,
		executor:   executor,
		sampleRows: sampleRows,
		logger:     logger,
	}, nil
}

// Run answers one question. The returned error is reserved for invalid
// requests; every other outcome, including service and SQL failures, is a
// Result.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	if req.Dataset == nil || len(req.Dataset.Columns) == 0 {
		return Result{}, fmt.Errorf("a dataset with at least one column is required")
	}

	system, user, err := p.prompts.Build(question, req.Dataset.Columns, req.Dataset.Head(p.sampleRows))
	if err != nil {
		return Result{}, err
	}

	var opts []llm.CompleteOption
	if req.Model != "" {
		opts = append(opts, llm.WithModel(req.Model))
	}
	raw, err := p.completer.Complete(ctx, system, user, opts...)
	if err != nil {
		p.logger.WarnContext(ctx, "question failed at model", slog.Any("error", err))
		return p.finish(ctx, Result{Kind: KindServiceFailed, Err: serviceCause(err)}), nil
	}

	parsed := nl2sql.Parse(raw)
	p.logger.DebugContext(ctx, "model response parsed",
		slog.String("kind", string(parsed.Kind)),
		slog.String("rule", parsed.Rule),
	)
	switch parsed.Kind {
	case nl2sql.KindExplanation:
		return p.finish(ctx, Result{Kind: KindExplanation, Explanation: parsed.Text, Raw: raw}), nil
	case nl2sql.KindUnrecognized:
		return p.finish(ctx, Result{Kind: KindParseFailed, Raw: raw}), nil
	}

	if req.SQLOnly {
		return p.finish(ctx, Result{Kind: KindSQLOnly, SQL: parsed.SQL}), nil
	}
	outcome := p.executor.Execute(ctx, parsed.SQL, raw, req.Dataset)
	result := Result{Kind: KindExecuted, SQL: parsed.SQL, Outcome: outcome}
	if outcome.Err != nil {
		result.Raw = raw
	}
	return p.finish(ctx, result), nil
}

func (p *Pipeline) finish(ctx context.Context, result Result) Result {
	observability.ObservePipelineRun(string(result.Kind))
	attrs := []any{slog.String("kind", string(result.Kind))}
	if result.Outcome.Err != nil {
		attrs = append(attrs, slog.String("execution_error", result.Outcome.Err.Message))
	}
	if result.Outcome.Result != nil {
		attrs = append(attrs,
			slog.Int("rows", len(result.Outcome.Result.Rows)),
			slog.Duration("query_duration", result.Outcome.Result.Duration),
		)
	}
	p.logger.InfoContext(ctx, "question answered", attrs...)
	return result
}

func serviceCause(err error) error {
	var serviceErr *llm.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return &llm.ServiceError{Cause: err}
}
