package duckask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/duckask/duckask/internal/config"
	"github.com/duckask/duckask/internal/dataset"
	"github.com/duckask/duckask/internal/dataset/postgres"
	"github.com/duckask/duckask/internal/dataset/s3"
	"github.com/duckask/duckask/internal/llm"
	"github.com/duckask/duckask/internal/observability"
	"github.com/duckask/duckask/internal/pipeline"
	"github.com/duckask/duckask/internal/query"
	"github.com/duckask/duckask/internal/query/duckdb"
)

// ObjectLoader loads a dataset from object storage by key.
type ObjectLoader interface {
	Load(ctx context.Context, key string) (*dataset.Dataset, error)
}

// QueryLoader materializes a Postgres query as a dataset.
type QueryLoader interface {
	Load(ctx context.Context, name, query string) (*dataset.Dataset, error)
}

// Options carries the process environment into Run. Nil dependencies are
// built from configuration on demand.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer

	LoadConfig func() (config.Config, error)
	Completer  pipeline.Completer
	Objects    ObjectLoader
	Queries    QueryLoader
}

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// Run executes one command line and returns the process exit code: 0 on
// success, 1 on failure and 2 on usage errors.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = func() (config.Config, error) { return config.LoadFromEnv("duckask") }
	}

	root := newRootCommand(&opts)
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stderr, "error: %v\n", err)
	var usage *usageError
	if errors.As(err, &usage) {
		_, _ = fmt.Fprintln(opts.Stderr, "run 'duckask --help' for usage")
		return 2
	}
	return 1
}

func newRootCommand(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "duckask",
		Short:         "Ask questions about a tabular dataset in plain language",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Usage()
				return usagef("a command is required")
			}
			return usagef("unknown command %q", args[0])
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	root.AddCommand(newAskCommand(opts), newDescribeCommand(opts), newKeyCommand(opts))
	return root
}

type sourceFlags struct {
	file    string
	s3Key   string
	pgQuery string
	name    string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.file, "file", "", "Local CSV, Excel or Parquet file")
	cmd.Flags().StringVar(&s.s3Key, "s3-key", "", "Object key in the configured bucket")
	cmd.Flags().StringVar(&s.pgQuery, "pg-query", "", "Read-only query against the configured Postgres database")
	cmd.Flags().StringVar(&s.name, "name", "", "Dataset name for --pg-query")
}

func (s *sourceFlags) validate() error {
	set := 0
	for _, value := range []string{s.file, s.s3Key, s.pgQuery} {
		if strings.TrimSpace(value) != "" {
			set++
		}
	}
	if set != 1 {
		return usagef("exactly one of --file, --s3-key or --pg-query is required")
	}
	return nil
}

func (s *sourceFlags) load(ctx context.Context, opts *Options, cfg config.Config) (*dataset.Dataset, error) {
	switch {
	case s.file != "":
		return dataset.LoadFile(s.file)
	case s.s3Key != "":
		objects := opts.Objects
		if objects == nil {
			source, err := s3.New(s3.Config{
				Endpoint:        cfg.ObjectStore.Endpoint,
				Region:          cfg.ObjectStore.Region,
				Bucket:          cfg.ObjectStore.Bucket,
				AccessKeyID:     cfg.ObjectStore.AccessKeyID,
				SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
				UseSSL:          cfg.ObjectStore.UseSSL,
				Prefix:          cfg.ObjectStore.Prefix,
			})
			if err != nil {
				return nil, err
			}
			objects = source
		}
		return objects.Load(ctx, s.s3Key)
	default:
		queries := opts.Queries
		if queries == nil {
			db, err := postgres.Open(ctx, postgres.DBConfig{
				DSN:             cfg.Postgres.DSN,
				MaxOpenConns:    cfg.Postgres.MaxOpenConns,
				ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			})
			if err != nil {
				return nil, err
			}
			defer func() { _ = db.Close() }()
			source, err := postgres.NewSource(db)
			if err != nil {
				return nil, err
			}
			queries = source
		}
		return queries.Load(ctx, s.name, s.pgQuery)
	}
}

type askOptions struct {
	source  sourceFlags
	sqlOnly bool
	format  string
	model   string
	verbose bool
}

func newAskCommand(opts *Options) *cobra.Command {
	options := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [flags] QUESTION",
		Short: "Translate a question to SQL and run it against the dataset",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("a question is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := options.source.validate(); err != nil {
				return err
			}
			renderer, err := newRenderer(options.format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return runAsk(cmd.Context(), opts, options, renderer, strings.Join(args, " "))
		},
	}
	options.source.register(cmd)
	cmd.Flags().BoolVar(&options.sqlOnly, "sql-only", false, "Print the generated SQL without executing it")
	cmd.Flags().StringVar(&options.format, "format", formatTable, "Output format: table, csv or json")
	cmd.Flags().StringVar(&options.model, "model", "", "Override the configured model")
	cmd.Flags().BoolVarP(&options.verbose, "verbose", "v", false, "Log pipeline steps to stderr")
	return cmd
}

func runAsk(ctx context.Context, opts *Options, options *askOptions, renderer *renderer, question string) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg, opts.Stderr, options.verbose)

	completer := opts.Completer
	if completer == nil {
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}
		client, err := llm.NewFromConfig(cfg.AI, logger)
		if err != nil {
			return err
		}
		completer = client
	}

	ds, err := options.source.load(ctx, opts, cfg)
	if err != nil {
		return err
	}

	engine, err := duckdb.Open()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()
	executor, err := query.NewExecutor(engine, cfg.Query.Relation)
	if err != nil {
		return err
	}
	p, err := pipeline.New(completer, executor, pipeline.Options{SampleRows: cfg.Query.SampleRows, Logger: logger})
	if err != nil {
		return err
	}

	result, err := p.Run(ctx, pipeline.Request{
		Question: question,
		Dataset:  ds,
		SQLOnly:  options.sqlOnly,
		Model:    options.model,
	})
	if err != nil {
		return usagef("%v", err)
	}

	switch result.Kind {
	case pipeline.KindServiceFailed:
		return fmt.Errorf("completion service error: %w", result.Err)
	case pipeline.KindParseFailed:
		return fmt.Errorf("could not extract SQL from the model response:\n%s", result.Raw)
	case pipeline.KindExecuted:
		if !result.Outcome.Succeeded() {
			return fmt.Errorf("query failed: %s\nsql: %s\nraw response:\n%s", result.Outcome.Err.Message, result.SQL, result.Outcome.Err.RawResponse)
		}
	}
	return renderer.result(result)
}

type describeOptions struct {
	source sourceFlags
	format string
}

func newDescribeCommand(opts *Options) *cobra.Command {
	options := &describeOptions{}
	cmd := &cobra.Command{
		Use:   "describe [flags]",
		Short: "Show row and column counts, column types and the first rows",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("describe takes no arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := options.source.validate(); err != nil {
				return err
			}
			renderer, err := newRenderer(options.format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			ds, err := options.source.load(cmd.Context(), opts, cfg)
			if err != nil {
				return err
			}
			return renderer.overview(dataset.Describe(ds))
		},
	}
	options.source.register(cmd)
	cmd.Flags().StringVar(&options.format, "format", formatTable, "Output format: table, csv or json")
	return cmd
}

func newKeyCommand(opts *Options) *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage the completion service API key",
	}

	var envFile, envName string
	set := &cobra.Command{
		Use:   "set KEY",
		Short: "Save the API key to the dotenv file",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("key set takes exactly one argument")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			path := firstNonEmpty(envFile, cfg.EnvFile)
			name := firstNonEmpty(envName, cfg.AI.APIKeyEnv)
			if err := config.SaveAPIKey(path, name, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", name, path)
			return nil
		},
	}
	set.Flags().StringVar(&envFile, "env-file", "", "Dotenv file to write (default from DUCKASK_ENV_FILE or .env)")
	set.Flags().StringVar(&envName, "env-name", "", "Variable name to store the key under (default from configuration)")
	key.AddCommand(set)
	return key
}

func cliLogger(cfg config.Config, stderr io.Writer, verbose bool) *slog.Logger {
	if !verbose && cfg.Observability.LogLevel < slog.LevelWarn {
		cfg.Observability.LogLevel = slog.LevelWarn
	}
	return observability.NewLogger(cfg, stderr)
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}
