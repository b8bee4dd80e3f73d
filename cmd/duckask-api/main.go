package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckask/duckask/internal/api"
	"github.com/duckask/duckask/internal/config"
	"github.com/duckask/duckask/internal/dataset/s3"
	"github.com/duckask/duckask/internal/llm"
	"github.com/duckask/duckask/internal/observability"
	"github.com/duckask/duckask/internal/pipeline"
	"github.com/duckask/duckask/internal/query"
	"github.com/duckask/duckask/internal/query/duckdb"
)

func main() {
	cfg, err := config.LoadFromEnv("duckask-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	flush, err := observability.InitSentry(cfg)
	if err != nil {
		logger.Warn("sentry disabled", slog.Any("error", err))
	}
	defer flush()

	engine, err := duckdb.Open()
	if err != nil {
		logger.Error("failed to open duckdb", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = engine.Close() }()

	deps := api.Dependencies{
		Logger:            logger,
		Datasets:          api.NewDatasetStore(nil),
		Readiness:         api.CombineReadinessChecks(engine.Ping, api.CheckAPIKey(cfg)),
		DependencyTimeout: time.Second,
	}

	if err := cfg.RequireAPIKey(); err != nil {
		logger.Error("question answering disabled", slog.Any("error", err))
	} else {
		deps.Pipeline, err = newPipeline(cfg, engine, logger)
		if err != nil {
			logger.Error("failed to build pipeline", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if api.CheckObjectStoreConfig(cfg)(context.Background()) == nil {
		objects, err := s3.New(s3.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			logger.Warn("object store uploads disabled", slog.Any("error", err))
		} else {
			deps.Objects = objects.WithMaxBytes(cfg.HTTP.MaxUploadBytes)
		}
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func newPipeline(cfg config.Config, engine *duckdb.Engine, logger *slog.Logger) (*pipeline.Pipeline, error) {
	client, err := llm.NewFromConfig(cfg.AI, logger)
	if err != nil {
		return nil, err
	}
	executor, err := query.NewExecutor(engine, cfg.Query.Relation)
	if err != nil {
		return nil, err
	}
	return pipeline.New(client, executor, pipeline.Options{SampleRows: cfg.Query.SampleRows, Logger: logger})
}
