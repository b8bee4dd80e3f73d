package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/duckask/duckask/internal/observability"
)

// Request is one completion call against a single model.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature *float64
	MaxTokens   int
}

// Transport performs exactly one completion call. Implementations must not
// retry on their own.
type Transport interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
}

type Config struct {
	Model            string
	FallbackModel    string
	DeprecatedFamily string
	Temperature      *float64
	MaxTokens        int
}

// ServiceError is returned when the completion service could not produce a
// response. Cause is the failure of the first attempt, even when a fallback
// attempt was made and also failed.
type ServiceError struct {
	Model         string
	Cause         error
	FallbackModel string
	FallbackErr   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("completion with model %s failed: %v", e.Model, e.Cause)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

type completeOptions struct {
	model string
}

type CompleteOption func(*completeOptions)

// WithModel overrides the configured default model for one call.
func WithModel(model string) CompleteOption {
	return func(o *completeOptions) {
		o.model = strings.TrimSpace(model)
	}
}

type Client struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger
}

func NewClient(transport Transport, cfg Config, logger *slog.Logger) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("default model is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{transport: transport, cfg: cfg, logger: logger}, nil
}

func (c *Client) DefaultModel() string {
	return c.cfg.Model
}

// Complete sends the system and user messages and returns the raw response
// text. A failure on a model of the deprecated family is retried once with
// the fallback model; nothing else is retried.
func (c *Client) Complete(ctx context.Context, system, user string, opts ...CompleteOption) (string, error) {
	options := completeOptions{model: c.cfg.Model}
	for _, opt := range opts {
		opt(&options)
	}
	if options.model == "" {
		options.model = c.cfg.Model
	}

	text, err := c.attempt(ctx, options.model, system, user)
	if err == nil {
		return text, nil
	}
	serviceErr := &ServiceError{Model: options.model, Cause: err}
	if !c.shouldFallback(options.model) {
		return "", serviceErr
	}

	c.logger.WarnContext(ctx, "model failed, retrying with fallback",
		slog.String("model", options.model),
		slog.String("fallback_model", c.cfg.FallbackModel),
		slog.Any("error", err),
	)
	text, fallbackErr := c.attempt(ctx, c.cfg.FallbackModel, system, user)
	observability.ObserveModelFallback(fallbackErr)
	if fallbackErr == nil {
		return text, nil
	}
	serviceErr.FallbackModel = c.cfg.FallbackModel
	serviceErr.FallbackErr = fallbackErr
	return "", serviceErr
}

func (c *Client) shouldFallback(model string) bool {
	family := strings.ToLower(strings.TrimSpace(c.cfg.DeprecatedFamily))
	if family == "" || strings.TrimSpace(c.cfg.FallbackModel) == "" {
		return false
	}
	if strings.EqualFold(model, c.cfg.FallbackModel) {
		return false
	}
	return strings.Contains(strings.ToLower(model), family)
}

func (c *Client) attempt(ctx context.Context, model, system, user string) (string, error) {
	span := sentry.StartSpan(ctx, "gen_ai.chat", sentry.WithDescription(fmt.Sprintf("chat %s", model)))
	span.SetData("gen_ai.operation.name", "chat")
	span.SetData("gen_ai.request.model", model)
	span.SetData("gen_ai.request.max_tokens", c.cfg.MaxTokens)
	span.SetData("gen_ai.system", c.transport.Provider())
	ctx = span.Context()
	defer span.Finish()

	start := time.Now()
	c.logger.DebugContext(ctx, "completion request starting",
		slog.String("provider", c.transport.Provider()),
		slog.String("model", model),
		slog.Int("user_prompt_len", len(user)),
	)
	text, err := c.transport.Complete(ctx, Request{
		Model:       model,
		System:      system,
		User:        user,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	elapsed := time.Since(start)
	observability.ObserveModelRequest(model, elapsed, err)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		c.logger.ErrorContext(ctx, "completion request failed",
			slog.String("model", model),
			slog.Duration("duration", elapsed),
			slog.Any("error", err),
		)
		return "", err
	}
	span.Status = sentry.SpanStatusOK
	c.logger.InfoContext(ctx, "completion request completed",
		slog.String("model", model),
		slog.Duration("duration", elapsed),
		slog.Int("response_len", len(text)),
	)
	return text, nil
}
