package llm

import (
	"fmt"
	"log/slog"

	"github.com/duckask/duckask/internal/config"
)

// NewFromConfig builds the transport named by cfg.Provider and wraps it in
// a Client carrying the fallback policy.
func NewFromConfig(cfg config.AIConfig, logger *slog.Logger) (*Client, error) {
	var (
		transport Transport
		err       error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		transport, err = NewOpenAITransport(OpenAIConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Timeout: cfg.Timeout})
	case config.ProviderAnthropic:
		transport, err = NewAnthropicTransport(AnthropicConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", cfg.Provider, err)
	}
	return NewClient(transport, Config{
		Model:            cfg.Model,
		FallbackModel:    cfg.FallbackModel,
		DeprecatedFamily: cfg.DeprecatedFamily,
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
	}, logger)
}
