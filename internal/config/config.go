package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const DefaultEnvFile = ".env"

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	AI            AIConfig
	Query         QueryConfig
	ObjectStore   ObjectStoreConfig
	Postgres      PostgresConfig
	Observability ObservabilityConfig
	EnvFile       string
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
}

// AIConfig describes the completion service. APIKey is resolved from
// DUCKASK_AI_API_KEY first and from the variable named by APIKeyEnv second.
type AIConfig struct {
	Provider         string
	BaseURL          string
	APIKey           string
	APIKeyEnv        string
	Model            string
	FallbackModel    string
	DeprecatedFamily string
	// Temperature and MaxTokens are left out of requests when unset.
	Temperature      *float64
	MaxTokens        int
	Timeout          time.Duration
}

type QueryConfig struct {
	Relation   string
	SampleRows int
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type ObservabilityConfig struct {
	LogLevel  slog.Level
	LogJSON   bool
	SentryDSN string
}

// LoadFromEnv reads the process environment layered over the dotenv file
// named by DUCKASK_ENV_FILE (default .env). Process variables win.
func LoadFromEnv(serviceName string) (Config, error) {
	path := DefaultEnvFile
	if raw, ok := os.LookupEnv("DUCKASK_ENV_FILE"); ok && strings.TrimSpace(raw) != "" {
		path = strings.TrimSpace(raw)
	}
	fileValues, err := ReadEnvFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Load(serviceName, LayeredLookup(os.LookupEnv, MapLookup(fileValues)))
	if err != nil {
		return Config{}, err
	}
	cfg.EnvFile = path
	return cfg, nil
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DUCKASK_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DUCKASK_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "DUCKASK_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_ENV_FILE", &cfg.EnvFile); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DUCKASK_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DUCKASK_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DUCKASK_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "DUCKASK_HTTP_MAX_UPLOAD_BYTES", &cfg.HTTP.MaxUploadBytes); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_AI_PROVIDER", &cfg.AI.Provider); err != nil {
		return Config{}, err
	}
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.Provider == ProviderAnthropic {
		cfg.AI.BaseURL = "https://api.anthropic.com"
		cfg.AI.APIKeyEnv = "ANTHROPIC_API_KEY"
		cfg.AI.Model = "claude-sonnet-4-5"
		cfg.AI.FallbackModel = ""
	}
	if err := applyString(lookup, "DUCKASK_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_AI_API_KEY_ENV", &cfg.AI.APIKeyEnv); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if cfg.AI.APIKey == "" && cfg.AI.APIKeyEnv != "" {
		if err := applyString(lookup, cfg.AI.APIKeyEnv, &cfg.AI.APIKey); err != nil {
			return Config{}, err
		}
	}
	if err := applyString(lookup, "DUCKASK_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_AI_FALLBACK_MODEL", &cfg.AI.FallbackModel); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_AI_DEPRECATED_FAMILY", &cfg.AI.DeprecatedFamily); err != nil {
		return Config{}, err
	}
	if err := applyOptionalFloat(lookup, "DUCKASK_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKASK_AI_MAX_TOKENS", &cfg.AI.MaxTokens); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DUCKASK_AI_TIMEOUT", &cfg.AI.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_QUERY_RELATION", &cfg.Query.Relation); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKASK_QUERY_SAMPLE_ROWS", &cfg.Query.SampleRows); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKASK_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_POSTGRES_DSN", &cfg.Postgres.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKASK_POSTGRES_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DUCKASK_POSTGRES_CONN_MAX_LIFETIME", &cfg.Postgres.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKASK_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "DUCKASK_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKASK_SENTRY_DSN", &cfg.Observability.SentryDSN); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.AI.Provider != ProviderOpenAI && cfg.AI.Provider != ProviderAnthropic {
		return Config{}, fmt.Errorf("invalid DUCKASK_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.AI.Model == "" {
		return Config{}, fmt.Errorf("ai model is required")
	}
	if cfg.Query.Relation == "" {
		return Config{}, fmt.Errorf("query relation is required")
	}
	if cfg.Query.SampleRows < 0 {
		return Config{}, fmt.Errorf("invalid DUCKASK_QUERY_SAMPLE_ROWS: must be >= 0")
	}
	return cfg, nil
}

// RequireAPIKey reports a ConfigurationError when no credential was resolved.
func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.AI.APIKey) != "" {
		return nil
	}
	name := c.AI.APIKeyEnv
	if name == "" {
		name = "DUCKASK_AI_API_KEY"
	}
	envFile := c.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	return &ConfigurationError{Key: name, EnvFile: envFile}
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "duckask-api"},
		HTTP: HTTPConfig{
			Address:        ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   120 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxUploadBytes: 200 << 20,
		},
		AI: AIConfig{
			Provider:         ProviderOpenAI,
			BaseURL:          "https://api.groq.com/openai",
			APIKeyEnv:        "GROQ_API_KEY",
			Model:            "openai/gpt-oss-120b",
			FallbackModel:    "meta-llama/llama-4-scout-17b-16e-instruct",
			DeprecatedFamily: "mixtral",
			Timeout:          60 * time.Second,
		},
		Query: QueryConfig{
			Relation:   "data_df",
			SampleRows: 10,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint: "localhost:9000",
			Region:   "us-east-1",
			Bucket:   "duckask",
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    4,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
		},
		EnvFile: DefaultEnvFile,
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.ObjectStore.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyOptionalFloat(lookup LookupFunc, key string, dst **float64) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = &value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
