package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("duckask-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.AI.Provider != ProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.Model != "openai/gpt-oss-120b" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.FallbackModel != "meta-llama/llama-4-scout-17b-16e-instruct" {
		t.Fatalf("AI.FallbackModel = %q", cfg.AI.FallbackModel)
	}
	if cfg.AI.DeprecatedFamily != "mixtral" {
		t.Fatalf("AI.DeprecatedFamily = %q", cfg.AI.DeprecatedFamily)
	}
	if cfg.AI.APIKeyEnv != "GROQ_API_KEY" {
		t.Fatalf("AI.APIKeyEnv = %q", cfg.AI.APIKeyEnv)
	}
	if cfg.Query.Relation != "data_df" {
		t.Fatalf("Query.Relation = %q", cfg.Query.Relation)
	}
	if cfg.Query.SampleRows != 10 {
		t.Fatalf("Query.SampleRows = %d", cfg.Query.SampleRows)
	}
	if cfg.AI.Temperature != nil || cfg.AI.MaxTokens != 0 {
		t.Fatalf("AI sampling defaults = %v, %d, want unset", cfg.AI.Temperature, cfg.AI.MaxTokens)
	}
	if cfg.EnvFile != DefaultEnvFile {
		t.Fatalf("EnvFile = %q", cfg.EnvFile)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("duckask-api", mapLookup(map[string]string{"DUCKASK_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to true in prod")
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	cfg, err := Load("duckask-api", mapLookup(map[string]string{
		"DUCKASK_PROFILE":               "test",
		"DUCKASK_HTTP_ADDR":             ":9999",
		"DUCKASK_HTTP_READ_TIMEOUT":     "2s",
		"DUCKASK_HTTP_MAX_UPLOAD_BYTES": "1024",
		"DUCKASK_AI_PROVIDER":           "Anthropic",
		"DUCKASK_AI_MODEL":              "claude-sonnet-4",
		"DUCKASK_AI_MAX_TOKENS":         "2048",
		"DUCKASK_AI_TEMPERATURE":        "0.5",
		"DUCKASK_QUERY_RELATION":        "data",
		"DUCKASK_QUERY_SAMPLE_ROWS":     "3",
		"DUCKASK_POSTGRES_DSN":          "postgres://localhost/db",
		"DUCKASK_LOG_LEVEL":             "error",
		"DUCKASK_SENTRY_DSN":            "https://key@sentry.example/1",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.MaxUploadBytes != 1024 {
		t.Fatalf("HTTP.MaxUploadBytes = %d", cfg.HTTP.MaxUploadBytes)
	}
	if cfg.AI.Provider != ProviderAnthropic {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.Model != "claude-sonnet-4" || cfg.AI.MaxTokens != 2048 || cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.5 {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.Query.Relation != "data" || cfg.Query.SampleRows != 3 {
		t.Fatalf("Query = %#v", cfg.Query)
	}
	if cfg.Postgres.DSN != "postgres://localhost/db" {
		t.Fatalf("Postgres.DSN = %q", cfg.Postgres.DSN)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Observability.SentryDSN == "" {
		t.Fatal("SentryDSN should be set")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"profile":     {"DUCKASK_PROFILE": "staging"},
		"duration":    {"DUCKASK_AI_TIMEOUT": "soon"},
		"int":         {"DUCKASK_QUERY_SAMPLE_ROWS": "ten"},
		"negative":    {"DUCKASK_QUERY_SAMPLE_ROWS": "-1"},
		"bool":        {"DUCKASK_LOG_JSON": "maybe"},
		"level":       {"DUCKASK_LOG_LEVEL": "loud"},
		"provider":    {"DUCKASK_AI_PROVIDER": "cohere"},
		"relation":    {"DUCKASK_QUERY_RELATION": "  "},
		"float":       {"DUCKASK_AI_TEMPERATURE": "warm"},
		"upload size": {"DUCKASK_HTTP_MAX_UPLOAD_BYTES": "big"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load("duckask-api", mapLookup(values)); err == nil {
				t.Fatalf("Load(%v) expected error", values)
			}
		})
	}
}

func TestLoadResolvesAPIKeyFromNamedVariable(t *testing.T) {
	cfg, err := Load("duckask-api", mapLookup(map[string]string{"GROQ_API_KEY": "gsk-test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "gsk-test" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}

	cfg, err = Load("duckask-api", mapLookup(map[string]string{
		"GROQ_API_KEY":       "gsk-test",
		"DUCKASK_AI_API_KEY": "explicit",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "explicit" {
		t.Fatalf("AI.APIKey = %q, want explicit key to win", cfg.AI.APIKey)
	}

	cfg, err = Load("duckask-api", mapLookup(map[string]string{
		"DUCKASK_AI_API_KEY_ENV": "ANTHROPIC_API_KEY",
		"ANTHROPIC_API_KEY":      "sk-ant",
		"GROQ_API_KEY":           "gsk-test",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "sk-ant" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg, err := Load("duckask-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	err = cfg.RequireAPIKey()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("RequireAPIKey() error = %v, want ConfigurationError", err)
	}
	if cfgErr.Key != "GROQ_API_KEY" {
		t.Fatalf("Key = %q", cfgErr.Key)
	}
	if !strings.Contains(err.Error(), "GROQ_API_KEY") || !strings.Contains(err.Error(), ".env") {
		t.Fatalf("message = %q, want remediation", err.Error())
	}

	cfg.AI.APIKey = "gsk-test"
	if err := cfg.RequireAPIKey(); err != nil {
		t.Fatalf("RequireAPIKey() error = %v", err)
	}
}

func TestLayeredLookupPrefersEarlierSources(t *testing.T) {
	lookup := LayeredLookup(
		mapLookup(map[string]string{"GROQ_API_KEY": "from-env"}),
		mapLookup(map[string]string{"GROQ_API_KEY": "from-file", "DUCKASK_QUERY_RELATION": "data"}),
	)
	cfg, err := Load("duckask-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "from-env" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.Query.Relation != "data" {
		t.Fatalf("Query.Relation = %q", cfg.Query.Relation)
	}
}

func TestReadEnvFileMissingIsEmpty(t *testing.T) {
	values, err := ReadEnvFile(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("ReadEnvFile() error = %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("values = %#v", values)
	}
}

func TestSaveAPIKeyMergesExistingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OTHER=keep\nGROQ_API_KEY=old\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := SaveAPIKey(path, "GROQ_API_KEY", " gsk-new "); err != nil {
		t.Fatalf("SaveAPIKey() error = %v", err)
	}
	values, err := ReadEnvFile(path)
	if err != nil {
		t.Fatalf("ReadEnvFile() error = %v", err)
	}
	if values["GROQ_API_KEY"] != "gsk-new" {
		t.Fatalf("GROQ_API_KEY = %q", values["GROQ_API_KEY"])
	}
	if values["OTHER"] != "keep" {
		t.Fatalf("OTHER = %q", values["OTHER"])
	}
}

func TestSaveAPIKeyWritesOwnerOnlyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("OTHER=keep\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := SaveAPIKey(path, "GROQ_API_KEY", "gsk-secret"); err != nil {
		t.Fatalf("SaveAPIKey() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("env file mode = %o, want 600", perm)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir entries = %d, want only the env file", len(entries))
	}
}

func TestSaveAPIKeyRejectsEmptyValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := SaveAPIKey(path, "GROQ_API_KEY", "  "); err == nil {
		t.Fatal("SaveAPIKey() expected error for empty value")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("env file should not be created, stat err = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadAnthropicProviderDefaults(t *testing.T) {
	cfg, err := Load("duckask", mapLookup(map[string]string{
		"DUCKASK_AI_PROVIDER": "anthropic",
		"ANTHROPIC_API_KEY":   "sk-ant",
		"GROQ_API_KEY":        "gsk-test",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.BaseURL != "https://api.anthropic.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "sk-ant" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.FallbackModel != "" {
		t.Fatalf("AI.FallbackModel = %q", cfg.AI.FallbackModel)
	}
}
