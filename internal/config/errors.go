package config

import "fmt"

// ConfigurationError reports a credential that could not be resolved.
type ConfigurationError struct {
	Key     string
	EnvFile string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing API key: set %s in the environment or in %s (duckask key set <key>)", e.Key, e.EnvFile)
}
