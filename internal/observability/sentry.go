package observability

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/duckask/duckask/internal/config"
)

// InitSentry configures error and span reporting when a DSN is set. The
// returned func flushes buffered events and is safe to call either way.
func InitSentry(cfg config.Config) (func(), error) {
	dsn := cfg.Observability.SentryDSN
	if dsn == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      string(cfg.Profile),
		ServerName:       cfg.Service.Name,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		return func() {}, fmt.Errorf("init sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
