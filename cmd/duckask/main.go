package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/duckask/duckask/internal/cli/duckask"
	"github.com/duckask/duckask/internal/config"
	"github.com/duckask/duckask/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	flush := func() {}
	if cfg, err := config.LoadFromEnv("duckask"); err == nil {
		if flush, err = observability.InitSentry(cfg); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "sentry disabled: %v\n", err)
		}
	}

	code := duckask.Run(ctx, os.Args[1:], duckask.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	flush()
	stop()
	os.Exit(code)
}
