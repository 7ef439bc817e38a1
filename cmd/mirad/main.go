// File: cmd/mirad/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mirahq/mira-core/cmd"
	"github.com/mirahq/mira-core/internal/observability"
)

// osExit allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM)
	// for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil {
		// A canceled context means a graceful Ctrl+C shutdown, not a failure.
		if errors.Is(err, context.Canceled) {
			osExit(0)
		}
		osExit(1)
	}
}
