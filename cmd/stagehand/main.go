// File: cmd/stagehand/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/stagehand/cmd"
	"github.com/xkilldash9x/stagehand/internal/observability"
)

func main() {
	// Flush buffered log entries on the way out.
	defer observability.Sync()

	// Interrupts cancel the run; in-flight fixtures still tear down.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
