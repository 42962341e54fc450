package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"loyalty/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	slog.Info("loyalty service starting")
	runErr := app.Run(ctx)
	cleanup()
	if runErr != nil {
		slog.Error("service stopped with error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("loyalty service stopped")
}
