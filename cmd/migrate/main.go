package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"loyalty/internal/config"
	"loyalty/internal/logging"
	"loyalty/internal/repository"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg))

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run cmd/migrate/main.go [command] [args]")
		fmt.Println("Commands: up, down, status, redo")
		os.Exit(1)
	}

	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	slog.Info("starting migration", "command", command)

	if err := repository.RunMigrations(ctx, cfg.DSN(), command, args[1:]...); err != nil {
		slog.Error("migration error", "error", err)
		cancel()
		os.Exit(1)
	}

	fmt.Println("Migration finished successfully")
}
