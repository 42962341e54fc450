package infrastructure

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// Server is anything the App runs until shutdown: transports and the worker.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	servers []Server
	logger  *slog.Logger
}

func NewApp(servers []Server, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{servers: servers, logger: logger}
}

// Run starts every server and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		s := srv
		g.Go(func() error {
			return s.Start(ctx)
		})
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Reverse order: intake surfaces stop before the worker drains.
	for i := len(a.servers) - 1; i >= 0; i-- {
		if err := a.servers[i].Stop(stopCtx); err != nil {
			a.logger.Error("server stop failed", "error", err)
		}
	}

	return g.Wait()
}
