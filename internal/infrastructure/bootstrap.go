package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	"loyalty/internal/config"
	"loyalty/internal/logging"
	"loyalty/internal/repository"
	"loyalty/internal/security"
	"loyalty/internal/service"
	transportGRPC "loyalty/internal/transport/grpc"
	transportHTTP "loyalty/internal/transport/http"
	transportNATS "loyalty/internal/transport/nats"
	"loyalty/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg)
	slog.SetDefault(logger)

	if err := repository.RunMigrations(ctx, cfg.DSN(), "up"); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	db, err := connectPostgres(cfg.DSN(), cfg.DBMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}

	rdb, err := connectRedis(cfg.RedisAddr(), cfg.RedisPassword)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	// ── Infrastructure wiring ──────────────────────────────────────────────────
	dedup := repository.NewDedupCache(rdb, cfg.DedupTTL)
	queue := repository.NewEventQueue(rdb)
	intake := service.NewIntake(security.NewGate(cfg.WebhookSecret, logger), dedup, queue, logger)

	// 1. Bus setup: optional, credits commit without it.
	var bus repository.MessageBus
	natsURL, natsErr := cfg.NatsAddr()
	if natsErr != nil {
		logger.Info("event bus disabled", "reason", natsErr.Error())
	}
	var natsHandler *transportNATS.Handler
	if natsErr == nil {
		nc, err := connectNats(natsURL, logger)
		if err != nil {
			runCleanup(cleanupFns)()
			return nil, nil, fmt.Errorf("nats: %w", err)
		}
		cleanupFns = append(cleanupFns, nc.Close)
		bus = transportNATS.NewBus(nc)
		natsHandler = transportNATS.NewHandler(intake, nc, logger)
	}

	// 2. Ledger and its single consumer.
	ledger := service.NewPointsLedger(repository.NewLedgerRepo(db), service.LedgerOptions{
		AcceptedCurrency: cfg.AcceptedCurrency,
		MaxRetries:       cfg.LedgerMaxRetries,
		Bus:              bus,
		Logger:           logger,
	})
	ingestion := worker.NewIngestionWorker(ledger, queue, dedup, cfg.PollInterval, logger)

	// 3. Transports. The worker goes first so it is stopped last.
	servers := []Server{ingestion}
	if addr, err := cfg.GRPCAddr(); err == nil {
		servers = append(servers, transportGRPC.NewServer(addr, ingestion, logger))
	}
	if natsHandler != nil {
		servers = append(servers, natsHandler)
	}
	servers = append(servers, transportHTTP.NewServer(cfg.ApiAddr(), intake, ledger, logger))

	return NewApp(servers, logger), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
