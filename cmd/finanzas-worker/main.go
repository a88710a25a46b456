package main

import (
	"errors"
	"fmt"
	"os"

	"finanzas/internal/backend"
	"finanzas/internal/cli"
	"finanzas/internal/config"
	applog "finanzas/internal/log"
	"finanzas/internal/services"
	"finanzas/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentWorker)
	logger.Info("Starting finanzas-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.Persistent() {
		cli.Fatal(logger, "Worker needs a persistent backend", errors.New("DATA_BACKEND is memory"),
			"backend", cfg.DataBackend)
	}

	if err := run(logger, cfg); err != nil {
		cli.Fatal(logger, "Worker stopped with error", err, "backend", cfg.DataBackend)
	}
	logger.Info("Worker stopped gracefully")
}

func run(logger *applog.Logger, cfg *config.Config) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		return fmt.Errorf("backend configuration: %w", err)
	}
	backendConfig.RequireAMQP = true

	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendConfig)
	if err != nil {
		return fmt.Errorf("initialize backend: %w", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	auditWorker := worker.NewAuditWorker(services.NewAuditService(res.Store), res.Events, cfg.HandlerTimeout)

	logger.Info("Worker started, consuming loan events",
		"queue", cfg.AMQPQueue,
		"handler_timeout", cfg.HandlerTimeout)
	if err := auditWorker.Run(ctx); err != nil {
		return fmt.Errorf("consume loan events: %w", err)
	}
	return nil
}
