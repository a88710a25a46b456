package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"finanzas/internal/backend"
	"finanzas/internal/cache"
	"finanzas/internal/cli"
	"finanzas/internal/config"
	apphttp "finanzas/internal/http"
	applog "finanzas/internal/log"
	"finanzas/internal/middleware/ratelimit"
	"finanzas/internal/services"
	"finanzas/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	if err := run(logger, cfg); err != nil {
		cli.Fatal(logger, "Server stopped with error", err, "backend", cfg.DataBackend)
	}
	logger.Info("Server stopped gracefully")
}

// run owns every resource of the server so that its deferred cleanup has
// finished before main exits.
func run(logger *applog.Logger, cfg *config.Config) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		return fmt.Errorf("backend configuration: %w", err)
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendConfig)
	if err != nil {
		return fmt.Errorf("initialize backend: %w", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	codec, ephemeral, err := cfg.Codec()
	if err != nil {
		return fmt.Errorf("initialize secret codec: %w", err)
	}
	if ephemeral {
		logger.Warn("SECRET_KEY not set, using an ephemeral key; stored credentials will not survive a restart")
	}

	caches := cache.NewManager()
	pages := services.DefaultPageCache()
	caches.Register(pages)
	caches.StartCleanup(time.Minute)

	loans := services.NewLoanService(res.Store, res.Publisher(), pages)
	audit := services.NewAuditService(res.Store)

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Loans:          loans,
		Credentials:    services.NewCredentialService(res.Store, codec),
		Audit:          audit,
		Store:          res.Store,
		Caches:         caches,
		Logger:         logger,
		SessionKey:     cfg.SessionKey(),
		SecureCookies:  cfg.SecureCookies,
		DefaultOwnerID: cfg.DefaultOwnerID,
		PageSize:       cfg.PageSize,
		RateLimit:      ratelimit.DefaultConfig(),
	})
	if err != nil {
		return fmt.Errorf("initialize HTTP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting finanzas server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// A memory store is private to this process, so its audit trail has to
	// be written here rather than by finanzas-worker.
	if res.Events != nil && !cfg.Persistent() {
		auditWorker := worker.NewAuditWorker(audit, res.Events, cfg.HandlerTimeout)
		g.Go(func() error { return auditWorker.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
