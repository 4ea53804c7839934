// Command ace-server runs the analysis correlation engine: the HTTP facade
// over the core, backed by the configured stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"acecore/infrastructure/config"
	"acecore/infrastructure/di"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("ace-server: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer cleanup()

	logger := container.Logger
	defer func() {
		_ = logger.Sync()
	}()

	if err := container.Start(ctx); err != nil {
		return err
	}
	defer container.Stop()

	// reloads only surface what changed; the wired backends keep running on
	// the boot configuration until a restart
	if path := os.Getenv("ACE_CONFIG"); path != "" {
		watcher, err := config.NewWatcher(path, cfg, logger)
		if err != nil {
			logger.Warn("configuration reload disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
			watcher.OnReload(func(next *config.Config) {
				if next.Backend != cfg.Backend ||
					next.DatabaseURL != cfg.DatabaseURL ||
					next.RedisAddress != cfg.RedisAddress ||
					next.ListenAddress != cfg.ListenAddress {
					logger.Warn("backend or listener configuration changed, restart to apply")
				}
			})
		}
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      container.Router.Setup(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("address", cfg.ListenAddress),
			zap.String("backend", cfg.Backend),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}
