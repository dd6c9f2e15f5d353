// Command api runs the curio backend: the HTTP surface, the enrichment
// workers and the queue maintenance sweeps in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"curio-backend/internal/config"
	"curio-backend/internal/di"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := di.New(ctx, cfg)
	if err != nil {
		return err
	}
	logger := app.Logger

	logger.Info("starting",
		zap.String("version", config.Version),
		zap.String("environment", cfg.Environment),
		zap.String("addr", app.Server.Addr),
		zap.Any("config", cfg.Redacted()))

	app.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		if err := app.Server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		logger.Error("server failed", zap.Error(err))
		_ = app.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.Server.Shutdown(drainCtx); err != nil {
		logger.Warn("listener drain incomplete", zap.Error(err))
	}
	app.Stop()

	if err := app.Close(drainCtx); err != nil {
		logger.Warn("shutdown finished with errors", zap.Error(err))
		return nil
	}
	logger.Info("shutdown complete")
	return nil
}
