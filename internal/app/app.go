// Package app provides the top-level application lifecycle management for the
// dispatch service. It wires together all dependencies (stores, caches, blob
// storage, guards, the dispatcher, and notifications) and runs the intake
// worker pool until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lfang615/crypto-trading-service/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the intake
// worker pool, and blocks until the context is cancelled. On return it runs
// all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting dispatch service",
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("intake_stream", a.cfg.Dispatch.IntakeStream),
		slog.Int("workers", a.cfg.Dispatch.Workers),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	err = deps.Worker.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: intake worker: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down dispatch service")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
