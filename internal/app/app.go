// Package app owns the application lifecycle: dependency wiring, the
// background task set, and shutdown ordering.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kitefin/arbot/internal/config"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	secrets *config.Secrets
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and secrets.
func New(cfg *config.Config, secrets *config.Secrets, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		secrets: secrets,
		logger:  logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, starts the background task set, and blocks until
// the context is cancelled or the orchestrator stops.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.Int64("chain_id", a.cfg.ChainID),
		slog.Bool("test_mode", a.cfg.TestMode),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.secrets, a.logger)
	if err != nil {
		// Startup failure is config-or-environment shaped; refuse to run.
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Initialization: seed the nonce and the statistical universe before
	// the first cycle.
	if deps.Builder != nil {
		if err := deps.Builder.InitNonce(ctx); err != nil {
			return fmt.Errorf("app: init nonce: %w", err)
		}
	}
	if err := deps.Discovery.DiscoverOnce(ctx); err != nil {
		a.logger.Warn("initial discovery failed", slog.String("error", err.Error()))
	}
	if err := deps.Registry.RefreshPrices(ctx); err != nil {
		a.logger.Warn("initial price refresh failed", slog.String("error", err.Error()))
	}
	deps.ZScore.BuildUniverse(deps.Registry.BaseTokens(), deps.Registry.TopByLiquidity(a.cfg.Tokens.DiscoverTopN))

	// Background task set: every long-lived loop runs under one group and
	// dies together.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Pool.RunHealthChecks(gctx) })
	g.Go(func() error { return deps.Exporter.Run(gctx) })
	g.Go(func() error { return deps.Oracle.Run(gctx) })
	g.Go(func() error { return deps.Sampler.Run(gctx) })
	g.Go(func() error { return deps.Registry.RunRefresh(gctx) })
	g.Go(func() error { return deps.Discovery.Run(gctx) })
	g.Go(func() error { return deps.ZScore.RunRetest(gctx, 0) })
	g.Go(func() error { return deps.Alerter.RunHourlySummary(gctx, deps.Metrics) })
	if deps.Observer != nil {
		g.Go(func() error { return deps.Observer.Run(gctx) })
		g.Go(func() error { return deps.Guard.Drain(gctx, deps.Observer.Observations()) })
	}
	g.Go(func() error { return deps.Guard.RunBlockWatch(gctx, deps.Pool) })

	// The orchestrator is the foreground task.
	g.Go(func() error { return deps.Engine.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
