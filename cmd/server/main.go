// Package main is the entry point of the achievement engine API server.
//
// The server exposes the achievement and badge API, accepts evaluation
// triggers and runs the evaluation queue in-process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dnflvus-wq/engTest/config"
	"github.com/dnflvus-wq/engTest/internal/app"
	apihttp "github.com/dnflvus-wq/engTest/internal/interface/http"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg).With(logger.Component("server"))
	defer func() { _ = log.Zap().Sync() }()

	log.Info("starting achievement server",
		logger.String("storage", cfg.Storage.Driver),
		logger.Bool("redis", cfg.Redis.Enabled),
		logger.String("addr", cfg.HTTP.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. WIRING
	// ─────────────────────────────────────────────────────────────────────────
	container, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	if err := container.Queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start evaluation queue: %w", err)
	}

	server := apihttp.NewServer(app.HTTPConfig(cfg), container.HTTPDependencies())

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SERVE UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := container.Queue.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("queue shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", logger.Err(err))
		return err
	}

	stats := container.Queue.Stats()
	log.Info("server stopped",
		logger.Int64("evaluations_processed", stats.Processed),
		logger.Int64("evaluations_dropped", stats.Dropped),
	)
	return nil
}
