// Package main is the entry point of the achievement engine worker.
//
// The worker runs periodic jobs against shared storage:
//   - re-evaluating every achievement for recently active users
//
// It owns its own evaluation queue and never serves HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dnflvus-wq/engTest/config"
	"github.com/dnflvus-wq/engTest/internal/app"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/scheduler"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/scheduler/jobs"
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

	log := app.NewLogger(cfg).With(logger.Component("worker"))
	defer func() { _ = log.Zap().Sync() }()

	if cfg.Storage.Driver == config.StorageMemory {
		log.Warn("worker is using in-memory storage and sees no activity from the server")
	}

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

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log})
	if err := registerJobs(cfg, container, sched, log); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. RUN UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	if err := container.Queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start evaluation queue: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("worker started")

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop failed", logger.Err(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := container.Queue.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to drain evaluation queue: %w", err)
	}

	stats := container.Queue.Stats()
	log.Info("worker stopped",
		logger.Int64("evaluations_processed", stats.Processed),
		logger.Int64("evaluations_dropped", stats.Dropped),
	)
	return nil
}

func registerJobs(cfg *config.Config, c *app.Container, sched *scheduler.Scheduler, log *logger.Logger) error {
	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, no jobs registered")
		return nil
	}
	if cfg.Features != nil && !cfg.Features.IsEnabled(config.FeatureRecheckJob, 0) {
		log.Info("recheck job switched off by feature flag")
		return nil
	}

	schedule, err := scheduler.ParseSchedule(cfg.Scheduler.RecheckSchedule)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_RECHECK_SCHEDULE: %w", err)
	}

	job := jobs.NewRecheckActiveJob(c.Storage.Activity, c.Queue, log, jobs.RecheckActiveConfig{
		Window: cfg.Scheduler.ActiveWindow,
	})
	if err := sched.Register(job, schedule); err != nil {
		return fmt.Errorf("failed to register %s: %w", job.Name(), err)
	}
	log.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("schedule", cfg.Scheduler.RecheckSchedule),
	)
	return nil
}
