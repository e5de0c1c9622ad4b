// Package main runs the stall watchdog on a fixed interval.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/touchless-directory/internal/app"
	"github.com/touchless-directory/internal/config"
	"github.com/touchless-directory/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	closer := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	defer closer.Close()

	logger := logging.GetGlobalLogger().WithField("component", "watchdog")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	interval := cfg.Watchdog.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger.WithField("interval", interval.String()).Info("Watchdog started")

	sweep := func() {
		report, err := a.Sweeper.Sweep(ctx)
		if err != nil {
			logger.WithError(err).Error("Sweep failed")
			return
		}
		logger.WithFields(map[string]interface{}{
			"batches_kicked":    report.BatchesKicked,
			"batches_abandoned": report.BatchesAbandoned,
			"jobs_kicked":       report.JobsKicked,
			"jobs_completed":    report.JobsCompleted,
			"units_reset":       report.UnitsReset,
			"units_failed":      report.UnitsFailed,
		}).Info("Sweep finished")
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Watchdog stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
