// Package main runs the background poll worker, which advances running batches without waiting for self-continuation.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/touchless-directory/internal/app"
	"github.com/touchless-directory/internal/config"
	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/worker"
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

	logger := logging.GetGlobalLogger().WithField("component", "worker")
	ctx := logging.WithLogger(context.Background(), logger)

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	pollWorker, err := worker.NewPollWorker(&worker.PollWorkerConfig{
		Batches:      a.Batches,
		Poller:       a.Poller,
		Cursors:      a.Cursors,
		PollInterval: cfg.Pipeline.WorkerInterval,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create poll worker")
	}

	if err := pollWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start poll worker")
	}
	logger.WithField("interval", cfg.Pipeline.WorkerInterval.String()).Info("Poll worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pollWorker.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Poll worker shutdown error")
	}

	status := pollWorker.GetStatus()
	logger.WithFields(map[string]interface{}{
		"pages_polled": status.PagesPolled,
		"batches_seen": status.BatchesSeen,
	}).Info("Poll worker stopped")
}
