// Package app wires configuration, storage, adapters and the pipeline into the components the binaries run.
package app

import (
	"context"
	"fmt"

	"github.com/touchless-directory/internal/adapter"
	"github.com/touchless-directory/internal/api"
	"github.com/touchless-directory/internal/classifier"
	"github.com/touchless-directory/internal/config"
	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/pipeline"
	"github.com/touchless-directory/internal/storage"
	"github.com/touchless-directory/internal/watchdog"
)

// App holds every long-lived component. Close releases the connections.
type App struct {
	Config   *config.Config
	Postgres *storage.PostgresDB
	Redis    *storage.RedisCache

	Listings *storage.ListingRepository
	Batches  *storage.BatchRepository
	Runs     *storage.RunRepository
	Filters  *storage.FilterRepository
	Jobs     *storage.JobRepository
	Lock     *storage.PollLock
	Cursors  *storage.CursorStore

	Provider   *adapter.FirecrawlClient
	Classifier *classifier.Classifier
	Kicker     *pipeline.HTTPKicker

	Submitter *pipeline.Submitter
	Poller    *pipeline.Poller
	Status    *pipeline.StatusService
	JobRunner *pipeline.JobRunner
	Sweeper   *watchdog.Sweeper
}

// Build connects to Postgres and Redis and assembles the pipeline
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.FromContext(ctx)

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Database connections established")

	a := &App{
		Config:   cfg,
		Postgres: postgres,
		Redis:    redis,
		Listings: storage.NewListingRepository(postgres),
		Batches:  storage.NewBatchRepository(postgres),
		Runs:     storage.NewRunRepository(postgres),
		Filters:  storage.NewFilterRepository(postgres),
		Jobs:     storage.NewJobRepository(postgres),
		Lock:     storage.NewPollLock(redis.Client()),
		Cursors:  storage.NewCursorStore(redis.Client(), cfg.Crawl.Retention),
	}

	a.Provider = adapter.NewFirecrawlClient(cfg.Crawl.APIKey, cfg.Crawl.BaseURL, cfg.Crawl.RequestTimeout)
	a.Classifier = classifier.New(adapter.NewAnthropicClient(adapter.AnthropicConfig{
		APIKey:    cfg.Classifier.APIKey,
		BaseURL:   cfg.Classifier.BaseURL,
		Model:     cfg.Classifier.Model,
		MaxTokens: cfg.Classifier.MaxTokens,
		Timeout:   cfg.Classifier.Timeout,
		RPS:       cfg.Classifier.RPS,
	}), cfg.Classifier.MaxChars)
	a.Kicker = pipeline.NewHTTPKicker(cfg.Server.PublicURL, cfg.Pipeline.ContinueDelay, 0)

	var selector pipeline.PhotoSelector
	if cfg.Pipeline.AIPhotoSelection {
		selector = a.Classifier
	}
	writer := pipeline.NewWriter(a.Listings, a.Runs, a.Filters)

	a.Submitter = pipeline.NewSubmitter(a.Listings, a.Batches, a.Provider, a.Cursors, pipeline.SubmitterConfig{
		ChunkSize:     cfg.Pipeline.ChunkSize,
		StorePageSize: cfg.Pipeline.StorePageSize,
		Scrape: adapter.ScrapeOptions{
			Formats:         cfg.Crawl.Formats,
			OnlyMainContent: true,
			TimeoutMs:       int(cfg.Crawl.PageTimeout.Milliseconds()),
			BlockAds:        true,
			MaxConcurrency:  cfg.Crawl.MaxConcurrency,
			Country:         cfg.Crawl.Country,
			Languages:       cfg.Crawl.Languages,
		},
	})
	a.Poller = pipeline.NewPoller(pipeline.PollerDeps{
		Batches:    a.Batches,
		Listings:   a.Listings,
		Runs:       a.Runs,
		Provider:   a.Provider,
		Classifier: a.Classifier,
		Photos:     pipeline.NewPhotoPicker(selector),
		Writer:     writer,
		Lock:       a.Lock,
		Cursors:    a.Cursors,
		Kicker:     a.Kicker,
	}, pipeline.PollerConfig{
		PageSize:            cfg.Crawl.PageSize,
		MinContentLength:    cfg.Pipeline.MinContentLength,
		ClassifyConcurrency: cfg.Pipeline.ClassifyConcurrency,
		LockTTL:             cfg.Pipeline.PollLockTTL,
		AutoContinue:        cfg.Pipeline.AutoContinue,
	})
	a.Status = pipeline.NewStatusService(a.Batches, a.Listings, a.Cursors)
	a.JobRunner = pipeline.NewJobRunner(a.Jobs, a.Runs, a.Classifier, writer, a.Kicker, pipeline.JobRunnerConfig{
		UnitBatchSize: cfg.Pipeline.JobUnitBatchSize,
		Concurrency:   cfg.Pipeline.ClassifyConcurrency,
		MaxAttempts:   cfg.Watchdog.MaxAttempts,
		AutoContinue:  cfg.Pipeline.AutoContinue,
	})
	a.Sweeper = watchdog.NewSweeper(a.Batches, a.Listings, a.Jobs, a.Cursors, a.Kicker, watchdog.Config{
		StallThreshold: cfg.Watchdog.StallThreshold,
		Retention:      cfg.Crawl.Retention,
		MaxAttempts:    cfg.Watchdog.MaxAttempts,
		KickCount:      cfg.Watchdog.KickCount,
		KickJitter:     cfg.Watchdog.KickJitter,
	})

	return a, nil
}

// Services returns the API's view of the pipeline
func (a *App) Services() api.Services {
	return api.Services{
		Submitter: a.Submitter,
		Poller:    a.Poller,
		Status:    a.Status,
		Jobs:      a.JobRunner,
		Health: map[string]api.HealthCheck{
			"postgres": a.Postgres.Ping,
			"redis":    a.Redis.Ping,
		},
	}
}

// Close releases database connections
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		logging.WithError(err).Warn("Error closing Redis connection")
	}
	a.Postgres.Close()
}
