// Package main provides the entry point for the harvesting worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/scholarmetrics/harvester/internal/alerts"
	"github.com/scholarmetrics/harvester/internal/config"
	"github.com/scholarmetrics/harvester/internal/database"
	"github.com/scholarmetrics/harvester/internal/docstore"
	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/executor"
	"github.com/scholarmetrics/harvester/internal/observability"
	"github.com/scholarmetrics/harvester/internal/queue"
	"github.com/scholarmetrics/harvester/internal/repository"
	"github.com/scholarmetrics/harvester/internal/sources"
	"github.com/scholarmetrics/harvester/internal/sources/crossref"
	"github.com/scholarmetrics/harvester/internal/sources/europepmc"
	"github.com/scholarmetrics/harvester/internal/sources/github"
	"github.com/scholarmetrics/harvester/internal/sources/pmc"
	"github.com/scholarmetrics/harvester/internal/sources/scopus"
	"github.com/scholarmetrics/harvester/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker-main").Logger()
	logger.Info().Str("worker_id", cfg.Worker.ID).Msg("harvester worker starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Connect to Redis for the slot gate and document store.
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Str("address", cfg.Redis.Address).Msg("redis connection established")

	// Create repositories.
	workRepo := repository.NewPgWorkRepository(db)
	sourceRepo := repository.NewPgSourceRepository(db)
	retrievalRepo := repository.NewPgRetrievalRepository(db)
	alertRepo := repository.NewPgAlertRepository(db)

	metrics := observability.NewMetrics("harvester")
	gate := queue.NewSlotGate(rdb)
	docs := docstore.New(rdb)
	alertSvc := alerts.NewDeduplicator(alertRepo, metrics, logger)
	q := queue.New(db)

	// Shared HTTP client for all source fetches.
	client := sources.NewHTTPClient(sources.HTTPClientConfig{
		UserAgent: cfg.App.UserAgent,
	})

	// Register an adapter per enabled source and make sure each has a
	// matching database row.
	registry := sources.NewRegistry()
	if err := installSources(ctx, cfg, registry, sourceRepo, logger); err != nil {
		return fmt.Errorf("install sources: %w", err)
	}

	job := executor.NewSourceJob(executor.SourceJobParams{
		Registry:      registry,
		Client:        client,
		SourceRepo:    sourceRepo,
		WorkRepo:      workRepo,
		RetrievalRepo: retrievalRepo,
		Docs:          docs,
		Gate:          gate,
		Alerts:        alertSvc,
		Metrics:       metrics,
		Logger:        logger,
		StaleAge:      cfg.Worker.StaleAge,
	})

	w := worker.New(worker.Config{
		ID:            cfg.Worker.ID,
		Concurrency:   cfg.Worker.Concurrency,
		PollInterval:  cfg.Worker.PollInterval,
		LeaseDuration: cfg.Worker.LeaseDuration,
	}, q, job, sourceRepo, alertSvc, metrics, logger)

	sched := worker.NewScheduler(worker.SchedulerConfig{
		Interval:  cfg.Worker.PollInterval,
		BatchSize: cfg.Worker.BatchSize,
	}, q, sourceRepo, retrievalRepo, metrics, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Dur("poll_interval", cfg.Worker.PollInterval).
		Msg("harvester worker is ready")

	<-ctx.Done()
	logger.Info().Msg("received shutdown signal")

	wg.Wait()
	logger.Info().Msg("harvester worker shutdown complete")
	return nil
}

// defaultMaxFailedQueries is the failure budget seeded on newly installed
// sources.
const defaultMaxFailedQueries = 200

// installSources registers one adapter per enabled source and ensures a
// database row exists for each, created in the waiting state.
func installSources(ctx context.Context, cfg *config.Config, registry *sources.Registry, sourceRepo repository.SourceRepository, logger zerolog.Logger) error {
	type install struct {
		name        string
		displayName string
		cfg         config.SourceConfig
		adapter     sources.Adapter
	}

	var installs []install

	if sc := cfg.Sources.CrossRef; sc.Enabled {
		installs = append(installs, install{
			name:        crossref.Name,
			displayName: "CrossRef",
			cfg:         sc,
			adapter: crossref.New(crossref.Config{
				BaseURL:     sc.BaseURL,
				JobInterval: sc.JobInterval,
				Timeout:     sc.Timeout,
			}),
		})
	}
	if sc := cfg.Sources.EuropePMC; sc.Enabled {
		installs = append(installs, install{
			name:        europepmc.Name,
			displayName: "Europe PMC",
			cfg:         sc,
			adapter: europepmc.New(europepmc.Config{
				BaseURL:     sc.BaseURL,
				JobInterval: sc.JobInterval,
				Timeout:     sc.Timeout,
			}),
		})
	}
	if sc := cfg.Sources.PMC; sc.Enabled {
		installs = append(installs, install{
			name:        pmc.Name,
			displayName: "PubMed Central Usage Stats",
			cfg:         sc,
			adapter: pmc.New(pmc.Config{
				StatsURL:    sc.StatsURL,
				JobInterval: sc.JobInterval,
				Timeout:     sc.Timeout,
			}),
		})
	}
	if sc := cfg.Sources.GitHub; sc.Enabled {
		installs = append(installs, install{
			name:        github.Name,
			displayName: "GitHub",
			cfg:         sc,
			adapter: github.New(github.Config{
				BaseURL:     sc.BaseURL,
				JobInterval: sc.JobInterval,
				Timeout:     sc.Timeout,
			}),
		})
	}
	if sc := cfg.Sources.Scopus; sc.Enabled {
		installs = append(installs, install{
			name:        scopus.Name,
			displayName: "Scopus",
			cfg:         sc,
			adapter: scopus.New(scopus.Config{
				BaseURL:     sc.BaseURL,
				APIKey:      sc.APIKey,
				JobInterval: sc.JobInterval,
				Timeout:     sc.Timeout,
			}),
		})
	}

	if len(installs) == 0 {
		return fmt.Errorf("no sources enabled")
	}

	for _, in := range installs {
		registry.Register(in.adapter)

		_, err := sourceRepo.GetByName(ctx, in.name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("look up source %s: %w", in.name, err)
		}

		now := time.Now().UTC()
		source := &domain.Source{
			ID:               uuid.New(),
			Name:             in.name,
			DisplayName:      in.displayName,
			State:            domain.SourceWaiting,
			Workers:          in.cfg.Workers,
			JobInterval:      in.cfg.JobInterval,
			Timeout:          in.cfg.Timeout,
			StaleAge:         in.cfg.StaleAge,
			MaxFailedQueries: defaultMaxFailedQueries,
			Queue:            "default",
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := sourceRepo.Create(ctx, source); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("create source %s: %w", in.name, err)
		}
		logger.Info().Str("source", in.name).Msg("source installed")
	}

	return nil
}
