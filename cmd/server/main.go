// Package main provides the entry point for the harvester operator API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scholarmetrics/harvester/internal/alerts"
	"github.com/scholarmetrics/harvester/internal/config"
	"github.com/scholarmetrics/harvester/internal/database"
	"github.com/scholarmetrics/harvester/internal/metadata"
	"github.com/scholarmetrics/harvester/internal/observability"
	"github.com/scholarmetrics/harvester/internal/queue"
	"github.com/scholarmetrics/harvester/internal/repository"
	httpserver "github.com/scholarmetrics/harvester/internal/server/http"
	"github.com/scholarmetrics/harvester/internal/sources"
	"github.com/scholarmetrics/harvester/internal/works"
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
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("harvester server starting")

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

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Connect to Redis for the slot gate.
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
	alertSvc := alerts.NewDeduplicator(alertRepo, metrics, logger)

	// Shared HTTP client for outbound metadata lookups.
	client := sources.NewHTTPClient(sources.HTTPClientConfig{
		UserAgent: cfg.App.UserAgent,
	})

	metaSvc := metadata.NewService(metadata.Config{
		CrossRefURL:    cfg.Metadata.CrossRefURL,
		DataCiteURL:    cfg.Metadata.DataCiteURL,
		ORCIDURL:       cfg.Metadata.ORCIDURL,
		GitHubURL:      cfg.Metadata.GitHubURL,
		EuropePMCURL:   cfg.Metadata.EuropePMCURL,
		IDConverterURL: cfg.Metadata.IDConverterURL,
		ServerName:     cfg.App.ServerName,
		AdminEmail:     cfg.App.AdminEmail,
	}, client)

	workSvc := works.NewService(workRepo, sourceRepo, metaSvc, metrics, logger)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsPath:     metricsPath,
	}

	srv := httpserver.NewServer(
		httpCfg,
		workSvc,
		workRepo,
		sourceRepo,
		retrievalRepo,
		alertRepo,
		alertSvc,
		gate,
		db,
		logger,
	)

	// Channel to collect server errors.
	errCh := make(chan error, 1)

	go func() {
		logger.Info().Str("address", httpCfg.Address).Msg("HTTP server starting")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().Str("http_address", httpCfg.Address).Msg("harvester server is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("harvester server shutdown complete")
	return nil
}
