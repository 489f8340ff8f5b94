// Package main is the entry point for the custodian position reconciliation
// service. It ingests normalized bank position files, reconciles them
// against the position ledger, maintains bank-derived product allocations,
// builds portfolio snapshots, and raises risk alerts.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sugoke/ambervision/internal/app"
	"github.com/sugoke/ambervision/internal/config"
	"github.com/sugoke/ambervision/internal/di"
	"github.com/sugoke/ambervision/internal/reliability"
	"github.com/sugoke/ambervision/internal/server"
	"github.com/sugoke/ambervision/pkg/logger"
)

// main orchestrates the system startup sequence:
// 1. Loads configuration from environment variables
// 2. Initializes logging
// 3. Wires all dependencies via the DI container (databases, repositories, services)
// 4. Registers scheduled jobs (inbox scan, backups)
// 5. Starts the HTTP server
// 6. Waits for a shutdown signal and performs graceful shutdown
//
// The application uses a 4-database architecture:
// - reference.db: Accounts, users, products, risk profiles
// - positions.db: Position ledger (the custodian audit trail)
// - state.db: Derived state (allocations, snapshots, batch runs)
// - alerts.db: Live risk alerts
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting reconciliation service")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	importer := app.NewImportService(container.Loader, container.Orchestrator, log)

	// Scheduled jobs: the nightly inbox scan, and backups when configured.
	scheduler := app.NewScheduler(log)
	if err := scheduler.AddJob(cfg.ImportSchedule, app.NewScanJob(importer)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register inbox scan job")
	}

	if cfg.Backup != nil && cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage")
		}

		backupSvc := reliability.NewBackupService(s3Client,
			container.Databases(), cfg.DataDir, cfg.Backup.Retention, log)
		if err := scheduler.AddJob(cfg.Backup.Schedule, reliability.NewBackupJob(backupSvc)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}

	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(server.Config{
		Log:       log,
		Cfg:       cfg,
		Container: container,
		Importer:  importer,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
