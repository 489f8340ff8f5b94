package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/config"
	"github.com/sugoke/ambervision/internal/feed"
	"github.com/sugoke/ambervision/internal/modules/accounts"
	"github.com/sugoke/ambervision/internal/modules/alerts"
	"github.com/sugoke/ambervision/internal/modules/allocations"
	"github.com/sugoke/ambervision/internal/modules/positions"
	"github.com/sugoke/ambervision/internal/modules/products"
	"github.com/sugoke/ambervision/internal/modules/risk"
	"github.com/sugoke/ambervision/internal/modules/snapshots"
	"github.com/sugoke/ambervision/internal/pipeline"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize repositories
// 3. Initialize services and the pipeline
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	// Repositories
	container.AccountRepo = accounts.NewRepository(container.ReferenceDB.Conn(), log)
	container.ProductRepo = products.NewRepository(container.ReferenceDB.Conn(), log)
	container.PositionRepo = positions.NewRepository(container.PositionsDB.Conn(), log)
	container.AllocationRepo = allocations.NewRepository(container.StateDB.Conn(), log)
	container.SnapshotRepo = snapshots.NewRepository(container.StateDB.Conn(), log)
	container.AlertRepo = alerts.NewRepository(container.AlertsDB.Conn(), log)
	container.RunRepo = pipeline.NewRunRepository(container.StateDB.Conn(), log)

	// Services
	container.AccountMatcher = accounts.NewMatcher(container.AccountRepo, log)
	container.Enricher = products.NewEnricher(container.ProductRepo, log)
	container.Reconciler = positions.NewReconciler(container.AccountMatcher, container.PositionRepo, log)
	container.Linker = allocations.NewLinker(container.AllocationRepo, container.ProductRepo,
		cfg.RedemptionGraceDays, log)
	container.SnapshotBuilder = snapshots.NewBuilder(container.SnapshotRepo, log)
	container.RiskMonitor = risk.NewMonitor(container.AccountRepo, container.AlertRepo,
		time.Duration(cfg.OverdraftDedupHours)*time.Hour,
		time.Duration(cfg.BreachDedupHours)*time.Hour, log)

	container.Orchestrator = pipeline.NewOrchestrator(
		container.Enricher,
		container.Reconciler,
		container.Linker,
		container.SnapshotBuilder,
		container.RiskMonitor,
		container.PositionRepo,
		container.RunRepo,
		cfg.ImportWorkers,
		log,
	)

	container.Loader = feed.NewLoader(cfg.InboxDir, cfg.ArchiveDir, log)

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, nil
}
