package di

import (
	"github.com/sugoke/ambervision/internal/database"
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

// Container holds all initialized dependencies.
type Container struct {
	// Databases (4-database architecture)
	// Each database uses SQLite with WAL mode and profile-specific PRAGMAs
	ReferenceDB *database.DB // Accounts, users, products, risk profiles (read side)
	PositionsDB *database.DB // Position ledger (ledger profile, audit trail)
	StateDB     *database.DB // Derived state (allocations, snapshots, batch runs)
	AlertsDB    *database.DB // Live risk alerts

	// Repositories - Data access layer
	AccountRepo    *accounts.Repository
	ProductRepo    *products.Repository
	PositionRepo   *positions.Repository
	AllocationRepo *allocations.Repository
	SnapshotRepo   *snapshots.Repository
	AlertRepo      *alerts.Repository
	RunRepo        *pipeline.RunRepository

	// Services - Business logic layer
	AccountMatcher  *accounts.Matcher
	Enricher        *products.Enricher
	Reconciler      *positions.Reconciler
	Linker          *allocations.Linker
	SnapshotBuilder *snapshots.Builder
	RiskMonitor     *risk.Monitor
	Orchestrator    *pipeline.Orchestrator
	Loader          *feed.Loader
}

// Databases returns all open databases in a fixed order.
func (c *Container) Databases() []*database.DB {
	return []*database.DB{c.ReferenceDB, c.PositionsDB, c.StateDB, c.AlertsDB}
}

// Close closes all database connections.
func (c *Container) Close() {
	for _, db := range c.Databases() {
		if db != nil {
			db.Close()
		}
	}
}
