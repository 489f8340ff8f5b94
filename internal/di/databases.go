// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/config"
	"github.com/sugoke/ambervision/internal/database"
)

// InitializeDatabases opens all 4 databases and applies their schemas.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. reference.db - Accounts, users, products, risk profiles
	referenceDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "reference.db"),
		Profile: database.ProfileStandard,
		Name:    "reference",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reference database: %w", err)
	}
	container.ReferenceDB = referenceDB

	// 2. positions.db - Position ledger. Ledger profile: this is the audit
	// trail of what the custodians reported.
	positionsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "positions.db"),
		Profile: database.ProfileLedger,
		Name:    "positions",
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize positions database: %w", err)
	}
	container.PositionsDB = positionsDB

	// 3. state.db - Derived portfolio state (allocations, snapshots, runs)
	stateDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "state.db"),
		Profile: database.ProfileStandard,
		Name:    "state",
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}
	container.StateDB = stateDB

	// 4. alerts.db - Live risk alerts
	alertsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "alerts.db"),
		Profile: database.ProfileStandard,
		Name:    "alerts",
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize alerts database: %w", err)
	}
	container.AlertsDB = alertsDB

	for _, db := range []*database.DB{referenceDB, positionsDB, stateDB, alertsDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("All databases initialized")

	return container, nil
}
