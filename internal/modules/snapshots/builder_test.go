package snapshots

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sugoke/ambervision/internal/domain"
)

func setupTestStateDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE snapshots (
			owner_id TEXT NOT NULL,
			bank_id TEXT NOT NULL,
			portfolio_code TEXT NOT NULL,
			snapshot_date TEXT NOT NULL,
			total_value REAL NOT NULL DEFAULT 0,
			cash_balance REAL NOT NULL DEFAULT 0,
			breakdown TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (owner_id, bank_id, portfolio_code, snapshot_date)
		) STRICT
	`)
	require.NoError(t, err)

	return db
}

func snapshotPositions() []domain.Position {
	return []domain.Position{
		{ISIN: "CH0000000001", AssetClass: "Equity", MarketValue: 60000},
		{ISIN: "CH0000000002", AssetClass: "equity", MarketValue: 15000},
		{ISIN: "XS0000000001", AssetClass: "Structured Product", MarketValue: 20000},
		{PositionNumber: "CASH-1", AssetClass: "Cash", SecurityType: "cash_account", MarketValue: 5000},
	}
}

func TestAggregate_BreakdownAndTotals(t *testing.T) {
	group := domain.GroupKey{BankID: "ubs", PortfolioCode: "PF-7"}

	snap := Aggregate("owner-1", group, "2026-08-28", snapshotPositions())

	assert.Equal(t, 100000.0, snap.TotalValue)
	assert.Equal(t, 5000.0, snap.CashBalance)
	// Asset classes fold case-insensitively.
	assert.Equal(t, 75000.0, snap.Breakdown["equity"])
	assert.Equal(t, 20000.0, snap.Breakdown["structured product"])
	assert.Equal(t, 5000.0, snap.Breakdown["cash"])
}

func TestAggregate_MissingAssetClassIsUnclassified(t *testing.T) {
	group := domain.GroupKey{BankID: "ubs", PortfolioCode: "PF-7"}

	snap := Aggregate("owner-1", group, "2026-08-28", []domain.Position{
		{ISIN: "CH0000000001", MarketValue: 1000},
	})

	assert.Equal(t, 1000.0, snap.Breakdown["unclassified"])
}

func TestBuild_RerunOverwritesSameDay(t *testing.T) {
	db := setupTestStateDB(t)
	defer db.Close()

	repo := NewRepository(db, zerolog.Nop())
	builder := NewBuilder(repo, zerolog.Nop())

	bctx := domain.NewBatchContext(domain.GroupKey{BankID: "ubs", PortfolioCode: "PF-7"}, "2026-08-28", "api")
	bctx.OwnerID = "owner-1"

	first := builder.Build(bctx, snapshotPositions())
	require.NotNil(t, first)

	// A corrected file for the same date replaces the aggregate.
	updated := snapshotPositions()
	updated[0].MarketValue = 70000
	second := builder.Build(bctx, updated)
	require.NotNil(t, second)

	stored, err := repo.Get("owner-1", "ubs", "PF-7", "2026-08-28")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 110000.0, stored.TotalValue)

	all, err := repo.ListByOwner("owner-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBuild_SkipsUnownedGroup(t *testing.T) {
	db := setupTestStateDB(t)
	defer db.Close()

	repo := NewRepository(db, zerolog.Nop())
	builder := NewBuilder(repo, zerolog.Nop())

	bctx := domain.NewBatchContext(domain.GroupKey{BankID: "ubs", PortfolioCode: "PF-999"}, "2026-08-28", "api")

	assert.Nil(t, builder.Build(bctx, snapshotPositions()))
}
