package positions

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sugoke/ambervision/internal/domain"
)

// setupTestPositionsDB creates an in-memory SQLite database with the
// positions table.
func setupTestPositionsDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE positions (
			unique_key TEXT PRIMARY KEY,
			bank_id TEXT NOT NULL,
			portfolio_code TEXT NOT NULL,
			account_number TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			isin TEXT,
			position_number TEXT,
			instrument_code TEXT,
			security_name TEXT,
			asset_class TEXT,
			security_type TEXT,
			currency TEXT NOT NULL,
			quantity REAL NOT NULL DEFAULT 0,
			market_price REAL NOT NULL DEFAULT 0,
			market_value REAL NOT NULL DEFAULT 0,
			cost_price REAL,
			snapshot_date TEXT NOT NULL,
			file_date TEXT NOT NULL,
			source_file TEXT,
			bank_data BLOB,
			status TEXT NOT NULL DEFAULT 'active',
			is_latest INTEGER NOT NULL DEFAULT 1,
			sold_at TEXT,
			sold_reason TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		) STRICT
	`)
	require.NoError(t, err)

	return db
}

// stubMatcher maps portfolio codes to a fixed account set.
type stubMatcher struct {
	accounts map[string]*domain.Account
}

func (m *stubMatcher) Match(portfolioCode, bankID string) (*domain.Account, error) {
	return m.accounts[portfolioCode], nil
}

func testAccount() *domain.Account {
	return &domain.Account{
		ID:            "acc-1",
		AccountNumber: "PF-7",
		BankID:        "ubs",
		OwnerID:       "owner-1",
	}
}

func testPosition(isin string, quantity, marketValue float64) domain.Position {
	return domain.Position{
		PortfolioCode: "PF-7",
		ISIN:          isin,
		SecurityName:  "Security " + isin,
		AssetClass:    "equity",
		SecurityType:  "stock",
		Currency:      "CHF",
		Quantity:      quantity,
		MarketPrice:   marketValue / quantity,
		MarketValue:   marketValue,
		SnapshotDate:  "2026-08-28",
	}
}

func newTestReconciler(t *testing.T) (*Reconciler, *Repository, *sql.DB) {
	db := setupTestPositionsDB(t)
	repo := NewRepository(db, zerolog.Nop())
	matcher := &stubMatcher{accounts: map[string]*domain.Account{"PF-7": testAccount()}}
	return NewReconciler(matcher, repo, zerolog.Nop()), repo, db
}

func reconcile(r *Reconciler, batch ...domain.Position) (domain.BatchResult, *domain.BatchContext) {
	bctx := domain.NewBatchContext(domain.GroupKey{BankID: "ubs", PortfolioCode: "PF-7"}, "2026-08-28", "api")
	for i := range batch {
		batch[i].BankID = "ubs"
		batch[i].FileDate = "2026-08-28"
	}
	return r.ReconcileGroup(bctx, batch), bctx
}

func TestReconcileGroup_CreatesNewPositions(t *testing.T) {
	r, repo, db := newTestReconciler(t)
	defer db.Close()

	result, bctx := reconcile(r, testPosition("CH0000000001", 100, 5000), testPosition("CH0000000002", 10, 1200))

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "acc-1", bctx.AccountID)
	assert.Equal(t, "owner-1", bctx.OwnerID)

	stored, err := repo.ListByPortfolio("ubs", "PF-7", true)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	for _, pos := range stored {
		assert.Equal(t, domain.PositionActive, pos.Status)
		assert.Equal(t, "PF-7", pos.AccountNumber)
		assert.Equal(t, "owner-1", pos.OwnerID)
	}
}

func TestReconcileGroup_IdenticalReimportCountsUnchanged(t *testing.T) {
	r, _, db := newTestReconciler(t)
	defer db.Close()

	first, _ := reconcile(r, testPosition("CH0000000001", 100, 5000))
	assert.Equal(t, 1, first.Created)

	second, _ := reconcile(r, testPosition("CH0000000001", 100, 5000))
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 1, second.Unchanged)
	assert.Equal(t, 0, second.Sold)
}

func TestReconcileGroup_ChangedValueCountsUpdated(t *testing.T) {
	r, repo, db := newTestReconciler(t)
	defer db.Close()

	reconcile(r, testPosition("CH0000000001", 100, 5000))
	result, _ := reconcile(r, testPosition("CH0000000001", 100, 5500))

	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Created)

	stored, err := repo.GetLatest(UniqueKey("ubs", "PF-7", "CH0000000001", "", "", "CHF"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 5500.0, stored.MarketValue)
}

func TestReconcileGroup_AbsentPositionSoldAndScopedToGroup(t *testing.T) {
	r, repo, db := newTestReconciler(t)
	defer db.Close()

	// Seed another portfolio's position directly; it must survive.
	other := testPosition("CH0000000009", 5, 900)
	other.BankID = "ubs"
	other.PortfolioCode = "PF-8"
	other.AccountNumber = "PF-8"
	other.OwnerID = "owner-2"
	other.FileDate = "2026-08-27"
	other.UniqueKey = UniqueKey("ubs", "PF-8", other.ISIN, "", "", "CHF")
	require.NoError(t, repo.Insert(other))

	reconcile(r, testPosition("CH0000000001", 100, 5000), testPosition("CH0000000002", 10, 1200))
	result, _ := reconcile(r, testPosition("CH0000000001", 100, 5000))

	assert.Equal(t, 1, result.Sold)

	soldKey := UniqueKey("ubs", "PF-7", "CH0000000002", "", "", "CHF")
	sold, err := repo.GetLatest(soldKey)
	require.NoError(t, err)
	require.NotNil(t, sold)
	assert.Equal(t, domain.PositionSold, sold.Status)
	assert.Equal(t, "2026-08-28", sold.SoldAt)
	assert.Equal(t, domain.SoldReasonNotInBankFile, sold.SoldReason)

	// The other portfolio's position is untouched.
	survivor, err := repo.GetLatest(other.UniqueKey)
	require.NoError(t, err)
	require.NotNil(t, survivor)
	assert.Equal(t, domain.PositionActive, survivor.Status)
}

func TestReconcileGroup_SoldPositionReappearingIsUpdated(t *testing.T) {
	r, repo, db := newTestReconciler(t)
	defer db.Close()

	reconcile(r, testPosition("CH0000000001", 100, 5000))
	reconcile(r) // empty file: position sold
	result, _ := reconcile(r, testPosition("CH0000000001", 100, 5000))

	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Created)

	pos, err := repo.GetLatest(UniqueKey("ubs", "PF-7", "CH0000000001", "", "", "CHF"))
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.PositionActive, pos.Status)
	assert.Empty(t, pos.SoldAt)
	assert.Empty(t, pos.SoldReason)
}

func TestReconcileGroup_UnmappedPortfolioSkipped(t *testing.T) {
	db := setupTestPositionsDB(t)
	defer db.Close()
	repo := NewRepository(db, zerolog.Nop())
	matcher := &stubMatcher{accounts: map[string]*domain.Account{}}
	r := NewReconciler(matcher, repo, zerolog.Nop())

	pos := testPosition("CH0000000001", 100, 5000)
	pos.PortfolioCode = "PF-999"
	bctx := domain.NewBatchContext(domain.GroupKey{BankID: "ubs", PortfolioCode: "PF-999"}, "2026-08-28", "api")
	result := r.ReconcileGroup(bctx, []domain.Position{pos})

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{"PF-999"}, result.Unmapped)
	assert.Equal(t, 0, result.Created)
	assert.False(t, result.Clean())

	stored, err := repo.ListByPortfolio("ubs", "PF-999", false)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestReconcileGroup_MalformedPositionRecordedNotFatal(t *testing.T) {
	r, _, db := newTestReconciler(t)
	defer db.Close()

	bad := testPosition("CH0000000002", 10, 1200)
	bad.Currency = ""

	result, _ := reconcile(r, testPosition("CH0000000001", 100, 5000), bad)

	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error, "currency")
}

func TestReconcileGroup_CashLineKeyedByPositionNumber(t *testing.T) {
	r, repo, db := newTestReconciler(t)
	defer db.Close()

	cash := domain.Position{
		PortfolioCode:  "PF-7",
		PositionNumber: "CASH-CHF-1",
		SecurityName:   "CHF current account",
		SecurityType:   "cash_account",
		Currency:       "CHF",
		Quantity:       1,
		MarketValue:    -2500,
		SnapshotDate:   "2026-08-28",
	}

	result, _ := reconcile(r, cash)
	assert.Equal(t, 1, result.Created)

	stored, err := repo.GetLatest(UniqueKey("ubs", "PF-7", "", "CASH-CHF-1", "", "CHF"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsCash())
}
