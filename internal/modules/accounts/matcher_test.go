package accounts

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// setupTestReferenceDB creates an in-memory SQLite database with the
// accounts table.
func setupTestReferenceDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE accounts (
			id TEXT PRIMARY KEY,
			account_number TEXT NOT NULL,
			bank_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			relationship_manager_id TEXT,
			authorized_overdraft REAL NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER,
			updated_at INTEGER
		) STRICT
	`)
	require.NoError(t, err)

	return db
}

func insertTestAccount(t *testing.T, db *sql.DB, id, accountNumber, bankID, ownerID string, active int) {
	_, err := db.Exec(
		`INSERT INTO accounts (id, account_number, bank_id, owner_id, active) VALUES (?, ?, ?, ?, ?)`,
		id, accountNumber, bankID, ownerID, active)
	require.NoError(t, err)
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PF-7-1", "PF-7"},
		{"PF-7-12", "PF-7"},
		{"pf-7-1", "PF-7"},
		{" PF-7-1 ", "PF-7"},
		{"PF-7", "PF"}, // stripping is blind, the matcher tries exact first
		{"ALPHA", "ALPHA"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCode(tt.in), "NormalizeCode(%q)", tt.in)
	}
}

func TestMatch_ExactCodeWins(t *testing.T) {
	db := setupTestReferenceDB(t)
	defer db.Close()

	// "PF-7" must match itself even though stripping would produce "PF".
	insertTestAccount(t, db, "acc-1", "PF-7", "ubs", "owner-1", 1)

	matcher := NewMatcher(NewRepository(db, zerolog.Nop()), zerolog.Nop())

	acc, err := matcher.Match("PF-7", "ubs")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "acc-1", acc.ID)
}

func TestMatch_SettlementSuffixStripped(t *testing.T) {
	db := setupTestReferenceDB(t)
	defer db.Close()

	insertTestAccount(t, db, "acc-1", "PF-7", "ubs", "owner-1", 1)

	matcher := NewMatcher(NewRepository(db, zerolog.Nop()), zerolog.Nop())

	acc, err := matcher.Match("PF-7-1", "ubs")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "acc-1", acc.ID)
	assert.Equal(t, "owner-1", acc.OwnerID)
}

func TestMatch_CaseInsensitive(t *testing.T) {
	db := setupTestReferenceDB(t)
	defer db.Close()

	insertTestAccount(t, db, "acc-1", "PF-7", "ubs", "owner-1", 1)

	matcher := NewMatcher(NewRepository(db, zerolog.Nop()), zerolog.Nop())

	acc, err := matcher.Match("pf-7-1", "ubs")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "acc-1", acc.ID)
}

func TestMatch_UnknownCodeReturnsNil(t *testing.T) {
	db := setupTestReferenceDB(t)
	defer db.Close()

	insertTestAccount(t, db, "acc-1", "PF-7", "ubs", "owner-1", 1)

	matcher := NewMatcher(NewRepository(db, zerolog.Nop()), zerolog.Nop())

	acc, err := matcher.Match("PF-999", "ubs")
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestMatch_ScopedByBank(t *testing.T) {
	db := setupTestReferenceDB(t)
	defer db.Close()

	insertTestAccount(t, db, "acc-1", "PF-7", "ubs", "owner-1", 1)

	matcher := NewMatcher(NewRepository(db, zerolog.Nop()), zerolog.Nop())

	acc, err := matcher.Match("PF-7", "pictet")
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestMatch_InactiveAccountIgnored(t *testing.T) {
	db := setupTestReferenceDB(t)
	defer db.Close()

	insertTestAccount(t, db, "acc-1", "PF-7", "ubs", "owner-1", 0)

	matcher := NewMatcher(NewRepository(db, zerolog.Nop()), zerolog.Nop())

	acc, err := matcher.Match("PF-7", "ubs")
	require.NoError(t, err)
	assert.Nil(t, acc)
}
