// Package accounts provides account lookups and portfolio-code matching.
package accounts

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// Repository handles account and user database operations
// Database: reference.db (accounts, users, risk_profiles tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new accounts repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

// GetByNumber returns the active account for a normalized account number and
// bank, or nil when no such account exists.
func (r *Repository) GetByNumber(accountNumber, bankID string) (*domain.Account, error) {
	query := `SELECT id, account_number, bank_id, owner_id, relationship_manager_id,
		authorized_overdraft, active
		FROM accounts WHERE account_number = ? AND bank_id = ? AND active = 1`

	rows, err := r.db.Query(query, accountNumber, bankID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	acc, err := scanAccount(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	return &acc, nil
}

// GetByID returns an account by internal ID, or nil when absent.
func (r *Repository) GetByID(id string) (*domain.Account, error) {
	query := `SELECT id, account_number, bank_id, owner_id, relationship_manager_id,
		authorized_overdraft, active
		FROM accounts WHERE id = ?`

	rows, err := r.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query account by id: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	acc, err := scanAccount(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	return &acc, nil
}

// GetRiskProfile returns the allocation-limit profile for an account, or nil
// when the account has no profile configured.
func (r *Repository) GetRiskProfile(accountID string) (*domain.RiskProfile, error) {
	query := `SELECT account_id, max_cash_pct, max_bonds_pct, max_equities_pct,
		max_alternative_pct FROM risk_profiles WHERE account_id = ?`

	rows, err := r.db.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk profile: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var p domain.RiskProfile
	if err := rows.Scan(&p.AccountID, &p.MaxCashPct, &p.MaxBondsPct,
		&p.MaxEquitiesPct, &p.MaxAlternativePct); err != nil {
		return nil, fmt.Errorf("failed to scan risk profile: %w", err)
	}

	return &p, nil
}

// ListAdminIDs returns the IDs of all active admin-role users.
func (r *Repository) ListAdminIDs() ([]string, error) {
	rows, err := r.db.Query("SELECT id FROM users WHERE role = ? AND active = 1", string(domain.RoleAdmin))
	if err != nil {
		return nil, fmt.Errorf("failed to query admin users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan admin user: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admin users: %w", err)
	}

	return ids, nil
}

func scanAccount(rows *sql.Rows) (domain.Account, error) {
	var acc domain.Account
	var rmID sql.NullString
	var active int

	err := rows.Scan(
		&acc.ID,
		&acc.AccountNumber,
		&acc.BankID,
		&acc.OwnerID,
		&rmID,
		&acc.AuthorizedOverdraft,
		&active,
	)
	if err != nil {
		return acc, err
	}

	if rmID.Valid {
		acc.RelationshipManagerID = rmID.String
	}
	acc.Active = active == 1
	acc.AccountNumber = strings.ToUpper(strings.TrimSpace(acc.AccountNumber))

	return acc, nil
}
