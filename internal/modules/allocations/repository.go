// Package allocations maintains client allocation records derived from
// observed custodian positions.
package allocations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// Repository handles allocation database operations
// Database: state.db (allocations table)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new allocation repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "allocations").Logger(),
	}
}

const allocationColumns = `id, product_id, client_id, bank_account_id, nominal_invested,
	purchase_price, status, source, last_seen_in_bank_file, redeemed_at, created_at, updated_at`

// GetAuto returns the most recent bank_auto allocation for a (product,
// client) pair regardless of status, or nil when none exists.
func (r *Repository) GetAuto(productID, clientID string) (*domain.Allocation, error) {
	query := "SELECT " + allocationColumns + ` FROM allocations
		WHERE product_id = ? AND client_id = ? AND source = ?
		ORDER BY created_at DESC LIMIT 1`

	rows, err := r.db.Query(query, productID, clientID, string(domain.SourceBankAuto))
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	alloc, err := scanAllocation(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan allocation: %w", err)
	}

	return &alloc, nil
}

// Insert stores a new allocation.
func (r *Repository) Insert(a domain.Allocation) error {
	now := time.Now().Unix()

	query := `INSERT INTO allocations (` + allocationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(query,
		a.ID, a.ProductID, a.ClientID, nullString(a.BankAccountID),
		a.NominalInvested, a.PurchasePrice, string(a.Status), string(a.Source),
		nullString(a.LastSeenInBankFile), nullString(a.RedeemedAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}

	r.log.Info().
		Str("product_id", a.ProductID).
		Str("client_id", a.ClientID).
		Float64("nominal", a.NominalInvested).
		Msg("Allocation created")

	return nil
}

// Touch bumps last_seen_in_bank_file for an allocation present in the
// current batch.
func (r *Repository) Touch(id, lastSeen string) error {
	now := time.Now().Unix()

	query := `UPDATE allocations SET last_seen_in_bank_file = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(query, lastSeen, now, id); err != nil {
		return fmt.Errorf("failed to touch allocation: %w", err)
	}

	return nil
}

// Reactivate flips a redeemed allocation back to active. A reappearing
// position overrides an earlier redemption inference.
func (r *Repository) Reactivate(id, lastSeen string) error {
	now := time.Now().Unix()

	query := `UPDATE allocations SET status = ?, redeemed_at = NULL,
		last_seen_in_bank_file = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(query, string(domain.AllocationActive), lastSeen, now, id); err != nil {
		return fmt.Errorf("failed to reactivate allocation: %w", err)
	}

	r.log.Info().Str("allocation_id", id).Msg("Allocation reactivated")
	return nil
}

// Redeem marks an allocation as redeemed.
func (r *Repository) Redeem(id, redeemedAt string) error {
	now := time.Now().Unix()

	query := `UPDATE allocations SET status = ?, redeemed_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(query, string(domain.AllocationRedeemed), redeemedAt, now, id); err != nil {
		return fmt.Errorf("failed to redeem allocation: %w", err)
	}

	r.log.Info().Str("allocation_id", id).Str("redeemed_at", redeemedAt).Msg("Allocation redeemed")
	return nil
}

// ListActiveAuto returns active bank_auto allocations for one client
// account. Scoped to the account so parallel groups never scan each other's
// allocations.
func (r *Repository) ListActiveAuto(clientID, bankAccountID string) ([]domain.Allocation, error) {
	query := "SELECT " + allocationColumns + ` FROM allocations
		WHERE client_id = ? AND bank_account_id = ? AND source = ? AND status = ?`

	rows, err := r.db.Query(query, clientID, bankAccountID,
		string(domain.SourceBankAuto), string(domain.AllocationActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active allocations: %w", err)
	}
	defer rows.Close()

	var result []domain.Allocation
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		result = append(result, alloc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocations: %w", err)
	}

	return result, nil
}

// ListByClient returns all allocations for one client.
func (r *Repository) ListByClient(clientID string) ([]domain.Allocation, error) {
	query := "SELECT " + allocationColumns + " FROM allocations WHERE client_id = ?"

	rows, err := r.db.Query(query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations by client: %w", err)
	}
	defer rows.Close()

	var result []domain.Allocation
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		result = append(result, alloc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocations: %w", err)
	}

	return result, nil
}

func scanAllocation(rows *sql.Rows) (domain.Allocation, error) {
	var a domain.Allocation
	var bankAccountID, lastSeen, redeemedAt sql.NullString
	var status, source string

	err := rows.Scan(
		&a.ID, &a.ProductID, &a.ClientID, &bankAccountID,
		&a.NominalInvested, &a.PurchasePrice, &status, &source,
		&lastSeen, &redeemedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}

	a.BankAccountID = bankAccountID.String
	a.LastSeenInBankFile = lastSeen.String
	a.RedeemedAt = redeemedAt.String
	a.Status = domain.AllocationStatus(status)
	a.Source = domain.AllocationSource(source)

	return a, nil
}

func nullString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}
