// Package snapshots builds and stores dated aggregates of portfolio state.
package snapshots

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// Repository handles snapshot database operations
// Database: state.db (snapshots table)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// Upsert stores a snapshot, overwriting any existing one for the same
// (owner, bank, portfolio, date). This is what makes re-imports idempotent.
func (r *Repository) Upsert(s domain.PortfolioSnapshot) error {
	now := time.Now().Unix()

	breakdown, err := json.Marshal(s.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}

	query := `
		INSERT INTO snapshots (owner_id, bank_id, portfolio_code, snapshot_date,
			total_value, cash_balance, breakdown, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, bank_id, portfolio_code, snapshot_date) DO UPDATE SET
			total_value = excluded.total_value,
			cash_balance = excluded.cash_balance,
			breakdown = excluded.breakdown,
			created_at = excluded.created_at
	`

	_, err = r.db.Exec(query, s.OwnerID, s.BankID, s.PortfolioCode, s.SnapshotDate,
		s.TotalValue, s.CashBalance, string(breakdown), now)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	return nil
}

// Get returns the snapshot for a (owner, bank, portfolio, date) key, or nil.
func (r *Repository) Get(ownerID, bankID, portfolioCode, date string) (*domain.PortfolioSnapshot, error) {
	query := `SELECT owner_id, bank_id, portfolio_code, snapshot_date,
		total_value, cash_balance, breakdown, created_at
		FROM snapshots WHERE owner_id = ? AND bank_id = ? AND portfolio_code = ? AND snapshot_date = ?`

	rows, err := r.db.Query(query, ownerID, bankID, portfolioCode, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	snap, err := scanSnapshot(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	return &snap, nil
}

// ListByOwner returns all snapshots for an owner, newest first.
func (r *Repository) ListByOwner(ownerID string) ([]domain.PortfolioSnapshot, error) {
	query := `SELECT owner_id, bank_id, portfolio_code, snapshot_date,
		total_value, cash_balance, breakdown, created_at
		FROM snapshots WHERE owner_id = ? ORDER BY snapshot_date DESC`

	rows, err := r.db.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots by owner: %w", err)
	}
	defer rows.Close()

	var result []domain.PortfolioSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		result = append(result, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return result, nil
}

func scanSnapshot(rows *sql.Rows) (domain.PortfolioSnapshot, error) {
	var s domain.PortfolioSnapshot
	var breakdown string

	err := rows.Scan(&s.OwnerID, &s.BankID, &s.PortfolioCode, &s.SnapshotDate,
		&s.TotalValue, &s.CashBalance, &breakdown, &s.CreatedAt)
	if err != nil {
		return s, err
	}

	if breakdown != "" {
		if err := json.Unmarshal([]byte(breakdown), &s.Breakdown); err != nil {
			return s, fmt.Errorf("failed to decode breakdown: %w", err)
		}
	}

	return s, nil
}
