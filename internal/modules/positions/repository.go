// Package positions provides the position store and the reconciler that
// applies custodian batches against it.
package positions

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sugoke/ambervision/internal/database"
	"github.com/sugoke/ambervision/internal/domain"
)

// Repository handles position database operations
// Database: positions.db (positions table)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new position repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

const positionColumns = `unique_key, bank_id, portfolio_code, account_number, owner_id,
	isin, position_number, instrument_code, security_name, asset_class, security_type,
	currency, quantity, market_price, market_value, cost_price, snapshot_date, file_date,
	source_file, bank_data, status, is_latest, sold_at, sold_reason, created_at, updated_at`

// GetLatest returns the current-state record for a unique key, or nil when
// the key has never been seen.
func (r *Repository) GetLatest(uniqueKey string) (*domain.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE unique_key = ? AND is_latest = 1"

	rows, err := r.db.Query(query, uniqueKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query position by key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	pos, err := scanPosition(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}

	return &pos, nil
}

// Insert stores a first-seen position as the latest record for its key.
func (r *Repository) Insert(p domain.Position) error {
	now := time.Now().Unix()
	p.Status = domain.PositionActive
	p.IsLatest = true
	p.CreatedAt = now
	p.UpdatedAt = now

	bankData, err := encodeBankData(p.BankData)
	if err != nil {
		return fmt.Errorf("failed to encode bank data: %w", err)
	}

	query := `INSERT INTO positions (` + positionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query,
		p.UniqueKey, p.BankID, p.PortfolioCode, p.AccountNumber, p.OwnerID,
		nullString(p.ISIN), nullString(p.PositionNumber), nullString(p.InstrumentCode),
		nullString(p.SecurityName), nullString(p.AssetClass), nullString(p.SecurityType),
		p.Currency, p.Quantity, p.MarketPrice, p.MarketValue, nullFloat64Ptr(p.CostPrice),
		p.SnapshotDate, p.FileDate, nullString(p.SourceFile), bankData,
		string(p.Status), boolToInt(p.IsLatest), nullString(p.SoldAt), nullString(p.SoldReason),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}

	return nil
}

// Update overwrites the stored state of an existing key in place. The
// position stays active and latest; only field values and the update
// timestamp move.
func (r *Repository) Update(p domain.Position) error {
	now := time.Now().Unix()

	bankData, err := encodeBankData(p.BankData)
	if err != nil {
		return fmt.Errorf("failed to encode bank data: %w", err)
	}

	query := `UPDATE positions SET
		account_number = ?, owner_id = ?, isin = ?, position_number = ?, instrument_code = ?,
		security_name = ?, asset_class = ?, security_type = ?, currency = ?,
		quantity = ?, market_price = ?, market_value = ?, cost_price = ?,
		snapshot_date = ?, file_date = ?, source_file = ?, bank_data = ?,
		status = ?, sold_at = NULL, sold_reason = NULL, updated_at = ?
		WHERE unique_key = ? AND is_latest = 1`

	result, err := r.db.Exec(query,
		p.AccountNumber, p.OwnerID, nullString(p.ISIN), nullString(p.PositionNumber),
		nullString(p.InstrumentCode), nullString(p.SecurityName), nullString(p.AssetClass),
		nullString(p.SecurityType), p.Currency, p.Quantity, p.MarketPrice, p.MarketValue,
		nullFloat64Ptr(p.CostPrice), p.SnapshotDate, p.FileDate, nullString(p.SourceFile),
		bankData, string(domain.PositionActive), now, p.UniqueKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("no latest record to update for key %s", p.UniqueKey)
	}

	return nil
}

// ActiveKeys returns the unique keys of all active latest records for one
// (bank, portfolio) pair. Used by sold-position detection.
func (r *Repository) ActiveKeys(bankID, portfolioCode string) ([]string, error) {
	query := `SELECT unique_key FROM positions
		WHERE bank_id = ? AND portfolio_code = ? AND is_latest = 1 AND status = ?`

	rows, err := r.db.Query(query, bankID, portfolioCode, string(domain.PositionActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan active key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active keys: %w", err)
	}

	return keys, nil
}

// MarkSoldBatch soft-closes a set of keys in one transaction, so a group's
// sold pass lands atomically. The records stay (audit trail), only their
// status changes. Returns the number of rows closed.
func (r *Repository) MarkSoldBatch(uniqueKeys []string, soldAt, reason string) (int, error) {
	if len(uniqueKeys) == 0 {
		return 0, nil
	}

	now := time.Now().Unix()
	closed := 0

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE positions SET status = ?, sold_at = ?, sold_reason = ?, updated_at = ?
			WHERE unique_key = ? AND is_latest = 1`)
		if err != nil {
			return fmt.Errorf("failed to prepare sold update: %w", err)
		}
		defer stmt.Close()

		for _, key := range uniqueKeys {
			result, err := stmt.Exec(string(domain.PositionSold), soldAt, reason, now, key)
			if err != nil {
				return fmt.Errorf("failed to mark position sold: %w", err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				closed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Debug().
		Int("closed", closed).
		Str("sold_at", soldAt).
		Msg("Sold positions closed")

	return closed, nil
}

// ListByPortfolio returns latest records for a (bank, portfolio) pair,
// active only when activeOnly is set.
func (r *Repository) ListByPortfolio(bankID, portfolioCode string, activeOnly bool) ([]domain.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE bank_id = ? AND portfolio_code = ? AND is_latest = 1"
	args := []interface{}{bankID, portfolioCode}
	if activeOnly {
		query += " AND status = ?"
		args = append(args, string(domain.PositionActive))
	}

	return r.queryPositions(query, args...)
}

// ListByOwner returns all active latest positions for an owner.
func (r *Repository) ListByOwner(ownerID string) ([]domain.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE owner_id = ? AND is_latest = 1 AND status = ?"
	return r.queryPositions(query, ownerID, string(domain.PositionActive))
}

func (r *Repository) queryPositions(query string, args ...interface{}) ([]domain.Position, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var result []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		result = append(result, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return result, nil
}

func scanPosition(rows *sql.Rows) (domain.Position, error) {
	var p domain.Position
	var isin, positionNumber, instrumentCode, securityName sql.NullString
	var assetClass, securityType, sourceFile, soldAt, soldReason sql.NullString
	var costPrice sql.NullFloat64
	var bankData []byte
	var status string
	var isLatest int

	err := rows.Scan(
		&p.UniqueKey, &p.BankID, &p.PortfolioCode, &p.AccountNumber, &p.OwnerID,
		&isin, &positionNumber, &instrumentCode, &securityName, &assetClass, &securityType,
		&p.Currency, &p.Quantity, &p.MarketPrice, &p.MarketValue, &costPrice,
		&p.SnapshotDate, &p.FileDate, &sourceFile, &bankData,
		&status, &isLatest, &soldAt, &soldReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}

	p.ISIN = isin.String
	p.PositionNumber = positionNumber.String
	p.InstrumentCode = instrumentCode.String
	p.SecurityName = securityName.String
	p.AssetClass = assetClass.String
	p.SecurityType = securityType.String
	p.SourceFile = sourceFile.String
	p.SoldAt = soldAt.String
	p.SoldReason = soldReason.String
	p.Status = domain.PositionStatus(status)
	p.IsLatest = isLatest == 1
	if costPrice.Valid {
		p.CostPrice = &costPrice.Float64
	}

	if len(bankData) > 0 {
		decoded, err := decodeBankData(bankData)
		if err != nil {
			return p, fmt.Errorf("failed to decode bank data: %w", err)
		}
		p.BankData = decoded
	}

	if p.Currency == "" {
		p.Currency = "USD"
	}
	p.ISIN = strings.ToUpper(strings.TrimSpace(p.ISIN))

	return p, nil
}

// Bank-specific payloads are opaque maps; msgpack keeps them compact and
// round-trips arbitrary value types.

func encodeBankData(data map[string]interface{}) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return msgpack.Marshal(data)
}

func decodeBankData(blob []byte) (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := msgpack.Unmarshal(blob, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Helper functions for nullable types

func nullString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}

func nullFloat64Ptr(val *float64) sql.NullFloat64 {
	if val == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *val, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
