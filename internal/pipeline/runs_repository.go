package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// RunRepository persists batch run outcomes
// Database: state.db (batch_runs table)
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a new batch run repository
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "batch_runs").Logger(),
	}
}

// Record stores the outcome of one import run.
func (r *RunRepository) Record(result domain.BatchResult) error {
	unmapped, err := json.Marshal(orEmpty(result.Unmapped))
	if err != nil {
		return fmt.Errorf("failed to encode unmapped codes: %w", err)
	}
	errs, err := json.Marshal(orEmptyErrors(result.Errors))
	if err != nil {
		return fmt.Errorf("failed to encode errors: %w", err)
	}

	query := `INSERT INTO batch_runs (id, bank_id, file_date, source_file, triggered_by,
		created, updated, unchanged, skipped, sold, unmapped_codes, errors, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query, result.RunID, result.BankID, result.FileDate,
		result.SourceFile, result.TriggeredBy,
		result.Created, result.Updated, result.Unchanged, result.Skipped, result.Sold,
		string(unmapped), string(errs), result.ElapsedMS, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record batch run: %w", err)
	}

	return nil
}

// ListRecent returns the most recent runs, newest first.
func (r *RunRepository) ListRecent(limit int) ([]domain.BatchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, bank_id, file_date, source_file, triggered_by,
		created, updated, unchanged, skipped, sold, unmapped_codes, errors, elapsed_ms
		FROM batch_runs ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch runs: %w", err)
	}
	defer rows.Close()

	var results []domain.BatchResult
	for rows.Next() {
		var res domain.BatchResult
		var sourceFile, triggeredBy sql.NullString
		var unmapped, errs string

		if err := rows.Scan(&res.RunID, &res.BankID, &res.FileDate, &sourceFile, &triggeredBy,
			&res.Created, &res.Updated, &res.Unchanged, &res.Skipped, &res.Sold,
			&unmapped, &errs, &res.ElapsedMS); err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}

		res.SourceFile = sourceFile.String
		res.TriggeredBy = triggeredBy.String
		if err := json.Unmarshal([]byte(unmapped), &res.Unmapped); err != nil {
			return nil, fmt.Errorf("failed to decode unmapped codes: %w", err)
		}
		if err := json.Unmarshal([]byte(errs), &res.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors: %w", err)
		}

		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch runs: %w", err)
	}

	return results, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyErrors(e []domain.PositionError) []domain.PositionError {
	if e == nil {
		return []domain.PositionError{}
	}
	return e
}
