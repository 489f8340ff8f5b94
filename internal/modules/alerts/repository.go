// Package alerts stores risk alerts as live-condition flags with
// deduplication and resolution semantics.
package alerts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// Repository handles alert database operations
// Database: alerts.db (alerts table)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new alert repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

// HasRecent reports whether a non-resolved alert of the same type and match
// key exists within the dedup window. A zero or negative window disables
// deduplication.
func (r *Repository) HasRecent(eventType domain.AlertEventType, matchKey string, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, nil
	}

	cutoff := time.Now().Add(-window).Unix()

	var count int
	query := `SELECT COUNT(*) FROM alerts WHERE event_type = ? AND match_key = ? AND created_at >= ?`
	if err := r.db.QueryRow(query, string(eventType), matchKey, cutoff).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check for recent alert: %w", err)
	}

	return count > 0, nil
}

// Create stores a new alert. One alert carries all recipients; delivery is
// the notification sink's concern, not ours.
func (r *Repository) Create(a domain.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}

	recipients, err := json.Marshal(a.Recipients)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}

	metadata := "{}"
	if len(a.Metadata) > 0 {
		raw, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(raw)
	}

	query := `INSERT INTO alerts (id, event_type, match_key, title, message, recipients, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query, a.ID, string(a.EventType), a.MatchKey, a.Title, a.Message,
		string(recipients), metadata, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	r.log.Info().
		Str("event_type", string(a.EventType)).
		Str("match_key", a.MatchKey).
		Int("recipients", len(a.Recipients)).
		Msg("Alert created")

	return nil
}

// ResolveByKey removes all alerts of one type for one match key. Alerts are
// live-condition flags, not audit records: a cleared condition removes them.
func (r *Repository) ResolveByKey(eventType domain.AlertEventType, matchKey string) (int64, error) {
	query := `DELETE FROM alerts WHERE event_type = ? AND match_key = ?`

	result, err := r.db.Exec(query, string(eventType), matchKey)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alerts: %w", err)
	}

	resolved, _ := result.RowsAffected()
	if resolved > 0 {
		r.log.Info().
			Str("event_type", string(eventType)).
			Str("match_key", matchKey).
			Int64("resolved", resolved).
			Msg("Alerts resolved")
	}

	return resolved, nil
}

// ListAll returns all open alerts, newest first.
func (r *Repository) ListAll() ([]domain.Alert, error) {
	query := `SELECT id, event_type, match_key, title, message, recipients, metadata, created_at
		FROM alerts ORDER BY created_at DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var result []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var eventType, recipients, metadata string

		if err := rows.Scan(&a.ID, &eventType, &a.MatchKey, &a.Title, &a.Message,
			&recipients, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.EventType = domain.AlertEventType(eventType)
		if err := json.Unmarshal([]byte(recipients), &a.Recipients); err != nil {
			return nil, fmt.Errorf("failed to decode recipients: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}

		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return result, nil
}
