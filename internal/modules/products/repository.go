// Package products provides the internal product catalog and the enrichment
// of custodian positions against it.
package products

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// Repository handles product catalog database operations
// Database: reference.db (products table)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new product repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "products").Logger(),
	}
}

// GetByID returns a product by internal ID, or nil when absent.
func (r *Repository) GetByID(id string) (*domain.Product, error) {
	query := `SELECT id, isin, name, asset_class, product_type, classification
		FROM products WHERE id = ?`
	return r.queryOne(query, id)
}

// GetByISIN returns the product for an ISIN, or nil when the ISIN is not a
// known internal product.
func (r *Repository) GetByISIN(isin string) (*domain.Product, error) {
	isin = strings.ToUpper(strings.TrimSpace(isin))
	if isin == "" {
		return nil, nil
	}

	query := `SELECT id, isin, name, asset_class, product_type, classification
		FROM products WHERE isin = ?`
	return r.queryOne(query, isin)
}

func (r *Repository) queryOne(query string, arg interface{}) (*domain.Product, error) {
	rows, err := r.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var p domain.Product
	var assetClass, productType, classification sql.NullString

	if err := rows.Scan(&p.ID, &p.ISIN, &p.Name, &assetClass, &productType, &classification); err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}

	p.AssetClass = assetClass.String
	p.ProductType = productType.String

	if classification.Valid && classification.String != "" {
		if err := json.Unmarshal([]byte(classification.String), &p.Classification); err != nil {
			// Malformed classification is an enrichment detail, not a lookup failure
			r.log.Warn().Err(err).Str("isin", p.ISIN).Msg("Failed to parse product classification")
		}
	}

	return &p, nil
}
