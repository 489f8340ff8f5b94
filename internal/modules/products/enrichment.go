package products

import (
	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// CatalogInterface defines the product lookup contract needed by enrichment
type CatalogInterface interface {
	GetByISIN(isin string) (*domain.Product, error)
}

// Enricher attaches internal product classification to positions whose ISIN
// matches a known product. Enrichment is best-effort: failures are logged
// and the position proceeds unenriched.
type Enricher struct {
	catalog CatalogInterface
	log     zerolog.Logger
}

// NewEnricher creates a new position enricher
func NewEnricher(catalog CatalogInterface, log zerolog.Logger) *Enricher {
	return &Enricher{
		catalog: catalog,
		log:     log.With().Str("component", "enricher").Logger(),
	}
}

// Enrich returns the enriched position. Non-matching ISINs pass through
// unchanged. The canonical product name always overrides the custodian's
// generic security name.
func (e *Enricher) Enrich(pos domain.Position) domain.Position {
	if pos.ISIN == "" {
		return pos
	}

	product, err := e.catalog.GetByISIN(pos.ISIN)
	if err != nil {
		e.log.Warn().Err(err).Str("isin", pos.ISIN).Msg("Product lookup failed, position proceeds unenriched")
		return pos
	}
	if product == nil {
		return pos
	}

	if product.Name != "" {
		pos.SecurityName = product.Name
	}
	if product.AssetClass != "" {
		pos.AssetClass = product.AssetClass
	}

	if len(product.Classification) > 0 || product.ProductType != "" {
		if pos.BankData == nil {
			pos.BankData = make(map[string]interface{})
		}
		if product.ProductType != "" {
			pos.BankData["product_type"] = product.ProductType
		}
		for k, v := range product.Classification {
			pos.BankData["product_"+k] = v
		}
	}

	return pos
}
