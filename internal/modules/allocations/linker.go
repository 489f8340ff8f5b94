package allocations

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// DefaultPurchasePrice is used when the custodian provides no cost price.
// Structured products are quoted in percent of nominal; par is 100.
const DefaultPurchasePrice = 100.0

// ProductCatalog defines the product lookups needed by the linker
type ProductCatalog interface {
	GetByISIN(isin string) (*domain.Product, error)
	GetByID(id string) (*domain.Product, error)
}

// Linker creates, bumps, reactivates, and redeems client allocations from
// position presence in custodian files.
type Linker struct {
	repo      *Repository
	catalog   ProductCatalog
	graceDays int
	log       zerolog.Logger
}

// NewLinker creates a new allocation linker
func NewLinker(repo *Repository, catalog ProductCatalog, graceDays int, log zerolog.Logger) *Linker {
	return &Linker{
		repo:      repo,
		catalog:   catalog,
		graceDays: graceDays,
		log:       log.With().Str("component", "allocation_linker").Logger(),
	}
}

// Link runs once per enriched, owner-matched position. Positions whose ISIN
// does not resolve to a known product are ignored.
func (l *Linker) Link(pos domain.Position, bctx *domain.BatchContext) error {
	if pos.ISIN == "" {
		return nil
	}

	product, err := l.catalog.GetByISIN(pos.ISIN)
	if err != nil {
		return fmt.Errorf("product lookup failed for %s: %w", pos.ISIN, err)
	}
	if product == nil {
		return nil
	}

	existing, err := l.repo.GetAuto(product.ID, bctx.OwnerID)
	if err != nil {
		return err
	}

	if existing == nil {
		purchasePrice := DefaultPurchasePrice
		if pos.CostPrice != nil && *pos.CostPrice > 0 {
			purchasePrice = *pos.CostPrice
		}

		return l.repo.Insert(domain.Allocation{
			ID:                 uuid.New().String(),
			ProductID:          product.ID,
			ClientID:           bctx.OwnerID,
			BankAccountID:      bctx.AccountID,
			NominalInvested:    pos.MarketValue,
			PurchasePrice:      purchasePrice,
			Status:             domain.AllocationActive,
			Source:             domain.SourceBankAuto,
			LastSeenInBankFile: bctx.FileDate,
		})
	}

	if existing.Status == domain.AllocationRedeemed {
		return l.repo.Reactivate(existing.ID, bctx.FileDate)
	}

	return l.repo.Touch(existing.ID, bctx.FileDate)
}

// ScanRedemptions runs once per group after all positions are linked. For
// every active bank_auto allocation of the account whose product ISIN is
// absent from the current file:
//
//   - absence within the grace window: leave active - short gaps are normal
//     custodian reporting noise
//   - absence beyond the grace window: the product is gone for good, mark
//     the allocation redeemed (a later reappearance reactivates it)
func (l *Linker) ScanRedemptions(bctx *domain.BatchContext) error {
	if bctx.OwnerID == "" {
		// No position in the group matched an account; nothing to scan.
		return nil
	}

	allocs, err := l.repo.ListActiveAuto(bctx.OwnerID, bctx.AccountID)
	if err != nil {
		return err
	}

	fileDate, err := domain.ParseDate(bctx.FileDate)
	if err != nil {
		return fmt.Errorf("invalid file date %q: %w", bctx.FileDate, err)
	}

	for _, alloc := range allocs {
		product, err := l.catalog.GetByID(alloc.ProductID)
		if err != nil {
			return fmt.Errorf("product lookup failed for allocation %s: %w", alloc.ID, err)
		}
		if product == nil || bctx.PresentISINs[product.ISIN] {
			continue
		}

		if alloc.LastSeenInBankFile == "" {
			// Never seen in a file; nothing to infer from absence.
			continue
		}

		lastSeen, err := domain.ParseDate(alloc.LastSeenInBankFile)
		if err != nil {
			l.log.Warn().Err(err).Str("allocation_id", alloc.ID).Msg("Unparseable last_seen date, skipping")
			continue
		}

		gapDays := int(fileDate.Sub(lastSeen).Hours() / 24)
		if gapDays <= 0 {
			continue
		}

		if gapDays <= l.graceDays {
			l.log.Debug().
				Str("allocation_id", alloc.ID).
				Str("isin", product.ISIN).
				Int("gap_days", gapDays).
				Msg("Allocation absent within grace window, leaving active")
			continue
		}

		if err := l.repo.Redeem(alloc.ID, bctx.FileDate); err != nil {
			return err
		}
	}

	return nil
}
