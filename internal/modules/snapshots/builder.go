package snapshots

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// Builder aggregates a portfolio's reconciled positions into a dated
// snapshot. Idempotent per (portfolio, date): re-invocation overwrites.
type Builder struct {
	repo *Repository
	log  zerolog.Logger
}

// NewBuilder creates a new snapshot builder
func NewBuilder(repo *Repository, log zerolog.Logger) *Builder {
	return &Builder{
		repo: repo,
		log:  log.With().Str("component", "snapshot_builder").Logger(),
	}
}

// Build aggregates and stores the snapshot for one portfolio and date,
// returning the aggregate for downstream checks. Aggregation errors are
// logged, never raised: one bad portfolio snapshot must not block sibling
// portfolios in the same batch.
func (b *Builder) Build(bctx *domain.BatchContext, positions []domain.Position) *domain.PortfolioSnapshot {
	if bctx.OwnerID == "" || len(positions) == 0 {
		return nil
	}

	snap := Aggregate(bctx.OwnerID, bctx.Group, bctx.FileDate, positions)

	if err := b.repo.Upsert(snap); err != nil {
		b.log.Error().Err(err).
			Str("portfolio_code", bctx.Group.PortfolioCode).
			Str("snapshot_date", bctx.FileDate).
			Msg("Failed to store snapshot, sibling portfolios unaffected")
		return nil
	}

	b.log.Debug().
		Str("portfolio_code", bctx.Group.PortfolioCode).
		Str("snapshot_date", bctx.FileDate).
		Float64("total_value", snap.TotalValue).
		Msg("Snapshot stored")

	return &snap
}

// Aggregate computes the snapshot values: market value summed per asset
// class, total account value, and the cash balance from cash-classified
// lines.
func Aggregate(ownerID string, group domain.GroupKey, date string, positions []domain.Position) domain.PortfolioSnapshot {
	snap := domain.PortfolioSnapshot{
		OwnerID:       ownerID,
		BankID:        group.BankID,
		PortfolioCode: group.PortfolioCode,
		SnapshotDate:  date,
		Breakdown:     make(map[string]float64),
	}

	for _, pos := range positions {
		class := strings.ToLower(strings.TrimSpace(pos.AssetClass))
		if class == "" {
			class = "unclassified"
		}

		snap.Breakdown[class] += pos.MarketValue
		snap.TotalValue += pos.MarketValue
		if pos.IsCash() {
			snap.CashBalance += pos.MarketValue
		}
	}

	return snap
}
