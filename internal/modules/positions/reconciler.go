package positions

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// AccountMatcher resolves external portfolio codes to internal accounts.
// Implemented by accounts.Matcher.
type AccountMatcher interface {
	Match(portfolioCode, bankID string) (*domain.Account, error)
}

// Reconciler applies one (bank, portfolio) group of a custodian batch
// against the position store: upserts present positions and soft-closes the
// ones that disappeared.
type Reconciler struct {
	matcher AccountMatcher
	repo    *Repository
	log     zerolog.Logger
}

// NewReconciler creates a new position reconciler
func NewReconciler(matcher AccountMatcher, repo *Repository, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		matcher: matcher,
		repo:    repo,
		log:     log.With().Str("component", "reconciler").Logger(),
	}
}

// ReconcileGroup processes all positions of one (bank, portfolio) group.
// A single malformed position never aborts the group: failures are recorded
// in the result and processing continues. The returned result is always
// complete, even when every position failed.
//
// After the group is processed, sold-position detection closes every
// previously active key for the pair that is absent from this batch. The
// invariant: a portfolio's active set after reconciliation equals exactly
// the keys present in the latest file for that portfolio.
func (r *Reconciler) ReconcileGroup(bctx *domain.BatchContext, batch []domain.Position) domain.BatchResult {
	result := domain.BatchResult{
		BankID:   bctx.Group.BankID,
		FileDate: bctx.FileDate,
	}
	unmappedSeen := make(map[string]bool)
	fallbackWarned := false

	for _, pos := range batch {
		if err := validate(pos); err != nil {
			result.Errors = append(result.Errors, domain.PositionError{
				PortfolioCode: pos.PortfolioCode,
				ISIN:          pos.ISIN,
				Error:         err.Error(),
			})
			continue
		}

		account, err := r.matcher.Match(pos.PortfolioCode, bctx.Group.BankID)
		if err != nil {
			result.Errors = append(result.Errors, domain.PositionError{
				PortfolioCode: pos.PortfolioCode,
				ISIN:          pos.ISIN,
				Error:         fmt.Sprintf("account lookup failed: %v", err),
			})
			continue
		}
		if account == nil {
			result.Skipped++
			if !unmappedSeen[pos.PortfolioCode] {
				unmappedSeen[pos.PortfolioCode] = true
				result.Unmapped = append(result.Unmapped, pos.PortfolioCode)
			}
			continue
		}

		bctx.OwnerID = account.OwnerID
		bctx.AccountID = account.ID
		pos.OwnerID = account.OwnerID
		pos.AccountNumber = account.AccountNumber
		pos.UniqueKey = UniqueKey(bctx.Group.BankID, pos.PortfolioCode,
			pos.ISIN, pos.PositionNumber, pos.InstrumentCode, pos.Currency)

		if !fallbackWarned && IsFallbackKey(pos.UniqueKey, bctx.Group.BankID, pos.PortfolioCode) {
			fallbackWarned = true
			r.log.Warn().
				Str("bank_id", bctx.Group.BankID).
				Str("portfolio_code", pos.PortfolioCode).
				Msg("Position without ISIN, position number, or instrument code - fallback key in use, lines may collapse")
		}

		if err := r.upsert(&result, pos); err != nil {
			result.Errors = append(result.Errors, domain.PositionError{
				PortfolioCode: pos.PortfolioCode,
				ISIN:          pos.ISIN,
				Error:         err.Error(),
			})
			continue
		}

		bctx.ProcessedKeys[pos.UniqueKey] = true
		if pos.ISIN != "" {
			bctx.PresentISINs[pos.ISIN] = true
		}
	}

	r.detectSold(bctx, &result)

	r.log.Info().
		Str("bank_id", bctx.Group.BankID).
		Str("portfolio_code", bctx.Group.PortfolioCode).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("skipped", result.Skipped).
		Int("sold", result.Sold).
		Int("errors", len(result.Errors)).
		Msg("Group reconciled")

	return result
}

// upsert applies one position against the store and bumps the matching
// counter.
func (r *Reconciler) upsert(result *domain.BatchResult, pos domain.Position) error {
	existing, err := r.repo.GetLatest(pos.UniqueKey)
	if err != nil {
		return err
	}

	if existing == nil {
		if err := r.repo.Insert(pos); err != nil {
			return err
		}
		result.Created++
		return nil
	}

	// A sold position reappearing is an update: delayed custodian reporting,
	// not a new position.
	if existing.Status == domain.PositionActive && unchanged(*existing, pos) {
		result.Unchanged++
		return nil
	}

	if err := r.repo.Update(pos); err != nil {
		return err
	}
	result.Updated++
	return nil
}

// detectSold closes previously active keys for the group that are absent
// from this batch. Detection failures are recorded, not raised: the batch
// statistics must always be complete.
func (r *Reconciler) detectSold(bctx *domain.BatchContext, result *domain.BatchResult) {
	keys, err := r.repo.ActiveKeys(bctx.Group.BankID, bctx.Group.PortfolioCode)
	if err != nil {
		result.Errors = append(result.Errors, domain.PositionError{
			PortfolioCode: bctx.Group.PortfolioCode,
			Error:         fmt.Sprintf("sold detection failed: %v", err),
		})
		return
	}

	var absent []string
	for _, key := range keys {
		if !bctx.ProcessedKeys[key] {
			absent = append(absent, key)
		}
	}

	closed, err := r.repo.MarkSoldBatch(absent, bctx.FileDate, domain.SoldReasonNotInBankFile)
	if err != nil {
		result.Errors = append(result.Errors, domain.PositionError{
			PortfolioCode: bctx.Group.PortfolioCode,
			Error:         fmt.Sprintf("failed to close sold positions: %v", err),
		})
		return
	}
	result.Sold += closed
}

// validate rejects positions the store cannot represent. The upstream
// parser normalizes shapes, so this is a thin boundary check, not a schema.
func validate(pos domain.Position) error {
	if pos.PortfolioCode == "" {
		return fmt.Errorf("position has no portfolio code")
	}
	if pos.Currency == "" {
		return fmt.Errorf("position has no currency")
	}
	if pos.SnapshotDate == "" {
		return fmt.Errorf("position has no snapshot date")
	}
	if _, err := domain.ParseDate(pos.SnapshotDate); err != nil {
		return fmt.Errorf("invalid snapshot date %q: %w", pos.SnapshotDate, err)
	}
	return nil
}

// unchanged compares the business fields of the stored and incoming state.
// File metadata (file date, source file) is excluded on purpose: re-running
// the identical file must count positions as unchanged.
func unchanged(existing, incoming domain.Position) bool {
	if existing.Quantity != incoming.Quantity ||
		existing.MarketPrice != incoming.MarketPrice ||
		existing.MarketValue != incoming.MarketValue {
		return false
	}
	if existing.Currency != incoming.Currency ||
		existing.SecurityName != incoming.SecurityName ||
		existing.AssetClass != incoming.AssetClass ||
		existing.SecurityType != incoming.SecurityType {
		return false
	}
	if existing.AccountNumber != incoming.AccountNumber ||
		existing.OwnerID != incoming.OwnerID ||
		existing.SnapshotDate != incoming.SnapshotDate {
		return false
	}
	if (existing.CostPrice == nil) != (incoming.CostPrice == nil) {
		return false
	}
	if existing.CostPrice != nil && incoming.CostPrice != nil &&
		*existing.CostPrice != *incoming.CostPrice {
		return false
	}
	return true
}
