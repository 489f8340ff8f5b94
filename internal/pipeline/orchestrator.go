// Package pipeline drives one custodian batch through enrichment,
// reconciliation, allocation linking, snapshots, and risk checks.
//
// Groups of one batch are independent: they fan out over a bounded worker
// pool, and all state a group touches is scoped to its own BatchContext, so
// parallel groups never observe each other.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// Enricher decorates raw custodian lines with product reference data.
type Enricher interface {
	Enrich(pos domain.Position) domain.Position
}

// Reconciler applies one group against the position store.
type Reconciler interface {
	ReconcileGroup(bctx *domain.BatchContext, batch []domain.Position) domain.BatchResult
}

// AllocationLinker maintains bank-derived allocations for a group.
type AllocationLinker interface {
	Link(pos domain.Position, bctx *domain.BatchContext) error
	ScanRedemptions(bctx *domain.BatchContext) error
}

// SnapshotBuilder persists the per-portfolio aggregate of a group.
type SnapshotBuilder interface {
	Build(bctx *domain.BatchContext, positions []domain.Position) *domain.PortfolioSnapshot
}

// RiskMonitor runs the post-reconciliation risk checks for a group.
type RiskMonitor interface {
	EvaluateCash(bctx *domain.BatchContext, positions []domain.Position) error
	EvaluateAllocations(bctx *domain.BatchContext, snap *domain.PortfolioSnapshot) error
}

// PositionReader reloads a group's active positions after reconciliation.
type PositionReader interface {
	ListByPortfolio(bankID, portfolioCode string, activeOnly bool) ([]domain.Position, error)
}

// Orchestrator coordinates the import pipeline for one batch at a time.
type Orchestrator struct {
	enricher   Enricher
	reconciler Reconciler
	linker     AllocationLinker
	snapshots  SnapshotBuilder
	risk       RiskMonitor
	positions  PositionReader
	runs       *RunRepository
	workers    int
	log        zerolog.Logger
}

// NewOrchestrator creates a pipeline orchestrator with a bounded group
// worker pool.
func NewOrchestrator(enricher Enricher, reconciler Reconciler, linker AllocationLinker,
	snapshots SnapshotBuilder, risk RiskMonitor, positions PositionReader,
	runs *RunRepository, workers int, log zerolog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		enricher:   enricher,
		reconciler: reconciler,
		linker:     linker,
		snapshots:  snapshots,
		risk:       risk,
		positions:  positions,
		runs:       runs,
		workers:    workers,
		log:        log.With().Str("module", "pipeline").Logger(),
	}
}

// Run imports one batch. A batch without bank identity or file date is
// rejected outright; anything that fails per position or per group is
// recorded in the result instead. The run is persisted either way, so the
// history distinguishes a clean run from a completed-with-problems one.
func (o *Orchestrator) Run(ctx context.Context, batch domain.Batch, triggeredBy string) (domain.BatchResult, error) {
	start := time.Now()

	result := domain.BatchResult{
		RunID:       uuid.New().String(),
		BankID:      batch.BankID,
		FileDate:    batch.FileDate,
		SourceFile:  batch.SourceFile,
		TriggeredBy: triggeredBy,
	}

	if batch.BankID == "" {
		return result, fmt.Errorf("batch has no bank id")
	}
	if _, err := domain.ParseDate(batch.FileDate); err != nil {
		return result, fmt.Errorf("batch has invalid file date %q: %w", batch.FileDate, err)
	}

	groups := groupPositions(batch)

	o.log.Info().
		Str("run_id", result.RunID).
		Str("bank_id", batch.BankID).
		Str("file_date", batch.FileDate).
		Int("positions", len(batch.Positions)).
		Int("groups", len(groups)).
		Msg("Starting batch import")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, o.workers)
	)

	for key, positions := range groups {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(key domain.GroupKey, positions []domain.Position) {
			defer wg.Done()
			defer func() { <-sem }()

			groupResult := o.runGroup(key, batch.FileDate, triggeredBy, positions)

			mu.Lock()
			result.Merge(groupResult)
			mu.Unlock()
		}(key, positions)
	}

	wg.Wait()

	result.ElapsedMS = time.Since(start).Milliseconds()

	if err := o.runs.Record(result); err != nil {
		o.log.Error().Err(err).Str("run_id", result.RunID).Msg("Failed to record batch run")
	}

	o.log.Info().
		Str("run_id", result.RunID).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("skipped", result.Skipped).
		Int("sold", result.Sold).
		Int("errors", len(result.Errors)).
		Int64("elapsed_ms", result.ElapsedMS).
		Bool("clean", result.Clean()).
		Msg("Batch import finished")

	return result, nil
}

// runGroup executes the full stage sequence for one (bank, portfolio)
// group. Stages after reconciliation are best effort: their failures land in
// the result, not in an abort, because the position store is already
// consistent at that point.
func (o *Orchestrator) runGroup(key domain.GroupKey, fileDate, triggeredBy string, positions []domain.Position) domain.BatchResult {
	bctx := domain.NewBatchContext(key, fileDate, triggeredBy)

	enriched := make([]domain.Position, 0, len(positions))
	for _, pos := range positions {
		enriched = append(enriched, o.enricher.Enrich(pos))
	}

	result := o.reconciler.ReconcileGroup(bctx, enriched)

	// No position mapped to an account: nothing downstream can run.
	if bctx.AccountID == "" {
		return result
	}

	for _, pos := range enriched {
		if pos.ISIN == "" {
			continue
		}
		if err := o.linker.Link(pos, bctx); err != nil {
			result.Errors = append(result.Errors, domain.PositionError{
				PortfolioCode: key.PortfolioCode,
				ISIN:          pos.ISIN,
				Error:         fmt.Sprintf("allocation linking failed: %v", err),
			})
		}
	}

	if err := o.linker.ScanRedemptions(bctx); err != nil {
		result.Errors = append(result.Errors, domain.PositionError{
			PortfolioCode: key.PortfolioCode,
			Error:         fmt.Sprintf("redemption scan failed: %v", err),
		})
	}

	// Snapshot and risk read the store, not the file: sold detection has
	// already run, so the active set is authoritative.
	active, err := o.positions.ListByPortfolio(key.BankID, key.PortfolioCode, true)
	if err != nil {
		result.Errors = append(result.Errors, domain.PositionError{
			PortfolioCode: key.PortfolioCode,
			Error:         fmt.Sprintf("failed to reload active positions: %v", err),
		})
		return result
	}

	snap := o.snapshots.Build(bctx, active)

	if err := o.risk.EvaluateCash(bctx, active); err != nil {
		result.Errors = append(result.Errors, domain.PositionError{
			PortfolioCode: key.PortfolioCode,
			Error:         fmt.Sprintf("cash risk evaluation failed: %v", err),
		})
	}
	if err := o.risk.EvaluateAllocations(bctx, snap); err != nil {
		result.Errors = append(result.Errors, domain.PositionError{
			PortfolioCode: key.PortfolioCode,
			Error:         fmt.Sprintf("allocation risk evaluation failed: %v", err),
		})
	}

	return result
}

// groupPositions splits the batch by (bank, portfolio). The raw portfolio
// code scopes the group; settlement-suffix normalization happens at account
// matching, not here, so sold detection stays aligned with stored rows.
func groupPositions(batch domain.Batch) map[domain.GroupKey][]domain.Position {
	groups := make(map[domain.GroupKey][]domain.Position)
	for _, pos := range batch.Positions {
		key := domain.GroupKey{BankID: batch.BankID, PortfolioCode: pos.PortfolioCode}
		pos.BankID = batch.BankID
		pos.FileDate = batch.FileDate
		pos.SourceFile = batch.SourceFile
		if pos.SnapshotDate == "" {
			pos.SnapshotDate = batch.FileDate
		}
		groups[key] = append(groups[key], pos)
	}
	return groups
}
