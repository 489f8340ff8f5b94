// Package app hosts the application services that sit between the HTTP
// layer and the pipeline: the inbox import service and the job scheduler.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
	"github.com/sugoke/ambervision/internal/feed"
	"github.com/sugoke/ambervision/internal/pipeline"
)

// ImportService drains the inbox through the pipeline. Batches run strictly
// in file date order, one at a time; only the groups inside a batch run in
// parallel. A mutex serializes concurrent scan triggers (cron and API).
type ImportService struct {
	loader       *feed.Loader
	orchestrator *pipeline.Orchestrator
	mu           sync.Mutex
	log          zerolog.Logger
}

// NewImportService creates a new import service
func NewImportService(loader *feed.Loader, orchestrator *pipeline.Orchestrator, log zerolog.Logger) *ImportService {
	return &ImportService{
		loader:       loader,
		orchestrator: orchestrator,
		log:          log.With().Str("service", "import").Logger(),
	}
}

// ScanInbox imports every pending batch file and archives the processed
// ones. A batch that fails outright stays in the inbox and stops the scan:
// later files must not import ahead of an earlier state.
func (s *ImportService) ScanInbox(ctx context.Context, triggeredBy string) ([]domain.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.loader.Scan()
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		s.log.Debug().Msg("Inbox empty, nothing to import")
		return nil, nil
	}

	var results []domain.BatchResult
	for _, file := range files {
		result, err := s.orchestrator.Run(ctx, file.Batch, triggeredBy)
		if err != nil {
			return results, fmt.Errorf("failed to import %s: %w", file.Batch.SourceFile, err)
		}
		results = append(results, result)

		if err := s.loader.Archive(file); err != nil {
			// The batch is in; a stuck file must not abort the scan, but it
			// will re-import next time, which reconciliation tolerates.
			s.log.Error().Err(err).Str("file", file.Batch.SourceFile).Msg("Failed to archive batch file")
		}
	}

	s.log.Info().Int("batches", len(results)).Str("triggered_by", triggeredBy).Msg("Inbox scan finished")

	return results, nil
}

// ImportBatch runs a single batch handed over directly, bypassing the inbox.
func (s *ImportService) ImportBatch(ctx context.Context, batch domain.Batch, triggeredBy string) (domain.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.orchestrator.Run(ctx, batch, triggeredBy)
}

// ScanJob adapts the import service to the scheduler.
type ScanJob struct {
	service *ImportService
}

// NewScanJob creates the scheduled inbox scan job
func NewScanJob(service *ImportService) *ScanJob {
	return &ScanJob{service: service}
}

// Name implements Job
func (j *ScanJob) Name() string { return "inbox_scan" }

// Run implements Job
func (j *ScanJob) Run() error {
	_, err := j.service.ScanInbox(context.Background(), "schedule")
	return err
}
