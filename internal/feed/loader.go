// Package feed picks up parsed custodian batch files from the inbox
// directory. Files are JSON documents produced by the upstream bank file
// parser, one batch per file.
package feed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// BatchFile is one inbox file with its parsed batch.
type BatchFile struct {
	Path  string
	Batch domain.Batch
}

// Loader reads batch files from the inbox and moves processed ones to the
// archive.
type Loader struct {
	inboxDir   string
	archiveDir string
	log        zerolog.Logger
}

// NewLoader creates a new batch file loader
func NewLoader(inboxDir, archiveDir string, log zerolog.Logger) *Loader {
	return &Loader{
		inboxDir:   inboxDir,
		archiveDir: archiveDir,
		log:        log.With().Str("module", "feed").Logger(),
	}
}

// Scan returns all pending batches ordered by file date, then by file name.
// Older files must import first so sold detection sees states in sequence.
// A missing inbox directory is a configuration fault, not an empty inbox.
func (l *Loader) Scan() ([]BatchFile, error) {
	entries, err := os.ReadDir(l.inboxDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox directory %s: %w", l.inboxDir, err)
	}

	var files []BatchFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
			continue
		}

		path := filepath.Join(l.inboxDir, entry.Name())
		batch, err := l.parse(path)
		if err != nil {
			// A malformed file stays in the inbox for inspection; it must
			// not block its siblings.
			l.log.Error().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable batch file")
			continue
		}

		batch.SourceFile = entry.Name()
		files = append(files, BatchFile{Path: path, Batch: batch})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Batch.FileDate != files[j].Batch.FileDate {
			return files[i].Batch.FileDate < files[j].Batch.FileDate
		}
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// Archive moves a processed file out of the inbox.
func (l *Loader) Archive(file BatchFile) error {
	if err := os.MkdirAll(l.archiveDir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	target := filepath.Join(l.archiveDir, filepath.Base(file.Path))
	if err := os.Rename(file.Path, target); err != nil {
		return fmt.Errorf("failed to archive %s: %w", file.Path, err)
	}

	l.log.Debug().Str("file", filepath.Base(file.Path)).Msg("Batch file archived")
	return nil
}

func (l *Loader) parse(path string) (domain.Batch, error) {
	var batch domain.Batch

	raw, err := os.ReadFile(path)
	if err != nil {
		return batch, fmt.Errorf("failed to read batch file: %w", err)
	}

	if err := json.Unmarshal(raw, &batch); err != nil {
		return batch, fmt.Errorf("failed to parse batch file: %w", err)
	}

	if batch.BankID == "" {
		return batch, fmt.Errorf("batch file has no bank_id")
	}
	if _, err := domain.ParseDate(batch.FileDate); err != nil {
		return batch, fmt.Errorf("batch file has invalid file_date %q: %w", batch.FileDate, err)
	}

	return batch, nil
}
