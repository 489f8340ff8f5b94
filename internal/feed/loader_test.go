package feed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBatchFile(t *testing.T, dir, name, content string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func newTestLoader(t *testing.T) (*Loader, string, string) {
	inbox := t.TempDir()
	archive := t.TempDir()
	return NewLoader(inbox, archive, zerolog.Nop()), inbox, archive
}

func TestScan_OrdersByFileDateThenName(t *testing.T) {
	loader, inbox, _ := newTestLoader(t)

	writeBatchFile(t, inbox, "b.json", `{"bank_id":"ubs","file_date":"2026-08-28","positions":[]}`)
	writeBatchFile(t, inbox, "a.json", `{"bank_id":"ubs","file_date":"2026-08-29","positions":[]}`)
	writeBatchFile(t, inbox, "c.json", `{"bank_id":"pictet","file_date":"2026-08-28","positions":[]}`)

	files, err := loader.Scan()
	require.NoError(t, err)
	require.Len(t, files, 3)

	// Older dates first, names break ties.
	assert.Equal(t, "b.json", files[0].Batch.SourceFile)
	assert.Equal(t, "c.json", files[1].Batch.SourceFile)
	assert.Equal(t, "a.json", files[2].Batch.SourceFile)
}

func TestScan_MalformedFileSkippedNotFatal(t *testing.T) {
	loader, inbox, _ := newTestLoader(t)

	writeBatchFile(t, inbox, "good.json", `{"bank_id":"ubs","file_date":"2026-08-28","positions":[]}`)
	writeBatchFile(t, inbox, "broken.json", `{not json`)
	writeBatchFile(t, inbox, "nodate.json", `{"bank_id":"ubs","positions":[]}`)
	writeBatchFile(t, inbox, "notes.txt", `ignore me`)

	files, err := loader.Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "good.json", files[0].Batch.SourceFile)

	// Bad files stay in the inbox for inspection.
	_, err = os.Stat(filepath.Join(inbox, "broken.json"))
	assert.NoError(t, err)
}

func TestScan_MissingInboxIsAnError(t *testing.T) {
	loader := NewLoader("/nonexistent/inbox", t.TempDir(), zerolog.Nop())

	_, err := loader.Scan()
	assert.Error(t, err)
}

func TestScan_ParsesPositions(t *testing.T) {
	loader, inbox, _ := newTestLoader(t)

	writeBatchFile(t, inbox, "ubs.json", `{
		"bank_id": "ubs",
		"file_date": "2026-08-28",
		"positions": [
			{
				"portfolio_code": "PF-7",
				"isin": "CH0000000001",
				"currency": "CHF",
				"quantity": 100,
				"market_price": 50,
				"market_value": 5000,
				"snapshot_date": "2026-08-28"
			}
		]
	}`)

	files, err := loader.Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)

	batch := files[0].Batch
	assert.Equal(t, "ubs", batch.BankID)
	require.Len(t, batch.Positions, 1)
	assert.Equal(t, "CH0000000001", batch.Positions[0].ISIN)
	assert.Equal(t, 5000.0, batch.Positions[0].MarketValue)
}

func TestArchive_MovesFileOutOfInbox(t *testing.T) {
	loader, inbox, archive := newTestLoader(t)

	writeBatchFile(t, inbox, "ubs.json", `{"bank_id":"ubs","file_date":"2026-08-28","positions":[]}`)

	files, err := loader.Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, loader.Archive(files[0]))

	_, err = os.Stat(filepath.Join(inbox, "ubs.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(archive, "ubs.json"))
	assert.NoError(t, err)

	// Inbox is now empty.
	remaining, err := loader.Scan()
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
