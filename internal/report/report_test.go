package report

import (
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refiner/internal/stats"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "files.csv")
	w := NewRotatingCSV(path, 32)

	first := []string{"2025-01-01T00:00:00Z", "info", "100", "no key granted, skipped"}
	require.NoError(t, w.Append(first))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(32), "first record must exceed the threshold")

	// The very next append rotates exactly once, preserving prior content.
	second := []string{"2025-01-01T00:00:01Z", "success", "99", "bafyexample"}
	require.NoError(t, w.Append(second))

	rotated, err := filepath.Glob(filepath.Join(dir, "files-*.csv"))
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	assert.Equal(t, [][]string{first}, readCSV(t, rotated[0]))
	assert.Equal(t, [][]string{second}, readCSV(t, path))
}

func TestRotationKeepsSmallFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingCSV(filepath.Join(dir, "batches.csv"), DefaultMaxBytes)

	require.NoError(t, w.Append([]string{"a", "b"}))
	require.NoError(t, w.Append([]string{"c", "d"}))

	rotated, err := filepath.Glob(filepath.Join(dir, "batches-*.csv"))
	require.NoError(t, err)
	assert.Empty(t, rotated)
}

func TestReporterStreams(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, DefaultMaxBytes)
	require.NoError(t, err)

	r.File(OutcomeFailure, 42, "decrypt-error: eek: authentication code mismatch")
	r.Progress(stats.Snapshot{Total: 5, AlreadyRefined: 1, Processed: 3, Success: 1, Failed: 2})
	r.Complete(stats.Snapshot{Total: 10, AlreadyRefined: 2, Processed: 6, Success: 3, Failed: 3})

	files := readCSV(t, filepath.Join(dir, "files.csv"))
	require.Len(t, files, 1)
	assert.Equal(t, OutcomeFailure, files[0][1])
	assert.Equal(t, "42", files[0][2])
	assert.Contains(t, files[0][3], "decrypt-error")

	batches := readCSV(t, filepath.Join(dir, "batches.csv"))
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"PROGRESS", "5", "1", "3", "1", "2"}, batches[0][1:])
	assert.Equal(t, []string{"COMPLETE", "10", "2", "6", "3", "3"}, batches[1][1:])
}

func TestConsoleHandler(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, DefaultMaxBytes)
	require.NoError(t, err)

	logger := slog.New(r.ConsoleHandler(slog.LevelInfo))
	logger.Debug("filtered out")
	logger.With("file_id", uint64(7)).Error("api-error", "error", "boom")

	records := readCSV(t, filepath.Join(dir, "console.csv"))
	require.Len(t, records, 1)
	assert.Equal(t, "ERROR", records[0][1])
	assert.Equal(t, "api-error", records[0][2])
	assert.True(t, strings.Contains(records[0][3], "file_id=7"))
	assert.True(t, strings.Contains(records[0][3], "error=boom"))
}

func TestFanout(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, DefaultMaxBytes)
	require.NoError(t, err)

	var buf strings.Builder
	logger := slog.New(Fanout(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		r.ConsoleHandler(slog.LevelInfo),
	))
	logger.Info("file refined", "cid", "bafyexample")

	assert.Contains(t, buf.String(), "file refined")
	records := readCSV(t, filepath.Join(dir, "console.csv"))
	require.Len(t, records, 1)
	assert.Equal(t, "file refined", records[0][2])
}
