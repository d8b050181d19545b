package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refiner/internal/models"
	"refiner/internal/stats"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(openTestDB(t))

	run := &models.Run{Mode: models.ModeDirect, StartID: 100, EndID: 1, BatchSize: 10}
	require.NoError(t, repo.Create(ctx, run))
	require.NotEmpty(t, run.ID)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(100), got.StartID)
	assert.Nil(t, got.CompletedAt)

	snap := stats.Snapshot{Total: 100, AlreadyRefined: 20, Processed: 30, Success: 25, Failed: 5}
	require.NoError(t, repo.Complete(ctx, run.ID, snap))

	got, err = repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 25, got.Success)
	assert.Equal(t, 5, got.Failed)
	assert.NotNil(t, got.CompletedAt)
}

func TestGetByIDMissing(t *testing.T) {
	repo := NewRunRepository(openTestDB(t))

	got, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListRecent(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(openTestDB(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, &models.Run{
			Mode: models.ModeIndex, StartID: uint64(10 + i), EndID: 1, BatchSize: 2,
		}))
	}

	runs, err := repo.ListRecent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = repo.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 5)
}
