package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	stats := finishedStats("run-a", 2)
	stats.AddFiltered(models.ReasonAdKeyword)
	feed(t, store.NewSink("medical", []string{"a.jsonl"}), blocks("run-a", "alpha", "beta"), stats)

	got, err := store.Blocks(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Text)
	assert.Equal(t, "in.jsonl", got[0].Source)
	assert.Equal(t, 2, got[1].Seq)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, "run-a", run.RunID)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "medical", run.Profile)
	assert.Equal(t, []string{"a.jsonl"}, run.Inputs)
	assert.Equal(t, 2, run.Stats.RecordsKept)
	assert.Equal(t, 1, run.Stats.RecordsFilteredOut[models.ReasonAdKeyword])
	assert.Nil(t, run.Error)
	require.NotNil(t, run.CompletedAt)
	assert.WithinDuration(t, stats.FinishedAt, *run.CompletedAt, time.Microsecond)
}

func TestSQLiteListRunsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		stats := finishedStats(id, 0)
		stats.StartedAt = base.Add(time.Duration(i) * time.Hour)
		stats.FinishedAt = stats.StartedAt.Add(time.Minute)
		if id == "mid" {
			stats.Interrupted = true
		}
		feed(t, store.NewSink("", nil), nil, stats)
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "mid", runs[1].RunID)
	assert.Equal(t, models.RunStatusInterrupted, runs[1].Status)
	assert.Empty(t, runs[1].Profile)
	assert.Equal(t, []string{}, runs[1].Inputs)
}

func TestSQLiteFailedRun(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	stats := finishedStats("broken", 0)
	stats.Error = "source unavailable: b.jsonl"
	feed(t, store.NewSink("", nil), nil, stats)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].Error)
	assert.Equal(t, "source unavailable: b.jsonl", *runs[0].Error)
}

func TestSQLiteImplementsRunStore(t *testing.T) {
	var _ RunStore = openTestSQLite(t)
	var _ Sink = (*SQLiteSink)(nil)
}
