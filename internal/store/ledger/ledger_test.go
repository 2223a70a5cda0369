package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sweeper/internal/sweep"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger", "sweeps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	st := sweep.State{
		ID:       "sw-1",
		Identity: "ema",
		Dir:      "results/ema-1",
		Space:    sweep.Space{{Slot: 1, Name: "fast", Min: 1, Max: 2, Step: 1, Kind: sweep.KindInteger}},
		Combinations: []sweep.Combination{
			{1}, {2},
		},
	}
	require.NoError(t, s.SweepStarted(ctx, st))

	first := sweep.Assignment{{Slot: 1, Name: "fast", Kind: sweep.KindInteger, Value: 1}}
	second := sweep.Assignment{{Slot: 1, Name: "fast", Kind: sweep.KindInteger, Value: 2}}
	require.NoError(t, s.JobLaunched(ctx, "sw-1", 0, first))
	require.NoError(t, s.JobHarvested(ctx, "sw-1", 0, "results/ema-1/ema-00000.json", nil))
	require.NoError(t, s.JobLaunched(ctx, "sw-1", 1, second))
	require.NoError(t, s.JobHarvested(ctx, "sw-1", 1, "", errors.New("metrics unavailable")))
	require.NoError(t, s.SweepFinished(ctx, "sw-1", StatusDoneWithErrors, "results/ema-1/ema-summary.csv", "1 harvest failed"))

	sw, err := s.GetSweep(ctx, "sw-1")
	require.NoError(t, err)
	assert.Equal(t, "ema", sw.Identity)
	assert.Equal(t, StatusDoneWithErrors, sw.Status)
	assert.Equal(t, 2, sw.Total)
	assert.Equal(t, 2, sw.Launched)
	assert.Equal(t, 1, sw.Harvested)
	assert.Equal(t, 1, sw.Failed)
	assert.Equal(t, st.Space, sw.Space)
	assert.Equal(t, "results/ema-1/ema-summary.csv", sw.ReportPath)
	assert.True(t, clock.Equal(sw.CompletedAt))

	jobs, err := s.ListJobs(ctx, "sw-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, JobHarvested, jobs[0].Status)
	assert.Equal(t, "results/ema-1/ema-00000.json", jobs[0].Artifact)
	assert.JSONEq(t, `{"fast":1}`, string(jobs[0].Parameters))
	assert.Equal(t, JobFailed, jobs[1].Status)
	assert.Equal(t, "metrics unavailable", jobs[1].Error)
	assert.Empty(t, jobs[1].Artifact)
}

func TestLedgerListSweepsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, s.SweepStarted(ctx, sweep.State{ID: id, Identity: "x"}))
	}
	require.NoError(t, s.SweepFinished(ctx, "b", StatusReset, "", "reset at 0/0"))

	list, err := s.ListSweeps(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, StatusRunning, list[0].Status)
	assert.Equal(t, StatusReset, list[1].Status)
	assert.Equal(t, "reset at 0/0", list[1].Message)
	assert.True(t, list[0].CompletedAt.IsZero())
}

func TestLedgerRelaunchOverwritesJob(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SweepStarted(ctx, sweep.State{ID: "r", Identity: "x"}))
	params := sweep.Assignment{{Slot: 2, Name: "slow", Kind: sweep.KindInteger, Value: 20}}
	require.NoError(t, s.JobLaunched(ctx, "r", 0, params))
	require.NoError(t, s.JobHarvested(ctx, "r", 0, "", errors.New("boom")))
	require.NoError(t, s.JobLaunched(ctx, "r", 0, params))

	jobs, err := s.ListJobs(ctx, "r")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobLaunched, jobs[0].Status)
	assert.Empty(t, jobs[0].Error)
	assert.True(t, jobs[0].FinishedAt.IsZero())
}
