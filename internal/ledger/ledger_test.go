// SPDX-License-Identifier: MIT
package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "runtime.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func TestCreateAndLaunchRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	job, err := l.CreateAndLaunch(ctx, OwnerSystem, "sync", "Pull workspace", 0, 10)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NotZero(t, job.ID, "id must come from storage")
	require.Equal(t, JobProcessing, job.Status)
	require.EqualValues(t, 10, job.Total)
	require.NotZero(t, job.StartTime)
	require.Zero(t, job.DoneTime)
}

func TestJobLifecycleScenario(t *testing.T) {
	// createAndLaunch + three updates + done: progress == total == 10.
	l := newTestLedger(t)
	ctx := context.Background()

	job, err := l.CreateAndLaunch(ctx, "sync", "pull", "Pull workspace", 0, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Update(ctx, job, 3, "pulling..."))
	}
	require.EqualValues(t, 9, job.Progress)

	require.NoError(t, l.Done(ctx, job, "all done", "pulled 10 nodes"))

	stored, err := l.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobDone, stored.Status)
	require.EqualValues(t, 10, stored.Progress)
	require.Equal(t, stored.Total, stored.Progress)
	require.Equal(t, "all done", stored.Message)
	require.Equal(t, "pulled 10 nodes", stored.ProgressMessage)
	require.NotZero(t, stored.DoneTime)
}

func TestIndeterminateTotal(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	job, err := l.CreateAndLaunch(ctx, "sync", "scan", "Scan cache", 0, TotalIndeterminate)
	require.NoError(t, err)
	require.Equal(t, TotalIndeterminate, job.Total)
}

func TestFail(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	job, err := l.CreateAndLaunch(ctx, OwnerWorker, "upload", "Upload photo", 0, 1)
	require.NoError(t, err)
	require.NoError(t, l.Fail(ctx, job, "connection reset"))

	stored, err := l.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobError, stored.Status)
	require.Equal(t, "connection reset", stored.Message)
	require.True(t, stored.Status.Terminal())
}

func TestRunningJobsFilter(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	running, err := l.CreateAndLaunch(ctx, "sync", "pull", "Pull A", 0, 5)
	require.NoError(t, err)
	finished, err := l.CreateAndLaunch(ctx, "sync", "pull", "Pull B", 0, 5)
	require.NoError(t, err)
	require.NoError(t, l.Done(ctx, finished, "", ""))
	_, err = l.CreateAndLaunch(ctx, "sync", "push", "Push C", 0, 5)
	require.NoError(t, err)

	jobs, err := l.RunningJobs(ctx, "pull")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, running.ID, jobs[0].ID)
}

func TestHierarchicalJobs(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	parent, err := l.CreateAndLaunch(ctx, "sync", "full-sync", "Full sync", 0, TotalIndeterminate)
	require.NoError(t, err)
	child, err := l.CreateAndLaunch(ctx, "sync", "pull", "Pull folder", parent.ID, 3)
	require.NoError(t, err)
	require.Equal(t, parent.ID, child.ParentID)
}

func TestClearTerminated(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	done, err := l.CreateAndLaunch(ctx, "sync", "pull", "Pull", 0, 1)
	require.NoError(t, err)
	require.NoError(t, l.Done(ctx, done, "", ""))
	_, err = l.CreateAndLaunch(ctx, "sync", "pull", "Pull again", 0, 1)
	require.NoError(t, err)

	require.NoError(t, l.ClearTerminated(ctx))
	jobs, err := l.Jobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, JobProcessing, jobs[0].Status)
}

func TestAsyncLogWrites(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	l.Info("sync", "pull started", "42")
	l.Warn("sync", "slow server", "42")
	l.Error("transfer", "upload failed", "")
	l.Flush()

	logs, err := l.Logs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, e := range logs {
		require.NotZero(t, e.Timestamp)
	}
}

func TestClearLogs(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	l.Info("sync", "one", "")
	l.Flush()
	require.NoError(t, l.ClearLogs(ctx))

	logs, err := l.Logs(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestLedgerClockInjection(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "runtime.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fixed := time.Unix(1_700_000_000, 0)
	l := New(store, WithClock(func() time.Time { return fixed }))

	job, err := l.CreateAndLaunch(context.Background(), "sync", "pull", "Pull", 0, 1)
	require.NoError(t, err)
	require.Equal(t, fixed.Unix(), job.StartTime)
}
