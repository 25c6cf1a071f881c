package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveJob(t *testing.T, repos *Repositories, podID string) *core.IndexingJob {
	t.Helper()
	job := &core.IndexingJob{PodID: podID}
	require.NoError(t, repos.Jobs.SaveJob(context.Background(), job))
	return job
}

func TestSaveAndGetJob(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()
	ctx := context.Background()

	job := saveJob(t, repos, "pod-1")
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.JobStatusPending, job.Status)

	got, err := repos.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusPending, got.Status)
	assert.Equal(t, "pod-1", got.PodID)
	assert.True(t, got.StartedAt.IsZero())

	_, err = repos.Jobs.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListJobs(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()

	first := saveJob(t, repos, "pod-1")
	second := saveJob(t, repos, "pod-1")
	saveJob(t, repos, "pod-2")

	jobs, err := repos.Jobs.ListJobs(context.Background(), "pod-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}

func TestUpdateJobStatus_ConditionalTransition(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()
	ctx := context.Background()

	job := saveJob(t, repos, "pod-1")

	ok, err := repos.Jobs.UpdateJobStatus(ctx, job.ID, core.JobStatusPending, core.JobStatusRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repos.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusRunning, got.Status)
	assert.False(t, got.StartedAt.IsZero())

	// A second claim must fail because the job is no longer PENDING
	ok, err = repos.Jobs.UpdateJobStatus(ctx, job.ID, core.JobStatusPending, core.JobStatusRunning)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateJobStatus_InvalidTransition(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()

	job := saveJob(t, repos, "pod-1")
	_, err := repos.Jobs.UpdateJobStatus(context.Background(), job.ID, core.JobStatusCompleted, core.JobStatusRunning)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestUpdateJobStatus_NotFound(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()

	_, err := repos.Jobs.UpdateJobStatus(context.Background(), "missing", core.JobStatusPending, core.JobStatusRunning)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateJobStatus_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()
	ctx := context.Background()

	job := saveJob(t, repos, "pod-1")

	const claimants = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repos.Jobs.UpdateJobStatus(ctx, job.ID, core.JobStatusPending, core.JobStatusRunning)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestMarkJobCompleted(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()
	ctx := context.Background()

	job := saveJob(t, repos, "pod-1")

	// Not RUNNING yet
	ok, err := repos.Jobs.MarkJobCompleted(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repos.Jobs.UpdateJobStatus(ctx, job.ID, core.JobStatusPending, core.JobStatusRunning)
	require.NoError(t, err)

	ok, err = repos.Jobs.MarkJobCompleted(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repos.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusCompleted, got.Status)
	assert.False(t, got.FinishedAt.IsZero())
	assert.False(t, got.FinishedAt.Before(got.StartedAt))
}

func TestMarkJobFailed(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()
	ctx := context.Background()

	job := saveJob(t, repos, "pod-1")
	_, err := repos.Jobs.UpdateJobStatus(ctx, job.ID, core.JobStatusPending, core.JobStatusRunning)
	require.NoError(t, err)

	ok, err := repos.Jobs.MarkJobFailed(ctx, job.ID, "stream broke")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repos.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusFailed, got.Status)
	assert.Equal(t, "stream broke", got.ErrorMessage)
	assert.False(t, got.FinishedAt.IsZero())

	// Terminal states are never overwritten
	ok, err = repos.Jobs.MarkJobFailed(ctx, job.ID, "again")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repos.Jobs.MarkJobCompleted(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListStaleJobs(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()
	ctx := context.Background()

	old := &core.IndexingJob{PodID: "pod-1", CreatedAt: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, repos.Jobs.SaveJob(ctx, old))
	running := &core.IndexingJob{PodID: "pod-1", CreatedAt: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, repos.Jobs.SaveJob(ctx, running))
	_, err := repos.Jobs.UpdateJobStatus(ctx, running.ID, core.JobStatusPending, core.JobStatusRunning)
	require.NoError(t, err)
	saveJob(t, repos, "pod-1") // fresh

	stale, err := repos.Jobs.ListStaleJobs(ctx, time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}
