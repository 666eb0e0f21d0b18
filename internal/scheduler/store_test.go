package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/storage"
	"github.com/toolgate/toolgate/internal/toolerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, zap.NewNop())
}

func testJob(id string, createdAt time.Time) *Job {
	return &Job{
		ID:        id,
		Name:      "job " + id,
		ToolID:    "shell:run_command",
		Schedule:  "0 9 * * *",
		Status:    JobActive,
		CreatedAt: createdAt,
	}
}

func testExec(jobID, execID string, startedAt time.Time, status ExecStatus) *Execution {
	return &Execution{ID: execID, JobID: jobID, Status: status, StartedAt: startedAt}
}

func TestJobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	job := testJob("j1", time.Now().UTC())
	job.Arguments = map[string]interface{}{"command": "df -h"}

	require.NoError(t, store.SaveJob(job))

	got, err := store.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, job.Name, got.Name)
	assert.Equal(t, job.ToolID, got.ToolID)
	assert.Equal(t, job.Arguments, got.Arguments)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetJob("missing")
	assert.Equal(t, toolerr.KindNotFound, toolerr.KindOf(err))
}

func TestListJobsOrderedByCreation(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()
	require.NoError(t, store.SaveJob(testJob("newer", base.Add(time.Minute))))
	require.NoError(t, store.SaveJob(testJob("older", base)))

	jobs, err := store.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "older", jobs[0].ID)
	assert.Equal(t, "newer", jobs[1].ID)
}

func TestDeleteJobCascadesExecutions(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveJob(testJob("j1", time.Now().UTC())))
	require.NoError(t, store.SaveExecution(testExec("j1", "0001", time.Now().UTC(), ExecSuccess)))
	require.NoError(t, store.SaveExecution(testExec("j1", "0002", time.Now().UTC(), ExecSuccess)))

	require.NoError(t, store.DeleteJob("j1"))

	_, err := store.GetJob("j1")
	assert.Equal(t, toolerr.KindNotFound, toolerr.KindOf(err))

	execs, err := store.ListExecutions("j1", 0)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestDeleteJobNotFound(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, toolerr.KindNotFound, toolerr.KindOf(store.DeleteJob("missing")))
}

func TestListExecutionsMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()
	for i := 1; i <= 3; i++ {
		exec := testExec("j1", fmt.Sprintf("%04d", i), base.Add(time.Duration(i)*time.Minute), ExecSuccess)
		require.NoError(t, store.SaveExecution(exec))
	}
	// Another job's history must not bleed in.
	require.NoError(t, store.SaveExecution(testExec("j2", "0001", base, ExecFailure)))

	execs, err := store.ListExecutions("j1", 0)
	require.NoError(t, err)
	require.Len(t, execs, 3)
	assert.Equal(t, "0003", execs[0].ID)
	assert.Equal(t, "0001", execs[2].ID)
}

func TestListExecutionsLimit(t *testing.T) {
	store := newTestStore(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.SaveExecution(
			testExec("j1", fmt.Sprintf("%04d", i), time.Now().UTC(), ExecSuccess)))
	}

	execs, err := store.ListExecutions("j1", 2)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "0005", execs[0].ID)
}

func TestCompactAgeAndCap(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	// One past the age cutoff, five recent.
	require.NoError(t, store.SaveExecution(testExec("j1", "0000", now.Add(-30*24*time.Hour), ExecSuccess)))
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.SaveExecution(
			testExec("j1", fmt.Sprintf("%04d", i), now.Add(time.Duration(i)*time.Second), ExecSuccess)))
	}

	removed, err := store.Compact(14*24*time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, removed, "one aged out, two over the per-job cap")

	execs, err := store.ListExecutions("j1", 0)
	require.NoError(t, err)
	require.Len(t, execs, 3)
	assert.Equal(t, "0005", execs[0].ID)
	assert.Equal(t, "0003", execs[2].ID)
}
