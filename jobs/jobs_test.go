package jobs

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	reg, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	job, err := reg.Create("analysis.ipynb", 3, os.Getpid())
	require.NoError(t, err)
	require.Len(t, job.ID, 8)
	require.Equal(t, StatusRunning, job.Status)

	got, ok, err := reg.Get(job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, StatusRunning, got.Status)
}

func TestCompleteSetsResultAndTimestamp(t *testing.T) {
	reg, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	job, err := reg.Create("nb.ipynb", 0, os.Getpid())
	require.NoError(t, err)

	require.NoError(t, reg.Complete(job.ID, "42"))

	got, ok, err := reg.Get(job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, "42", got.Result)
	require.NotNil(t, got.CompletedAt)
}

func TestGetPromotesStaleRunningJobToFailed(t *testing.T) {
	reg, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	// A pid that (almost certainly) does not correspond to a live process.
	job, err := reg.Create("nb.ipynb", 1, 999999)
	require.NoError(t, err)

	got, ok, err := reg.Get(job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "no longer exists")
}

func TestCancelSendsSignalAndMarksCancelled(t *testing.T) {
	reg, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	child := exec.Command("sleep", "30")
	require.NoError(t, child.Start())
	defer func() { _ = child.Process.Kill(); _ = child.Wait() }()
	job, err := reg.Create("nb.ipynb", 2, child.Process.Pid)
	require.NoError(t, err)

	require.NoError(t, reg.Cancel(job.ID))

	got, ok, err := reg.Get(job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusCancelled, got.Status)
}

func TestCancelNonRunningJobFails(t *testing.T) {
	reg, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	job, err := reg.Create("nb.ipynb", 0, os.Getpid())
	require.NoError(t, err)
	require.NoError(t, reg.Complete(job.ID, "done"))

	err = reg.Cancel(job.ID)
	require.Error(t, err)
}

func TestGetMissingJob(t *testing.T) {
	reg, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	_, ok, err := reg.Get("deadbeef")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListOrdersMostRecentFirst(t *testing.T) {
	reg, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	j1, err := reg.Create("a.ipynb", 0, os.Getpid())
	require.NoError(t, err)
	j2, err := reg.Create("b.ipynb", 0, os.Getpid())
	require.NoError(t, err)

	list, err := reg.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, j2.ID, list[0].ID)
	require.Equal(t, j1.ID, list[1].ID)
}
