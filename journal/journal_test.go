package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateThenIsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	j := Open(path, nil)

	require.NoError(t, j.Update("nb.ipynb", 0, "x = 1"))
	require.False(t, j.IsStale("nb.ipynb", 0, "x = 1"))
	require.True(t, j.IsStale("nb.ipynb", 0, "x = 2"))
}

func TestPathCanonicalization(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	j := Open(path, nil)

	require.NoError(t, j.Update("./x.ipynb", 0, "x = 1"))
	require.Equal(t, j.IsStale("./x.ipynb", 0, "x = 1"), j.IsStale("x.ipynb", 0, "x = 1"))
}

func TestWasExecutedCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	j := Open(path, nil)

	require.False(t, j.WasExecutedCurrent("nb.ipynb", 0, "x = 1"))

	require.NoError(t, j.Update("nb.ipynb", 0, "x = 1"))
	require.True(t, j.WasExecutedCurrent("nb.ipynb", 0, "x = 1"))

	require.NoError(t, j.Update("nb.ipynb", 0, "x = 1"))
	require.True(t, j.WasExecuted("nb.ipynb", 0))
}

func TestWasExecutedCurrentEquivalence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	j := Open(path, nil)
	require.NoError(t, j.Update("nb.ipynb", 0, "x = 1"))

	for _, src := range []string{"x = 1", "x = 2"} {
		got := j.WasExecutedCurrent("nb.ipynb", 0, src)
		want := j.WasExecuted("nb.ipynb", 0) && !j.IsStale("nb.ipynb", 0, src)
		require.Equal(t, want, got)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	j := Open(path, nil)
	require.NoError(t, j.Update("nb.ipynb", 3, "z = 1"))

	reopened := Open(path, nil)
	require.True(t, reopened.WasExecuted("nb.ipynb", 3))
}

func TestMissingFileIsEmpty(t *testing.T) {
	j := Open(filepath.Join(t.TempDir(), "missing.json"), nil)
	require.False(t, j.WasExecuted("nb.ipynb", 0))
}

func TestStaleCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	j := Open(path, nil)
	require.NoError(t, j.Update("nb.ipynb", 0, "x = 1"))

	stale := j.StaleCells("nb.ipynb", []IndexedSource{
		{Index: 0, Source: "x = 1"},
		{Index: 1, Source: "y = 2"},
	})
	require.Equal(t, []int{1}, stale)
}
