package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cellwright/jobs"
	"cellwright/notebook"
)

func writeTestNotebook(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	doc := `{"nbformat":4,"nbformat_minor":5,"cells":[{"cell_type":"code","source":"1","outputs":[]}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestDefaultMetadataDirIsSiblingOfNotebook(t *testing.T) {
	require.Equal(t, filepath.Join("project", ".cellwright"), defaultMetadataDir(filepath.Join("project", "nb.ipynb")))
}

func TestCellsAddInsertsCellAndPersists(t *testing.T) {
	dir := t.TempDir()
	nbPath := writeTestNotebook(t, dir, "nb.ipynb")

	code := cellsAddCommand([]string{nbPath, "1", "2 + 2"})
	require.Equal(t, 0, code)

	nb, err := notebook.Load(nbPath)
	require.NoError(t, err)
	require.Len(t, nb.Cells(), 2)
	c1, err := nb.Get(1)
	require.NoError(t, err)
	require.Equal(t, "2 + 2", c1.Source)
}

func TestCellsAddRejectsWrongArgCount(t *testing.T) {
	require.Equal(t, 2, cellsAddCommand([]string{"nb.ipynb", "1"}))
}

func TestCellsAddRejectsNonIntegerIndex(t *testing.T) {
	require.Equal(t, 2, cellsAddCommand([]string{"nb.ipynb", "x", "1"}))
}

func TestCellsDeleteRemovesCellAndPersists(t *testing.T) {
	dir := t.TempDir()
	nbPath := writeTestNotebook(t, dir, "nb.ipynb")

	code := cellsDeleteCommand([]string{nbPath, "0"})
	require.Equal(t, 0, code)

	nb, err := notebook.Load(nbPath)
	require.NoError(t, err)
	require.Empty(t, nb.Cells())
}

func TestCellsMoveReordersCells(t *testing.T) {
	dir := t.TempDir()
	nbPath := writeTestNotebook(t, dir, "nb.ipynb")
	require.Equal(t, 0, cellsAddCommand([]string{nbPath, "1", "second"}))

	require.Equal(t, 0, cellsMoveCommand([]string{nbPath, "1", "0"}))

	nb, err := notebook.Load(nbPath)
	require.NoError(t, err)
	c0, err := nb.Get(0)
	require.NoError(t, err)
	require.Equal(t, "second", c0.Source)
}

func TestCellsCommandRejectsUnknownSubcommand(t *testing.T) {
	require.Equal(t, 2, cellsCommand([]string{"frobnicate"}))
}

func TestJobsListAndCancel(t *testing.T) {
	dir := t.TempDir()
	metadataDir := filepath.Join(dir, ".cellwright")
	reg, err := jobs.Open(filepath.Join(metadataDir, "jobs"), nil)
	require.NoError(t, err)
	child := exec.Command("sleep", "30")
	require.NoError(t, child.Start())
	defer func() { _ = child.Process.Kill(); _ = child.Wait() }()
	job, err := reg.Create("nb.ipynb", 0, child.Process.Pid)
	require.NoError(t, err)

	require.Equal(t, 0, jobsListCommand([]string{"--metadata-dir=" + metadataDir}))
	require.Equal(t, 0, jobsCancelCommand([]string{"--metadata-dir=" + metadataDir, job.ID}))
	require.Equal(t, 1, jobsCancelCommand([]string{"--metadata-dir=" + metadataDir, "nonexistent"}))
}

func TestJobsCommandRejectsUnknownSubcommand(t *testing.T) {
	require.Equal(t, 2, jobsCommand([]string{"frobnicate"}))
}
