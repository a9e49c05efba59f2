package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cellwright/kernelsession"
	"cellwright/notebook"
)

func writeNotebook(t *testing.T, content string) notebook.Notebook {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ipynb")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	nb, err := notebook.Load(path)
	require.NoError(t, err)
	return nb
}

func newSession(t *testing.T) kernelsession.Session {
	t.Helper()
	s := kernelsession.NewFakeSession()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestRunScoresMatchingCellAsReproduced(t *testing.T) {
	nb := writeNotebook(t, `{
  "cells": [
    {"cell_type": "code", "source": "\"hello\"", "outputs": [{"output_type": "execute_result", "data": {"text/plain": "hello"}}]}
  ],
  "metadata": {}, "nbformat": 4, "nbformat_minor": 5
}`)
	session := newSession(t)

	report, err := Run(context.Background(), session, nb, time.Second)
	require.NoError(t, err)
	require.Len(t, report.Cells, 1)
	require.Equal(t, 1.0, report.ReproducibilityScore)
	require.True(t, report.Cells[0].Matched)
}

func TestRunScoresMismatchedCellAndProducesDiff(t *testing.T) {
	nb := writeNotebook(t, `{
  "cells": [
    {"cell_type": "code", "source": "\"hello\"", "outputs": [{"output_type": "execute_result", "data": {"text/plain": "goodbye"}}]}
  ],
  "metadata": {}, "nbformat": 4, "nbformat_minor": 5
}`)
	session := newSession(t)

	report, err := Run(context.Background(), session, nb, time.Second)
	require.NoError(t, err)
	require.Len(t, report.Cells, 1)
	require.Equal(t, 0.0, report.ReproducibilityScore)
	require.False(t, report.Cells[0].Matched)
	require.NotEmpty(t, report.Cells[0].Diff)
}

func TestRunSkipsNonCodeCells(t *testing.T) {
	nb := writeNotebook(t, `{
  "cells": [
    {"cell_type": "markdown", "source": "# title"},
    {"cell_type": "code", "source": "\"hi\"", "outputs": [{"output_type": "execute_result", "data": {"text/plain": "hi"}}]}
  ],
  "metadata": {}, "nbformat": 4, "nbformat_minor": 5
}`)
	session := newSession(t)

	report, err := Run(context.Background(), session, nb, time.Second)
	require.NoError(t, err)
	require.Len(t, report.Cells, 1)
	require.Equal(t, 1, report.Cells[0].Index)
}

func TestRunEmptyNotebookHasZeroScore(t *testing.T) {
	nb := writeNotebook(t, `{"cells": [], "metadata": {}, "nbformat": 4, "nbformat_minor": 5}`)
	session := newSession(t)

	report, err := Run(context.Background(), session, nb, time.Second)
	require.NoError(t, err)
	require.Empty(t, report.Cells)
	require.Equal(t, 0.0, report.ReproducibilityScore)
}

func TestSuggestFixFlagsUnseededRandomness(t *testing.T) {
	kind := "AssertionError"
	msg := "values differ: random draw did not match"
	res := kernelsession.ExecutionResult{ErrorKind: &kind, ErrorMessage: &msg}
	require.Contains(t, suggestFix(res), "random seed")
}

func TestSuggestFixMissingFileAvoidsHardcodedPaths(t *testing.T) {
	kind := "FileNotFoundError"
	msg := "No such file or directory: '/home/user/data.csv'"
	res := kernelsession.ExecutionResult{ErrorKind: &kind, ErrorMessage: &msg}
	require.Contains(t, suggestFix(res), "hardcoded absolute paths")
}

func TestSuggestFixMissingModuleNamesPipInstall(t *testing.T) {
	kind := "ModuleNotFoundError"
	msg := "No module named 'pandas'"
	res := kernelsession.ExecutionResult{ErrorKind: &kind, ErrorMessage: &msg}
	require.Equal(t, "install the missing module: pip install pandas", suggestFix(res))
}

func TestSuggestFixUndefinedNameSuggestsRunningInOrder(t *testing.T) {
	kind := "NameError"
	msg := "name 'x' is not defined"
	res := kernelsession.ExecutionResult{ErrorKind: &kind, ErrorMessage: &msg}
	require.Contains(t, suggestFix(res), "run in order from the beginning")
}

func TestRunRecordsErrorKindOnFailure(t *testing.T) {
	nb := writeNotebook(t, `{
  "cells": [
    {"cell_type": "code", "source": "{{{broken", "outputs": []}
  ],
  "metadata": {}, "nbformat": 4, "nbformat_minor": 5
}`)
	session := newSession(t)

	report, err := Run(context.Background(), session, nb, time.Second)
	require.NoError(t, err)
	require.Len(t, report.Cells, 1)
	require.NotNil(t, report.Cells[0].ErrorKind)
}
