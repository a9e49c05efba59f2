package depgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cellwright/notebook"
)

func loadNotebook(t *testing.T, cellsJSON string) notebook.Notebook {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ipynb")
	doc := `{"cells": [` + cellsJSON + `]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	nb, err := notebook.Load(path)
	require.NoError(t, err)
	return nb
}

func codeCell(source string) string {
	return `{"cell_type": "code", "source": "` + source + `"}`
}

func TestSimpleDependency(t *testing.T) {
	nb := loadNotebook(t, codeCell("x = 1")+","+codeCell("y = x + 1"))
	g := Build(nb)

	require.Equal(t, []int{1}, g.Downstream(0))
	require.Equal(t, []int{0}, g.Upstream(1))
}

func TestTransitiveDownstream(t *testing.T) {
	nb := loadNotebook(t, codeCell("x = 1")+","+codeCell("y = x + 1")+","+codeCell("z = y + 1"))
	g := Build(nb)

	require.Equal(t, []int{1, 2}, g.Downstream(0))
	require.Equal(t, []int{0, 1}, g.Upstream(2))
}

func TestNoDependencyWhenNoSharedNames(t *testing.T) {
	nb := loadNotebook(t, codeCell("x = 1")+","+codeCell("y = 2"))
	g := Build(nb)

	require.Empty(t, g.Downstream(0))
	require.Empty(t, g.Upstream(1))
}

func TestLastWriterWins(t *testing.T) {
	nb := loadNotebook(t, codeCell("x = 1")+","+codeCell("x = 2")+","+codeCell("y = x"))
	g := Build(nb)

	require.Equal(t, []int{2}, g.Downstream(1), "cell 2 should depend on the last writer of x, not the first")
	require.Empty(t, g.Downstream(0))
}

func TestGraphIsAcyclicAndBackwardOnly(t *testing.T) {
	nb := loadNotebook(t, codeCell("x = 1")+","+codeCell("y = x + 1")+","+codeCell("z = y + 1"))
	g := Build(nb)

	for idx, node := range g.Nodes {
		for up := range node.Upstream {
			require.Less(t, up, idx, "upstream edges must point backward in source order")
		}
	}
}

func TestDeadCellHeuristic(t *testing.T) {
	nb := loadNotebook(t, codeCell("x = 1")+","+codeCell("print(x)"))
	g := Build(nb)

	require.True(t, g.IsDead(1) == false || len(g.Nodes[1].References) == 0)
	require.False(t, g.IsDead(1), "the last cell is assumed a terminal sink")
}

func TestLabelTruncatesAndStripsComment(t *testing.T) {
	got := label("# this is a long comment line that exceeds fifty characters easily\nx = 1")
	require.LessOrEqual(t, len(got), 53)
	require.NotEqual(t, "", got)
}
