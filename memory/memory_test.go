package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	scope := Global(t.TempDir(), nil)

	ctx := ProjectContext{
		Name: "churn-model",
		Goal: "predict monthly churn",
		Approaches: []Approach{
			{Name: "logistic regression", Status: "abandoned", Reason: "underfit"},
			{Name: "gradient boosting", Status: "current"},
		},
	}
	require.NoError(t, scope.WriteContext(ctx))

	got := scope.ReadContext()
	require.Equal(t, ctx.Name, got.Name)
	require.Equal(t, ctx.Goal, got.Goal)
	require.Len(t, got.Approaches, 2)
	require.Equal(t, "current", got.Approaches[1].Status)
}

func TestContextMissingIsEmpty(t *testing.T) {
	scope := Global(t.TempDir(), nil)
	got := scope.ReadContext()
	require.Equal(t, ProjectContext{}, got)
}

func TestContextCorruptIsTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	scope := Global(dir, nil)
	require.NoError(t, scope.WriteContext(ProjectContext{Name: "x"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "context"), []byte("not: [valid yaml"), 0o644))

	got := scope.ReadContext()
	require.Equal(t, ProjectContext{}, got)
}

func TestUpdateContextAppliesFunction(t *testing.T) {
	scope := Global(t.TempDir(), nil)
	require.NoError(t, scope.UpdateContext(func(c *ProjectContext) {
		c.Status = "in_progress"
	}))
	require.Equal(t, "in_progress", scope.ReadContext().Status)
}

func TestForNotebookIsDistinctFromGlobal(t *testing.T) {
	root := t.TempDir()
	global := Global(root, nil)
	perNb := ForNotebook(root, "/x/analysis.ipynb", nil)

	require.NoError(t, global.WriteContext(ProjectContext{Name: "global"}))
	require.NoError(t, perNb.WriteContext(ProjectContext{Name: "per-notebook"}))

	require.Equal(t, "global", global.ReadContext().Name)
	require.Equal(t, "per-notebook", perNb.ReadContext().Name)
}

func TestDecisionLogAppendAndLast(t *testing.T) {
	scope := Global(t.TempDir(), nil)
	log := scope.Log()

	require.NoError(t, log.Append("state", "notebook is consistent"))
	require.NoError(t, log.Append("replay", "reproducibility 1.0"))

	all := log.Last(0)
	require.Len(t, all, 2)
	require.Contains(t, all[0], "[state]")
	require.Contains(t, all[1], "[replay]")

	last := log.Last(1)
	require.Len(t, last, 1)
	require.Contains(t, last[0], "[replay]")
}

func TestDecisionLogEmptyIsNoLines(t *testing.T) {
	scope := Global(t.TempDir(), nil)
	require.Empty(t, scope.Log().Last(0))
}
