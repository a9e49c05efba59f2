package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOfflineNumericColumn(t *testing.T) {
	path := writeCSV(t, "age,name\n10,a\n20,b\n30,c\n")
	tp, err := Offline(path, "df", 0)
	require.NoError(t, err)
	require.Equal(t, 3, tp.RowCount)
	require.Len(t, tp.Columns, 2)

	age := tp.Columns[0]
	require.Equal(t, "age", age.Name)
	require.Equal(t, "float64", age.DType)
	require.NotNil(t, age.Min)
	require.NotNil(t, age.Max)
	require.InDelta(t, 10, *age.Min, 0.001)
	require.InDelta(t, 30, *age.Max, 0.001)
	require.InDelta(t, 20, *age.Mean, 0.001)

	name := tp.Columns[1]
	require.Equal(t, "string", name.DType)
	require.Nil(t, name.Min)
}

func TestOfflineTracksNullsAndUniques(t *testing.T) {
	path := writeCSV(t, "x\n1\n\"\"\n1\n2\n")
	tp, err := Offline(path, "df", 0)
	require.NoError(t, err)

	x := tp.Columns[0]
	require.Equal(t, 1, x.NullCount)
	require.Equal(t, 2, x.Unique) // "1" and "2", empty doesn't count
}

func TestOfflineMissingFile(t *testing.T) {
	_, err := Offline("/nonexistent/path.csv", "df", 0)
	require.Error(t, err)
}

func TestApplyDefaultRulesFlagsAnyNullFraction(t *testing.T) {
	tp := &TableProfile{
		Variable: "df",
		RowCount: 10,
		Columns: []ColumnProfile{
			{Name: "one_null", NullPercent: 10, Unique: 9},
			{Name: "clean", NullPercent: 0, Unique: 10},
		},
	}
	require.NoError(t, ApplyRules(tp, DefaultRules))
	require.Len(t, tp.Issues, 1)
	require.Equal(t, "one_null", tp.Issues[0].Column)
	require.Equal(t, "null_values", tp.Issues[0].Rule)
	require.Equal(t, "10.0% null values", tp.Issues[0].Message)
}

func TestApplyDefaultRulesFlagsNegativeMin(t *testing.T) {
	min := -5.0
	tp := &TableProfile{
		Variable: "df",
		RowCount: 5,
		Columns: []ColumnProfile{
			{Name: "value", NullPercent: 0, Unique: 5, Min: &min},
		},
	}
	require.NoError(t, ApplyRules(tp, DefaultRules))
	require.Len(t, tp.Issues, 1)
	require.Equal(t, "negative_values", tp.Issues[0].Rule)
	require.Equal(t, "has negative values", tp.Issues[0].Message)
}

func TestApplyDefaultRulesMatchesOfflineCSVScenario(t *testing.T) {
	// spec.md §8 scenario 5: header id,value with rows (1,10),(2,""),(3,-5)
	// must produce a null-percentage issue and a negative-values issue.
	path := writeCSV(t, "id,value\n1,10\n2,\n3,-5\n")
	tp, err := Offline(path, "df", 0)
	require.NoError(t, err)
	require.NoError(t, ApplyRules(&tp, DefaultRules))
	require.Len(t, tp.Issues, 2)

	value := tp.Columns[1]
	require.Equal(t, "value", value.Name)
	require.InDelta(t, -5, *value.Min, 0.001)
	require.InDelta(t, 10, *value.Max, 0.001)
	require.Equal(t, 1, value.NullCount)

	var rules []string
	for _, issue := range tp.Issues {
		rules = append(rules, issue.Rule)
	}
	require.Contains(t, rules, "null_values")
	require.Contains(t, rules, "negative_values")
}

func TestApplyRulesInvalidExpression(t *testing.T) {
	tp := &TableProfile{Columns: []ColumnProfile{{Name: "c"}}}
	err := ApplyRules(tp, []Rule{{Name: "bad", Expression: "column.NotAField > 1"}})
	require.Error(t, err)
}

func TestApplyRulesIssuesAreSorted(t *testing.T) {
	min := -1.0
	tp := &TableProfile{
		RowCount: 2,
		Columns: []ColumnProfile{
			{Name: "b", NullPercent: 60, Unique: 1, Min: &min},
			{Name: "a", NullPercent: 60, Unique: 1, Min: &min},
		},
	}
	require.NoError(t, ApplyRules(tp, DefaultRules))
	require.Len(t, tp.Issues, 4)
	require.Equal(t, "a", tp.Issues[0].Column)
	require.Equal(t, "b", tp.Issues[2].Column)
}

func TestApplyRulesAggregatesGlobalIssues(t *testing.T) {
	min := -1.0
	tp := &TableProfile{
		RowCount: 2,
		Columns: []ColumnProfile{
			{Name: "value", NullPercent: 50, Unique: 1, Min: &min},
		},
	}
	require.NoError(t, ApplyRules(tp, DefaultRules))
	require.Len(t, tp.GlobalIssues, 1)
	require.Equal(t, "value", tp.GlobalIssues[0].Column)
	require.Contains(t, tp.GlobalIssues[0].Message, "value:")
	require.Contains(t, tp.GlobalIssues[0].Message, "50.0% null values")
	require.Contains(t, tp.GlobalIssues[0].Message, "has negative values")
}

func TestOfflineSetsMemoryBytesEstimate(t *testing.T) {
	path := writeCSV(t, "a,b\n1,2\n3,4\n")
	tp, err := Offline(path, "df", 0)
	require.NoError(t, err)
	require.Equal(t, int64(2*2*8), tp.MemoryBytes)
}
