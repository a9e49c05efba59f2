package errctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractErrorLineFindsLastMatch(t *testing.T) {
	source := "a = 1\nb = a / 0\nc = b\n"
	tb := []string{
		`Traceback (most recent call last):`,
		`  File "<cell>", line 2, in <module>`,
		`ZeroDivisionError: division by zero`,
	}
	info := extractErrorLine(tb, source)
	require.NotNil(t, info)
	require.Equal(t, 2, info.LineNumber)
	require.Equal(t, "b = a / 0", info.Content)
}

func TestExtractErrorLineOutOfRangeIsNil(t *testing.T) {
	info := extractErrorLine([]string{"line 999"}, "a = 1\n")
	require.Nil(t, info)
}

func TestExtractErrorLineNoMatchIsNil(t *testing.T) {
	info := extractErrorLine([]string{"no line reference here"}, "a = 1\n")
	require.Nil(t, info)
}

func TestExtractKeyErrorKey(t *testing.T) {
	require.Equal(t, "revenue", extractKeyErrorKey("'revenue'"))
}

func TestExtractNameErrorName(t *testing.T) {
	require.Equal(t, "dataframe", extractNameErrorName("name 'dataframe' is not defined"))
}

func TestExtractModuleName(t *testing.T) {
	require.Equal(t, "pandas", extractModuleName("No module named 'pandas'"))
}

func TestSubscriptedNames(t *testing.T) {
	names := subscriptedNames("x = df['a'] + other_df['b'] + df['a']")
	require.Equal(t, []string{"df", "other_df"}, names)
}

func TestBuildKeyErrorWithNoCacheOrSessionDegradesGracefully(t *testing.T) {
	ec := Build(context.Background(), "KeyError", "'revenue'", "x = df['revenu']", nil, nil, nil)
	require.Equal(t, "KeyError", ec.ErrorKind)
	require.Empty(t, ec.AvailableColumns)
	require.Empty(t, ec.Suggestion)
}

func TestBuildModuleNotFoundSuggestsPipInstall(t *testing.T) {
	ec := Build(context.Background(), "ModuleNotFoundError", "No module named 'seaborn'", "", nil, nil, nil)
	require.Contains(t, ec.Suggestion, "pip install seaborn")
}

func TestBuildTypeErrorGenericSuggestion(t *testing.T) {
	ec := Build(context.Background(), "TypeError", "unsupported operand", "", nil, nil, nil)
	require.Equal(t, "check variable types and values", ec.Suggestion)
}

func TestFuzzyMatchFindsCloseCandidate(t *testing.T) {
	match, ok := fuzzyMatch("revenu", []string{"revenue", "cost", "region"})
	require.True(t, ok)
	require.Equal(t, "revenue", match)
}

func TestFuzzyMatchBelowCutoffReturnsFalse(t *testing.T) {
	_, ok := fuzzyMatch("zzz", []string{"revenue", "cost", "region"})
	require.False(t, ok)
}

func TestSimilarityIdentical(t *testing.T) {
	require.Equal(t, 1.0, similarity("abc", "abc"))
}

func TestSimilarityEmptyStrings(t *testing.T) {
	require.Equal(t, 1.0, similarity("", ""))
	require.Equal(t, 0.0, similarity("abc", ""))
}
