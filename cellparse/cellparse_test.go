package cellparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleAssignment(t *testing.T) {
	a := Analyze("x = 1")
	require.Contains(t, a.Definitions, "x")
	require.Empty(t, a.References)
}

func TestParseReferences(t *testing.T) {
	a := Analyze("y = x + 1")
	require.Contains(t, a.Definitions, "y")
	require.Contains(t, a.References, "x")
}

func TestParseImport(t *testing.T) {
	a := Analyze("import pandas as pd")
	require.Contains(t, a.Definitions, "pd")
	require.Contains(t, a.Imports, "pd")
}

func TestParseFromImport(t *testing.T) {
	a := Analyze("from pathlib import Path")
	require.Contains(t, a.Definitions, "Path")
	require.Contains(t, a.Imports, "Path")
}

func TestParseFunctionDef(t *testing.T) {
	a := Analyze("def foo(x):\n    return x + 1")
	require.Contains(t, a.Definitions, "foo")
	require.Contains(t, a.Functions, "foo")
	require.NotContains(t, a.References, "x", "parameter, not a reference")
}

func TestParseClassDef(t *testing.T) {
	a := Analyze("class MyClass:\n    pass")
	require.Contains(t, a.Definitions, "MyClass")
	require.Contains(t, a.Classes, "MyClass")
}

func TestParseMagicCommands(t *testing.T) {
	a := Analyze("%matplotlib inline\nx = 1")
	require.Contains(t, a.Definitions, "x")
}

func TestParseShellCommands(t *testing.T) {
	a := Analyze("!pip install pandas\nx = 1")
	require.Contains(t, a.Definitions, "x")
}

func TestParseQuestionMarkMagic(t *testing.T) {
	a := Analyze("?str.upper\nx = 1")
	require.Contains(t, a.Definitions, "x")
}

func TestParseTupleUnpacking(t *testing.T) {
	a := Analyze("a, b = 1, 2")
	require.Contains(t, a.Definitions, "a")
	require.Contains(t, a.Definitions, "b")
}

func TestParseStarredAssignment(t *testing.T) {
	a := Analyze("first, *rest = [1, 2, 3]")
	require.Contains(t, a.Definitions, "first")
	require.Contains(t, a.Definitions, "rest")
}

func TestParseForLoop(t *testing.T) {
	a := Analyze("for i in range(10):\n    total = total + i")
	require.Contains(t, a.Definitions, "i")
	require.Contains(t, a.Definitions, "total")
	require.NotContains(t, a.References, "range")
}

func TestParseComprehensionVariableNotALeakedDefinition(t *testing.T) {
	a := Analyze("squares = [n * n for n in values]")
	require.Contains(t, a.Definitions, "squares")
	require.NotContains(t, a.Definitions, "n")
	require.NotContains(t, a.References, "n")
	require.Contains(t, a.References, "values")
}

func TestParseWalrusOperator(t *testing.T) {
	a := Analyze("if (n := len(data)) > 10:\n    print(n)")
	require.Contains(t, a.Definitions, "n")
	require.Contains(t, a.References, "data")
}

func TestParseBuiltinsExcludedFromReferences(t *testing.T) {
	a := Analyze("y = len(x)")
	require.Contains(t, a.References, "x")
	require.NotContains(t, a.References, "len")
}

func TestParseSyntaxError(t *testing.T) {
	a := Analyze("def broken(")
	require.Empty(t, a.Definitions)
}

func TestAnalyzeIsPure(t *testing.T) {
	src := "import numpy as np\ndef f(x):\n    return x + np.pi\ny = f(1)"
	a1 := Analyze(src)
	a2 := Analyze(src)
	require.Equal(t, a1, a2)
}
