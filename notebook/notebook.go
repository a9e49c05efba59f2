// Package notebook implements the Notebook Store: loading, saving, and
// structurally mutating the two notebook formats cellwright understands —
// a structured JSON document (the Jupyter v4 cell schema) and a reactive
// script whose cells are decorated top-level functions.
package notebook

import (
	"path/filepath"
	"strings"

	"cellwright/cwerr"
)

// Kind identifies what a Cell contains.
type Kind string

const (
	KindCode     Kind = "code"
	KindMarkdown Kind = "markdown"
	KindRaw      Kind = "raw"
)

// Cell is one positionally-indexed unit of a Notebook.
type Cell struct {
	Kind             Kind
	Source           string
	Outputs          []Output
	ExecutionCounter *int
}

// Output is an execution output block. Data carries the raw
// output-type-specific payload (verbatim, for round-tripping); Text is
// a best-effort flattened rendering used by components — Replay,
// Error Enrichment — that only care about the textual content.
type Output struct {
	Type string
	Data map[string]any
	Text string
}

// Notebook is the capability set Design Notes §9 calls for: a single
// interface realized by two variants, structured and reactive, so
// callers never need to type-switch on format.
type Notebook interface {
	Cells() []Cell
	CodeCells() []Cell
	ExecutionOrder() []int
	Get(index int) (Cell, error)
	Update(index int, source string) error
	Insert(index int, c Cell) error
	Delete(index int) error
	Move(from, to int) error
	Save(path string) error
	// InterpreterHint reports the declared target language, empty if unset.
	InterpreterHint() string
}

// Load detects the notebook format by filename suffix and parses it.
func Load(path string) (Notebook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ipynb", ".json":
		return loadStructured(path)
	case ".py":
		return loadReactive(path)
	default:
		return nil, cwerr.New(cwerr.KindNotFound, "notebook.Load",
			errUnsupportedFormat(path))
	}
}

func errUnsupportedFormat(path string) error {
	return &unsupportedFormatError{path: path}
}

type unsupportedFormatError struct{ path string }

func (e *unsupportedFormatError) Error() string {
	return "unsupported notebook format: " + e.path
}

// codeCells filters cs down to the code-kind cells, preserving order.
func codeCells(cs []Cell) []Cell {
	out := make([]Cell, 0, len(cs))
	for _, c := range cs {
		if c.Kind == KindCode {
			out = append(out, c)
		}
	}
	return out
}

// executionOrder returns the indices of cells with a set execution
// counter, ordered by ascending counter value (the observed run order).
func executionOrder(cs []Cell) []int {
	type pair struct {
		index, counter int
	}
	var pairs []pair
	for i, c := range cs {
		if c.ExecutionCounter != nil {
			pairs = append(pairs, pair{i, *c.ExecutionCounter})
		}
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].counter > pairs[j].counter; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
	out := make([]int, len(pairs))
	for i, p := range pairs {
		out[i] = p.index
	}
	return out
}

func checkBounds(n int, index int) error {
	if index < 0 || index >= n {
		return cwerr.New(cwerr.KindIndexOutOfRange, "notebook",
			indexError(index, n))
	}
	return nil
}

type indexErr struct {
	index, n int
}

func (e *indexErr) Error() string {
	return "cell index out of range"
}

func indexError(index, n int) error { return &indexErr{index, n} }
