// Package state implements the State Analyzer: cross-referencing cell
// parsing against the Execution Journal to surface undefined
// references, never-executed cells, staleness, and out-of-order
// execution.
package state

import (
	"fmt"
	"sort"

	"cellwright/cellparse"
	"cellwright/journal"
	"cellwright/notebook"
)

// Severity classifies a StateIssue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding against a notebook's state, spec.md §3 StateIssue.
// CellIndex is -1 for a whole-notebook issue.
type Issue struct {
	CellIndex  int
	Severity   Severity
	Message    string
	Suggestion string
}

// Report is the full result of analyzing one notebook, spec.md §3
// StateReport.
type Report struct {
	Consistent     bool
	Issues         []Issue
	ExecutionOrder []int
	CanonicalOrder []int
	DefinedVars    map[string]int
	UndefinedRefs  []UndefinedRef
}

// UndefinedRef names a reference that has no prior definition.
type UndefinedRef struct {
	Index int
	Name  string
}

// Analyze produces a Report for nb, using j to cross-check staleness
// and execution history keyed on notebookPath.
func Analyze(nb notebook.Notebook, j *journal.Journal, notebookPath string) Report {
	report := Report{
		DefinedVars:    map[string]int{},
		CanonicalOrder: canonicalOrder(nb),
		ExecutionOrder: nb.ExecutionOrder(),
	}

	codeCells := nb.CodeCells()
	allCells := nb.Cells()

	// Pass 1: undefined references, accumulating defined_vars progressively
	// in source order across all cells (not just code cells' index space).
	for i, c := range allCells {
		if c.Kind != notebook.KindCode {
			continue
		}
		analysis := cellparse.Analyze(c.Source)
		refs := make([]string, 0, len(analysis.References))
		for ref := range analysis.References {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		for _, ref := range refs {
			if _, defined := report.DefinedVars[ref]; !defined {
				report.Issues = append(report.Issues, Issue{
					CellIndex: i,
					Severity:  SeverityError,
					Message:   fmt.Sprintf("uses undefined variable '%s'", ref),
				})
				report.UndefinedRefs = append(report.UndefinedRefs, UndefinedRef{Index: i, Name: ref})
			}
		}
		for def := range analysis.Definitions {
			report.DefinedVars[def] = i
		}
	}

	// Pass 2: never-executed / stale, per code cell.
	for i, c := range allCells {
		if c.Kind != notebook.KindCode {
			continue
		}
		executed := c.ExecutionCounter != nil || (j != nil && j.WasExecuted(notebookPath, i))
		if !executed {
			report.Issues = append(report.Issues, Issue{
				CellIndex: i,
				Severity:  SeverityWarning,
				Message:   "never executed",
			})
			continue
		}
		if j != nil && j.WasExecuted(notebookPath, i) && j.IsStale(notebookPath, i, c.Source) {
			report.Issues = append(report.Issues, Issue{
				CellIndex: i,
				Severity:  SeverityWarning,
				Message:   "stale — code modified since last run",
			})
		}
	}

	// Pass 3: out-of-order execution, comparing observed counter order
	// against canonical source order of executed code cells.
	if outOfOrder(report.ExecutionOrder, report.CanonicalOrder) {
		report.Issues = append(report.Issues, Issue{
			CellIndex: -1,
			Severity:  SeverityWarning,
			Message:   "out-of-order execution detected",
		})
	}

	report.Consistent = !hasErrorIssue(report.Issues)
	_ = codeCells
	return report
}

// canonicalOrder is the source order of executed code cells (those
// carrying an execution counter).
func canonicalOrder(nb notebook.Notebook) []int {
	var order []int
	for i, c := range nb.Cells() {
		if c.Kind == notebook.KindCode && c.ExecutionCounter != nil {
			order = append(order, i)
		}
	}
	sort.Ints(order)
	return order
}

func outOfOrder(observed, canonical []int) bool {
	if len(observed) != len(canonical) {
		return false
	}
	for i := range observed {
		if observed[i] != canonical[i] {
			return true
		}
	}
	return false
}

func hasErrorIssue(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
