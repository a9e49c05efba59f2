// Package replay implements the Replay Engine: re-executing a notebook
// top-to-bottom in a fresh Interpreter Session and scoring how well the
// replayed outputs reproduce the saved ones (spec.md §4.11).
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	godiffpatch "github.com/sourcegraph/go-diff-patch"

	"cellwright/cwerr"
	"cellwright/kernelsession"
	"cellwright/notebook"
)

// CellResult is one cell's replay outcome.
type CellResult struct {
	Index         int
	Matched       bool
	SavedHash     string
	ReplayedHash  string
	Diff          string // unified diff, present only on mismatch
	ErrorKind     *string
	Suggestion    string
}

// Report is the full-notebook replay outcome.
type Report struct {
	Notebook          string
	Cells             []CellResult
	ReproducibilityScore float64
}

// Run replays every code cell of nb in a fresh session, comparing each
// cell's concatenated text output against what is already recorded in
// the notebook. session must already be Start()-ed; Run does not shut
// it down, mirroring the Command Orchestrator's own-the-lifecycle
// responsibility (spec.md §5).
func Run(ctx context.Context, session kernelsession.Session, nb notebook.Notebook, timeout time.Duration) (Report, error) {
	report := Report{Notebook: nb.InterpreterHint()}

	codeCount := 0
	matched := 0
	for i, cell := range nb.Cells() {
		if cell.Kind != notebook.KindCode {
			continue
		}
		codeCount++
		res, err := replayCell(ctx, session, i, cell, timeout)
		if err != nil {
			return Report{}, err
		}
		report.Cells = append(report.Cells, res)
		if res.Matched {
			matched++
		}
	}

	if codeCount > 0 {
		report.ReproducibilityScore = float64(matched) / float64(codeCount)
	}
	return report, nil
}

func replayCell(ctx context.Context, session kernelsession.Session, index int, cell notebook.Cell, timeout time.Duration) (CellResult, error) {
	result := CellResult{Index: index}

	savedText := strings.TrimSpace(concatOutputs(cell.Outputs))
	result.SavedHash = hashText(savedText)

	execResult, err := session.Execute(ctx, cell.Source, timeout)
	if err != nil && execResult.ErrorKind == nil {
		return CellResult{}, cwerr.New(cwerr.KindTransport, "replay.replayCell", err)
	}

	replayedText := strings.TrimSpace(concatExecution(execResult))
	result.ReplayedHash = hashText(replayedText)
	// A cell with no saved output has nothing to compare against and
	// trivially matches, mirroring the original _compare_outputs rule.
	result.Matched = len(cell.Outputs) == 0 || result.SavedHash == result.ReplayedHash

	if !execResult.Success {
		result.ErrorKind = execResult.ErrorKind
		result.Suggestion = suggestFix(execResult)
	}

	if !result.Matched {
		result.Diff = godiffpatch.GeneratePatch(
			fmt.Sprintf("cell-%d", index), savedText, replayedText)
	}

	return result, nil
}

func concatOutputs(outputs []notebook.Output) string {
	var b strings.Builder
	for _, o := range outputs {
		b.WriteString(o.Text)
	}
	return b.String()
}

func concatExecution(res kernelsession.ExecutionResult) string {
	var b strings.Builder
	b.WriteString(res.Stdout)
	b.WriteString(res.DisplayValue)
	return b.String()
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// suggestFix applies the heuristics spec.md §4.11 names: missing
// file/module, undefined name, or unseeded randomness.
func suggestFix(res kernelsession.ExecutionResult) string {
	if res.ErrorMessage == nil {
		return ""
	}
	msg := *res.ErrorMessage
	kind := ""
	if res.ErrorKind != nil {
		kind = *res.ErrorKind
	}

	switch {
	case kind == "FileNotFoundError" || strings.Contains(msg, "No such file"):
		return "the referenced data file is missing — avoid hardcoded absolute paths"
	case kind == "ModuleNotFoundError" || strings.Contains(msg, "No module named"):
		return fmt.Sprintf("install the missing module: pip install %s", missingModuleName(msg))
	case kind == "NameError" || strings.Contains(msg, "is not defined"):
		return "run in order from the beginning"
	case strings.Contains(msg, "random") || strings.Contains(msg, "rand"):
		return "output may depend on an unseeded random number generator — set a random seed"
	default:
		return ""
	}
}

// missingModuleName extracts the quoted module name from a
// "No module named 'x'" message; falls back to the literal message if
// it isn't quoted.
func missingModuleName(msg string) string {
	start := strings.Index(msg, "'")
	if start == -1 {
		return msg
	}
	end := strings.Index(msg[start+1:], "'")
	if end == -1 {
		return msg
	}
	return msg[start+1 : start+1+end]
}
