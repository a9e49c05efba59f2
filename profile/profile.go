// Package profile implements the Profile Engine: building a
// TableProfile for a tabular variable either by probing a live
// Interpreter Session or by reading a delimited text file directly,
// and synthesizing data-quality Issues from user-authored rules.
package profile

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"cellwright/cwerr"
	"cellwright/kernelsession"
)

// ColumnProfile is one column's summary statistics, spec.md §3.
type ColumnProfile struct {
	Name        string   `json:"name" yaml:"name"`
	DType       string   `json:"dtype" yaml:"dtype"`
	NullCount   int      `json:"null_count" yaml:"null_count"`
	NullPercent float64  `json:"null_percent" yaml:"null_percent"`
	Unique      int      `json:"unique" yaml:"unique"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Mean        *float64 `json:"mean,omitempty" yaml:"mean,omitempty"`
	TopValues   []string `json:"top_values,omitempty" yaml:"top_values,omitempty"`
}

// TableProfile is the full profile of one tabular variable.
type TableProfile struct {
	Variable     string          `json:"variable" yaml:"variable"`
	RowCount     int             `json:"row_count" yaml:"row_count"`
	Columns      []ColumnProfile `json:"columns" yaml:"columns"`
	Issues       []Issue         `json:"issues,omitempty" yaml:"issues,omitempty"`
	GlobalIssues []Issue         `json:"global_issues,omitempty" yaml:"global_issues,omitempty"`
	MemoryBytes  int64           `json:"memory_bytes,omitempty" yaml:"memory_bytes,omitempty"`
	ProfiledAt   string          `json:"profiled_at" yaml:"profiled_at"`
}

// Issue is one data-quality finding synthesized from a Rule.
type Issue struct {
	Column  string `json:"column" yaml:"column"`
	Rule    string `json:"rule" yaml:"rule"`
	Message string `json:"message" yaml:"message"`
}

// Rule is a user-authored data-quality check: Expression is evaluated
// with each ColumnProfile exposed as the environment variable "column"
// (plus "row_count" for the enclosing table), and must return a bool.
// A true result fires Message as an Issue.
type Rule struct {
	Name       string
	Expression string
	Message    string
}

// DefaultRules mirrors the built-in checks spec.md §4.8 mandates before
// any user rule: any null value at all, and a numeric column whose
// minimum is negative.
var DefaultRules = []Rule{
	{
		Name:       "null_values",
		Expression: `column.NullPercent > 0`,
		Message:    "null values",
	},
	{
		Name:       "negative_values",
		Expression: `column.HasNegativeMin()`,
		Message:    "has negative values",
	},
}

type ruleEnv struct {
	Column   ColumnProfile `expr:"column"`
	RowCount int           `expr:"row_count"`
}

// HasNegativeMin reports whether a numeric column's minimum is
// negative; exposed as a method so the negative_values rule can test
// it without relying on expr's pointer-dereference semantics.
func (c ColumnProfile) HasNegativeMin() bool {
	return c.Min != nil && *c.Min < 0
}

// compiledRule pairs a Rule with its compiled expr program, grounded on
// mbflow's ConditionCache pattern of compile-once-reuse-many.
type compiledRule struct {
	rule    Rule
	program *vm.Program
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		prog, err := expr.Compile(r.Expression, expr.Env(ruleEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("profile: compile rule %q: %w", r.Name, err)
		}
		out = append(out, compiledRule{rule: r, program: prog})
	}
	return out, nil
}

// ApplyRules evaluates rules over every column of tp and appends any
// resulting Issues, sorted by column then rule name for determinism,
// then aggregates per-column issues into GlobalIssues (spec.md §4.8:
// "{column}: {issues}").
func ApplyRules(tp *TableProfile, rules []Rule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	var issues []Issue
	for _, col := range tp.Columns {
		env := ruleEnv{Column: col, RowCount: tp.RowCount}
		for _, cr := range compiled {
			result, err := expr.Run(cr.program, env)
			if err != nil {
				return fmt.Errorf("profile: evaluate rule %q on column %q: %w", cr.rule.Name, col.Name, err)
			}
			fired, ok := result.(bool)
			if !ok || !fired {
				continue
			}
			message := cr.rule.Message
			if cr.rule.Name == "null_values" {
				message = fmt.Sprintf("%.1f%% null values", col.NullPercent)
			}
			issues = append(issues, Issue{Column: col.Name, Rule: cr.rule.Name, Message: message})
		}
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Column != issues[j].Column {
			return issues[i].Column < issues[j].Column
		}
		return issues[i].Rule < issues[j].Rule
	})
	tp.Issues = issues
	tp.GlobalIssues = aggregateGlobalIssues(issues)
	return nil
}

// aggregateGlobalIssues groups per-column Issues by column into one
// summary Issue each, per spec.md §4.8.
func aggregateGlobalIssues(issues []Issue) []Issue {
	var out []Issue
	var messages []string
	flush := func(column string) {
		if len(messages) == 0 {
			return
		}
		out = append(out, Issue{
			Column:  column,
			Message: fmt.Sprintf("%s: %s", column, strings.Join(messages, ", ")),
		})
		messages = nil
	}
	current := ""
	for _, issue := range issues {
		if issue.Column != current {
			flush(current)
			current = issue.Column
		}
		messages = append(messages, issue.Message)
	}
	flush(current)
	return out
}

// Live profiles variable by probing a running Interpreter Session: it
// injects a small script that serializes a pandas-like description to
// JSON and parses the result.
func Live(ctx context.Context, session kernelsession.Session, variable string, timeout time.Duration) (TableProfile, error) {
	if session == nil {
		return TableProfile{}, cwerr.New(cwerr.KindProbeFailed, "profile.Live", fmt.Errorf("no session"))
	}
	script := fmt.Sprintf(probeTemplate, variable)
	out, err := session.Probe(ctx, script, timeout)
	if err != nil {
		return TableProfile{}, cwerr.New(cwerr.KindProbeFailed, "profile.Live", err)
	}
	return parseProbeJSON(variable, out)
}

// probeTemplate is injected into the target interpreter; it assumes a
// pandas DataFrame bound to %s and summarizes each column without
// relying on any cellwright-side dtype inference.
const probeTemplate = `
import json as __cw_json
def __cw_profile(df):
	cols = []
	for name in df.columns:
		s = df[name]
		col = {"name": name, "dtype": str(s.dtype), "null_count": int(s.isna().sum()),
		       "unique": int(s.nunique(dropna=True))}
		try:
			col["min"] = float(s.min())
			col["max"] = float(s.max())
			col["mean"] = float(s.mean())
		except Exception:
			pass
		col["top_values"] = [str(v) for v in s.value_counts().head(5).index.tolist()]
		cols.append(col)
	return {"row_count": len(df), "columns": cols}
print(__cw_json.dumps(__cw_profile(%s)))
`

type probeColumn struct {
	Name      string   `json:"name"`
	DType     string   `json:"dtype"`
	NullCount int      `json:"null_count"`
	Unique    int      `json:"unique"`
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
	Mean      *float64 `json:"mean"`
	TopValues []string `json:"top_values"`
}

type probeResult struct {
	RowCount int           `json:"row_count"`
	Columns  []probeColumn `json:"columns"`
}

func parseProbeJSON(variable, out string) (TableProfile, error) {
	var pr probeResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &pr); err != nil {
		return TableProfile{}, cwerr.New(cwerr.KindProbeFailed, "profile.parseProbeJSON", err)
	}
	tp := TableProfile{Variable: variable, RowCount: pr.RowCount}
	for _, c := range pr.Columns {
		cp := ColumnProfile{
			Name: c.Name, DType: c.DType, NullCount: c.NullCount, Unique: c.Unique,
			Min: c.Min, Max: c.Max, Mean: c.Mean, TopValues: c.TopValues,
		}
		if pr.RowCount > 0 {
			cp.NullPercent = 100 * float64(c.NullCount) / float64(pr.RowCount)
		}
		tp.Columns = append(tp.Columns, cp)
	}
	tp.MemoryBytes = int64(pr.RowCount) * int64(len(tp.Columns)) * 8
	return tp, nil
}

// DataFrameInfo is one auto-discovered tabular variable, spec.md
// §4.8's "list all DataFrames" mode.
type DataFrameInfo struct {
	Name      string `json:"name"`
	Rows      int    `json:"rows"`
	Columns   int    `json:"columns"`
	MemoryMB  float64 `json:"memory_mb"`
}

const listFramesScript = `
import json as __cw_json
def __cw_list():
	out = []
	for __cw_name, __cw_val in list(globals().items()):
		if __cw_name.startswith("_"):
			continue
		if hasattr(__cw_val, "columns") and hasattr(__cw_val, "shape") and hasattr(__cw_val, "memory_usage"):
			shape = __cw_val.shape
			if len(shape) != 2:
				continue
			mem = float(__cw_val.memory_usage(deep=True).sum()) / (1024 * 1024)
			out.append({"name": __cw_name, "rows": int(shape[0]), "columns": int(shape[1]), "memory_mb": mem})
	return out
print(__cw_json.dumps(__cw_list()))
`

// ListDataFrames probes the live session for every bound variable that
// looks like a DataFrame (has .columns, .shape, .memory_usage).
func ListDataFrames(ctx context.Context, session kernelsession.Session, timeout time.Duration) ([]DataFrameInfo, error) {
	if session == nil {
		return nil, cwerr.New(cwerr.KindProbeFailed, "profile.ListDataFrames", fmt.Errorf("no session"))
	}
	out, err := session.Probe(ctx, listFramesScript, timeout)
	if err != nil {
		return nil, cwerr.New(cwerr.KindProbeFailed, "profile.ListDataFrames", err)
	}
	var infos []DataFrameInfo
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &infos); err != nil {
		return nil, cwerr.New(cwerr.KindProbeFailed, "profile.ListDataFrames", err)
	}
	return infos, nil
}

// Offline profiles a delimited text file directly, for datasets too
// large or inconvenient to load into the running interpreter. Every
// column is read as text; numeric summary stats are computed only for
// columns where every non-empty value parses as a float64.
func Offline(path, variable string, delimiter rune) (TableProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return TableProfile{}, cwerr.New(cwerr.KindNotFound, "profile.Offline", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if delimiter != 0 {
		r.Comma = delimiter
	}
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return TableProfile{}, cwerr.New(cwerr.KindParseFailure, "profile.Offline", err)
	}

	values := make([][]string, len(header))
	rowCount := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return TableProfile{}, cwerr.New(cwerr.KindParseFailure, "profile.Offline", err)
		}
		rowCount++
		for i := range header {
			if i < len(rec) {
				values[i] = append(values[i], rec[i])
			} else {
				values[i] = append(values[i], "")
			}
		}
	}

	tp := TableProfile{Variable: variable, RowCount: rowCount}
	for i, name := range header {
		tp.Columns = append(tp.Columns, summarizeColumn(name, values[i], rowCount))
	}
	// spec.md §4.8: memory estimate is rows × cols × 8 bytes, informational only.
	tp.MemoryBytes = int64(rowCount) * int64(len(header)) * 8
	return tp, nil
}

func summarizeColumn(name string, values []string, rowCount int) ColumnProfile {
	cp := ColumnProfile{Name: name, DType: "string"}
	seen := map[string]int{}
	numeric := make([]float64, 0, len(values))
	allNumeric := true
	for _, v := range values {
		if v == "" {
			cp.NullCount++
			continue
		}
		seen[v]++
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			allNumeric = false
			continue
		}
		numeric = append(numeric, f)
	}
	cp.Unique = len(seen)
	if rowCount > 0 {
		cp.NullPercent = 100 * float64(cp.NullCount) / float64(rowCount)
	}
	if allNumeric && len(numeric) > 0 {
		cp.DType = "float64"
		min, max, sum := numeric[0], numeric[0], 0.0
		for _, f := range numeric {
			min = math.Min(min, f)
			max = math.Max(max, f)
			sum += f
		}
		mean := sum / float64(len(numeric))
		cp.Min, cp.Max, cp.Mean = &min, &max, &mean
	}
	cp.TopValues = topN(seen, 5)
	return cp
}

func topN(counts map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	pairs := make([]kv, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, kv{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].v != pairs[j].v {
			return pairs[i].v > pairs[j].v
		}
		return pairs[i].k < pairs[j].k
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.k
	}
	return out
}
