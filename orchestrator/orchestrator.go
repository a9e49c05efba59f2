// Package orchestrator implements the Command Orchestrator: the five
// public operations — Profile, Check, Run, Context, Replay — composed
// from the Notebook Store, Dependency Graph, State Analyzer, Execution
// Journal, Interpreter Session, Error Enrichment, Profile Engine,
// Project Memory, Job Registry, and Replay Engine, grounded on
// original_source/src/dasa/cli/{run,check,profile,context,replay}.py.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"cellwright/cwerr"
	"cellwright/depgraph"
	"cellwright/errctx"
	"cellwright/jobs"
	"cellwright/journal"
	"cellwright/kernelsession"
	"cellwright/memory"
	"cellwright/metrics"
	"cellwright/notebook"
	"cellwright/profile"
	"cellwright/replay"
	"cellwright/state"
	"cellwright/streamhub"
)

// SessionFactory constructs a fresh, not-yet-started Interpreter
// Session for the given notebook's interpreter hint — production code
// wires this to kernelsession.NewZMQSession, tests to
// kernelsession.NewFakeSession.
type SessionFactory func(interpreterHint string) kernelsession.Session

// Orchestrator owns the metadata directory and session factory shared
// across every operation it exposes.
type Orchestrator struct {
	MetadataDir    string
	NewSession     SessionFactory
	Log            *zap.Logger
	DefaultTimeout time.Duration

	// StreamHub, when set, receives every Run invocation's live output
	// via Session.ExecuteStreaming instead of a single post-hoc result,
	// so a `run --stream` flag or a detached job's log tail can watch
	// cell execution as it happens.
	StreamHub *streamhub.Hub
}

// New returns an Orchestrator with sensible defaults filled in.
func New(metadataDir string, newSession SessionFactory, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		MetadataDir:    metadataDir,
		NewSession:     newSession,
		Log:            log,
		DefaultTimeout: kernelsession.DefaultExecuteTimeout,
	}
}

func (o *Orchestrator) journal() *journal.Journal {
	return journal.Open(o.MetadataDir+"/state.json", o.Log)
}

// scope selects Project Memory's scope: a non-empty notebookPath selects
// the per-notebook scope, which supersedes the global one; an empty
// notebookPath selects the global scope.
func (o *Orchestrator) scope(notebookPath string) memory.Scope {
	if notebookPath == "" {
		return memory.Global(o.MetadataDir, o.Log)
	}
	return memory.ForNotebook(o.MetadataDir, notebookPath, o.Log)
}

func (o *Orchestrator) jobs() (*jobs.Registry, error) {
	return jobs.Open(o.MetadataDir+"/jobs", o.Log)
}

// CellSelection names which code cells an operation should target —
// the same four mutually-exclusive selectors original_source/'s
// `_resolve_cells` supports, plus --stale.
type CellSelection struct {
	Cell     *int
	From     *int
	To       *int
	All      bool
	Stale    bool
}

// resolveCells applies the selector in the fixed precedence order
// _resolve_cells uses: --cell, --all, --from, --to, --stale, default-all.
func resolveCells(allCodeIndices []int, sel CellSelection, j *journal.Journal, notebookPath string, nb notebook.Notebook) []int {
	switch {
	case sel.Cell != nil:
		for _, i := range allCodeIndices {
			if i == *sel.Cell {
				return []int{i}
			}
		}
		return nil
	case sel.All:
		return allCodeIndices
	case sel.From != nil:
		var out []int
		for _, i := range allCodeIndices {
			if i >= *sel.From {
				out = append(out, i)
			}
		}
		return out
	case sel.To != nil:
		var out []int
		for _, i := range allCodeIndices {
			if i <= *sel.To {
				out = append(out, i)
			}
		}
		return out
	case sel.Stale:
		var pairs []journal.IndexedSource
		for _, i := range allCodeIndices {
			c, _ := nb.Get(i)
			pairs = append(pairs, journal.IndexedSource{Index: i, Source: c.Source})
		}
		staleSet := map[int]bool{}
		if j != nil {
			for _, i := range j.StaleCells(notebookPath, pairs) {
				staleSet[i] = true
			}
		}
		var out []int
		for _, i := range allCodeIndices {
			c, _ := nb.Get(i)
			if c.ExecutionCounter == nil || staleSet[i] {
				out = append(out, i)
			}
		}
		return out
	default:
		return allCodeIndices
	}
}

func codeIndices(nb notebook.Notebook) []int {
	var out []int
	for i, c := range nb.Cells() {
		if c.Kind == notebook.KindCode {
			out = append(out, i)
		}
	}
	return out
}

// CellRunResult is one cell's outcome from a Run invocation.
type CellRunResult struct {
	Index            int
	Success          bool
	WallTimeSeconds  float64
	Stdout           string
	DisplayValue     string
	ErrorContext     *errctx.Context
	StaleDownstream  []int
}

// RunResult is the full outcome of a Run invocation.
type RunResult struct {
	Notebook string
	Cells    []CellRunResult
}

// Run executes the selected cells against a fresh session, first
// replaying every already-executed cell strictly before the earliest
// target (original_source/run.py's "restore state" step), then
// executing the targets themselves, journaling each success and
// reporting stale downstream cells via the Dependency Graph.
func (o *Orchestrator) Run(ctx context.Context, notebookPath string, sel CellSelection, timeout time.Duration) (RunResult, error) {
	nb, err := notebook.Load(notebookPath)
	if err != nil {
		return RunResult{}, err
	}
	if timeout <= 0 {
		timeout = o.DefaultTimeout
	}

	j := o.journal()
	targets := resolveCells(codeIndices(nb), sel, j, notebookPath, nb)
	result := RunResult{Notebook: notebookPath}
	if len(targets) == 0 {
		return result, nil
	}

	graph := depgraph.Build(nb)
	session := o.NewSession(nb.InterpreterHint())
	if err := session.Start(ctx); err != nil {
		metrics.SessionsStarted.WithLabelValues("session", "failed").Inc()
		return RunResult{}, cwerr.New(cwerr.KindKernelStartFailed, "orchestrator.Run", err)
	}
	metrics.SessionsStarted.WithLabelValues("session", "ready").Inc()
	defer session.Shutdown()

	firstTarget := targets[0]
	for _, i := range codeIndices(nb) {
		if i >= firstTarget {
			break
		}
		c, err := nb.Get(i)
		if err != nil {
			return RunResult{}, err
		}
		if c.ExecutionCounter != nil || j.WasExecutedCurrent(notebookPath, i, c.Source) {
			if _, err := session.Execute(ctx, c.Source, timeout); err != nil {
				o.Log.Warn("replay-before-target failed", zap.Int("cell", i), zap.Error(err))
			}
		}
	}

	cache := o.scope(notebookPath).Profiles()
	log := o.scope(notebookPath).Log()
	for _, i := range targets {
		c, err := nb.Get(i)
		if err != nil {
			return RunResult{}, err
		}
		var exec kernelsession.ExecutionResult
		var execErr error
		if o.StreamHub != nil {
			exec, execErr = session.ExecuteStreaming(ctx, c.Source, timeout, o.StreamHub.OnChunk(i))
		} else {
			exec, execErr = session.Execute(ctx, c.Source, timeout)
		}
		metrics.CellExecutionDuration.Observe(exec.WallTimeSeconds)

		cr := CellRunResult{
			Index:           i,
			Success:         exec.Success,
			WallTimeSeconds: exec.WallTimeSeconds,
			Stdout:          exec.Stdout,
			DisplayValue:    exec.DisplayValue,
		}

		if exec.Success {
			metrics.CellExecutions.WithLabelValues("success").Inc()
			if err := j.Update(notebookPath, i, c.Source); err != nil {
				return RunResult{}, err
			}
			cr.StaleDownstream = graph.Downstream(i)
			_ = log.Append("run", fmt.Sprintf("cell %d executed (success, %.1fs)", i, exec.WallTimeSeconds))
		} else {
			metrics.CellExecutions.WithLabelValues("error").Inc()
			kind, msg := "", ""
			if exec.ErrorKind != nil {
				kind = *exec.ErrorKind
			}
			if exec.ErrorMessage != nil {
				msg = *exec.ErrorMessage
			}
			ec := errctx.Build(ctx, kind, msg, c.Source, exec.TracebackFrames, session, &cache)
			cr.ErrorContext = &ec
			_ = log.Append("run", fmt.Sprintf("cell %d failed: %s: %s", i, kind, msg))
			if execErr != nil && kind == "" {
				return RunResult{}, execErr
			}
		}

		result.Cells = append(result.Cells, cr)
	}

	return result, nil
}

// Check runs the State Analyzer and Dependency Graph together, per
// original_source/check.py, without --fix.
type CheckResult struct {
	Notebook string
	State    state.Report
	Graph    *depgraph.Graph
}

func (o *Orchestrator) Check(notebookPath string) (CheckResult, error) {
	nb, err := notebook.Load(notebookPath)
	if err != nil {
		return CheckResult{}, err
	}
	j := o.journal()
	report := state.Analyze(nb, j, notebookPath)
	graph := depgraph.Build(nb)

	log := o.scope(notebookPath).Log()
	if len(report.Issues) > 0 {
		_ = log.Append("check", fmt.Sprintf("found %d issues in %s", len(report.Issues), notebookPath))
	} else {
		_ = log.Append("check", fmt.Sprintf("%s is consistent", notebookPath))
	}

	return CheckResult{Notebook: notebookPath, State: report, Graph: graph}, nil
}

// CheckFix auto-fixes a notebook by re-running every never-executed or
// stale cell, mirroring original_source/check.py's `_auto_fix`.
func (o *Orchestrator) CheckFix(ctx context.Context, notebookPath string, timeout time.Duration) (RunResult, error) {
	checkResult, err := o.Check(notebookPath)
	if err != nil {
		return RunResult{}, err
	}
	var toFix []int
	for _, issue := range checkResult.State.Issues {
		if issue.CellIndex < 0 {
			continue
		}
		if issue.Message == "never executed" || issue.Message == "stale — code modified since last run" {
			toFix = append(toFix, issue.CellIndex)
		}
	}
	if len(toFix) == 0 {
		return RunResult{Notebook: notebookPath}, nil
	}
	sel := CellSelection{}
	result := RunResult{Notebook: notebookPath}
	for _, i := range toFix {
		target := i
		sel.Cell = &target
		r, err := o.Run(ctx, notebookPath, sel, timeout)
		if err != nil {
			return RunResult{}, err
		}
		result.Cells = append(result.Cells, r.Cells...)
	}
	return result, nil
}

// Replay re-executes the whole notebook in a fresh session and scores
// reproducibility, per original_source/replay.py.
func (o *Orchestrator) Replay(ctx context.Context, notebookPath string, timeout time.Duration) (replay.Report, error) {
	nb, err := notebook.Load(notebookPath)
	if err != nil {
		return replay.Report{}, err
	}
	if timeout <= 0 {
		timeout = o.DefaultTimeout
	}
	session := o.NewSession(nb.InterpreterHint())
	if err := session.Start(ctx); err != nil {
		return replay.Report{}, cwerr.New(cwerr.KindKernelStartFailed, "orchestrator.Replay", err)
	}
	defer session.Shutdown()

	report, err := replay.Run(ctx, session, nb, timeout)
	if err != nil {
		return replay.Report{}, err
	}
	metrics.ReplayScore.Observe(report.ReproducibilityScore)

	log := o.scope(notebookPath).Log()
	_ = log.Append("replay", fmt.Sprintf("replayed %s, reproducibility %.0f%%",
		notebookPath, report.ReproducibilityScore*100))
	return report, nil
}

// ProfileVariable profiles one named variable live in the notebook's
// kernel, per original_source/profile.py; ProfileFile profiles a CSV
// file directly and ListDataFrames lists the auto-discovered DataFrames.
func (o *Orchestrator) ProfileVariable(ctx context.Context, notebookPath, variable string, timeout time.Duration) (profile.TableProfile, error) {
	nb, err := notebook.Load(notebookPath)
	if err != nil {
		return profile.TableProfile{}, err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	j := o.journal()
	session := o.NewSession(nb.InterpreterHint())
	if err := session.Start(ctx); err != nil {
		return profile.TableProfile{}, cwerr.New(cwerr.KindKernelStartFailed, "orchestrator.ProfileVariable", err)
	}
	defer session.Shutdown()

	for _, i := range codeIndices(nb) {
		c, _ := nb.Get(i)
		if c.ExecutionCounter != nil || j.WasExecutedCurrent(notebookPath, i, c.Source) {
			if _, err := session.Execute(ctx, c.Source, timeout); err != nil {
				o.Log.Warn("replay during profile failed", zap.Int("cell", i), zap.Error(err))
			}
		}
	}

	tp, err := profile.Live(ctx, session, variable, timeout)
	if err != nil {
		return profile.TableProfile{}, err
	}
	if err := profile.ApplyRules(&tp, profile.DefaultRules); err != nil {
		return profile.TableProfile{}, err
	}

	cache := o.scope(notebookPath).Profiles()
	if err := cache.Save(tp); err != nil {
		return profile.TableProfile{}, err
	}
	_ = o.scope(notebookPath).Log().Append("profile",
		fmt.Sprintf("profiled %s. %d rows x %d cols", variable, tp.RowCount, len(tp.Columns)))

	return tp, nil
}

// ProfileFile profiles a CSV/delimited file directly, with no session.
func (o *Orchestrator) ProfileFile(notebookPath, file string, delimiter rune) (profile.TableProfile, error) {
	variable := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	tp, err := profile.Offline(file, variable, delimiter)
	if err != nil {
		return profile.TableProfile{}, err
	}
	if err := profile.ApplyRules(&tp, profile.DefaultRules); err != nil {
		return profile.TableProfile{}, err
	}
	cache := o.scope(notebookPath).Profiles()
	if err := cache.Save(tp); err != nil {
		return profile.TableProfile{}, err
	}
	_ = o.scope(notebookPath).Log().Append("profile",
		fmt.Sprintf("profiled CSV %s. %d rows x %d cols", file, tp.RowCount, len(tp.Columns)))
	return tp, nil
}

// ListDataFrames auto-discovers DataFrame-shaped variables bound in
// the notebook's kernel after replaying prior executions.
func (o *Orchestrator) ListDataFrames(ctx context.Context, notebookPath string, timeout time.Duration) ([]profile.DataFrameInfo, error) {
	nb, err := notebook.Load(notebookPath)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	j := o.journal()
	session := o.NewSession(nb.InterpreterHint())
	if err := session.Start(ctx); err != nil {
		return nil, cwerr.New(cwerr.KindKernelStartFailed, "orchestrator.ListDataFrames", err)
	}
	defer session.Shutdown()

	for _, i := range codeIndices(nb) {
		c, _ := nb.Get(i)
		if c.ExecutionCounter != nil || j.WasExecutedCurrent(notebookPath, i, c.Source) {
			_, _ = session.Execute(ctx, c.Source, timeout)
		}
	}
	return profile.ListDataFrames(ctx, session, timeout)
}

// ContextView is the read-side composite original_source/context.py
// assembles: project context, cached profiles, and recent log entries.
type ContextView struct {
	Project  memory.ProjectContext
	Profiles map[string]profile.TableProfile
	Recent   []string
}

// Context reads the full project memory view for notebookPath.
func (o *Orchestrator) Context(notebookPath string, recentN int) ContextView {
	scope := o.scope(notebookPath)
	view := ContextView{Project: scope.ReadContext(), Profiles: map[string]profile.TableProfile{}}
	for _, name := range scope.Profiles().List() {
		if tp, ok := scope.Profiles().Load(name); ok {
			view.Profiles[name] = tp
		}
	}
	view.Recent = scope.Log().Last(recentN)
	return view
}

// SetGoal, SetStatus, SetName update project context fields and log
// the change under source "user", matching context.py's write path.
func (o *Orchestrator) SetGoal(notebookPath, goal string) error {
	scope := o.scope(notebookPath)
	if err := scope.UpdateContext(func(c *memory.ProjectContext) { c.Goal = goal }); err != nil {
		return err
	}
	return scope.Log().Append("user", fmt.Sprintf("goal: %s", goal))
}

func (o *Orchestrator) SetStatus(notebookPath, status string) error {
	scope := o.scope(notebookPath)
	if err := scope.UpdateContext(func(c *memory.ProjectContext) { c.Status = status }); err != nil {
		return err
	}
	return scope.Log().Append("user", fmt.Sprintf("status: %s", status))
}

func (o *Orchestrator) SetName(notebookPath, name string) error {
	return o.scope(notebookPath).UpdateContext(func(c *memory.ProjectContext) { c.Name = name })
}

// LogMessage appends an agent-sourced decision log entry.
func (o *Orchestrator) LogMessage(notebookPath, message string) error {
	return o.scope(notebookPath).Log().Append("agent", message)
}

// CellAdd, CellDelete, CellMove are the supplemented cell-CRUD
// operations SPEC_FULL.md §9 adds atop the Notebook Store's mutation
// methods, saving the notebook after each structural change.
func (o *Orchestrator) CellAdd(notebookPath string, index int, source string) error {
	nb, err := notebook.Load(notebookPath)
	if err != nil {
		return err
	}
	if err := nb.Insert(index, notebook.Cell{Kind: notebook.KindCode, Source: source}); err != nil {
		return err
	}
	return nb.Save(notebookPath)
}

func (o *Orchestrator) CellDelete(notebookPath string, index int) error {
	nb, err := notebook.Load(notebookPath)
	if err != nil {
		return err
	}
	if err := nb.Delete(index); err != nil {
		return err
	}
	return nb.Save(notebookPath)
}

func (o *Orchestrator) CellMove(notebookPath string, from, to int) error {
	nb, err := notebook.Load(notebookPath)
	if err != nil {
		return err
	}
	if err := nb.Move(from, to); err != nil {
		return err
	}
	return nb.Save(notebookPath)
}

// JobCancel cancels a background job by id.
func (o *Orchestrator) JobCancel(id string) error {
	reg, err := o.jobs()
	if err != nil {
		return err
	}
	return reg.Cancel(id)
}

// JobList returns every tracked background job.
func (o *Orchestrator) JobList() ([]jobs.Job, error) {
	reg, err := o.jobs()
	if err != nil {
		return nil, err
	}
	return reg.List()
}
