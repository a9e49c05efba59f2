package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"cellwright/kernelsession"
	"cellwright/orchestrator"
	"cellwright/profile"
	"cellwright/streamhub"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	switch sub {
	case "-h", "--help", "help":
		usage()
		return
	case "run":
		os.Exit(runCommand(os.Args[2:]))
	case "check":
		os.Exit(checkCommand(os.Args[2:]))
	case "profile":
		os.Exit(profileCommand(os.Args[2:]))
	case "context":
		os.Exit(contextCommand(os.Args[2:]))
	case "replay":
		os.Exit(replayCommand(os.Args[2:]))
	case "cells":
		os.Exit(cellsCommand(os.Args[2:]))
	case "jobs":
		os.Exit(jobsCommand(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", sub)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  cellwright <command> [arguments]\n")
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  run <notebook>           run notebook cells\n")
	fmt.Fprintf(os.Stderr, "  check <notebook>         report state issues and dependencies\n")
	fmt.Fprintf(os.Stderr, "  profile <notebook>       profile a DataFrame-like variable or a CSV file\n")
	fmt.Fprintf(os.Stderr, "  context <notebook>       read or update project memory\n")
	fmt.Fprintf(os.Stderr, "  replay <notebook>        re-execute a notebook and score reproducibility\n")
	fmt.Fprintf(os.Stderr, "  cells add|delete|move    structurally edit a notebook\n")
	fmt.Fprintf(os.Stderr, "  jobs list|cancel         inspect or cancel background jobs\n")
	fmt.Fprintf(os.Stderr, "  help                     show this help message\n")
}

// newOrchestrator builds the Command Orchestrator rooted at a
// ".cellwright" metadata directory alongside the notebook, wiring the
// production ZMQ-backed Interpreter Session. The subcommands that take a
// --metadata-dir flag pass its value here instead; the cells subcommands
// always use the default beside the notebook.
func newOrchestrator(metadataDir string) *orchestrator.Orchestrator {
	log, _ := zap.NewProduction()
	factory := func(interpreterHint string) kernelsession.Session {
		launch := []string{"python3", "-m", "ipykernel_launcher", "-f", "{conn}"}
		return kernelsession.NewZMQSession(launch, log)
	}
	return orchestrator.New(metadataDir, factory, log)
}

func defaultMetadataDir(notebookPath string) string {
	return filepath.Join(filepath.Dir(notebookPath), ".cellwright")
}

// ---- run ----

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cellFlag := fs.Int("cell", -1, "run a single cell by index")
	fromFlag := fs.Int("from", -1, "run cells from this index onward")
	toFlag := fs.Int("to", -1, "run cells up to and including this index")
	allFlag := fs.Bool("all", false, "run every code cell")
	staleFlag := fs.Bool("stale", false, "run only never-executed or stale cells")
	metadataDir := fs.String("metadata-dir", "", "override the .cellwright metadata directory")
	timeoutSec := fs.Int("timeout", 300, "per-cell execution timeout in seconds")
	streamAddr := fs.String("stream", "", "serve live cell output over a loopback websocket at this address (e.g. :7777)")
	fs.Usage = runUsage
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		runUsage()
		return 2
	}
	notebookPath := fs.Arg(0)

	sel := orchestrator.CellSelection{All: *allFlag, Stale: *staleFlag}
	if *cellFlag >= 0 {
		sel.Cell = cellFlag
	}
	if *fromFlag >= 0 {
		sel.From = fromFlag
	}
	if *toFlag >= 0 {
		sel.To = toFlag
	}

	dir := *metadataDir
	if dir == "" {
		dir = defaultMetadataDir(notebookPath)
	}
	o := newOrchestrator(dir)

	if *streamAddr != "" {
		hub := streamhub.New(o.Log)
		o.StreamHub = hub
		go func() {
			if err := hub.ListenAndServe(*streamAddr); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "stream server error: %v\n", err)
			}
		}()
		fmt.Printf("streaming live output at ws://%s/stream\n", *streamAddr)
	}

	result, err := o.Run(context.Background(), notebookPath, sel, time.Duration(*timeoutSec)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run error: %v\n", err)
		return 1
	}

	anyFailed := false
	for _, cr := range result.Cells {
		if cr.Success {
			fmt.Printf("cell %d: ok (%.2fs)\n", cr.Index, cr.WallTimeSeconds)
			if cr.DisplayValue != "" {
				fmt.Println(cr.DisplayValue)
			}
			if len(cr.StaleDownstream) > 0 {
				fmt.Printf("  warning: downstream cells now stale: %v\n", cr.StaleDownstream)
			}
		} else {
			anyFailed = true
			fmt.Fprintf(os.Stderr, "cell %d: FAILED\n", cr.Index)
			if cr.ErrorContext != nil {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", cr.ErrorContext.ErrorKind, cr.ErrorContext.ErrorMessage)
				if cr.ErrorContext.Suggestion != "" {
					fmt.Fprintf(os.Stderr, "  suggestion: %s\n", cr.ErrorContext.Suggestion)
				}
			}
		}
	}
	if anyFailed {
		return 1
	}
	return 0
}

func runUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  cellwright run <notebook> [--cell=N | --all | --from=N | --to=N | --stale] [--timeout=seconds] [--stream=addr]\n")
}

// ---- check ----

func checkCommand(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fixFlag := fs.Bool("fix", false, "replay never-executed or stale cells to repair state")
	metadataDir := fs.String("metadata-dir", "", "override the .cellwright metadata directory")
	timeoutSec := fs.Int("timeout", 300, "per-cell execution timeout in seconds, used with --fix")
	fs.Usage = checkUsage
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		checkUsage()
		return 2
	}
	notebookPath := fs.Arg(0)

	dir := *metadataDir
	if dir == "" {
		dir = defaultMetadataDir(notebookPath)
	}
	o := newOrchestrator(dir)

	if *fixFlag {
		result, err := o.CheckFix(context.Background(), notebookPath, time.Duration(*timeoutSec)*time.Second)
		if err != nil {
			fmt.Fprintf(os.Stderr, "check --fix error: %v\n", err)
			return 1
		}
		fmt.Printf("repaired %d cell(s)\n", len(result.Cells))
		for _, cr := range result.Cells {
			if !cr.Success {
				fmt.Fprintf(os.Stderr, "cell %d still failing after repair\n", cr.Index)
				return 1
			}
		}
		return 0
	}

	result, err := o.Check(notebookPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check error: %v\n", err)
		return 1
	}
	if result.State.Consistent {
		fmt.Println("notebook is consistent")
		return 0
	}
	for _, issue := range result.State.Issues {
		if issue.CellIndex < 0 {
			fmt.Printf("[%s] %s\n", issue.Severity, issue.Message)
		} else {
			fmt.Printf("[%s] cell %d: %s\n", issue.Severity, issue.CellIndex, issue.Message)
		}
	}
	return 1
}

func checkUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  cellwright check <notebook> [--fix] [--timeout=seconds]\n")
}

// ---- profile ----

func profileCommand(args []string) int {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	varFlag := fs.String("var", "", "variable to profile (auto-discovers DataFrames if omitted)")
	csvFlag := fs.String("csv", "", "profile a CSV file directly, without a kernel")
	delimiterFlag := fs.String("delimiter", ",", "field delimiter for --csv")
	metadataDir := fs.String("metadata-dir", "", "override the .cellwright metadata directory")
	timeoutSec := fs.Int("timeout", 60, "probe timeout in seconds")
	fs.Usage = profileUsage
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		profileUsage()
		return 2
	}
	notebookPath := fs.Arg(0)

	dir := *metadataDir
	if dir == "" {
		dir = defaultMetadataDir(notebookPath)
	}
	o := newOrchestrator(dir)
	timeout := time.Duration(*timeoutSec) * time.Second

	if *csvFlag != "" {
		delim := ','
		if len(*delimiterFlag) == 1 {
			delim = rune((*delimiterFlag)[0])
		}
		tp, err := o.ProfileFile(notebookPath, *csvFlag, delim)
		if err != nil {
			fmt.Fprintf(os.Stderr, "profile error: %v\n", err)
			return 1
		}
		printTableProfile(tp)
		return 0
	}

	if *varFlag == "" {
		frames, err := o.ListDataFrames(context.Background(), notebookPath, timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "profile error: %v\n", err)
			return 1
		}
		if len(frames) == 0 {
			fmt.Println("no DataFrame-like variables found")
			return 0
		}
		for _, f := range frames {
			fmt.Printf("%s: %d rows x %d cols (%.2f MB)\n", f.Name, f.Rows, f.Columns, f.MemoryMB)
		}
		return 0
	}

	tp, err := o.ProfileVariable(context.Background(), notebookPath, *varFlag, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "profile error: %v\n", err)
		return 1
	}
	printTableProfile(tp)
	return 0
}

func printTableProfile(tp profile.TableProfile) {
	fmt.Printf("%s: %d rows\n", tp.Variable, tp.RowCount)
	for _, c := range tp.Columns {
		fmt.Printf("  %-20s %-10s null=%.1f%% unique=%d\n", c.Name, c.DType, c.NullPercent, c.Unique)
	}
	for _, issue := range tp.Issues {
		fmt.Printf("  [%s] %s: %s\n", issue.Rule, issue.Column, issue.Message)
	}
}

func profileUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  cellwright profile <notebook> [--var=name] [--csv=file] [--delimiter=,]\n")
}

// ---- context ----

func contextCommand(args []string) int {
	fs := flag.NewFlagSet("context", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	goalFlag := fs.String("goal", "", "set the project goal")
	statusFlag := fs.String("status", "", "set the project status")
	logFlag := fs.String("log", "", "append a decision-log entry")
	logOnlyFlag := fs.Bool("log-only", false, "show only the recent decision log")
	recentFlag := fs.Int("recent", 10, "number of recent log lines to show")
	metadataDir := fs.String("metadata-dir", "", "override the .cellwright metadata directory")
	fs.Usage = contextUsage
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		contextUsage()
		return 2
	}
	notebookPath := fs.Arg(0)

	dir := *metadataDir
	if dir == "" {
		dir = defaultMetadataDir(notebookPath)
	}
	o := newOrchestrator(dir)

	if *goalFlag != "" {
		if err := o.SetGoal(notebookPath, *goalFlag); err != nil {
			fmt.Fprintf(os.Stderr, "context error: %v\n", err)
			return 1
		}
	}
	if *statusFlag != "" {
		if err := o.SetStatus(notebookPath, *statusFlag); err != nil {
			fmt.Fprintf(os.Stderr, "context error: %v\n", err)
			return 1
		}
	}
	if *logFlag != "" {
		if err := o.LogMessage(notebookPath, *logFlag); err != nil {
			fmt.Fprintf(os.Stderr, "context error: %v\n", err)
			return 1
		}
	}

	view := o.Context(notebookPath, *recentFlag)
	if *logOnlyFlag {
		for _, line := range view.Recent {
			fmt.Println(line)
		}
		return 0
	}

	fmt.Printf("name: %s\n", view.Project.Name)
	fmt.Printf("goal: %s\n", view.Project.Goal)
	fmt.Printf("status: %s\n", view.Project.Status)
	if len(view.Profiles) > 0 {
		fmt.Println("cached profiles:")
		for name := range view.Profiles {
			fmt.Printf("  %s\n", name)
		}
	}
	if len(view.Recent) > 0 {
		fmt.Println("recent log:")
		for _, line := range view.Recent {
			fmt.Printf("  %s\n", line)
		}
	}
	return 0
}

func contextUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  cellwright context <notebook> [--goal=text] [--status=text] [--log=text] [--log-only] [--recent=N]\n")
}

// ---- replay ----

func replayCommand(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	metadataDir := fs.String("metadata-dir", "", "override the .cellwright metadata directory")
	timeoutSec := fs.Int("timeout", 300, "per-cell execution timeout in seconds")
	fs.Usage = replayUsage
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		replayUsage()
		return 2
	}
	notebookPath := fs.Arg(0)

	dir := *metadataDir
	if dir == "" {
		dir = defaultMetadataDir(notebookPath)
	}
	o := newOrchestrator(dir)

	report, err := o.Replay(context.Background(), notebookPath, time.Duration(*timeoutSec)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay error: %v\n", err)
		return 1
	}

	fmt.Printf("reproducibility: %.0f%%\n", report.ReproducibilityScore*100)
	allMatched := true
	for _, cr := range report.Cells {
		if !cr.Matched {
			allMatched = false
			fmt.Printf("cell %d: MISMATCH\n", cr.Index)
			if cr.Diff != "" {
				fmt.Println(cr.Diff)
			}
			if cr.Suggestion != "" {
				fmt.Printf("  suggestion: %s\n", cr.Suggestion)
			}
		}
	}
	if !allMatched {
		return 1
	}
	return 0
}

func replayUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  cellwright replay <notebook> [--timeout=seconds]\n")
}

// ---- cells ----

func cellsCommand(args []string) int {
	if len(args) < 1 {
		cellsUsage()
		return 2
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		return cellsAddCommand(rest)
	case "delete":
		return cellsDeleteCommand(rest)
	case "move":
		return cellsMoveCommand(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown cells subcommand: %s\n", sub)
		cellsUsage()
		return 2
	}
}

func cellsUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  cellwright cells add <notebook> <index> <source>\n")
	fmt.Fprintf(os.Stderr, "  cellwright cells delete <notebook> <index>\n")
	fmt.Fprintf(os.Stderr, "  cellwright cells move <notebook> <from> <to>\n")
}

func cellsAddCommand(args []string) int {
	if len(args) != 3 {
		cellsUsage()
		return 2
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid index: %s\n", args[1])
		return 2
	}
	o := newOrchestrator(defaultMetadataDir(args[0]))
	if err := o.CellAdd(args[0], index, args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "cells add error: %v\n", err)
		return 1
	}
	return 0
}

func cellsDeleteCommand(args []string) int {
	if len(args) != 2 {
		cellsUsage()
		return 2
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid index: %s\n", args[1])
		return 2
	}
	o := newOrchestrator(defaultMetadataDir(args[0]))
	if err := o.CellDelete(args[0], index); err != nil {
		fmt.Fprintf(os.Stderr, "cells delete error: %v\n", err)
		return 1
	}
	return 0
}

func cellsMoveCommand(args []string) int {
	if len(args) != 3 {
		cellsUsage()
		return 2
	}
	from, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid index: %s\n", args[1])
		return 2
	}
	to, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid index: %s\n", args[2])
		return 2
	}
	o := newOrchestrator(defaultMetadataDir(args[0]))
	if err := o.CellMove(args[0], from, to); err != nil {
		fmt.Fprintf(os.Stderr, "cells move error: %v\n", err)
		return 1
	}
	return 0
}

// ---- jobs ----

func jobsCommand(args []string) int {
	if len(args) < 1 {
		jobsUsage()
		return 2
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return jobsListCommand(rest)
	case "cancel":
		return jobsCancelCommand(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs subcommand: %s\n", sub)
		jobsUsage()
		return 2
	}
}

func jobsUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  cellwright jobs list [--metadata-dir=dir]\n")
	fmt.Fprintf(os.Stderr, "  cellwright jobs cancel <job-id> [--metadata-dir=dir]\n")
}

func jobsListCommand(args []string) int {
	fs := flag.NewFlagSet("jobs list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	metadataDir := fs.String("metadata-dir", ".cellwright", "metadata directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	o := newOrchestrator(*metadataDir)
	list, err := o.JobList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs list error: %v\n", err)
		return 1
	}
	for _, job := range list {
		fmt.Printf("%s  %-10s  %s  cell %d\n", job.ID, job.Status, job.Notebook, job.Cell)
	}
	return 0
}

func jobsCancelCommand(args []string) int {
	fs := flag.NewFlagSet("jobs cancel", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	metadataDir := fs.String("metadata-dir", ".cellwright", "metadata directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		jobsUsage()
		return 2
	}
	o := newOrchestrator(*metadataDir)
	if err := o.JobCancel(fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "jobs cancel error: %v\n", err)
		return 1
	}
	return 0
}
