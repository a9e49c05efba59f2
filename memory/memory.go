// Package memory implements Project Memory: the per-project context
// store, append-only decision log, and profile cache described in
// spec.md §4.9, each tolerant of absence and corruption.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"cellwright/atomicfile"
)

// Approach is a free-form record of a tried path, ProjectContext.Approaches.
type Approach struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"` // "current" or "abandoned"
	Result string `yaml:"result,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

// ProjectContext is spec.md §3's free-form project memory record.
type ProjectContext struct {
	Name        string            `yaml:"name,omitempty"`
	Goal        string            `yaml:"goal,omitempty"`
	Status      string            `yaml:"status,omitempty"`
	Notebook    string            `yaml:"notebook,omitempty"`
	Constraints []string          `yaml:"constraints,omitempty"`
	Approaches  []Approach        `yaml:"approaches,omitempty"`
	DataRefs    map[string]string `yaml:"data_refs,omitempty"`
}

// Scope is a bound memory location: either the project-global metadata
// directory or a per-notebook subdirectory of it. Design Notes §9
// leaves the choice between the two to the caller; cellwright's
// Command Orchestrator chooses in one helper, where a non-empty notebook
// path selects per-notebook scope, superseding global, and an empty one
// selects global.
type Scope struct {
	Dir string
	log *zap.Logger
}

// Global returns the scope rooted directly at metadataDir.
func Global(metadataDir string, log *zap.Logger) Scope {
	return Scope{Dir: metadataDir, log: nopIfNil(log)}
}

// ForNotebook derives the per-notebook subdirectory
// "<metadataDir>/notebooks/<stem>" for notebookPath.
func ForNotebook(metadataDir, notebookPath string, log *zap.Logger) Scope {
	stem := strings.TrimSuffix(filepath.Base(notebookPath), filepath.Ext(notebookPath))
	return Scope{Dir: filepath.Join(metadataDir, "notebooks", stem), log: nopIfNil(log)}
}

func nopIfNil(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

func (s Scope) contextPath() string  { return filepath.Join(s.Dir, "context") }
func (s Scope) logPath() string      { return filepath.Join(s.Dir, "log") }
func (s Scope) profilesDir() string  { return filepath.Join(s.Dir, "profiles") }

// ReadContext loads the ProjectContext, returning an empty one on
// absence or parse failure (with a stderr-routed warning on corruption).
func (s Scope) ReadContext() ProjectContext {
	data, err := atomicfile.ReadOrEmpty(s.contextPath())
	if err != nil || data == nil {
		return ProjectContext{}
	}
	var ctx ProjectContext
	if err := yaml.Unmarshal(data, &ctx); err != nil {
		s.log.Warn("project context file is corrupt, treating as empty",
			zap.String("path", s.contextPath()), zap.Error(err))
		return ProjectContext{}
	}
	return ctx
}

// WriteContext atomically persists ctx, omitting empty fields (the Go
// analogue of the original's None-stripping, expressed via `omitempty`
// struct tags rather than a runtime dict-walk).
func (s Scope) WriteContext(ctx ProjectContext) error {
	data, err := yaml.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("memory: marshal context: %w", err)
	}
	return atomicfile.Write(s.contextPath(), data, 0o644)
}

// UpdateContext applies fn to the current context and writes the result.
func (s Scope) UpdateContext(fn func(*ProjectContext)) error {
	ctx := s.ReadContext()
	fn(&ctx)
	return s.WriteContext(ctx)
}

// DecisionLog is the append-only "<timestamp> [<source>] <message>"
// log described in spec.md §4.9.
type DecisionLog struct {
	scope Scope
}

// Log returns the decision log bound to s.
func (s Scope) Log() DecisionLog { return DecisionLog{scope: s} }

// Append adds one entry, tagged with source (the logging component's
// name), never truncating the existing file.
func (l DecisionLog) Append(source, message string) error {
	line := fmt.Sprintf("%s [%s] %s\n", time.Now().UTC().Format(time.RFC3339), source, message)

	if err := os.MkdirAll(l.scope.Dir, 0o755); err != nil {
		return fmt.Errorf("memory: mkdir: %w", err)
	}
	f, err := os.OpenFile(l.scope.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("memory: open log: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

// Last returns the most recent n lines of the log, or fewer if the log
// is shorter. n <= 0 returns the entire log.
func (l DecisionLog) Last(n int) []string {
	data, err := atomicfile.ReadOrEmpty(l.scope.logPath())
	if err != nil || data == nil {
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}
