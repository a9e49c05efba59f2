// Package errctx implements Error Enrichment: augmenting a failed
// ExecutionResult with line context, available-column/variable probes,
// and fuzzy-matched suggestions.
package errctx

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cellwright/kernelsession"
	"cellwright/memory"
)

// LineInfo anchors an error to a specific source line.
type LineInfo struct {
	LineNumber int
	Content    string
}

// Context is the enriched view of a failed execution, spec.md §4.6.
type Context struct {
	ErrorKind           string
	ErrorMessage        string
	ErrorLine           *LineInfo
	AvailableColumns    []string
	AvailableVariables  []string
	Suggestion          string
}

var lineRef = regexp.MustCompile(`line (\d+)`)
var subscriptRef = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\[`)

// Build produces a Context from a failed result. session and cache may
// be nil, in which case the corresponding probes are skipped — Error
// Enrichment is explicitly best-effort (spec.md §4.6).
func Build(ctx context.Context, errorKind, errorMessage, source string, traceback []string, session kernelsession.Session, cache *memory.ProfileCache) Context {
	ec := Context{ErrorKind: errorKind, ErrorMessage: errorMessage}

	ec.ErrorLine = extractErrorLine(traceback, source)

	switch errorKind {
	case "KeyError":
		key := extractKeyErrorKey(errorMessage)
		columns := availableColumns(ctx, source, cache, session)
		if len(columns) > 0 {
			ec.AvailableColumns = columns
			if key != "" {
				if suggestion, ok := fuzzyMatch(key, columns); ok {
					ec.Suggestion = suggestion
				}
			}
		}
	case "NameError":
		name := extractNameErrorName(errorMessage)
		vars := availableVariables(ctx, session)
		if len(vars) > 0 {
			ec.AvailableVariables = vars
			if name != "" {
				if suggestion, ok := fuzzyMatch(name, vars); ok {
					ec.Suggestion = suggestion
				}
			}
		}
	case "ModuleNotFoundError":
		module := extractModuleName(errorMessage)
		if module != "" {
			ec.Suggestion = fmt.Sprintf("install the missing module: pip install %s", module)
		}
	case "TypeError", "ValueError", "AttributeError":
		ec.Suggestion = "check variable types and values"
	}

	return ec
}

// extractErrorLine scans the traceback backward for the last
// recognizable "line N" marker and, if in range, returns that source
// line's content.
func extractErrorLine(traceback []string, source string) *LineInfo {
	lines := strings.Split(source, "\n")
	for i := len(traceback) - 1; i >= 0; i-- {
		m := lineRef.FindStringSubmatch(traceback[i])
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(lines) {
			continue
		}
		return &LineInfo{LineNumber: n, Content: strings.TrimSpace(lines[n-1])}
	}
	return nil
}

func extractKeyErrorKey(msg string) string {
	return strings.Trim(strings.TrimSpace(msg), "'\"")
}

func extractNameErrorName(msg string) string {
	// Typical form: "name 'x' is not defined"
	start := strings.Index(msg, "'")
	if start == -1 {
		return ""
	}
	end := strings.Index(msg[start+1:], "'")
	if end == -1 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

func extractModuleName(msg string) string {
	// Typical form: "No module named 'pandas'"
	start := strings.Index(msg, "'")
	if start == -1 {
		return ""
	}
	end := strings.Index(msg[start+1:], "'")
	if end == -1 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

// availableColumns first consults the profile cache for each candidate
// subscripted-name in source, then falls back to a live probe.
func availableColumns(ctx context.Context, source string, cache *memory.ProfileCache, session kernelsession.Session) []string {
	names := subscriptedNames(source)

	if cache != nil {
		for _, name := range names {
			if profile, ok := cache.Load(name); ok {
				cols := make([]string, len(profile.Columns))
				for i, c := range profile.Columns {
					cols[i] = c.Name
				}
				if len(cols) > 0 {
					return cols
				}
			}
		}
	}

	if session == nil {
		return nil
	}
	for _, name := range names {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		out, err := session.Probe(probeCtx, fmt.Sprintf(
			`import json as __cw_json; print(__cw_json.dumps(list(%s.columns)))`, name), 5*time.Second)
		cancel()
		if err != nil {
			continue
		}
		var cols []string
		if json.Unmarshal([]byte(strings.TrimSpace(out)), &cols) == nil && len(cols) > 0 {
			return cols
		}
	}
	return nil
}

func subscriptedNames(source string) []string {
	matches := subscriptRef.FindAllStringSubmatch(source, -1)
	seen := map[string]struct{}{}
	var names []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// availableVariables probes the live interpreter for the user-visible
// identifier list.
func availableVariables(ctx context.Context, session kernelsession.Session) []string {
	if session == nil {
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := session.Probe(probeCtx,
		`import json as __cw_json; print(__cw_json.dumps([k for k in dir() if not k.startswith("_")]))`,
		5*time.Second)
	if err != nil {
		return nil
	}
	var names []string
	if json.Unmarshal([]byte(strings.TrimSpace(out)), &names) != nil {
		return nil
	}
	return names
}
