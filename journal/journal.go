// Package journal implements the Execution Journal: cellwright's own
// side-channel record of what it executed, independent of the notebook
// host's execution counters, used to cross-check cell staleness.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"cellwright/atomicfile"
)

// Entry records the last known-run hash of one cell's source.
type Entry struct {
	CodeHash  string    `json:"hash"`
	LastRunUTC time.Time `json:"last_run"`
}

type notebookEntries struct {
	Cells map[string]Entry `json:"cells"`
}

// Journal is the on-disk state.json store, keyed by canonicalized
// absolute notebook path.
type Journal struct {
	path   string
	log    *zap.Logger
	byPath map[string]notebookEntries
}

// Open loads the journal at path (typically "<metadata-dir>/state.json").
// A missing or corrupt file is tolerated: Open returns an empty Journal
// and, for corruption, logs a single warning — never an error.
func Open(path string, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	j := &Journal{path: path, log: log, byPath: map[string]notebookEntries{}}

	data, err := atomicfile.ReadOrEmpty(path)
	if err != nil || data == nil {
		return j
	}
	if err := json.Unmarshal(data, &j.byPath); err != nil {
		log.Warn("journal file is corrupt, treating as empty", zap.String("path", path), zap.Error(err))
		j.byPath = map[string]notebookEntries{}
	}
	return j
}

// canonical resolves path to its absolute form so "./nb.ipynb" and
// "nb.ipynb" map to the same journal key.
func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func hashOf(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:12]
}

// Update records that index was last run with source, at the current
// time.
func (j *Journal) Update(notebookPath string, index int, source string) error {
	key := canonical(notebookPath)
	nb, ok := j.byPath[key]
	if !ok {
		nb = notebookEntries{Cells: map[string]Entry{}}
	}
	nb.Cells[fmt.Sprint(index)] = Entry{CodeHash: hashOf(source), LastRunUTC: time.Now().UTC()}
	j.byPath[key] = nb
	return j.save()
}

// IsStale reports whether index has no journal entry, or its recorded
// hash no longer matches source.
func (j *Journal) IsStale(notebookPath string, index int, source string) bool {
	entry, ok := j.entry(notebookPath, index)
	if !ok {
		return true
	}
	return entry.CodeHash != hashOf(source)
}

// WasExecuted reports whether an entry exists for index, regardless of
// whether its hash still matches.
func (j *Journal) WasExecuted(notebookPath string, index int) bool {
	_, ok := j.entry(notebookPath, index)
	return ok
}

// WasExecutedCurrent is WasExecuted && !IsStale.
func (j *Journal) WasExecutedCurrent(notebookPath string, index int, source string) bool {
	return j.WasExecuted(notebookPath, index) && !j.IsStale(notebookPath, index, source)
}

// StaleCells returns the indices among cells whose source is stale.
// cells is a slice of (index, source) pairs.
func (j *Journal) StaleCells(notebookPath string, cells []IndexedSource) []int {
	var stale []int
	for _, c := range cells {
		if j.IsStale(notebookPath, c.Index, c.Source) {
			stale = append(stale, c.Index)
		}
	}
	return stale
}

// IndexedSource pairs a cell index with its current source text.
type IndexedSource struct {
	Index  int
	Source string
}

func (j *Journal) entry(notebookPath string, index int) (Entry, bool) {
	nb, ok := j.byPath[canonical(notebookPath)]
	if !ok {
		return Entry{}, false
	}
	e, ok := nb.Cells[fmt.Sprint(index)]
	return e, ok
}

func (j *Journal) save() error {
	data, err := json.MarshalIndent(j.byPath, "", " ")
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	if j.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("journal: mkdir: %w", err)
	}
	return atomicfile.Write(j.path, data, 0o644)
}
