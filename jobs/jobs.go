// Package jobs implements the Job Registry: a persisted record of
// long-running background cell executions, their process liveness, and
// cancellation, as described in spec.md §4.10.
package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cellwright/atomicfile"
	"cellwright/cwerr"
)

// Status is a Job's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is one tracked background execution, spec.md §3.
type Job struct {
	ID           string     `json:"id"`
	Notebook     string     `json:"notebook"`
	Cell         int        `json:"cell"`
	OSProcessID  int        `json:"os_process_id"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Result       string     `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Registry persists Jobs one file per job under dir, guarding
// liveness checks and status promotion with a mutex the way
// kernelsession guards session state.
type Registry struct {
	dir string
	log *zap.Logger
	mu  sync.Mutex
}

// Open returns a Registry rooted at dir, creating it if absent.
func Open(dir string, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cwerr.New(cwerr.KindCorruption, "jobs.Open", err)
	}
	return &Registry{dir: dir, log: log}, nil
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func (r *Registry) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}

// Create registers a new running Job bound to an already-launched OS
// process and returns it.
func (r *Registry) Create(notebook string, cell, pid int) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := Job{
		ID:          newID(),
		Notebook:    notebook,
		Cell:        cell,
		OSProcessID: pid,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	return job, r.save(job)
}

func (r *Registry) save(job Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("jobs: marshal: %w", err)
	}
	return atomicfile.Write(r.path(job.ID), data, 0o644)
}

// Complete marks a job finished successfully with result.
func (r *Registry) Complete(id, result string) error {
	return r.finish(id, StatusCompleted, result, "")
}

// Fail marks a job finished with an error.
func (r *Registry) Fail(id, errMessage string) error {
	return r.finish(id, StatusFailed, "", errMessage)
}

// Cancel sends SIGINT to the job's OS process and marks it cancelled —
// the supplemented cancellation path SPEC_FULL.md §9 adds to the
// registry's original read-only design.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	job, ok, err := r.load(id)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return cwerr.New(cwerr.KindNotFound, "jobs.Cancel", fmt.Errorf("job %s not found", id))
	}
	if job.Status != StatusRunning {
		return cwerr.New(cwerr.KindTransport, "jobs.Cancel", fmt.Errorf("job %s is not running (status=%s)", id, job.Status))
	}
	if proc, err := os.FindProcess(job.OSProcessID); err == nil {
		_ = proc.Signal(syscall.SIGINT)
	}
	return r.finish(id, StatusCancelled, "", "cancelled by user")
}

func (r *Registry) finish(id string, status Status, result, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok, err := r.load(id)
	if err != nil {
		return err
	}
	if !ok {
		return cwerr.New(cwerr.KindNotFound, "jobs.finish", fmt.Errorf("job %s not found", id))
	}
	now := time.Now().UTC()
	job.Status = status
	job.Result = result
	job.ErrorMessage = errMessage
	job.CompletedAt = &now
	return r.save(job)
}

// Get returns a job by id, promoting it to Failed first if it is
// marked Running but its OS process no longer exists — spec.md §4.10's
// "stale running job" rule.
func (r *Registry) Get(id string) (Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(id)
}

func (r *Registry) load(id string) (Job, bool, error) {
	data, err := atomicfile.ReadOrEmpty(r.path(id))
	if err != nil {
		return Job{}, false, cwerr.New(cwerr.KindCorruption, "jobs.load", err)
	}
	if data == nil {
		return Job{}, false, nil
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		r.log.Warn("job file is corrupt", zap.String("id", id), zap.Error(err))
		return Job{}, false, cwerr.New(cwerr.KindCorruption, "jobs.load", err)
	}
	if job.Status == StatusRunning && !processAlive(job.OSProcessID) {
		job.Status = StatusFailed
		job.ErrorMessage = "process no longer exists"
		now := time.Now().UTC()
		job.CompletedAt = &now
		if err := r.save(job); err != nil {
			return job, true, err
		}
	}
	return job, true, nil
}

// processAlive reports whether pid is a live process, using the
// standard signal-zero liveness probe.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// List returns every job, most recently started first.
func (r *Registry) List() ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, cwerr.New(cwerr.KindCorruption, "jobs.List", err)
	}
	var out []Job
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		job, ok, err := r.load(id)
		if err != nil || !ok {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
