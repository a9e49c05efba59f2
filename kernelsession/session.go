// Package kernelsession implements the Interpreter Session: a managed
// language-interpreter subprocess that accepts code submissions over
// the Jupyter wire protocol and returns results, plus an in-memory fake
// satisfying the same contract for tests (Design Notes §9).
package kernelsession

import (
	"context"
	"time"
)

// State is the Interpreter Session lifecycle state machine (spec §4.5):
// NotStarted -> Ready -> Executing -> Ready -> ... -> Shutdown.
type State string

const (
	StateNotStarted State = "not_started"
	StateReady      State = "ready"
	StateExecuting  State = "executing"
	StateShutdown   State = "shutdown"
)

// ExecutionResult is the outcome of one code submission, spec.md §3.
type ExecutionResult struct {
	Success          bool
	Stdout           string
	Stderr           string
	DisplayValue     string
	ErrorKind        *string
	ErrorMessage     *string
	TracebackFrames  []string
	WallTimeSeconds  float64
}

// StreamChunk is one (stream_name, text) segment yielded by the
// streaming execute variant as it arrives.
type StreamChunk struct {
	Stream string // "stdout", "stderr", or "error"
	Text   string
}

// Session is the capability set every Interpreter Session implementation
// exposes: the production ZMQ-backed session and the in-memory yaegi
// fake used by tests both satisfy it.
type Session interface {
	// Start launches the interpreter and blocks until ready or the 30s
	// readiness timeout elapses.
	Start(ctx context.Context) error

	// Execute submits source and blocks until idle, timeout, or
	// transport failure.
	Execute(ctx context.Context, source string, timeout time.Duration) (ExecutionResult, error)

	// ExecuteStreaming is Execute but also yields stream chunks to onChunk
	// as they arrive.
	ExecuteStreaming(ctx context.Context, source string, timeout time.Duration, onChunk func(StreamChunk)) (ExecutionResult, error)

	// Interrupt delivers an interrupt to a cell currently executing.
	Interrupt() error

	// Restart tears the subprocess down and reinitializes to Ready with
	// empty bindings.
	Restart(ctx context.Context) error

	// Shutdown stops channels and requests process exit. Idempotent;
	// must be safe to call on every exit path.
	Shutdown() error

	// Probe runs a short, self-contained query and returns its raw
	// stdout text, for Error Enrichment and Profile Engine live probes.
	Probe(ctx context.Context, code string, timeout time.Duration) (string, error)

	State() State
}

const (
	// ReadinessTimeout bounds how long Start waits for the subprocess to
	// signal it is ready (spec.md §4.5/§5).
	ReadinessTimeout = 30 * time.Second
	// DefaultExecuteTimeout is the per-submission default (spec.md §5).
	DefaultExecuteTimeout = 300 * time.Second
)
