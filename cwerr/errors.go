// Package cwerr defines the typed error kinds shared across cellwright's
// components, so callers at the orchestrator boundary can dispatch on
// failure class without parsing error strings.
package cwerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the categories a caller needs
// to branch on.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindIndexOutOfRange  Kind = "index_out_of_range"
	KindReadOnlyNotebook Kind = "read_only_notebook"
	KindParseFailure     Kind = "parse_failure"
	KindKernelStartFailed Kind = "kernel_start_failed"
	KindTimeout          Kind = "timeout"
	KindTransport        Kind = "transport"
	KindProbeFailed      Kind = "probe_failed"
	KindCorruption       Kind = "corruption"
	KindInterrupted      Kind = "interrupted"
)

// Error wraps an underlying error with a Kind so it survives unwrapping.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, ok=false if err isn't a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
