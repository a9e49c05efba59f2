package kernelsession

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"cellwright/cwerr"
)

// FakeSession is the in-memory Interpreter Session double Design Notes
// §9 calls for: it satisfies the full Session contract without a
// subprocess, using an embedded yaegi interpreter to give each
// submission real evaluation semantics (rather than a canned response)
// while keeping tests hermetic and fast.
//
// Submissions are plain Go source, not Python — FakeSession stands in
// for "some interpreter with the session state machine's shape", which
// is what the lifecycle and transport tests actually exercise.
type FakeSession struct {
	mu    sync.Mutex
	state State
	vm    *interp.Interpreter

	interruptedCh chan struct{}
}

// NewFakeSession builds a FakeSession in the NotStarted state.
func NewFakeSession() *FakeSession {
	return &FakeSession{state: StateNotStarted}
}

func (s *FakeSession) newVM() *interp.Interpreter {
	vm := interp.New(interp.Options{})
	_ = vm.Use(stdlib.Symbols)
	return vm
}

func (s *FakeSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotStarted {
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.FakeSession.Start",
			fmt.Errorf("already started"))
	}
	s.vm = s.newVM()
	s.interruptedCh = make(chan struct{}, 1)
	s.state = StateReady
	return nil
}

func (s *FakeSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *FakeSession) Execute(ctx context.Context, source string, timeout time.Duration) (ExecutionResult, error) {
	return s.execute(ctx, source, timeout, nil)
}

func (s *FakeSession) ExecuteStreaming(ctx context.Context, source string, timeout time.Duration, onChunk func(StreamChunk)) (ExecutionResult, error) {
	return s.execute(ctx, source, timeout, onChunk)
}

func (s *FakeSession) execute(ctx context.Context, source string, timeout time.Duration, onChunk func(StreamChunk)) (ExecutionResult, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ExecutionResult{}, cwerr.New(cwerr.KindTransport, "kernelsession.FakeSession.Execute",
			fmt.Errorf("session not ready (state=%s)", s.state))
	}
	s.state = StateExecuting
	vm := s.vm
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.state = StateReady
		s.mu.Unlock()
	}()

	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}

	start := time.Now()
	done := make(chan ExecutionResult, 1)

	go func() {
		var stdout bytes.Buffer
		val, err := vm.Eval(source)
		res := ExecutionResult{Success: err == nil, Stdout: stdout.String()}
		if err != nil {
			res.Success = false
			kind := "RuntimeError"
			msg := err.Error()
			res.ErrorKind = &kind
			res.ErrorMessage = &msg
			res.TracebackFrames = []string{msg}
			if onChunk != nil {
				onChunk(StreamChunk{Stream: "error", Text: msg})
			}
		} else if val.IsValid() && val.CanInterface() {
			res.DisplayValue = fmt.Sprintf("%v", val.Interface())
		}
		done <- res
	}()

	select {
	case res := <-done:
		res.WallTimeSeconds = time.Since(start).Seconds()
		return res, nil
	case <-time.After(timeout):
		kind := "Timeout"
		msg := fmt.Sprintf("execution exceeded %s", timeout)
		return ExecutionResult{
			Success:         false,
			ErrorKind:       &kind,
			ErrorMessage:    &msg,
			WallTimeSeconds: time.Since(start).Seconds(),
		}, cwerr.New(cwerr.KindTimeout, "kernelsession.FakeSession.Execute", fmt.Errorf("%s", msg))
	case <-s.interruptedCh:
		kind := "Interrupted"
		return ExecutionResult{
			Success:         false,
			ErrorKind:       &kind,
			WallTimeSeconds: time.Since(start).Seconds(),
		}, cwerr.New(cwerr.KindInterrupted, "kernelsession.FakeSession.Execute", fmt.Errorf("interrupted"))
	case <-ctx.Done():
		return ExecutionResult{Success: false, WallTimeSeconds: time.Since(start).Seconds()},
			cwerr.New(cwerr.KindInterrupted, "kernelsession.FakeSession.Execute", ctx.Err())
	}
}

func (s *FakeSession) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateExecuting {
		return cwerr.New(cwerr.KindTransport, "kernelsession.FakeSession.Interrupt",
			fmt.Errorf("nothing executing"))
	}
	select {
	case s.interruptedCh <- struct{}{}:
	default:
	}
	return nil
}

func (s *FakeSession) Restart(ctx context.Context) error {
	s.mu.Lock()
	s.vm = s.newVM()
	s.state = StateReady
	s.mu.Unlock()
	return nil
}

func (s *FakeSession) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateShutdown
	s.vm = nil
	return nil
}

// Probe runs code and returns its display value as text, standing in
// for the subprocess probe's stdout in tests.
func (s *FakeSession) Probe(ctx context.Context, code string, timeout time.Duration) (string, error) {
	res, err := s.Execute(ctx, code, timeout)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", cwerr.New(cwerr.KindProbeFailed, "kernelsession.FakeSession.Probe",
			fmt.Errorf("probe failed"))
	}
	if res.DisplayValue != "" {
		return res.DisplayValue, nil
	}
	return res.Stdout, nil
}
