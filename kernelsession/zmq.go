package kernelsession

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"cellwright/atomicfile"
	"cellwright/cwerr"
)

// ZMQSession is the production Interpreter Session: it launches a
// Jupyter-protocol kernel subprocess and talks to it as a client over
// ZeroMQ, the inverse of this toolkit's teacher's own kernel-hosting
// code (kernel.NewKernel / k.Start in the retrieval pack), which
// implements the server half of the same wire protocol.
type ZMQSession struct {
	launch []string // subprocess argv template; "{conn}" is replaced with the connection file path

	log *zap.Logger

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	connFile string
	info    connectionInfo

	shell zmq4.Socket
	iopub zmq4.Socket
	control zmq4.Socket

	pending *xsync.MapOf[string, chan *wireMessage]
	session string

	stopIOPub chan struct{}
}

// NewZMQSession builds a session that will launch the given command
// (e.g. []string{"python3", "-m", "ipykernel_launcher", "-f", "{conn}"})
// to host the interpreter.
func NewZMQSession(launch []string, log *zap.Logger) *ZMQSession {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZMQSession{
		launch:  launch,
		log:     log,
		state:   StateNotStarted,
		pending: xsync.NewMapOf[string, chan *wireMessage](),
		session: fmt.Sprintf("cellwright-%d", rand.Int63()),
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (s *ZMQSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNotStarted {
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start",
			fmt.Errorf("session already started"))
	}

	ports := make([]int, 5)
	for i := range ports {
		p, err := freePort()
		if err != nil {
			return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start", err)
		}
		ports[i] = p
	}

	key := fmt.Sprintf("%x", rand.Int63())
	s.info = connectionInfo{
		SignatureScheme: "hmac-sha256",
		Transport:       "tcp",
		IP:              "127.0.0.1",
		Key:             key,
		ShellPort:       ports[0],
		IOPubPort:       ports[1],
		StdinPort:       ports[2],
		ControlPort:     ports[3],
		HBPort:          ports[4],
	}

	connFile, err := os.CreateTemp("", "cellwright-conn-*.json")
	if err != nil {
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start", err)
	}
	connFile.Close()
	s.connFile = connFile.Name()

	data, _ := json.Marshal(s.info)
	if err := atomicfile.Write(s.connFile, data, 0o600); err != nil {
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start", err)
	}

	argv := make([]string, len(s.launch))
	for i, a := range s.launch {
		if a == "{conn}" {
			a = s.connFile
		}
		argv[i] = a
	}
	if len(argv) == 0 {
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start",
			fmt.Errorf("no launch command configured"))
	}

	s.cmd = exec.CommandContext(context.Background(), argv[0], argv[1:]...)
	s.cmd.Stdout = nil
	s.cmd.Stderr = nil
	if err := s.cmd.Start(); err != nil {
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start", err)
	}

	addr := func(port int) string {
		return fmt.Sprintf("tcp://127.0.0.1:" + strconv.Itoa(port))
	}

	zctx := context.Background()
	s.shell = zmq4.NewDealer(zctx)
	if err := s.shell.Dial(addr(s.info.ShellPort)); err != nil {
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start", err)
	}
	s.control = zmq4.NewDealer(zctx)
	if err := s.control.Dial(addr(s.info.ControlPort)); err != nil {
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start", err)
	}
	s.iopub = zmq4.NewSub(zctx)
	if err := s.iopub.Dial(addr(s.info.IOPubPort)); err != nil {
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start", err)
	}
	_ = s.iopub.SetOption(zmq4.OptionSubscribe, "")

	s.stopIOPub = make(chan struct{})
	go s.pumpIOPub()

	ready := make(chan error, 1)
	go func() { ready <- s.awaitReady() }()

	select {
	case err := <-ready:
		if err != nil {
			return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start", err)
		}
	case <-time.After(ReadinessTimeout):
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start",
			fmt.Errorf("kernel did not become ready within %s", ReadinessTimeout))
	case <-ctx.Done():
		return cwerr.New(cwerr.KindKernelStartFailed, "kernelsession.Start", ctx.Err())
	}

	s.state = StateReady
	return nil
}

// awaitReady sends a kernel_info_request on shell and waits for its
// reply, the conventional Jupyter readiness probe.
func (s *ZMQSession) awaitReady() error {
	msg := &wireMessage{
		Header:   newHeader(s.session, "kernel_info_request"),
		Content:  map[string]interface{}{},
		Metadata: map[string]interface{}{},
	}
	frames, err := encodeFrames(msg, s.info.Key)
	if err != nil {
		return err
	}
	if err := s.shell.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		return err
	}

	ch := make(chan *wireMessage, 1)
	s.pending.Store(msg.Header.MsgID, ch)
	defer s.pending.Delete(msg.Header.MsgID)

	for {
		z, err := s.shell.Recv()
		if err != nil {
			return err
		}
		reply, err := decodeFrames(z.Frames)
		if err != nil {
			continue
		}
		if reply.ParentHeader.MsgID == msg.Header.MsgID {
			return nil
		}
	}
}

// pumpIOPub continuously reads iopub and routes messages to the pending
// channel matching their parent_header msg_id.
func (s *ZMQSession) pumpIOPub() {
	for {
		select {
		case <-s.stopIOPub:
			return
		default:
		}
		z, err := s.iopub.Recv()
		if err != nil {
			return
		}
		msg, err := decodeFrames(z.Frames)
		if err != nil {
			continue
		}
		if ch, ok := s.pending.Load(msg.ParentHeader.MsgID); ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

func (s *ZMQSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ZMQSession) Execute(ctx context.Context, source string, timeout time.Duration) (ExecutionResult, error) {
	return s.execute(ctx, source, timeout, nil)
}

func (s *ZMQSession) ExecuteStreaming(ctx context.Context, source string, timeout time.Duration, onChunk func(StreamChunk)) (ExecutionResult, error) {
	return s.execute(ctx, source, timeout, onChunk)
}

func (s *ZMQSession) execute(ctx context.Context, source string, timeout time.Duration, onChunk func(StreamChunk)) (ExecutionResult, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ExecutionResult{}, cwerr.New(cwerr.KindTransport, "kernelsession.Execute",
			fmt.Errorf("session not ready (state=%s)", s.state))
	}
	s.state = StateExecuting
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
	msg := &wireMessage{
		Header: newHeader(s.session, "execute_request"),
		Content: map[string]interface{}{
			"code":   source,
			"silent": false,
		},
		Metadata: map[string]interface{}{},
	}
	frames, err := encodeFrames(msg, s.info.Key)
	if err != nil {
		return ExecutionResult{}, cwerr.New(cwerr.KindTransport, "kernelsession.Execute", err)
	}

	msgs := make(chan *wireMessage, 64)
	s.pending.Store(msg.Header.MsgID, msgs)
	defer s.pending.Delete(msg.Header.MsgID)

	if err := s.shell.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		return ExecutionResult{}, cwerr.New(cwerr.KindTransport, "kernelsession.Execute", err)
	}

	result := ExecutionResult{Success: true}
	deadline := time.After(timeout)

	for {
		select {
		case m := <-msgs:
			done := s.accumulate(m, &result, onChunk)
			if done {
				result.WallTimeSeconds = time.Since(start).Seconds()
				return result, nil
			}
		case <-deadline:
			kind := "Timeout"
			result.Success = false
			result.ErrorKind = &kind
			msgText := fmt.Sprintf("execution exceeded %s", timeout)
			result.ErrorMessage = &msgText
			result.WallTimeSeconds = time.Since(start).Seconds()
			return result, cwerr.New(cwerr.KindTimeout, "kernelsession.Execute", fmt.Errorf("%s", msgText))
		case <-ctx.Done():
			_ = s.Interrupt()
			kind := "Interrupted"
			result.Success = false
			result.ErrorKind = &kind
			result.WallTimeSeconds = time.Since(start).Seconds()
			return result, cwerr.New(cwerr.KindInterrupted, "kernelsession.Execute", ctx.Err())
		}
	}
}

// accumulate folds one iopub message into result, reporting whether the
// submission has reached idle (and is therefore complete).
func (s *ZMQSession) accumulate(m *wireMessage, result *ExecutionResult, onChunk func(StreamChunk)) bool {
	switch m.Header.MsgType {
	case "stream":
		name, _ := m.Content["name"].(string)
		text, _ := m.Content["text"].(string)
		if name == "stderr" {
			result.Stderr += text
			if onChunk != nil {
				onChunk(StreamChunk{Stream: "stderr", Text: text})
			}
		} else {
			result.Stdout += text
			if onChunk != nil {
				onChunk(StreamChunk{Stream: "stdout", Text: text})
			}
		}
	case "execute_result", "display_data":
		if result.DisplayValue == "" {
			if data, ok := m.Content["data"].(map[string]interface{}); ok {
				if text, ok := data["text/plain"].(string); ok {
					result.DisplayValue = text
				}
			}
		}
	case "error":
		result.Success = false
		ename, _ := m.Content["ename"].(string)
		evalue, _ := m.Content["evalue"].(string)
		result.ErrorKind = &ename
		result.ErrorMessage = &evalue
		if tb, ok := m.Content["traceback"].([]interface{}); ok {
			for _, line := range tb {
				if s, ok := line.(string); ok {
					result.TracebackFrames = append(result.TracebackFrames, s)
				}
			}
		}
		if onChunk != nil {
			onChunk(StreamChunk{Stream: "error", Text: evalue})
		}
	case "status":
		if state, _ := m.Content["execution_state"].(string); state == "idle" {
			return true
		}
	}
	return false
}

func (s *ZMQSession) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return cwerr.New(cwerr.KindTransport, "kernelsession.Interrupt", fmt.Errorf("no running process"))
	}
	return s.cmd.Process.Signal(os.Interrupt)
}

func (s *ZMQSession) Restart(ctx context.Context) error {
	if err := s.Shutdown(); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = StateNotStarted
	s.pending = xsync.NewMapOf[string, chan *wireMessage]()
	s.mu.Unlock()
	return s.Start(ctx)
}

func (s *ZMQSession) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateShutdown {
		return nil
	}

	if s.stopIOPub != nil {
		close(s.stopIOPub)
		s.stopIOPub = nil
	}
	for _, sock := range []zmq4.Socket{s.shell, s.control, s.iopub} {
		if sock != nil {
			sock.Close()
		}
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_, _ = s.cmd.Process.Wait()
	}
	if s.connFile != "" {
		os.Remove(s.connFile)
	}

	s.state = StateShutdown
	return nil
}

// Probe runs code for its side effect of printing a single JSON line
// and returns accumulated stdout, for Error Enrichment and Profile
// Engine's live queries.
func (s *ZMQSession) Probe(ctx context.Context, code string, timeout time.Duration) (string, error) {
	result, err := s.Execute(ctx, code, timeout)
	if err != nil {
		return "", err
	}
	if !result.Success {
		msg := ""
		if result.ErrorMessage != nil {
			msg = *result.ErrorMessage
		}
		return "", cwerr.New(cwerr.KindProbeFailed, "kernelsession.Probe", fmt.Errorf("%s", msg))
	}
	return result.Stdout, nil
}
