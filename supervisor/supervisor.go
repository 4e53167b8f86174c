//go:build !windows

// Package supervisor implements spec.md §4.B: spawning one shell command
// per node, streaming its stdout/stderr line by line, and enforcing the
// graceful-then-forced termination protocol. It is grounded on the
// teacher's pipeline.go goroutine-per-node orchestration (generalized
// from "run a Stage.Process over channels" to "run one OS process and
// stream its pipes") and on the retrieved pack's processmgr/devrunner
// examples for the process-group signal lifecycle itself.
package supervisor

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/synthesize/synthesize/event"
	"github.com/synthesize/synthesize/internal/engineerr"
	"github.com/synthesize/synthesize/internal/logging"
)

// DefaultGrace is the default window between SIGTERM and SIGKILL.
const DefaultGrace = 10 * time.Second

// Supervisor spawns and supervises shell commands on behalf of the
// scheduler. One Supervisor is shared by all nodes in a flow.
type Supervisor struct {
	bus     *event.Bus
	log     logging.Logger
	baseEnv []string
	grace   time.Duration
	lineCap int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithGrace overrides the SIGTERM-to-SIGKILL grace window.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// WithLineCap overrides the long-line cap (spec.md §4.B), in bytes.
func WithLineCap(n int) Option {
	return func(s *Supervisor) { s.lineCap = n }
}

// New constructs a Supervisor. baseEnv is the read-only process
// environment snapshot taken at engine start (spec.md §5).
func New(bus *event.Bus, log logging.Logger, baseEnv []string, opts ...Option) *Supervisor {
	s := &Supervisor{
		bus:     bus,
		log:     log.WithModule("supervisor"),
		baseEnv: baseEnv,
		grace:   DefaultGrace,
		lineCap: defaultLongLineCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle is a live or terminating supervised process.
type Handle struct {
	NodeID   string
	RunCount int
	RunID    string

	cmd      *exec.Cmd
	pid      int
	stopOnce sync.Once
	done     chan struct{}
}

// PID returns the process id of the running child.
func (h *Handle) PID() int { return h.pid }

// Done reports when the run has fully exited (both pipes drained and the
// child reaped) and its NodeExited event has been published.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Spawn launches rendered as a POSIX shell script in its own process
// group, streams its output into NodeOutput events, and publishes exactly
// one NodeStarted immediately and one NodeExited once the run is fully
// reaped (spec.md §4.B).
func (s *Supervisor) Spawn(ctx context.Context, nodeID string, runCount int, rendered string, env map[string]string, cwd string) (*Handle, error) {
	cmd := exec.Command("sh", "-c", rendered)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(s.baseEnv, env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &engineerr.SpawnError{NodeID: nodeID, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &engineerr.SpawnError{NodeID: nodeID, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &engineerr.SpawnError{NodeID: nodeID, Err: err}
	}

	h := &Handle{
		NodeID:   nodeID,
		RunCount: runCount,
		RunID:    uuid.NewString(),
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		done:     make(chan struct{}),
	}

	s.log.Info("node started", logging.Str("node_id", nodeID), logging.Str("run_id", h.RunID), logging.Int("pid", h.pid), logging.Int("run_count", runCount))
	s.bus.Publish(event.NodeStarted{NodeID: nodeID, RunCount: runCount, RunID: h.RunID, PID: h.pid, At: time.Now()})

	var pipesDone sync.WaitGroup
	pipesDone.Add(2)
	go func() {
		defer pipesDone.Done()
		s.pump(nodeID, event.StreamOut, stdout)
	}()
	go func() {
		defer pipesDone.Done()
		s.pump(nodeID, event.StreamErr, stderr)
	}()

	go s.supervise(h, &pipesDone)

	return h, nil
}

// pump drains one pipe, publishing NodeOutput events until EOF.
func (s *Supervisor) pump(nodeID string, stream event.Stream, r io.Reader) {
	err := scanLines(r, s.lineCap, func(f lineFragment) {
		s.bus.Publish(event.NodeOutput{
			NodeID:    nodeID,
			Stream:    stream,
			Line:      f.data,
			Timestamp: f.at,
			Continued: f.continued,
		})
	})
	if err != nil {
		s.log.Warn("pipe read error", logging.Str("node_id", nodeID), logging.Err(err))
	}
}

// supervise waits for both pipes to drain and the child to be reaped,
// then publishes exactly one NodeExited (spec.md §4.B).
func (s *Supervisor) supervise(h *Handle, pipesDone *sync.WaitGroup) {
	started := time.Now()
	pipesDone.Wait()

	err := h.cmd.Wait()

	exitCode := 0
	var signal *int
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if ws.Signaled() {
					sig := int(ws.Signal())
					signal = &sig
					exitCode = 128 + sig
				} else {
					exitCode = ws.ExitStatus()
				}
			} else {
				exitCode = exitErr.ExitCode()
			}
		} else {
			s.log.Error("wait failed", logging.Str("node_id", h.NodeID), logging.Err(err))
			exitCode = engineerr.SyntheticExitCode
		}
	}

	duration := time.Since(started)
	s.log.Info("node exited", logging.Str("node_id", h.NodeID), logging.Int("exit_code", exitCode), logging.Dur("duration", duration))
	s.bus.Publish(event.NodeExited{
		NodeID:   h.NodeID,
		RunCount: h.RunCount,
		RunID:    h.RunID,
		ExitCode: exitCode,
		Signal:   signal,
		Duration: duration,
		At:       time.Now(),
	})
	close(h.done)
}

// Stop implements spec.md §4.B's termination protocol: SIGTERM to the
// process group, a grace timer, then SIGKILL. A process that cannot be
// signalled (already dead) is treated as already-exited without error.
// Stop is idempotent and does not block until exit; use Done to wait.
func (s *Supervisor) Stop(h *Handle) {
	h.stopOnce.Do(func() {
		go s.terminate(h)
	})
}

// Kill sends SIGKILL to h's process group immediately, bypassing the
// grace window. It is used for the engine entry's second-interrupt
// escalation (spec.md §4.G) and is safe to call alongside or after Stop:
// signalling an already-dying process group again is harmless.
func (s *Supervisor) Kill(h *Handle) {
	if err := syscall.Kill(-h.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.log.Error("SIGKILL failed", logging.Str("node_id", h.NodeID), logging.Err(err))
	}
}

func (s *Supervisor) terminate(h *Handle) {
	pgid := h.pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			s.log.Warn("SIGTERM failed", logging.Str("node_id", h.NodeID), logging.Err(err))
		}
		return
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return
	case <-timer.C:
		s.log.Warn("grace expired, sending SIGKILL", logging.Str("node_id", h.NodeID), logging.Int("pid", h.pid))
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			s.log.Error("SIGKILL failed", logging.Str("node_id", h.NodeID), logging.Err(err))
		}
	}
}

func mergeEnv(base []string, overlay map[string]string) []string {
	out := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		k, _, ok := strings.Cut(kv, "=")
		if ok {
			if _, shadowed := overlay[k]; shadowed {
				continue
			}
		}
		out = append(out, kv)
	}
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}
