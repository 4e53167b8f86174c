// Package event implements the engine's single in-process broadcast bus
// (spec.md §4.A): a reliable, in-order-per-publisher stream of structured
// engine events consumed concurrently by the scheduler and the renderer.
package event

import "time"

// Kind tags the variant an Event holds.
type Kind string

const (
	KindNodeStarted       Kind = "node_started"
	KindNodeOutput        Kind = "node_output"
	KindNodeExited        Kind = "node_exited"
	KindTriggerFired      Kind = "trigger_fired"
	KindWatchEvent        Kind = "watch_event"
	KindEngineShuttingDown Kind = "engine_shutting_down"
	KindEngineStopped     Kind = "engine_stopped"
)

// Stream identifies which pipe a NodeOutput line came from.
type Stream string

const (
	StreamOut Stream = "out"
	StreamErr Stream = "err"
)

// ShutdownReason explains why the engine is shutting down.
type ShutdownReason string

const (
	ReasonQuiescent     ShutdownReason = "quiescent"
	ReasonUserInterrupt ShutdownReason = "user_interrupt"
	ReasonConfigError   ShutdownReason = "config_error"
)

// Event is any engine event. Kind() identifies the concrete payload
// struct carried alongside it.
type Event interface {
	Kind() Kind
}

// NodeStarted reports that a node's run began.
type NodeStarted struct {
	NodeID   string
	RunCount int
	RunID    string
	PID      int
	At       time.Time
}

func (NodeStarted) Kind() Kind { return KindNodeStarted }

// NodeOutput carries one line (or line fragment, for over-long lines) of
// a node's stdout/stderr.
type NodeOutput struct {
	NodeID    string
	Stream    Stream
	Line      []byte
	Timestamp time.Time
	// Continued is true when this event is a continuation fragment of a
	// line that exceeded the long-line cap rather than a newline-terminated
	// line of its own (spec.md §4.B long-line policy).
	Continued bool
}

func (NodeOutput) Kind() Kind { return KindNodeOutput }

// ExitSignal is the OS signal that terminated a process, if any.
type ExitSignal = int

// NodeExited reports that a node's run finished: both pipes drained and
// wait() returned.
type NodeExited struct {
	NodeID   string
	RunCount int
	RunID    string
	ExitCode int
	Signal   *ExitSignal
	Duration time.Duration
	At       time.Time
}

// Succeeded reports whether this run succeeded: exit_code == 0 and no
// signal, per spec.md §4.B.
func (e NodeExited) Succeeded() bool {
	return e.ExitCode == 0 && e.Signal == nil
}

func (NodeExited) Kind() Kind { return KindNodeExited }

// TriggerFired reports that a trigger requested a run.
type TriggerFired struct {
	NodeID       string
	TriggerIndex int
	Cause        string
	At           time.Time
}

func (TriggerFired) Kind() Kind { return KindTriggerFired }

// WatchEvent reports a debounced batch of filesystem changes.
type WatchEvent struct {
	Paths []string
	At    time.Time
}

func (WatchEvent) Kind() Kind { return KindWatchEvent }

// EngineShuttingDown announces the start of shutdown.
type EngineShuttingDown struct {
	Reason ShutdownReason
	At     time.Time
}

func (EngineShuttingDown) Kind() Kind { return KindEngineShuttingDown }

// EngineStopped announces that shutdown completed.
type EngineStopped struct {
	ExitCode int
	At       time.Time
}

func (EngineStopped) Kind() Kind { return KindEngineStopped }
