// Package scheduler implements spec.md §4.E: the single owner of the
// node-state table. It consumes TriggerFired and NodeExited events off
// the bus, decides which nodes to start, stop, or restart, and detects
// when no further work remains. It is grounded on the teacher's
// pipeline.go executionState/nodeState bookkeeping (map of per-node
// state mutated from one goroutine, guarded for concurrent read access)
// generalized from "one DAG traversal" to "a long-running reactive loop
// over an event bus".
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/synthesize/synthesize/event"
	"github.com/synthesize/synthesize/flow"
	"github.com/synthesize/synthesize/internal/engineerr"
	"github.com/synthesize/synthesize/internal/logging"
)

// Scheduler owns the NodeState table for one Flow.
type Scheduler struct {
	flow      flow.Flow
	bus       *event.Bus
	spawner   Spawner
	templater Templater
	log       logging.Logger
	cwd       string

	mu      sync.RWMutex
	nodes   map[string]*NodeState
	handles map[string]ProcessHandle

	shuttingDown bool
	reason       event.ShutdownReason

	sub   <-chan event.Event
	unsub func()
}

// New constructs a Scheduler over flw and subscribes it to bus
// immediately, so that no TriggerFired published before Run starts
// consuming (e.g. a Once trigger racing engine startup) is ever missed.
func New(flw flow.Flow, bus *event.Bus, spawner Spawner, templater Templater, log logging.Logger, cwd string) *Scheduler {
	nodes := make(map[string]*NodeState, len(flw.Nodes))
	for id := range flw.Nodes {
		nodes[id] = &NodeState{NodeID: id, Lifecycle: Waiting}
	}
	sub, unsub := bus.Subscribe()
	return &Scheduler{
		flow:      flw,
		bus:       bus,
		spawner:   spawner,
		templater: templater,
		log:       log.WithModule("scheduler"),
		cwd:       cwd,
		nodes:     nodes,
		handles:   make(map[string]ProcessHandle),
		sub:       sub,
		unsub:     unsub,
	}
}

// Snapshot returns a point-in-time copy of every node's state, safe for
// the renderer to read concurrently.
func (s *Scheduler) Snapshot() []NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NodeState, 0, len(s.nodes))
	for _, ns := range s.nodes {
		out = append(out, ns.clone())
	}
	return out
}

// Run consumes the bus until it emits EngineStopped (published by this
// same Scheduler once quiescent or shut down) or ctx is cancelled. It
// blocks; call it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.unsub()

	s.mu.Lock()
	s.checkQuiescent()
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-s.sub:
			if !ok {
				return
			}
			s.mu.Lock()
			stop := s.handle(ev)
			s.mu.Unlock()
			if stop {
				return
			}
		}
	}
}

// handle dispatches one bus event under s.mu and reports whether the
// engine has now fully stopped.
func (s *Scheduler) handle(ev event.Event) bool {
	switch e := ev.(type) {
	case event.TriggerFired:
		s.onTriggerFired(e)
	case event.NodeExited:
		s.onNodeExited(e)
	case event.EngineShuttingDown:
		s.onShuttingDown(e.Reason)
	default:
		return false
	}
	if !s.shuttingDown {
		s.checkQuiescent()
	}
	return s.maybeFinish()
}

// onTriggerFired implements the Start policy of spec.md §4.E.
func (s *Scheduler) onTriggerFired(tf event.TriggerFired) {
	ns, ok := s.nodes[tf.NodeID]
	if !ok {
		return
	}
	if s.shuttingDown {
		return
	}

	switch ns.Lifecycle {
	case Running, Terminating:
		ns.RestartPending = true
	default:
		ns.Lifecycle = Ready
		s.start(ns)
	}
}

// start renders the node's command/env and spawns it, per spec.md §4.E
// step 3. Render or spawn failure transitions the node straight to
// Failed with a synthetic NodeExited, exactly as spec.md §7 prescribes
// for RenderError/SpawnError.
func (s *Scheduler) start(ns *NodeState) {
	node := s.flow.Nodes[ns.NodeID]
	target := s.flow.Targets[node.TargetRef]
	args, env := flow.EffectiveBindings(s.flow.Args, s.flow.Env, node, target)

	bindings := make(map[string]string, len(args)+len(env))
	for k, v := range env {
		bindings[k] = v
	}
	for k, v := range args {
		bindings[k] = v
	}

	runCount := ns.RunCount + 1

	rendered, err := s.templater.Render(target.Commands, bindings)
	if err != nil {
		s.log.Error("render failed", logging.Str("node_id", ns.NodeID), logging.Err(&engineerr.RenderError{NodeID: ns.NodeID, Err: err}))
		s.failSynthetic(ns, runCount)
		return
	}

	renderedEnv := make(map[string]string, len(env))
	for k, v := range env {
		rv, err := s.templater.Render(v, bindings)
		if err != nil {
			s.log.Error("render failed", logging.Str("node_id", ns.NodeID), logging.Str("env_key", k), logging.Err(&engineerr.RenderError{NodeID: ns.NodeID, Err: err}))
			s.failSynthetic(ns, runCount)
			return
		}
		renderedEnv[k] = rv
	}

	handle, err := s.spawner.Spawn(context.Background(), ns.NodeID, runCount, rendered, renderedEnv, s.cwd)
	if err != nil {
		s.log.Error("spawn failed", logging.Str("node_id", ns.NodeID), logging.Err(&engineerr.SpawnError{NodeID: ns.NodeID, Err: err}))
		s.failSynthetic(ns, runCount)
		return
	}

	ns.Lifecycle = Running
	ns.StartedAt = time.Now()
	s.handles[ns.NodeID] = handle
}

// failSynthetic records a Failed transition that never actually spawned
// a process, publishing a synthetic NodeExited with the fixed -1 exit
// code spec.md §7 prescribes for RenderError/SpawnError.
func (s *Scheduler) failSynthetic(ns *NodeState, runCount int) {
	ns.Lifecycle = Failed
	ns.RunCount = runCount
	ns.LastExit = &ExitInfo{Code: engineerr.SyntheticExitCode}
	s.bus.Publish(event.NodeExited{
		NodeID:   ns.NodeID,
		RunCount: runCount,
		ExitCode: engineerr.SyntheticExitCode,
		At:       time.Now(),
	})
}

// onNodeExited implements the Exit policy of spec.md §4.E.
func (s *Scheduler) onNodeExited(ne event.NodeExited) {
	ns, ok := s.nodes[ne.NodeID]
	if !ok {
		return
	}
	delete(s.handles, ne.NodeID)

	ns.RunCount = ne.RunCount
	ns.LastExit = &ExitInfo{Code: ne.ExitCode, Signal: ne.Signal, Duration: ne.Duration}

	if s.shuttingDown {
		ns.Lifecycle = Cancelled
		return
	}

	if ns.RestartPending {
		ns.RestartPending = false
		ns.Lifecycle = Waiting
		s.bus.Publish(event.TriggerFired{NodeID: ns.NodeID, TriggerIndex: -1, Cause: "restart_pending", At: time.Now()})
		return
	}

	if s.nodeCanFireAgain(ne.NodeID) {
		ns.Lifecycle = Waiting
		return
	}

	if ne.Succeeded() {
		ns.Lifecycle = Succeeded
	} else {
		ns.Lifecycle = Failed
	}
}

// onShuttingDown begins shutdown in response to an externally-published
// EngineShuttingDown (engine entry, on signal). Idempotent.
func (s *Scheduler) onShuttingDown(reason event.ShutdownReason) {
	if s.shuttingDown {
		return
	}
	s.shuttingDown = true
	s.reason = reason
	s.stopRunningNodes()
}

func (s *Scheduler) stopRunningNodes() {
	for id, ns := range s.nodes {
		if ns.Lifecycle == Running {
			ns.Lifecycle = Terminating
			if h, ok := s.handles[id]; ok {
				s.spawner.Stop(h)
			}
		}
	}
}

// checkQuiescent implements the "no more work" detection of spec.md
// §4.E: if nothing is running and no trigger could ever fire again, the
// scheduler shuts itself down with reason Quiescent.
func (s *Scheduler) checkQuiescent() {
	if s.shuttingDown {
		return
	}
	for _, ns := range s.nodes {
		if ns.Lifecycle == Running || ns.Lifecycle == Terminating {
			return
		}
	}
	for id := range s.nodes {
		if s.nodeCanFireAgain(id) {
			return
		}
	}

	s.shuttingDown = true
	s.reason = event.ReasonQuiescent
	s.bus.Publish(event.EngineShuttingDown{Reason: event.ReasonQuiescent, At: time.Now()})
	s.stopRunningNodes()
}

// nodeCanFireAgain reports whether any trigger on node id could still
// request a future run: Restart and Watch are perpetual; Once can only
// fire again if it has not completed a run yet; After can fire again if
// at least one of its predecessors can still fire again, or if this node
// has not run yet and every predecessor's last run succeeded (its fire is
// still on the way). Recursion terminates because After edges are
// acyclic, enforced by flow.Flow.Validate before the engine ever starts.
func (s *Scheduler) nodeCanFireAgain(id string) bool {
	node, ok := s.flow.Nodes[id]
	if !ok {
		return false
	}
	ns := s.nodes[id]

	for _, tr := range node.Triggers {
		switch tr.Kind {
		case flow.TriggerRestart, flow.TriggerWatch:
			return true
		case flow.TriggerOnce:
			if ns == nil || ns.RunCount == 0 {
				return true
			}
		case flow.TriggerAfter:
			pending := ns != nil && ns.RunCount == 0
			for _, pred := range tr.Predecessors {
				if s.nodeCanFireAgain(pred) {
					return true
				}
				ps := s.nodes[pred]
				if ps == nil || ps.LastExit == nil || ps.LastExit.Code != 0 || ps.LastExit.Signal != nil {
					pending = false
				}
			}
			if pending {
				return true
			}
		}
	}
	return false
}

// maybeFinish publishes EngineStopped and reports done once shutdown is
// underway and every node has left Running/Terminating.
func (s *Scheduler) maybeFinish() bool {
	if !s.shuttingDown {
		return false
	}
	for _, ns := range s.nodes {
		if ns.Lifecycle == Running || ns.Lifecycle == Terminating {
			return false
		}
	}
	s.bus.Publish(event.EngineStopped{ExitCode: s.computeExitCode(), At: time.Now()})
	return true
}

// computeExitCode implements spec.md §4.E's exit-code rule. The spec's
// prose carve-out for Watch/Restart nodes under user-interrupt is, on a
// literal reading, contradicted by its own "Restart loop bounded by
// shutdown" scenario (§8), which expects exit code 1 for a Restart node
// that ends Cancelled despite every run having exited 0. The concrete
// scenario is taken as authoritative here: exit code is 0 iff every node
// ended in Succeeded, full stop. See DESIGN.md.
func (s *Scheduler) computeExitCode() int {
	for _, ns := range s.nodes {
		if ns.Lifecycle != Succeeded {
			return 1
		}
	}
	return 0
}

// Reason reports why the engine began shutting down. Only meaningful
// after shutdown has started.
func (s *Scheduler) Reason() event.ShutdownReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// ForceKillAll immediately SIGKILLs every still-live process, bypassing
// the graceful grace window. It is the engine entry's response to a
// second interrupt within the escalation window (spec.md §4.G) and is
// safe to call whether or not Stop has already been requested.
func (s *Scheduler) ForceKillAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		s.spawner.Kill(h)
	}
}
