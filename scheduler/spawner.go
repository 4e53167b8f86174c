package scheduler

import (
	"context"

	"github.com/synthesize/synthesize/supervisor"
)

// ProcessHandle is the minimal view of a supervised process the scheduler
// needs: a way to know when it has fully exited.
type ProcessHandle interface {
	Done() <-chan struct{}
}

// Spawner abstracts process supervision away from the scheduler so that
// scheduler tests can run against a fake without forking real shells.
type Spawner interface {
	Spawn(ctx context.Context, nodeID string, runCount int, renderedCommand string, env map[string]string, cwd string) (ProcessHandle, error)
	Stop(h ProcessHandle)
	Kill(h ProcessHandle)
}

// Templater is the external templating collaborator of spec.md §6:
// render(template, bindings) -> string. It is the only thing standing
// between the scheduler and the supervisor.
type Templater interface {
	Render(template string, bindings map[string]string) (string, error)
}

// NewSupervisorSpawner adapts a *supervisor.Supervisor to the Spawner
// interface. Kept in this package (rather than in package supervisor) so
// that supervisor never needs to know about the scheduler.
func NewSupervisorSpawner(s *supervisor.Supervisor) Spawner {
	return supervisorSpawner{s}
}

type supervisorSpawner struct {
	s *supervisor.Supervisor
}

func (a supervisorSpawner) Spawn(ctx context.Context, nodeID string, runCount int, renderedCommand string, env map[string]string, cwd string) (ProcessHandle, error) {
	return a.s.Spawn(ctx, nodeID, runCount, renderedCommand, env, cwd)
}

func (a supervisorSpawner) Stop(h ProcessHandle) {
	if handle, ok := h.(*supervisor.Handle); ok {
		a.s.Stop(handle)
	}
}

func (a supervisorSpawner) Kill(h ProcessHandle) {
	if handle, ok := h.(*supervisor.Handle); ok {
		a.s.Kill(handle)
	}
}
