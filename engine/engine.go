// Package engine implements spec.md §4.G: the entry point that wires
// components A–F together, installs signal handlers, and orchestrates
// shutdown. It is grounded on the retrieved pack's devrunner example,
// which drives the same "own the signal loop, escalate on a second
// interrupt" shape for a set of supervised child processes.
package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/synthesize/synthesize/event"
	"github.com/synthesize/synthesize/flow"
	"github.com/synthesize/synthesize/internal/logging"
	"github.com/synthesize/synthesize/renderer"
	"github.com/synthesize/synthesize/scheduler"
	"github.com/synthesize/synthesize/supervisor"
	"github.com/synthesize/synthesize/template"
	"github.com/synthesize/synthesize/trigger"
	"github.com/synthesize/synthesize/watch"
)

// escalationWindow is how long after one SIGINT a second one force-kills
// every child, per spec.md §4.G.
const escalationWindow = 2 * time.Second

// Config configures one engine run.
type Config struct {
	Flow flow.Flow
	Once bool
	Out  io.Writer
	// Log must be a constructed Logger (e.g. logging.New or
	// logging.Nop); the zero value is not a usable Logger.
	Log   logging.Logger
	Grace time.Duration
	Cwd   string
}

// Engine owns one run of a flow: the bus, the supervisor, the
// scheduler, the renderer, every trigger runtime, and the filesystem
// watchers backing any Watch triggers.
type Engine struct {
	flow  flow.Flow
	bus   *event.Bus
	log   logging.Logger
	sched *scheduler.Scheduler
	rend  *renderer.Renderer
	sup   *supervisor.Supervisor

	watchers []*watch.Watcher
}

// New builds an Engine for cfg.Flow. If cfg.Once is set, every Restart
// and Watch trigger is rewritten to Once before anything else happens
// (spec.md §4.E). Non-existent Watch roots are reported here as a
// *flow.ConfigError, before any process is spawned, per spec.md §9.
func New(cfg Config) (*Engine, error) {
	flw := cfg.Flow
	if cfg.Once {
		flw = flow.RewriteOnce(flw)
	}
	if err := flw.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Log

	bus := event.NewBus()
	var supOpts []supervisor.Option
	if cfg.Grace > 0 {
		supOpts = append(supOpts, supervisor.WithGrace(cfg.Grace))
	}
	sup := supervisor.New(bus, log, os.Environ(), supOpts...)
	spawner := scheduler.NewSupervisorSpawner(sup)
	templater := template.New()
	sched := scheduler.New(flw, bus, spawner, templater, log, cfg.Cwd)
	rend := renderer.New(cfg.Out, sched, bus)

	watchers, err := buildWatchers(bus, log, flw)
	if err != nil {
		return nil, err
	}

	return &Engine{flow: flw, bus: bus, log: log.WithModule("engine"), sched: sched, rend: rend, sup: sup, watchers: watchers}, nil
}

// buildWatchers constructs one Watcher per distinct debounce window
// requested across all Watch triggers in flw, each covering the union
// of path roots that requested that window. Most flows declare a
// single debounce value, in which case this collapses to one Watcher;
// this is a simplification over letting every individual Watch trigger
// own its own independent fsnotify registration (see DESIGN.md).
func buildWatchers(bus *event.Bus, log logging.Logger, flw flow.Flow) ([]*watch.Watcher, error) {
	rootsByDebounce := make(map[time.Duration]map[string]struct{})

	for _, node := range flw.Nodes {
		for _, tr := range node.Triggers {
			if tr.Kind != flow.TriggerWatch {
				continue
			}
			d := time.Duration(tr.DebounceMS) * time.Millisecond
			if d < 0 {
				d = watch.DefaultDebounce
			}
			set, ok := rootsByDebounce[d]
			if !ok {
				set = make(map[string]struct{})
				rootsByDebounce[d] = set
			}
			for _, p := range tr.Paths {
				set[filepath.Clean(p)] = struct{}{}
			}
		}
	}

	var watchers []*watch.Watcher
	for d, set := range rootsByDebounce {
		roots := make([]string, 0, len(set))
		for r := range set {
			roots = append(roots, r)
		}
		w, err := watch.New(bus, log, roots, d)
		if err != nil {
			for _, prior := range watchers {
				prior.Close()
			}
			var rootErr *watch.NonExistentRootError
			if errors.As(err, &rootErr) {
				return nil, &flow.ConfigError{Message: "watch root does not exist", Details: rootErr.Root}
			}
			return nil, err
		}
		watchers = append(watchers, w)
	}
	return watchers, nil
}

// Run starts every collaborator, blocks until the scheduler publishes
// EngineStopped, and returns the exit code it computed. If ctx is
// cancelled first, Run returns 1 once the scheduler and renderer
// goroutines have returned; cancellation publishes no
// EngineShuttingDown and sends no stop request to running children.
func (e *Engine) Run(ctx context.Context) int {
	triggerCtx, cancelTriggers := context.WithCancel(context.Background())
	defer cancelTriggers()

	for _, w := range e.watchers {
		go w.Run(triggerCtx)
	}
	for _, node := range e.flow.Nodes {
		for i, tr := range node.Triggers {
			rt := trigger.Build(e.bus, node.ID, i, tr)
			go rt.Run(triggerCtx)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.rend.Run(ctx)
	}()

	exitCode := make(chan int, 1)
	go e.watchForStop(cancelTriggers, exitCode)

	stop := e.installSignalHandler(ctx)
	defer stop()

	// exitCode arrives once the scheduler has published EngineStopped;
	// ctx.Done() is a fallback for the case where the caller's context
	// is cancelled before the engine ever reaches that point on its own.
	var code int
	select {
	case code = <-exitCode:
	case <-ctx.Done():
		code = 1
	}
	wg.Wait()
	return code
}

// watchForStop observes the bus for EngineShuttingDown (to stop trigger
// runtimes and watchers promptly, spec.md §5) and EngineStopped (to
// capture the final exit code).
func (e *Engine) watchForStop(cancelTriggers context.CancelFunc, exitCode chan<- int) {
	sub, unsub := e.bus.Subscribe()
	defer unsub()

	for ev := range sub {
		switch ev := ev.(type) {
		case event.EngineShuttingDown:
			cancelTriggers()
			for _, w := range e.watchers {
				w.Close()
			}
		case event.EngineStopped:
			exitCode <- ev.ExitCode
			return
		}
	}
}

// installSignalHandler implements spec.md §4.G: the first SIGINT or
// SIGTERM publishes EngineShuttingDown(UserInterrupt); a second SIGINT
// within escalationWindow force-kills every child immediately. Manual
// signal.Notify is used, rather than signal.NotifyContext, because the
// escalation behavior needs to see every individual signal rather than
// collapsing them into one context cancellation.
func (e *Engine) installSignalHandler(ctx context.Context) func() {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		var firstInterrupt time.Time
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case sig, ok := <-sigCh:
				if !ok {
					close(done)
					return
				}
				now := time.Now()
				if sig == syscall.SIGINT && !firstInterrupt.IsZero() && now.Sub(firstInterrupt) <= escalationWindow {
					e.log.Warn("second interrupt received, force-killing all children")
					e.sched.ForceKillAll()
					continue
				}
				firstInterrupt = now
				e.log.Info("shutdown signal received", logging.Str("signal", sig.String()))
				e.bus.Publish(event.EngineShuttingDown{Reason: event.ReasonUserInterrupt, At: now})
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(sigCh)
		<-done
	}
}
