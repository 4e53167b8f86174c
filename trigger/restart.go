package trigger

import (
	"context"
	"time"

	"github.com/synthesize/synthesize/event"
)

// Restart fires once delay after engine start, then again delay after
// every subsequent NodeExited for its own node, regardless of exit code
// (spec.md §4.D). It keeps firing until ctx is cancelled, which is the
// only thing that stops a Restart loop (spec.md §5).
type Restart struct {
	bus   *event.Bus
	node  string
	index int
	delay time.Duration

	sub   <-chan event.Event
	unsub func()
}

// NewRestart constructs a Restart trigger runtime. The bus subscription
// happens immediately, before Run starts its initial delay wait, so
// that a NodeExited racing the first fire is never missed.
func NewRestart(bus *event.Bus, nodeID string, index int, delay time.Duration) *Restart {
	sub, unsub := bus.Subscribe()
	return &Restart{bus: bus, node: nodeID, index: index, delay: delay, sub: sub, unsub: unsub}
}

func (r *Restart) Run(ctx context.Context) {
	defer r.unsub()

	if !waitCancellable(ctx, r.delay) {
		return
	}
	fire(r.bus, r.node, r.index, "restart_initial")

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-r.sub:
			if !ok {
				return
			}
			ne, ok := ev.(event.NodeExited)
			if !ok || ne.NodeID != r.node {
				continue
			}
			if !waitCancellable(ctx, r.delay) {
				return
			}
			fire(r.bus, r.node, r.index, "restart")
		}
	}
}
