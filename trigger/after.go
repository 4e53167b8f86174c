package trigger

import (
	"context"

	"github.com/synthesize/synthesize/event"
)

// After fires once every time all of its predecessors have completed
// successfully since the last fire (spec.md §4.D). A predecessor that
// exits non-zero simply never satisfies its slot again until it
// succeeds on a later run (relevant only for predecessors with a
// Restart or Watch trigger of their own) — this is enough to give the
// documented behaviour "if any predecessor fails, the After never
// fires" for the common case of a non-restarting predecessor, with no
// special-casing required here.
//
// Coalescing a fire against a downstream node that is still Running is
// the scheduler's responsibility (spec.md §4.E), not this runtime's —
// After fires unconditionally once its predecessor set is satisfied.
type After struct {
	bus   *event.Bus
	node  string
	index int

	predecessors []string
	sub          <-chan event.Event
	unsub        func()
}

// NewAfter constructs an After trigger runtime over predecessors. The
// bus subscription happens immediately so that no NodeExited published
// before Run starts consuming is ever missed.
func NewAfter(bus *event.Bus, nodeID string, index int, predecessors []string) *After {
	sub, unsub := bus.Subscribe()
	return &After{
		bus:          bus,
		node:         nodeID,
		index:        index,
		predecessors: predecessors,
		sub:          sub,
		unsub:        unsub,
	}
}

func (a *After) Run(ctx context.Context) {
	defer a.unsub()

	remaining := make(map[string]struct{}, len(a.predecessors))
	reset := func() {
		for _, p := range a.predecessors {
			remaining[p] = struct{}{}
		}
	}
	reset()

	if len(remaining) == 0 {
		// No predecessors: behaves like Once.
		fire(a.bus, a.node, a.index, "after")
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-a.sub:
			if !ok {
				return
			}
			ne, ok := ev.(event.NodeExited)
			if !ok {
				continue
			}
			if _, watched := remaining[ne.NodeID]; !watched {
				continue
			}
			if !ne.Succeeded() {
				continue
			}
			delete(remaining, ne.NodeID)
			if len(remaining) == 0 {
				fire(a.bus, a.node, a.index, "after")
				reset()
			}
		}
	}
}
