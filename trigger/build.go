package trigger

import (
	"context"
	"time"

	"github.com/synthesize/synthesize/event"
	"github.com/synthesize/synthesize/flow"
)

// Build constructs the Runtime for a single (node, trigger index) pair
// from its flow.Trigger definition. The caller owns starting it (as its
// own goroutine) and cancelling its context on shutdown.
func Build(bus *event.Bus, nodeID string, index int, t flow.Trigger) Runtime {
	switch t.Kind {
	case flow.TriggerOnce:
		return NewOnce(bus, nodeID, index)
	case flow.TriggerAfter:
		return NewAfter(bus, nodeID, index, t.Predecessors)
	case flow.TriggerRestart:
		return NewRestart(bus, nodeID, index, time.Duration(t.DelaySeconds*float64(time.Second)))
	case flow.TriggerWatch:
		return NewWatch(bus, nodeID, index, t.Paths)
	default:
		// Unreachable given flow.Flow.Validate, but fail closed rather
		// than panic: a runtime that never fires is safe.
		return noop{}
	}
}

type noop struct{}

func (noop) Run(ctx context.Context) {
	<-ctx.Done()
}
