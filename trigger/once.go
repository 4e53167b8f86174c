package trigger

import (
	"context"

	"github.com/synthesize/synthesize/event"
)

// Once fires exactly one time, immediately, when the flow starts
// (spec.md §4.D).
type Once struct {
	bus   *event.Bus
	node  string
	index int
}

// NewOnce constructs a Once trigger runtime.
func NewOnce(bus *event.Bus, nodeID string, index int) *Once {
	return &Once{bus: bus, node: nodeID, index: index}
}

func (o *Once) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	fire(o.bus, o.node, o.index, "once")
}
