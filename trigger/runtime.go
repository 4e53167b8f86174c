// Package trigger implements spec.md §4.D: one small state machine per
// (node, trigger index) pair, each consuming bus inputs and producing
// TriggerFired events. The scheduler (package scheduler) is solely
// responsible for coalescing concurrent fires into a single pending
// restart while a node is running — trigger runtimes never need to know
// a node's current lifecycle state, only when their own condition holds.
package trigger

import (
	"context"
	"time"

	"github.com/synthesize/synthesize/event"
)

// Runtime is a single trigger's state machine. Run blocks until ctx is
// cancelled (Once returns as soon as it has fired); call it in its own
// goroutine.
type Runtime interface {
	Run(ctx context.Context)
}

// fire publishes a TriggerFired event for (nodeID, index).
func fire(bus *event.Bus, nodeID string, index int, cause string) {
	bus.Publish(event.TriggerFired{
		NodeID:       nodeID,
		TriggerIndex: index,
		Cause:        cause,
		At:           time.Now(),
	})
}

// waitCancellable blocks for d or until ctx is cancelled, returning false
// if cancelled first.
func waitCancellable(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
