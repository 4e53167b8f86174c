package trigger

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/synthesize/synthesize/event"
)

// Watch fires whenever a published event.WatchEvent touches one of its
// own paths (spec.md §4.D); the debounce coalescing already happened in
// package watch, so this runtime only needs to filter and forward.
type Watch struct {
	bus   *event.Bus
	node  string
	index int

	paths []string
	sub   <-chan event.Event
	unsub func()
}

// NewWatch constructs a Watch trigger runtime over paths (already
// resolved, per-node Watch trigger paths from spec.md §4.D).
func NewWatch(bus *event.Bus, nodeID string, index int, paths []string) *Watch {
	sub, unsub := bus.Subscribe()
	clean := make([]string, len(paths))
	for i, p := range paths {
		clean[i] = filepath.Clean(p)
	}
	return &Watch{bus: bus, node: nodeID, index: index, paths: clean, sub: sub, unsub: unsub}
}

func (w *Watch) Run(ctx context.Context) {
	defer w.unsub()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.sub:
			if !ok {
				return
			}
			we, ok := ev.(event.WatchEvent)
			if !ok {
				continue
			}
			if w.matches(we.Paths) {
				fire(w.bus, w.node, w.index, "watch")
			}
		}
	}
}

// matches reports whether any changed path is at or below one of w's
// watched roots.
func (w *Watch) matches(changed []string) bool {
	for _, c := range changed {
		c = filepath.Clean(c)
		for _, root := range w.paths {
			if c == root || strings.HasPrefix(c, root+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}
