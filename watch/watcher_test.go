package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthesize/synthesize/event"
	"github.com/synthesize/synthesize/internal/logging"
	"github.com/synthesize/synthesize/watch"
)

func TestNewRejectsNonExistentRoot(t *testing.T) {
	bus := event.NewBus()
	_, err := watch.New(bus, logging.Nop(), []string{filepath.Join(t.TempDir(), "ghost")}, 0)
	require.Error(t, err)
	var nerr *watch.NonExistentRootError
	assert.ErrorAs(t, err, &nerr)
}

// Watch debounce (spec.md §8 concrete scenario): several rapid changes
// inside one debounce window collapse into a single WatchEvent.
func TestWatcherCoalescesBurstsIntoOneEvent(t *testing.T) {
	dir := t.TempDir()
	bus := event.NewBus()
	sub, unsub := bus.Subscribe()
	defer unsub()

	w, err := watch.New(bus, logging.Nop(), []string{dir}, 100*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.After(2 * time.Second)
	var events []event.WatchEvent
	collectDeadline := time.After(400 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-sub:
			if we, ok := ev.(event.WatchEvent); ok {
				events = append(events, we)
			}
		case <-collectDeadline:
			break loop
		case <-deadline:
			t.Fatal("timed out waiting for watch events")
		}
	}

	assert.Len(t, events, 1, "three writes inside one debounce window should coalesce into one WatchEvent")
}
