package trigger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthesize/synthesize/event"
	"github.com/synthesize/synthesize/trigger"
)

func collectFired(t *testing.T, bus *event.Bus, n int, timeout time.Duration) []event.TriggerFired {
	t.Helper()
	sub, unsub := bus.Subscribe()
	defer unsub()

	got := make([]event.TriggerFired, 0, n)
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case ev := <-sub:
			if tf, ok := ev.(event.TriggerFired); ok {
				got = append(got, tf)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d TriggerFired events, got %d", n, len(got))
		}
	}
	return got
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	bus := event.NewBus()
	sub, unsub := bus.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := trigger.NewOnce(bus, "build", 0)
	go o.Run(ctx)

	select {
	case ev := <-sub:
		tf := ev.(event.TriggerFired)
		assert.Equal(t, "build", tf.NodeID)
		assert.Equal(t, 0, tf.TriggerIndex)
	case <-time.After(time.Second):
		t.Fatal("once trigger never fired")
	}

	select {
	case ev := <-sub:
		t.Fatalf("once trigger fired a second time: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAfterFiresWhenAllPredecessorsSucceed(t *testing.T) {
	bus := event.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := trigger.NewAfter(bus, "deploy", 0, []string{"build", "test"})
	go a.Run(ctx)

	bus.Publish(event.NodeExited{NodeID: "build", ExitCode: 0})

	sub, unsub := bus.Subscribe()
	defer unsub()
	select {
	case ev := <-sub:
		t.Fatalf("after fired before all predecessors completed: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}

	bus.Publish(event.NodeExited{NodeID: "test", ExitCode: 0})

	fired := collectFired(t, bus, 1, time.Second)
	require.Len(t, fired, 1)
	assert.Equal(t, "deploy", fired[0].NodeID)
}

func TestAfterNeverFiresWhenAPredecessorFails(t *testing.T) {
	bus := event.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := trigger.NewAfter(bus, "deploy", 0, []string{"build"})
	go a.Run(ctx)

	bus.Publish(event.NodeExited{NodeID: "build", ExitCode: 1})

	sub, unsub := bus.Subscribe()
	defer unsub()
	select {
	case ev := <-sub:
		t.Fatalf("after fired despite a failed predecessor: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRestartFiresInitiallyThenAfterEachExit(t *testing.T) {
	bus := event.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := trigger.NewRestart(bus, "server", 0, time.Millisecond)
	go r.Run(ctx)

	fired := collectFired(t, bus, 1, time.Second)
	assert.Equal(t, "restart_initial", fired[0].Cause)

	bus.Publish(event.NodeExited{NodeID: "server", ExitCode: 1})

	fired = collectFired(t, bus, 1, time.Second)
	assert.Equal(t, "restart", fired[0].Cause)
}

func TestRestartStopsOnCancel(t *testing.T) {
	bus := event.NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	r := trigger.NewRestart(bus, "server", 0, time.Hour)
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("restart runtime did not stop after cancel")
	}
}

func TestWatchFiresOnMatchingPath(t *testing.T) {
	bus := event.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := trigger.NewWatch(bus, "rebuild", 0, []string{"/repo/src"})
	go w.Run(ctx)

	bus.Publish(event.WatchEvent{Paths: []string{"/repo/docs/readme.md"}})

	sub, unsub := bus.Subscribe()
	defer unsub()
	select {
	case ev := <-sub:
		t.Fatalf("watch fired on an unrelated path: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}

	bus.Publish(event.WatchEvent{Paths: []string{"/repo/src/main.go"}})

	fired := collectFired(t, bus, 1, time.Second)
	assert.Equal(t, "rebuild", fired[0].NodeID)
}
