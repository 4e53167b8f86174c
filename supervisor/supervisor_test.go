package supervisor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthesize/synthesize/event"
	"github.com/synthesize/synthesize/internal/logging"
	"github.com/synthesize/synthesize/supervisor"
)

func TestSpawnReportsExitCodeAndOutput(t *testing.T) {
	bus := event.NewBus()
	sup := supervisor.New(bus, logging.Nop(), nil)

	events := make(chan event.Event, 32)
	sub, unsub := bus.Subscribe()
	defer unsub()
	go func() {
		for ev := range sub {
			events <- ev
		}
	}()

	h, err := sup.Spawn(context.Background(), "n", 1, "echo hello", nil, ".")
	require.NoError(t, err)
	<-h.Done()

	var lines []string
	var exited *event.NodeExited
	for {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case event.NodeOutput:
				lines = append(lines, string(e.Line))
			case event.NodeExited:
				exited = &e
			}
		case <-time.After(time.Second):
			t.Fatal("timed out draining events")
		}
		if exited != nil {
			break
		}
	}

	require.NotNil(t, exited)
	assert.Equal(t, 0, exited.ExitCode)
	assert.True(t, exited.Succeeded())
	assert.Contains(t, lines, "hello")
	assert.NotEmpty(t, exited.RunID)
}

func TestSpawnReportsNonZeroExitCode(t *testing.T) {
	bus := event.NewBus()
	sup := supervisor.New(bus, logging.Nop(), nil)

	sub, unsub := bus.Subscribe()
	defer unsub()

	h, err := sup.Spawn(context.Background(), "n", 1, "exit 7", nil, ".")
	require.NoError(t, err)
	<-h.Done()

	var exited event.NodeExited
	for {
		select {
		case ev := <-sub:
			if ne, ok := ev.(event.NodeExited); ok {
				exited = ne
			}
		default:
			goto done
		}
	}
done:
	assert.Equal(t, 7, exited.ExitCode)
	assert.False(t, exited.Succeeded())
}

func TestStopSendsSigtermThenReaps(t *testing.T) {
	bus := event.NewBus()
	sup := supervisor.New(bus, logging.Nop(), nil, supervisor.WithGrace(200*time.Millisecond))

	h, err := sup.Spawn(context.Background(), "n", 1, "trap 'exit 0' TERM; sleep 5", nil, ".")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	sup.Stop(h)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}
}

// Long line (spec.md §8 concrete scenario): a child writing far more than
// the long-line cap with no newline is delivered as multiple NodeOutput
// fragments whose concatenation reconstructs the original bytes.
func TestLongLineIsSplitIntoFragments(t *testing.T) {
	bus := event.NewBus()
	sup := supervisor.New(bus, logging.Nop(), nil, supervisor.WithLineCap(4096))

	sub, unsub := bus.Subscribe()
	defer unsub()

	script := "head -c 200000 /dev/zero | tr '\\0' '='"
	h, err := sup.Spawn(context.Background(), "n", 1, script, nil, ".")
	require.NoError(t, err)

	var b strings.Builder
	fragments := 0
	var exited bool
	for !exited {
		select {
		case ev := <-sub:
			switch e := ev.(type) {
			case event.NodeOutput:
				b.Write(e.Line)
				fragments++
			case event.NodeExited:
				exited = true
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for long-line output")
		}
	}

	assert.GreaterOrEqual(t, fragments, 3)
	assert.Equal(t, 200000, b.Len())
	<-h.Done()
}
