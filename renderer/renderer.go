// Package renderer implements spec.md §4.F: the single consumer that
// owns the terminal, printing timestamped/prefixed output lines and a
// live status footer. It keeps the teacher's single-writer-owns-the-
// sink discipline (stages/websocket_sink.go serializes every write to
// its one connection from one goroutine pulling off a channel) applied
// to the one os.Stdout instead of a websocket connection.
package renderer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/synthesize/synthesize/event"
	"github.com/synthesize/synthesize/scheduler"
)

const footerTick = time.Second

var palette = []string{
	"\033[36m", // cyan
	"\033[35m", // magenta
	"\033[33m", // yellow
	"\033[32m", // green
	"\033[34m", // blue
	"\033[31m", // red
}

const ansiReset = "\033[0m"
const ansiDim = "\033[2m"

// Renderer is the single terminal consumer of the event bus.
type Renderer struct {
	out   *bufio.Writer
	isTTY bool
	bus   *event.Bus
	sched *scheduler.Scheduler

	colors    map[string]string
	colorSeen []string // node ids in first-seen order, for palette assignment
	footer    int      // number of lines the last-drawn footer occupied

	sub   <-chan event.Event
	unsub func()
}

// New constructs a Renderer writing to w (normally os.Stdout) and
// reading live node state from sched. It subscribes to bus immediately,
// so events published before Run starts consuming are not missed.
func New(w io.Writer, sched *scheduler.Scheduler, bus *event.Bus) *Renderer {
	isTTY := false
	if f, ok := w.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	sub, unsub := bus.Subscribe()
	return &Renderer{
		out:    bufio.NewWriter(w),
		isTTY:  isTTY,
		bus:    bus,
		sched:  sched,
		colors: make(map[string]string),
		sub:    sub,
		unsub:  unsub,
	}
}

// Run consumes the bus until EngineStopped, printing lines and
// maintaining the footer, then flushes and returns. It blocks; call it
// in its own goroutine and wait for it before the process exits so no
// output is lost.
func (r *Renderer) Run(ctx context.Context) {
	sub := r.sub
	defer r.unsub()
	defer r.out.Flush()

	ticker := time.NewTicker(footerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-sub:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case event.NodeOutput:
				r.printLine(e)
				r.redrawFooter()
			case event.NodeStarted, event.NodeExited, event.TriggerFired:
				r.redrawFooter()
			case event.EngineStopped:
				r.printSummary()
				r.out.Flush()
				return
			}

		case <-ticker.C:
			r.redrawFooter()
		}
	}
}

// colorFor assigns a stable palette color to nodeID on first sight, in
// first-seen order, cycling the palette round-robin (spec.md §4.F
// "stable per-node color").
func (r *Renderer) colorFor(nodeID string) string {
	if c, ok := r.colors[nodeID]; ok {
		return c
	}
	c := palette[len(r.colorSeen)%len(palette)]
	r.colors[nodeID] = c
	r.colorSeen = append(r.colorSeen, nodeID)
	return c
}

// printLine writes one NodeOutput line in the fixed format of spec.md
// §6: dim timestamp, colored node id, a separator, then the raw bytes
// verbatim (invalid UTF-8 passed through unchanged).
func (r *Renderer) printLine(e event.NodeOutput) {
	r.clearFooter()
	ts := e.Timestamp.Format("15:04:05")
	color := r.colorFor(e.NodeID)
	fmt.Fprintf(r.out, "%s%s%s %s%s%s │ %s\n", ansiDim, ts, ansiReset, color, e.NodeID, ansiReset, e.Line)
}

// clearFooter erases the previously drawn footer, if any, so the next
// write lands where the footer used to be. A no-op on non-TTY output,
// where there is no footer to begin with.
func (r *Renderer) clearFooter() {
	if !r.isTTY || r.footer == 0 {
		return
	}
	fmt.Fprintf(r.out, "\033[%dA\033[J", r.footer)
	r.footer = 0
}

// redrawFooter repaints the live status panel: one line per node with
// its lifecycle, last exit code, and run count. Degrades to nothing on
// non-TTY output, per spec.md §6.
func (r *Renderer) redrawFooter() {
	if !r.isTTY {
		r.out.Flush()
		return
	}
	r.clearFooter()

	snap := r.sched.Snapshot()
	sort.Slice(snap, func(i, j int) bool { return snap[i].NodeID < snap[j].NodeID })

	fmt.Fprintf(r.out, "%s── status ──%s\n", ansiDim, ansiReset)
	for _, ns := range snap {
		fmt.Fprintf(r.out, "  %-20s %-12s %s\n", ns.NodeID, ns.Lifecycle, exitSummary(ns))
	}
	r.footer = len(snap) + 1
	r.out.Flush()
}

func exitSummary(ns scheduler.NodeState) string {
	if ns.LastExit == nil {
		return ""
	}
	if ns.LastExit.Signal != nil {
		return fmt.Sprintf("signal=%d runs=%d", *ns.LastExit.Signal, ns.RunCount)
	}
	return fmt.Sprintf("exit=%d runs=%d", ns.LastExit.Code, ns.RunCount)
}

// printSummary prints the final table and a red-if-any-failed horizontal
// rule, per spec.md §4.F.
func (r *Renderer) printSummary() {
	r.clearFooter()

	snap := r.sched.Snapshot()
	sort.Slice(snap, func(i, j int) bool { return snap[i].NodeID < snap[j].NodeID })

	anyFailed := false
	fmt.Fprintln(r.out, "── summary ──")
	for _, ns := range snap {
		if ns.Lifecycle == scheduler.Failed {
			anyFailed = true
		}
		fmt.Fprintf(r.out, "  %-20s %-12s %s\n", ns.NodeID, ns.Lifecycle, exitSummary(ns))
	}

	rule := strings.Repeat("─", 40)
	if anyFailed {
		fmt.Fprintf(r.out, "\033[31m%s%s\n", rule, ansiReset)
	} else {
		fmt.Fprintln(r.out, rule)
	}
}
