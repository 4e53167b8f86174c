package flow

import "time"

// TriggerKind tags the variant a Trigger holds.
type TriggerKind string

const (
	TriggerOnce    TriggerKind = "once"
	TriggerAfter   TriggerKind = "after"
	TriggerRestart TriggerKind = "restart"
	TriggerWatch   TriggerKind = "watch"
)

// Trigger is a tagged variant describing a condition that requests a node
// run. Triggers are immutable once constructed.
type Trigger struct {
	Kind TriggerKind

	// After: the set of predecessor node ids this trigger waits on.
	Predecessors []string

	// Restart: delay before each (re)fire.
	DelaySeconds float64

	// Watch: path roots to observe and the debounce window.
	Paths      []string
	DebounceMS int
}

// Once returns a Trigger that fires exactly once at engine start.
func Once() Trigger {
	return Trigger{Kind: TriggerOnce}
}

// After returns a Trigger that fires once all predecessors have completed
// a successful run.
func After(predecessors ...string) Trigger {
	cp := make([]string, len(predecessors))
	copy(cp, predecessors)
	return Trigger{Kind: TriggerAfter, Predecessors: cp}
}

// Restart returns a Trigger that fires delaySeconds after engine start
// and delaySeconds after every exit of the owning node.
func Restart(delaySeconds float64) Trigger {
	return Trigger{Kind: TriggerRestart, DelaySeconds: delaySeconds}
}

// Watch returns a Trigger that fires on debounced filesystem change
// events intersecting paths.
func Watch(debounce time.Duration, paths ...string) Trigger {
	cp := make([]string, len(paths))
	copy(cp, paths)
	return Trigger{Kind: TriggerWatch, Paths: cp, DebounceMS: int(debounce / time.Millisecond)}
}

// CanFireAgain reports whether this trigger kind can ever request another
// run after having already fired once. Once is the only kind that cannot.
func (t Trigger) CanFireAgain() bool {
	return t.Kind != TriggerOnce
}
