package flow_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/synthesize/synthesize/flow"
)

func target(id string) flow.Target {
	return flow.Target{ID: id, Commands: "true"}
}

func TestValidateRejectsDanglingTargetRef(t *testing.T) {
	flw := flow.New("f", []flow.Node{
		{ID: "a", TargetRef: "missing", Triggers: []flow.Trigger{flow.Once()}},
	}, nil, nil, nil)
	assert.Error(t, flw.Validate())
}

func TestValidateRejectsDanglingPredecessor(t *testing.T) {
	flw := flow.New("f", []flow.Node{
		{ID: "a", TargetRef: "a", Triggers: []flow.Trigger{flow.After("ghost")}},
	}, []flow.Target{target("a")}, nil, nil)
	assert.Error(t, flw.Validate())
}

func TestValidateRejectsCycle(t *testing.T) {
	flw := flow.New("f", []flow.Node{
		{ID: "a", TargetRef: "a", Triggers: []flow.Trigger{flow.After("b")}},
		{ID: "b", TargetRef: "b", Triggers: []flow.Trigger{flow.After("a")}},
	}, []flow.Target{target("a"), target("b")}, nil, nil)
	assert.Error(t, flw.Validate())
}

func TestValidateAcceptsALinearChain(t *testing.T) {
	flw := flow.New("f", []flow.Node{
		{ID: "a", TargetRef: "a", Triggers: []flow.Trigger{flow.Once()}},
		{ID: "b", TargetRef: "b", Triggers: []flow.Trigger{flow.After("a")}},
		{ID: "c", TargetRef: "c", Triggers: []flow.Trigger{flow.After("b")}},
	}, []flow.Target{target("a"), target("b"), target("c")}, nil, nil)
	require.NoError(t, flw.Validate())
}

func TestEffectiveBindingsMostSpecificWins(t *testing.T) {
	node := flow.Node{ID: "n", TargetRef: "t", Args: map[string]string{"x": "node"}}
	tgt := flow.Target{ID: "t", Commands: "true", Args: map[string]string{"x": "target", "y": "target-only"}}

	args, _ := flow.EffectiveBindings(map[string]string{"x": "flow"}, nil, node, tgt)
	assert.Equal(t, "node", args["x"])
	assert.Equal(t, "target-only", args["y"])
}

// Invariant 6 (spec.md §8): the --once rewrite preserves node identities
// and leaves no Restart or Watch trigger behind, for any generated flow.
func TestPropertyRewriteOncePreservesIdentitiesAndStripsPerpetualTriggers(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "n")
		nodes := make([]flow.Node, n)
		targets := make([]flow.Target, n)
		ids := make(map[string]bool, n)

		for i := 0; i < n; i++ {
			id := fmt.Sprintf("node-%d", i)
			ids[id] = true
			targets[i] = target(id)

			kind := rapid.SampledFrom([]string{"once", "restart", "watch"}).Draw(rt, "kind")
			var tr flow.Trigger
			switch kind {
			case "once":
				tr = flow.Once()
			case "restart":
				tr = flow.Restart(rapid.Float64Range(0, 5).Draw(rt, "delay"))
			case "watch":
				tr = flow.Watch(time.Duration(rapid.IntRange(1, 500).Draw(rt, "ms"))*time.Millisecond, "root")
			}
			nodes[i] = flow.Node{ID: id, TargetRef: id, Triggers: []flow.Trigger{tr}}
		}

		original := flow.New("f", nodes, targets, nil, nil)
		rewritten := flow.RewriteOnce(original)

		if len(rewritten.Nodes) != len(ids) {
			rt.Fatalf("node count changed: got %d want %d", len(rewritten.Nodes), len(ids))
		}
		for id := range ids {
			rn, ok := rewritten.Nodes[id]
			if !ok {
				rt.Fatalf("node %q missing after rewrite", id)
			}
			for _, tr := range rn.Triggers {
				if tr.Kind == flow.TriggerRestart || tr.Kind == flow.TriggerWatch {
					rt.Fatalf("node %q still has a %s trigger after rewrite", id, tr.Kind)
				}
			}
		}

		// Original must be untouched (RewriteOnce is pure).
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("node-%d", i)
			orig := original.Nodes[id]
			if len(orig.Triggers) != 1 {
				rt.Fatalf("original node %q mutated", id)
			}
		}
	})
}
