package flow

// Node is a vertex in the flow graph: a target reference bound to one or
// more triggers, with optional arg/env overrides.
type Node struct {
	ID        string
	TargetRef string
	Triggers  []Trigger
	Args      map[string]string
	Env       map[string]string
}

// EffectiveBindings computes the overlay of flow < target < node args/env,
// most specific winning, per spec.md §3.
func EffectiveBindings(flowArgs, flowEnv map[string]string, node Node, target Target) (args, env map[string]string) {
	args = overlay(flowArgs, target.effectiveArgs(), node.Args)
	env = overlay(flowEnv, target.effectiveEnv(), node.Env)
	return args, env
}

// afterPredecessors returns the union of predecessor ids declared by this
// node's After triggers.
func (n Node) afterPredecessors() []string {
	var preds []string
	for _, tr := range n.Triggers {
		if tr.Kind == TriggerAfter {
			preds = append(preds, tr.Predecessors...)
		}
	}
	return preds
}

// onlyOnce reports whether every trigger on the node is a Once trigger.
func (n Node) onlyOnce() bool {
	for _, tr := range n.Triggers {
		if tr.Kind != TriggerOnce {
			return false
		}
	}
	return len(n.Triggers) > 0
}
