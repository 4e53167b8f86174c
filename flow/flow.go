package flow

import "fmt"

// Flow is a set of nodes plus the transitive After edges they imply. The
// engine accepts a fully-validated, fully-rendered Flow value; YAML
// loading and schema validation are an external collaborator's concern
// (see internal/config).
type Flow struct {
	Name    string
	Nodes   map[string]Node
	Targets map[string]Target
	Args    map[string]string
	Env     map[string]string
}

// New builds a Flow from nodes and targets, indexed by id/ref.
func New(name string, nodes []Node, targets []Target, args, env map[string]string) Flow {
	nm := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		nm[n.ID] = n
	}
	tm := make(map[string]Target, len(targets))
	for _, t := range targets {
		tm[t.ID] = t
	}
	return Flow{Name: name, Nodes: nm, Targets: tm, Args: args, Env: env}
}

// Validate checks referential integrity and acyclicity, returning a
// *ConfigError describing the first problem found. This is a
// configuration-time check: it must run, and succeed, before the engine
// ever spawns a process (spec.md §3, §4.E, §9).
func (f Flow) Validate() error {
	if len(f.Nodes) == 0 {
		return &ConfigError{Message: "flow has no nodes", Details: f.Name}
	}

	for id, n := range f.Nodes {
		if n.ID != id {
			return &ConfigError{Message: "node id mismatch", Details: fmt.Sprintf("key %q, node.ID %q", id, n.ID)}
		}
		if _, ok := f.Targets[n.TargetRef]; !ok {
			return &ConfigError{Message: "dangling target reference", Details: fmt.Sprintf("node %q references target %q", n.ID, n.TargetRef)}
		}
		if len(n.Triggers) == 0 {
			return &ConfigError{Message: "node has no triggers", Details: n.ID}
		}
		for _, tr := range n.Triggers {
			if tr.Kind != TriggerAfter {
				continue
			}
			for _, pred := range tr.Predecessors {
				if _, ok := f.Nodes[pred]; !ok {
					return &ConfigError{Message: "dangling predecessor reference", Details: fmt.Sprintf("node %q after %q", n.ID, pred)}
				}
			}
		}
	}

	return detectCycles(f)
}

// ConfigError is a pre-execution configuration error: cycles, dangling
// references, non-existent watch roots. Fatal before any spawn.
type ConfigError struct {
	Message string
	Details string
}

func (e *ConfigError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// detectCycles builds the directed graph whose edges are pred -> node for
// each After trigger and rejects it if a cycle exists, following the same
// depth-first recursion-stack approach the teacher's pipeline graph uses
// for its own stage DAG.
func detectCycles(f Flow) error {
	visited := make(map[string]bool, len(f.Nodes))
	onStack := make(map[string]bool, len(f.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		onStack[id] = true

		for _, dep := range f.Nodes[id].afterPredecessors() {
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				return &ConfigError{
					Message: "cycle detected in After edges",
					Details: fmt.Sprintf("%s -> %s", id, dep),
				}
			}
		}

		onStack[id] = false
		return nil
	}

	for id := range f.Nodes {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// RewriteOnce replaces every Restart and Watch trigger with Once, per
// spec.md §4.E's "--once rewrite". This is a pure, non-mutating
// transformation over node identities: the returned Flow shares no
// trigger slices with f.
func RewriteOnce(f Flow) Flow {
	nodes := make(map[string]Node, len(f.Nodes))
	for id, n := range f.Nodes {
		rewritten := make([]Trigger, len(n.Triggers))
		for i, tr := range n.Triggers {
			switch tr.Kind {
			case TriggerRestart, TriggerWatch:
				rewritten[i] = Once()
			default:
				rewritten[i] = tr
			}
		}
		n.Triggers = rewritten
		nodes[id] = n
	}
	return Flow{Name: f.Name, Nodes: nodes, Targets: f.Targets, Args: f.Args, Env: f.Env}
}
