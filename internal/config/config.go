// Package config loads a flow definition from YAML into a flow.Flow,
// per SPEC_FULL.md §12. It is a thin collaborator: presence/type
// checks only, following the teacher's own ValidationError shape
// (validation.go's Message/Details struct). Cycle detection and
// dangling-reference checks are left to flow.Flow.Validate, which runs
// regardless of how the Flow was constructed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synthesize/synthesize/flow"
)

// RawFlow is the on-disk YAML shape of a flow definition.
type RawFlow struct {
	Name    string            `yaml:"name"`
	Args    map[string]string `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Targets []RawTarget       `yaml:"targets"`
	Nodes   []RawNode         `yaml:"nodes"`
}

// RawTarget is the on-disk YAML shape of a flow.Target.
type RawTarget struct {
	ID       string            `yaml:"id"`
	Commands string            `yaml:"commands"`
	Args     map[string]string `yaml:"args"`
	Env      map[string]string `yaml:"env"`
}

// RawNode is the on-disk YAML shape of a flow.Node.
type RawNode struct {
	ID       string            `yaml:"id"`
	Target   string            `yaml:"target"`
	Args     map[string]string `yaml:"args"`
	Env      map[string]string `yaml:"env"`
	Triggers []RawTrigger      `yaml:"triggers"`
}

// RawTrigger is the on-disk YAML shape of a flow.Trigger. Exactly one
// of the kind-specific field groups is meaningful, selected by Kind.
type RawTrigger struct {
	Kind string `yaml:"kind"`

	After []string `yaml:"after"`

	DelaySeconds float64 `yaml:"delay_seconds"`

	Paths      []string `yaml:"paths"`
	DebounceMS int      `yaml:"debounce_ms"`
}

// LoadError reports that a YAML document failed the collaborator's
// presence/type checks, before ever reaching flow.Flow.Validate.
type LoadError struct {
	Message string
	Details string
}

func (e *LoadError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// Load reads and parses the YAML file at path into a flow.Flow. It does
// not call flow.Flow.Validate; callers are expected to do that
// themselves before running the engine, per spec.md §9.
func Load(path string) (flow.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return flow.Flow{}, &LoadError{Message: "reading config", Details: err.Error()}
	}
	return Parse(data)
}

// Parse turns a YAML document's bytes into a flow.Flow.
func Parse(data []byte) (flow.Flow, error) {
	var raw RawFlow
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return flow.Flow{}, &LoadError{Message: "parsing yaml", Details: err.Error()}
	}
	return build(raw)
}

func build(raw RawFlow) (flow.Flow, error) {
	if raw.Name == "" {
		return flow.Flow{}, &LoadError{Message: "flow missing name"}
	}
	if len(raw.Targets) == 0 {
		return flow.Flow{}, &LoadError{Message: "flow has no targets", Details: raw.Name}
	}
	if len(raw.Nodes) == 0 {
		return flow.Flow{}, &LoadError{Message: "flow has no nodes", Details: raw.Name}
	}

	targets := make([]flow.Target, 0, len(raw.Targets))
	for _, rt := range raw.Targets {
		if rt.ID == "" {
			return flow.Flow{}, &LoadError{Message: "target missing id"}
		}
		if rt.Commands == "" {
			return flow.Flow{}, &LoadError{Message: "target missing commands", Details: rt.ID}
		}
		targets = append(targets, flow.Target{ID: rt.ID, Commands: rt.Commands, Args: rt.Args, Env: rt.Env})
	}

	nodes := make([]flow.Node, 0, len(raw.Nodes))
	for _, rn := range raw.Nodes {
		if rn.ID == "" {
			return flow.Flow{}, &LoadError{Message: "node missing id"}
		}
		if rn.Target == "" {
			return flow.Flow{}, &LoadError{Message: "node missing target", Details: rn.ID}
		}
		if len(rn.Triggers) == 0 {
			return flow.Flow{}, &LoadError{Message: "node has no triggers", Details: rn.ID}
		}

		triggers := make([]flow.Trigger, 0, len(rn.Triggers))
		for _, rt := range rn.Triggers {
			tr, err := buildTrigger(rn.ID, rt)
			if err != nil {
				return flow.Flow{}, err
			}
			triggers = append(triggers, tr)
		}

		nodes = append(nodes, flow.Node{ID: rn.ID, TargetRef: rn.Target, Triggers: triggers, Args: rn.Args, Env: rn.Env})
	}

	return flow.New(raw.Name, nodes, targets, raw.Args, raw.Env), nil
}

func buildTrigger(nodeID string, rt RawTrigger) (flow.Trigger, error) {
	switch rt.Kind {
	case "once", "":
		return flow.Once(), nil
	case "after":
		if len(rt.After) == 0 {
			return flow.Trigger{}, &LoadError{Message: "after trigger with no predecessors", Details: nodeID}
		}
		return flow.After(rt.After...), nil
	case "restart":
		return flow.Restart(rt.DelaySeconds), nil
	case "watch":
		if len(rt.Paths) == 0 {
			return flow.Trigger{}, &LoadError{Message: "watch trigger with no paths", Details: nodeID}
		}
		debounce := time.Duration(rt.DebounceMS) * time.Millisecond
		return flow.Watch(debounce, rt.Paths...), nil
	default:
		return flow.Trigger{}, &LoadError{Message: "unknown trigger kind", Details: fmt.Sprintf("node %q kind %q", nodeID, rt.Kind)}
	}
}
