package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthesize/synthesize/internal/config"
)

func TestParseBuildsAValidatableFlow(t *testing.T) {
	doc := []byte(`
name: demo
targets:
  - id: build
    commands: "go build ./..."
  - id: serve
    commands: "go run ./cmd/server"
nodes:
  - id: build
    target: build
    triggers:
      - kind: once
  - id: serve
    target: serve
    triggers:
      - kind: after
        after: [build]
      - kind: restart
        delay_seconds: 1
`)
	flw, err := config.Parse(doc)
	require.NoError(t, err)
	require.NoError(t, flw.Validate())
	assert.Equal(t, "demo", flw.Name)
	assert.Len(t, flw.Nodes, 2)
	assert.Len(t, flw.Nodes["serve"].Triggers, 2)
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := config.Parse([]byte(`targets: []
nodes: []`))
	assert.Error(t, err)
}

func TestParseRejectsDanglingTargetCaughtByValidate(t *testing.T) {
	doc := []byte(`
name: demo
targets:
  - id: build
    commands: "echo hi"
nodes:
  - id: a
    target: nonexistent
    triggers:
      - kind: once
`)
	flw, err := config.Parse(doc)
	require.NoError(t, err)
	assert.Error(t, flw.Validate())
}

func TestParseRejectsWatchTriggerWithNoPaths(t *testing.T) {
	doc := []byte(`
name: demo
targets:
  - id: build
    commands: "echo hi"
nodes:
  - id: a
    target: build
    triggers:
      - kind: watch
`)
	_, err := config.Parse(doc)
	assert.Error(t, err)
}
