package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthesize/synthesize/engine"
	"github.com/synthesize/synthesize/flow"
	"github.com/synthesize/synthesize/internal/logging"
)

func TestEngineRunsALinearFlowToQuiescence(t *testing.T) {
	flw := flow.New("linear", []flow.Node{
		{ID: "a", TargetRef: "a", Triggers: []flow.Trigger{flow.Once()}},
		{ID: "b", TargetRef: "b", Triggers: []flow.Trigger{flow.After("a")}},
	}, []flow.Target{
		{ID: "a", Commands: "true"},
		{ID: "b", Commands: "true"},
	}, nil, nil)
	require.NoError(t, flw.Validate())

	eng, err := engine.New(engine.Config{
		Flow: flw,
		Out:  discard{},
		Log:  logging.Nop(),
		Cwd:  ".",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code := eng.Run(ctx)
	assert.Equal(t, 0, code)
}

func TestEngineReportsFailureExitCode(t *testing.T) {
	flw := flow.New("single", []flow.Node{
		{ID: "a", TargetRef: "a", Triggers: []flow.Trigger{flow.Once()}},
	}, []flow.Target{
		{ID: "a", Commands: "false"},
	}, nil, nil)
	require.NoError(t, flw.Validate())

	eng, err := engine.New(engine.Config{
		Flow: flw,
		Out:  discard{},
		Log:  logging.Nop(),
		Cwd:  ".",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code := eng.Run(ctx)
	assert.Equal(t, 1, code)
}

func TestNewRejectsInvalidFlow(t *testing.T) {
	flw := flow.New("broken", []flow.Node{
		{ID: "a", TargetRef: "missing", Triggers: []flow.Trigger{flow.Once()}},
	}, nil, nil, nil)

	_, err := engine.New(engine.Config{Flow: flw, Out: discard{}, Log: logging.Nop(), Cwd: "."})
	assert.Error(t, err)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
