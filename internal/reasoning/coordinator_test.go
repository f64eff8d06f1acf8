package reasoning

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/llm"
)

func newTestCoordinator(t *testing.T, inv llm.Invoker) *Coordinator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := coreRegistry()
	cfg := config.Default().Reasoning
	builder := NewContextBuilder(inv, reg, config.Default().Context, logger)
	return NewCoordinator(inv, builder, &stubValidator{}, reg, cfg, logger)
}

func TestCoordinatorCollectsAllPasses(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		return "answer【complete】", nil
	}}
	c := newTestCoordinator(t, inv)

	results, err := c.Run(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, i+1, r.PassID, "results ordered by pass id")
		assert.Equal(t, ReasonCompleted, r.Reason)
		assert.Len(t, r.Transcript, 1)
	}
}

func TestCoordinatorSurvivesPanickingPass(t *testing.T) {
	// Each pass makes exactly one reasoning call, so the second caller
	// stands in for a pass that blows up mid-flight.
	var n atomic.Int64
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		if n.Add(1) == 2 {
			panic("pass blew up")
		}
		return "answer【complete】", nil
	}}
	c := newTestCoordinator(t, inv)

	results, err := c.Run(context.Background(), "q", 3)
	require.NoError(t, err, "a panicking sibling must not fail the run")
	assert.Len(t, results, 2)
}

func TestCoordinatorIsolatesFailedPasses(t *testing.T) {
	// One pass sees nothing but invocation failures; the others complete.
	var n atomic.Int64
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		if n.Add(1)%3 == 0 {
			return "", &llm.Error{Kind: llm.FailureTransport, Detail: "down"}
		}
		return "answer【complete】", nil
	}}
	c := newTestCoordinator(t, inv)

	results, err := c.Run(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestCoordinatorErrorsWhenEveryPassFails(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		return "", &llm.Error{Kind: llm.FailureTransport, Detail: "down"}
	}}
	c := newTestCoordinator(t, inv)

	results, err := c.Run(context.Background(), "q", 3)
	assert.Error(t, err)
	assert.Empty(t, results)
}

func TestCoordinatorDefaultsPassCountFromConfig(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		return "answer【complete】", nil
	}}
	c := newTestCoordinator(t, inv)

	results, err := c.Run(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
