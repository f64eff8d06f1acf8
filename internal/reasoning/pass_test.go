package reasoning

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/llm"
)

// stubValidator returns a fixed verdict, optionally after a delay.
type stubValidator struct {
	verdict *Verdict
	delay   time.Duration
	calls   atomic.Int64
}

func (s *stubValidator) Validate(ctx context.Context, stepText, question string, stepIndex int) *Verdict {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.verdict != nil {
		return s.verdict
	}
	return &Verdict{Passed: true, VotesFor: 3}
}

func newTestPass(t *testing.T, inv llm.Invoker, validator StepValidator, maxSteps int) *Pass {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := coreRegistry()
	cfg := config.Default().Reasoning
	cfg.MaxSteps = maxSteps
	builder := NewContextBuilder(inv, reg, config.Default().Context, logger)
	return NewPass(1, inv, builder, validator, reg, cfg, logger)
}

func TestPassCompletesOnMarker(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		return "the final answer【complete】", nil
	}}
	validator := &stubValidator{}
	pass := newTestPass(t, inv, validator, 20)

	result, err := pass.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, ReasonCompleted, result.Reason)
	require.Len(t, result.Transcript, 1)
	assert.Equal(t, "the final answer", result.Transcript[0].Text, "markers must be stripped")
	assert.True(t, result.Transcript[0].Complete)
	assert.Equal(t, int64(1), validator.calls.Load())
}

func TestPassContinuesUntilComplete(t *testing.T) {
	var n atomic.Int64
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		if n.Add(1) < 3 {
			return "thinking more【continue】", nil
		}
		return "done【complete】", nil
	}}
	pass := newTestPass(t, inv, &stubValidator{}, 20)

	result, err := pass.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, ReasonCompleted, result.Reason)
	require.Len(t, result.Transcript, 3)
	for i, step := range result.Transcript {
		assert.Equal(t, i+1, step.Index, "indices are 1-based and monotonic")
		assert.NotContains(t, step.Text, MarkerContinue)
	}
}

func TestPassTerminatesWithinBudgetWhenEveryInvocationFails(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		return "", &llm.Error{Kind: llm.FailureTransport, Detail: "down"}
	}}
	pass := newTestPass(t, inv, &stubValidator{}, 5)

	_, err := pass.Run(context.Background(), "q")
	require.Error(t, err)
	assert.LessOrEqual(t, inv.calls.Load(), int64(6), "at most budget+1 invocation rounds")
}

func TestPassRetriesSameIndexAfterFailure(t *testing.T) {
	var n atomic.Int64
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		if n.Add(1) <= 2 {
			return "", &llm.Error{Kind: llm.FailureHTTPStatus, Status: 503, Detail: "unavailable"}
		}
		return "recovered【complete】", nil
	}}
	pass := newTestPass(t, inv, &stubValidator{}, 20)

	result, err := pass.Run(context.Background(), "q")
	require.NoError(t, err)

	// Two failed rounds for index 1, then success at the same index.
	require.Len(t, result.Transcript, 1)
	assert.Equal(t, 1, result.Transcript[0].Index)
	assert.Equal(t, int64(3), n.Load())
}

func TestPassBudgetExhaustionKeepsTranscript(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		return "still going【continue】", nil
	}}
	pass := newTestPass(t, inv, &stubValidator{}, 4)

	result, err := pass.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, ReasonBudgetExhausted, result.Reason)
	assert.Len(t, result.Transcript, 4)
}

func TestPassWaitsForDetachedValidations(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		return "answer【complete】", nil
	}}
	validator := &stubValidator{
		verdict: &Verdict{Passed: false, VotesFor: 1, VotesAgainst: 2},
		delay:   50 * time.Millisecond,
	}
	pass := newTestPass(t, inv, validator, 20)

	result, err := pass.Run(context.Background(), "q")
	require.NoError(t, err)

	// Every verdict exists by the time the result is consumable.
	v, ok := result.Transcript[0].Verdict()
	require.True(t, ok, "verdict must be attached before Run returns")
	assert.False(t, v.Passed)
}

func TestFailingVerdictIsAdvisoryOnly(t *testing.T) {
	var n atomic.Int64
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		if n.Add(1) < 3 {
			return "step【continue】", nil
		}
		return "end【complete】", nil
	}}
	validator := &stubValidator{verdict: &Verdict{Passed: false, VotesAgainst: 3}}
	pass := newTestPass(t, inv, validator, 20)

	result, err := pass.Run(context.Background(), "q")
	require.NoError(t, err)

	// All steps were appended and the pass completed despite every verdict
	// failing: verdicts annotate, they never roll back.
	assert.Equal(t, ReasonCompleted, result.Reason)
	assert.Len(t, result.Transcript, 3)
	for _, step := range result.Transcript {
		v, ok := step.Verdict()
		require.True(t, ok)
		assert.False(t, v.Passed)
	}
}
