package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/manifold-ai/manifold/internal/config"
)

// scriptedInvoker returns queued outcomes in order, then repeats the last.
type scriptedInvoker struct {
	outcomes []outcome
	calls    int
}

type outcome struct {
	text string
	err  error
}

func (s *scriptedInvoker) Invoke(ctx context.Context, role config.Role, messages []Message, cacheHint bool) (string, error) {
	idx := s.calls
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	s.calls++
	o := s.outcomes[idx]
	return o.text, o.err
}

func fastRetrier(t *testing.T, next Invoker, attempts int) *Retrier {
	t.Helper()
	return NewRetrier(next, attempts, zaptest.NewLogger(t)).
		WithBackoffWindow(time.Millisecond, 2*time.Millisecond)
}

func TestRetrierRecoversAfterFailures(t *testing.T) {
	inv := &scriptedInvoker{outcomes: []outcome{
		{err: &Error{Kind: FailureTransport, Detail: "boom"}},
		{err: &Error{Kind: FailureHTTPStatus, Status: 503, Detail: "unavailable"}},
		{text: "recovered"},
	}}

	text, err := fastRetrier(t, inv, 3).Invoke(context.Background(), config.RoleReasoner, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 3, inv.calls)
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	inv := &scriptedInvoker{outcomes: []outcome{
		{err: &Error{Kind: FailureTransport, Detail: "down"}},
	}}

	_, err := fastRetrier(t, inv, 3).Invoke(context.Background(), config.RoleReasoner, nil, false)
	require.Error(t, err)
	assert.Equal(t, 3, inv.calls)

	var invErr *Error
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, FailureTransport, invErr.Kind)
}

func TestRetrierDoesNotRetryForeignErrors(t *testing.T) {
	inv := &scriptedInvoker{outcomes: []outcome{
		{err: errors.New("programming error")},
	}}

	_, err := fastRetrier(t, inv, 3).Invoke(context.Background(), config.RoleReasoner, nil, false)
	require.Error(t, err)
	assert.Equal(t, 1, inv.calls)
}

func TestRetrierStopsOnContextCancel(t *testing.T) {
	inv := &scriptedInvoker{outcomes: []outcome{
		{err: &Error{Kind: FailureTransport, Detail: "down"}},
	}}
	r := NewRetrier(inv, 5, zaptest.NewLogger(t)).
		WithBackoffWindow(50*time.Millisecond, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Invoke(ctx, config.RoleReasoner, nil, false)
	require.Error(t, err)
	assert.Less(t, inv.calls, 5)
}
