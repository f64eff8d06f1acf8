package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/metrics"
)

// Retrier wraps an Invoker with bounded exponential-backoff retry. Every
// call site that needs retry goes through this wrapper instead of rolling
// its own loop.
type Retrier struct {
	next     Invoker
	attempts int
	minWait  time.Duration
	maxWait  time.Duration
	logger   *zap.Logger
}

// NewRetrier builds a retrier with the configured attempt bound and a
// 2s..10s exponential backoff window.
func NewRetrier(next Invoker, attempts int, logger *zap.Logger) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrier{
		next:     next,
		attempts: attempts,
		minWait:  2 * time.Second,
		maxWait:  10 * time.Second,
		logger:   logger,
	}
}

// WithBackoffWindow overrides the backoff bounds; used by tests to keep
// retries fast.
func (r *Retrier) WithBackoffWindow(min, max time.Duration) *Retrier {
	r.minWait = min
	r.maxWait = max
	return r
}

// Invoke calls the wrapped invoker, retrying typed invocation failures up to
// the attempt bound. Context cancellation stops the loop immediately.
func (r *Retrier) Invoke(ctx context.Context, role config.Role, messages []Message, cacheHint bool) (string, error) {
	var lastErr error
	wait := r.minWait

	for attempt := 1; attempt <= r.attempts; attempt++ {
		text, err := r.next.Invoke(ctx, role, messages, cacheHint)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var invErr *Error
		if !errors.As(err, &invErr) {
			// Not an invocation failure; nothing a retry can fix.
			return "", err
		}
		if attempt == r.attempts {
			break
		}
		if ctx.Err() != nil {
			return "", lastErr
		}

		metrics.ModelCallRetries.WithLabelValues(string(role)).Inc()
		r.logger.Warn("Retrying model call",
			zap.String("role", string(role)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return "", lastErr
		case <-time.After(wait):
		}

		wait *= 2
		if wait > r.maxWait {
			wait = r.maxWait
		}
	}
	return "", lastErr
}

var _ Invoker = (*Retrier)(nil)
