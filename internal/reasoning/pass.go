package reasoning

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/llm"
	"github.com/manifold-ai/manifold/internal/metrics"
	"github.com/manifold-ai/manifold/internal/templates"
	"github.com/manifold-ai/manifold/internal/tracing"
)

// Pass is one independent sequential reasoning loop: build context, invoke
// the model, parse control markers, append the step, launch detached
// validation, repeat until the model signals completion or the step budget
// runs out.
//
// A failing verdict is advisory only: it annotates the step and is reported,
// but never triggers regeneration or rollback, so the loop always terminates
// within the budget.
type Pass struct {
	id        int
	invoker   llm.Invoker
	builder   *ContextBuilder
	validator StepValidator
	templates *templates.Registry
	cfg       config.ReasoningConfig
	logger    *zap.Logger
}

// NewPass wires one pass. Passes share no mutable state; the invoker,
// builder, validator and registry are all safe for concurrent use.
func NewPass(id int, invoker llm.Invoker, builder *ContextBuilder, validator StepValidator, reg *templates.Registry, cfg config.ReasoningConfig, logger *zap.Logger) *Pass {
	return &Pass{
		id:        id,
		invoker:   invoker,
		builder:   builder,
		validator: validator,
		templates: reg,
		cfg:       cfg,
		logger:    logger.With(zap.Int("pass_id", id)),
	}
}

// Run drives the loop to termination and returns the frozen result. It
// errors only when the pass produced no steps at all; a pass that ran out of
// budget with steps in hand still yields a usable transcript.
//
// Before returning, Run waits for every detached validation so verdicts
// exist by the time the result is consumed; the verdicts never alter the
// transcript retroactively.
func (p *Pass) Run(ctx context.Context, question string) (*PassResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reasoning.pass",
		attribute.Int("pass_id", p.id),
	)
	defer span.End()

	p.logger.Info("Pass started")
	metrics.PassesStarted.Inc()

	var (
		transcript  Transcript
		validations sync.WaitGroup
		complete    bool
	)

	index := 1
	// Budget bounds invocation rounds, not appended steps: a failed round
	// consumes budget and retries the same index, so the loop runs at most
	// MaxSteps iterations no matter how the backend behaves.
	for round := 1; round <= p.cfg.MaxSteps && !complete; round++ {
		contextText := p.builder.Build(ctx, transcript, index, question)

		step, err := p.step(ctx, index, contextText, question)
		if err != nil {
			p.logger.Warn("Step invocation failed, re-attempting index",
				zap.Int("step", index),
				zap.Int("round", round),
				zap.Error(err),
			)
			continue
		}

		transcript = append(transcript, step)
		metrics.StepsTotal.Inc()
		complete = step.Complete

		validations.Add(1)
		go func(s *Step) {
			defer validations.Done()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Validation panicked", zap.Int("step", s.Index), zap.Any("panic", r))
				}
			}()
			verdict := p.validator.Validate(ctx, s.Text, question, s.Index)
			s.AttachVerdict(verdict)
		}(step)

		p.logger.Info("Step appended",
			zap.Int("step", index),
			zap.Bool("complete", complete),
			zap.Int("length", step.Length),
		)
		index++
	}

	// All verdicts must exist before the result is consumed.
	validations.Wait()

	if len(transcript) == 0 {
		metrics.PassesCompleted.WithLabelValues(string(ReasonFailed)).Inc()
		p.logger.Error("Pass produced no steps")
		return nil, fmt.Errorf("pass %d: every invocation failed within the step budget", p.id)
	}

	reason := ReasonBudgetExhausted
	if complete {
		reason = ReasonCompleted
	}
	metrics.PassesCompleted.WithLabelValues(string(reason)).Inc()
	metrics.StepsPerPass.Observe(float64(len(transcript)))

	p.logger.Info("Pass terminated",
		zap.String("reason", string(reason)),
		zap.Int("total_steps", len(transcript)),
	)

	return &PassResult{
		PassID:     p.id,
		Transcript: transcript,
		Reason:     reason,
	}, nil
}

// step performs one invocation round for the given index.
func (p *Pass) step(ctx context.Context, index int, contextText, question string) (*Step, error) {
	system, user, err := p.templates.Render(templates.KeyReasoning, templates.Slots{
		"question": question,
		"context":  contextText,
		"step":     strconv.Itoa(index),
	})
	if err != nil {
		return nil, err
	}

	raw, err := p.invoker.Invoke(ctx, config.RoleReasoner, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, p.cfg.EnableCache)
	if err != nil {
		return nil, err
	}

	complete := strings.Contains(raw, MarkerComplete)
	text := strings.TrimSpace(
		strings.ReplaceAll(strings.ReplaceAll(raw, MarkerContinue, ""), MarkerComplete, ""),
	)
	return NewStep(index, text, complete), nil
}
