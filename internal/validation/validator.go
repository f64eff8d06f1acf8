package validation

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
	"github.com/manifold-ai/manifold/internal/reasoning"
	"github.com/manifold-ai/manifold/internal/templates"
	"github.com/manifold-ai/manifold/internal/tracing"
)

// Vote markers the voter template instructs the model to emit. Anything that
// fails to carry an explicit original-vote marker counts against the
// original: the stricter reading preserves the adversarial premise.
const (
	votePrefix   = "VOTE:"
	reasonPrefix = "REASON:"
	voteOriginal = "original"
)

// Validator adversarially checks one finished step: K parallel calls argue
// the opposite, then M parallel calls vote between the original and the
// counter-arguments. It is designed to run detached and degrades
// permissively; validation trouble never blocks the owning pass.
type Validator struct {
	invoker   llm.Invoker
	templates *templates.Registry
	cfg       config.ValidationConfig
	logger    *zap.Logger
}

// NewValidator wires the validator.
func NewValidator(invoker llm.Invoker, reg *templates.Registry, cfg config.ValidationConfig, logger *zap.Logger) *Validator {
	return &Validator{
		invoker:   invoker,
		templates: reg,
		cfg:       cfg,
		logger:    logger,
	}
}

var _ reasoning.StepValidator = (*Validator)(nil)

// Validate runs the two-phase protocol and always returns a verdict.
func (v *Validator) Validate(ctx context.Context, stepText, question string, stepIndex int) *reasoning.Verdict {
	if !v.cfg.Enabled {
		return &reasoning.Verdict{Passed: true}
	}

	ctx, span := tracing.StartSpan(ctx, "validation.step",
		attribute.Int("step", stepIndex),
	)
	defer span.End()

	counterArgs := v.generateCounterArguments(ctx, stepText, question, stepIndex)
	if len(counterArgs) == 0 {
		// No adversary exists; the step stands unopposed.
		v.logger.Warn("No counter-arguments produced, step passes by default",
			zap.Int("step", stepIndex),
		)
		metrics.ValidationsTotal.WithLabelValues("default_pass").Inc()
		return &reasoning.Verdict{Passed: true}
	}

	verdict := v.vote(ctx, stepText, counterArgs, question, stepIndex)

	outcome := "failed"
	if verdict.Passed {
		outcome = "passed"
	}
	metrics.ValidationsTotal.WithLabelValues(outcome).Inc()
	v.logger.Info("Validation complete",
		zap.Int("step", stepIndex),
		zap.Bool("passed", verdict.Passed),
		zap.Int("votes_for", verdict.VotesFor),
		zap.Int("votes_against", verdict.VotesAgainst),
	)
	return verdict
}

// generateCounterArguments fans out K parallel calls, each instructed to
// find a flaw and argue the opposite. Failed sub-calls just drop their
// counter-argument.
func (v *Validator) generateCounterArguments(ctx context.Context, stepText, question string, stepIndex int) []string {
	system, user, err := v.templates.Render(templates.KeyCounterArgument, templates.Slots{
		"question": question,
		"step":     stepText,
	})
	if err != nil {
		v.logger.Error("Counter-argument template missing", zap.Error(err))
		return nil
	}
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	out := make([]string, v.cfg.NumCounterArguments)
	var wg sync.WaitGroup
	for i := 0; i < v.cfg.NumCounterArguments; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			text, err := v.invoker.Invoke(ctx, config.RoleCritic, messages, false)
			if err != nil {
				v.logger.Warn("Counter-argument call failed",
					zap.Int("step", stepIndex),
					zap.Int("slot", slot+1),
					zap.Error(err),
				)
				return
			}
			out[slot] = strings.TrimSpace(text)
		}(i)
	}
	wg.Wait()

	var survived []string
	for _, ca := range out {
		if ca != "" {
			survived = append(survived, ca)
		}
	}
	metrics.CounterArgumentsGenerated.Add(float64(len(survived)))
	return survived
}

type ballot struct {
	cast        bool // false when the sub-call failed: counts for neither side
	forOriginal bool
	rationale   string
}

// vote fans out M parallel calls over the step plus all surviving
// counter-arguments and tallies explicit markers.
func (v *Validator) vote(ctx context.Context, stepText string, counterArgs []string, question string, stepIndex int) *reasoning.Verdict {
	var formatted strings.Builder
	for i, ca := range counterArgs {
		if i > 0 {
			formatted.WriteString("\n\n")
		}
		fmt.Fprintf(&formatted, "【Counter-argument %d】\n%s", i+1, ca)
	}

	system, user, err := v.templates.Render(templates.KeyVoting, templates.Slots{
		"question":          question,
		"step":              stepText,
		"counter_arguments": formatted.String(),
	})
	if err != nil {
		v.logger.Error("Voting template missing", zap.Error(err))
		// Degrade permissively: treat as passed rather than block the step.
		return &reasoning.Verdict{Passed: true, CounterArguments: counterArgs}
	}
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	ballots := make([]ballot, v.cfg.NumVoters)
	var wg sync.WaitGroup
	for i := 0; i < v.cfg.NumVoters; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			text, err := v.invoker.Invoke(ctx, config.RoleVoter, messages, false)
			if err != nil {
				v.logger.Warn("Vote call failed",
					zap.Int("step", stepIndex),
					zap.Int("voter", slot+1),
					zap.Error(err),
				)
				return
			}
			forOriginal, rationale := parseVote(text)
			ballots[slot] = ballot{cast: true, forOriginal: forOriginal, rationale: rationale}
		}(i)
	}
	wg.Wait()

	verdict := &reasoning.Verdict{CounterArguments: counterArgs}
	for i, b := range ballots {
		if !b.cast {
			continue
		}
		if b.forOriginal {
			verdict.VotesFor++
		} else {
			verdict.VotesAgainst++
		}
		if b.rationale != "" {
			verdict.Rationales = append(verdict.Rationales, "voter "+strconv.Itoa(i+1)+": "+b.rationale)
		}
	}
	verdict.Passed = verdict.VotesFor >= v.cfg.PassThreshold
	return verdict
}

// parseVote extracts the explicit vote marker and rationale from a voter's
// output. Missing or ambiguous markers count against the original.
func parseVote(text string) (forOriginal bool, rationale string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), votePrefix):
			value := strings.ToLower(strings.TrimSpace(line[len(votePrefix):]))
			forOriginal = value == voteOriginal
		case strings.HasPrefix(strings.ToUpper(line), reasonPrefix):
			rationale = strings.TrimSpace(line[len(reasonPrefix):])
		}
	}
	return forOriginal, rationale
}
