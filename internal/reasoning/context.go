package reasoning

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/llm"
	"github.com/manifold-ai/manifold/internal/metrics"
	"github.com/manifold-ai/manifold/internal/templates"
)

// ContextBuilder produces the text injected before each step. Early steps
// get full retention; from step 4 on the context is bounded: the first step
// verbatim (anchors the framing), a compressed summary of the middle steps,
// and the last R steps verbatim.
type ContextBuilder struct {
	invoker   llm.Invoker
	templates *templates.Registry
	cfg       config.ContextConfig
	logger    *zap.Logger
}

// NewContextBuilder wires the builder. The invoker is only used for middle
// summarization; a summary failure degrades to a placeholder, never an
// error.
func NewContextBuilder(invoker llm.Invoker, reg *templates.Registry, cfg config.ContextConfig, logger *zap.Logger) *ContextBuilder {
	return &ContextBuilder{
		invoker:   invoker,
		templates: reg,
		cfg:       cfg,
		logger:    logger,
	}
}

// Build returns the context text for the step at nextIndex given the steps
// produced so far.
func (b *ContextBuilder) Build(ctx context.Context, transcript Transcript, nextIndex int, question string) string {
	text := b.build(ctx, transcript, nextIndex, question)
	metrics.ContextLength.Observe(float64(len(text)))
	return text
}

func (b *ContextBuilder) build(ctx context.Context, transcript Transcript, nextIndex int, question string) string {
	switch {
	case nextIndex <= 1 || len(transcript) == 0:
		return ""
	case nextIndex == 2:
		return transcript[0].Text
	case nextIndex == 3:
		if len(transcript) < 2 {
			return transcript[0].Text
		}
		return transcript[0].Text + "\n\n" + transcript[1].Text
	}

	recent := b.cfg.PreserveRecentSteps
	parts := []string{labelStep(transcript[0])}

	// Middle steps 2..(nextIndex-1-recent), compressed through one model
	// call when the range is non-empty.
	middleFirst := 2
	middleLast := nextIndex - 1 - recent
	if b.cfg.EnableSummary && middleLast >= middleFirst {
		middle := sliceSteps(transcript, middleFirst, middleLast)
		if len(middle) > 0 {
			parts = append(parts, b.summarize(ctx, middle, question))
		}
	}

	// Last R steps verbatim.
	recentFirst := nextIndex - recent
	if recentFirst < middleFirst {
		recentFirst = middleFirst
	}
	for _, step := range sliceSteps(transcript, recentFirst, nextIndex-1) {
		parts = append(parts, labelStep(step))
	}

	return strings.Join(parts, "\n\n")
}

// sliceSteps returns steps with 1-based indices in [first, last] that exist
// in the transcript.
func sliceSteps(transcript Transcript, first, last int) []*Step {
	var out []*Step
	for _, s := range transcript {
		if s.Index >= first && s.Index <= last {
			out = append(out, s)
		}
	}
	return out
}

func labelStep(s *Step) string {
	return fmt.Sprintf("【Step %d】\n%s", s.Index, s.Text)
}

func (b *ContextBuilder) summarize(ctx context.Context, middle []*Step, question string) string {
	first, last := middle[0].Index, middle[len(middle)-1].Index

	var combined strings.Builder
	total := 0
	for i, s := range middle {
		if i > 0 {
			combined.WriteString("\n\n")
		}
		fmt.Fprintf(&combined, "Step %d: %s", s.Index, s.Text)
		total += s.Length
	}

	system, user, err := b.templates.Render(templates.KeySummary, templates.Slots{
		"question": question,
		"content":  combined.String(),
	})
	if err != nil {
		b.logger.Error("Summary template missing", zap.Error(err))
		return summaryPlaceholder(first, last)
	}

	summary, err := b.invoker.Invoke(ctx, config.RoleSummarizer, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, false)
	if err != nil {
		b.logger.Warn("Middle summary failed, using placeholder",
			zap.Int("first_step", first),
			zap.Int("last_step", last),
			zap.Error(err),
		)
		return summaryPlaceholder(first, last)
	}

	summary = strings.TrimSpace(summary)
	b.logger.Debug("Middle summary generated",
		zap.Int("first_step", first),
		zap.Int("last_step", last),
		zap.Int("original_chars", total),
		zap.Int("summary_chars", len(summary)),
	)
	return fmt.Sprintf("【Summary of steps %d-%d】\n%s", first, last, summary)
}

func summaryPlaceholder(first, last int) string {
	return fmt.Sprintf("【Summary of steps %d-%d unavailable】", first, last)
}
