package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/llm"
	"github.com/manifold-ai/manifold/internal/metrics"
	"github.com/manifold-ai/manifold/internal/reasoning"
	"github.com/manifold-ai/manifold/internal/templates"
	"github.com/manifold-ai/manifold/internal/tracing"
)

// fusionSlots is how many transcripts the fusion prompt carries; extra
// passes fall back to concatenation territory and missing ones are padded
// with an explicit placeholder.
const fusionSlots = 3

const noOutputPlaceholder = "(this pass produced no output)"

// ErrNoResults is returned when fusion is asked to merge nothing.
var ErrNoResults = errors.New("fusion requires at least one pass result")

// Fuser merges the final transcripts of all passes into one answer. The
// model-backed path reconciles and deduplicates; the deterministic
// concatenation fallback never fails.
type Fuser struct {
	invoker   llm.Invoker
	templates *templates.Registry
	cfg       config.FusionConfig
	logger    *zap.Logger
}

// NewFuser wires the fuser.
func NewFuser(invoker llm.Invoker, reg *templates.Registry, cfg config.FusionConfig, logger *zap.Logger) *Fuser {
	return &Fuser{
		invoker:   invoker,
		templates: reg,
		cfg:       cfg,
		logger:    logger,
	}
}

// Fuse produces the final answer from the surviving pass results.
func (f *Fuser) Fuse(ctx context.Context, results []*reasoning.PassResult, question string) (string, error) {
	if len(results) == 0 {
		return "", ErrNoResults
	}

	ctx, span := tracing.StartSpan(ctx, "fusion.fuse")
	defer span.End()

	if !f.cfg.Enabled {
		metrics.FusionsTotal.WithLabelValues("concat").Inc()
		return f.concatenate(results), nil
	}

	answer, err := f.fuseWithModel(ctx, results, question)
	if err != nil {
		f.logger.Warn("Model fusion failed, falling back to concatenation", zap.Error(err))
		metrics.FusionsTotal.WithLabelValues("concat_fallback").Inc()
		return f.concatenate(results), nil
	}
	metrics.FusionsTotal.WithLabelValues("model").Inc()
	return answer, nil
}

func (f *Fuser) fuseWithModel(ctx context.Context, results []*reasoning.PassResult, question string) (string, error) {
	slots := templates.Slots{"question": question}
	for i := 0; i < fusionSlots; i++ {
		content := noOutputPlaceholder
		if i < len(results) {
			content = transcriptText(results[i].Transcript)
		}
		slots[fmt.Sprintf("pass%d_content", i+1)] = content
	}

	system, user, err := f.templates.Render(templates.KeyFusion, slots)
	if err != nil {
		return "", err
	}

	answer, err := f.invoker.Invoke(ctx, config.RoleFuser, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, false)
	if err != nil {
		return "", err
	}

	answer = strings.TrimSpace(answer)
	f.logger.Info("Fusion complete",
		zap.Int("num_passes", len(results)),
		zap.Int("output_length", len(answer)),
	)
	return answer, nil
}

// concatenate is the deterministic fallback: every pass's every step, in
// pass-id order, under an explicit label. This path must never fail.
func (f *Fuser) concatenate(results []*reasoning.PassResult) string {
	divider := strings.Repeat("=", 60)
	var b strings.Builder
	for _, result := range results {
		fmt.Fprintf(&b, "\n%s\n【Reasoning pass %d】\n%s\n\n", divider, result.PassID, divider)
		b.WriteString(transcriptText(result.Transcript))
		b.WriteString("\n")
	}
	return b.String()
}

func transcriptText(transcript reasoning.Transcript) string {
	parts := make([]string, 0, len(transcript))
	for _, step := range transcript {
		parts = append(parts, fmt.Sprintf("【Step %d】\n%s", step.Index, step.Text))
	}
	return strings.Join(parts, "\n\n")
}
