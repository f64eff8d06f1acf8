package reasoning

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/llm"
	"github.com/manifold-ai/manifold/internal/templates"
)

// funcInvoker adapts a function to llm.Invoker.
type funcInvoker struct {
	fn    func(role config.Role, messages []llm.Message) (string, error)
	calls atomic.Int64
}

func (f *funcInvoker) Invoke(ctx context.Context, role config.Role, messages []llm.Message, cacheHint bool) (string, error) {
	f.calls.Add(1)
	return f.fn(role, messages)
}

func coreRegistry() *templates.Registry {
	r := templates.NewRegistry()
	r.Register(&templates.Template{
		Name:   templates.KeyReasoning,
		System: "reason step by step",
		User:   "Q: {question}\nContext: {context}\nStep: {step}",
	})
	r.Register(&templates.Template{
		Name:   templates.KeySummary,
		System: "compress densely",
		User:   "Q: {question}\n{content}",
	})
	return r
}

func transcriptOf(texts ...string) Transcript {
	var tr Transcript
	for i, text := range texts {
		tr = append(tr, NewStep(i+1, text, false))
	}
	return tr
}

func newBuilder(t *testing.T, inv llm.Invoker) *ContextBuilder {
	t.Helper()
	return NewContextBuilder(inv, coreRegistry(), config.Default().Context, zaptest.NewLogger(t))
}

func TestContextEarlySteps(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		t.Fatal("no model call expected for early steps")
		return "", nil
	}}
	b := newBuilder(t, inv)
	ctx := context.Background()

	tr := transcriptOf("step one text", "step two text")

	assert.Empty(t, b.Build(ctx, nil, 1, "q"), "step 1 context is empty")
	assert.Equal(t, "step one text", b.Build(ctx, tr[:1], 2, "q"), "step 2 context is step 1 verbatim")
	assert.Equal(t, "step one text\n\nstep two text", b.Build(ctx, tr, 3, "q"),
		"step 3 context is steps 1+2 in order")
}

func TestContextStepFourOmitsEmptySummaryRange(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		t.Fatal("summary must be omitted when the middle range is empty")
		return "", nil
	}}
	b := newBuilder(t, inv)

	tr := transcriptOf("one", "two", "three")
	got := b.Build(context.Background(), tr, 4, "q")

	// Step 1 anchor plus the 2 trailing steps; nothing to summarize yet.
	assert.Contains(t, got, "【Step 1】\none")
	assert.Contains(t, got, "【Step 2】\ntwo")
	assert.Contains(t, got, "【Step 3】\nthree")
	assert.NotContains(t, got, "Summary")
}

func TestContextStaysBoundedAsTranscriptGrows(t *testing.T) {
	inv := &funcInvoker{fn: func(role config.Role, _ []llm.Message) (string, error) {
		require.Equal(t, config.RoleSummarizer, role)
		return "compressed middle", nil
	}}
	b := newBuilder(t, inv)
	ctx := context.Background()

	stepText := strings.Repeat("x", 400)
	var tr Transcript
	for i := 1; i < 20; i++ {
		tr = append(tr, NewStep(i, stepText, false))
	}

	// Anchor + summary + R recent steps: a small constant multiple of one
	// step's length, regardless of n.
	bound := 5 * len(stepText)
	for _, n := range []int{4, 10, 20} {
		got := b.Build(ctx, tr[:n-1], n, "q")
		assert.LessOrEqual(t, len(got), bound, "context for step %d must stay bounded", n)
		assert.Contains(t, got, "【Step 1】", "anchor step retained at n=%d", n)
	}

	// Full retention would be ~n steps; make sure we are nowhere near it.
	assert.Less(t, len(b.Build(ctx, tr[:19], 20, "q")), 19*len(stepText)/2)
}

func TestContextSummarizesMiddleSteps(t *testing.T) {
	var gotContent string
	inv := &funcInvoker{fn: func(role config.Role, messages []llm.Message) (string, error) {
		gotContent = messages[1].Content
		return "the middle, compressed", nil
	}}
	b := newBuilder(t, inv)

	tr := transcriptOf("one", "two", "three", "four", "five", "six")
	got := b.Build(context.Background(), tr, 7, "q")

	// Middle range for step 7 with R=2 is steps 2..4.
	assert.Contains(t, got, "【Summary of steps 2-4】\nthe middle, compressed")
	assert.Contains(t, gotContent, "Step 2: two")
	assert.Contains(t, gotContent, "Step 4: four")
	assert.NotContains(t, gotContent, "Step 5")

	// Recent steps 5 and 6 verbatim, plus the anchor.
	assert.Contains(t, got, "【Step 1】\none")
	assert.Contains(t, got, "【Step 5】\nfive")
	assert.Contains(t, got, "【Step 6】\nsix")
	assert.NotContains(t, got, "【Step 3】")
}

func TestContextSummaryFailureUsesPlaceholder(t *testing.T) {
	inv := &funcInvoker{fn: func(config.Role, []llm.Message) (string, error) {
		return "", &llm.Error{Kind: llm.FailureTransport, Detail: "down"}
	}}
	b := newBuilder(t, inv)

	tr := transcriptOf("one", "two", "three", "four", "five", "six")
	got := b.Build(context.Background(), tr, 7, "q")

	assert.Contains(t, got, "【Summary of steps 2-4 unavailable】")
	assert.Contains(t, got, "【Step 6】\nsix", "failure must not drop the recent steps")
}
