package reasoning

import (
	"context"
	"sync"
)

// Markers the reasoner must emit to signal flow control. They are stripped
// from the stored step text.
const (
	MarkerComplete = "【complete】"
	MarkerContinue = "【continue】"
)

// Verdict is the outcome of adversarial validation for one step. It is
// produced asynchronously; a step may be observed before its verdict exists.
type Verdict struct {
	Passed           bool
	VotesFor         int
	VotesAgainst     int
	CounterArguments []string
	Rationales       []string
}

// verdictCell is a single-assignment slot. The detached validation goroutine
// may settle it after the owning pass has terminated; readers see either
// "pending" or the settled value, never a torn write.
type verdictCell struct {
	mu      sync.Mutex
	settled bool
	verdict *Verdict
}

func (c *verdictCell) resolve(v *Verdict) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return false
	}
	c.settled = true
	c.verdict = v
	return true
}

func (c *verdictCell) load() (*Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verdict, c.settled
}

// Step is one model-generated increment of reasoning within a pass. The text
// is written once at creation; only the verdict attaches later.
type Step struct {
	Index    int // 1-based, monotonic per pass
	Text     string
	Complete bool
	Length   int

	verdict verdictCell
}

// NewStep builds a step from a successful invocation's cleaned text.
func NewStep(index int, text string, complete bool) *Step {
	return &Step{
		Index:    index,
		Text:     text,
		Complete: complete,
		Length:   len(text),
	}
}

// AttachVerdict settles the step's verdict. Only the first attachment wins;
// later attempts report false.
func (s *Step) AttachVerdict(v *Verdict) bool {
	return s.verdict.resolve(v)
}

// Verdict returns the attached verdict, or ok=false while validation is
// still pending.
func (s *Step) Verdict() (*Verdict, bool) {
	return s.verdict.load()
}

// Transcript is the ordered sequence of a pass's steps. Append-only while
// the pass runs; frozen at termination.
type Transcript []*Step

// TerminalReason records why a pass stopped.
type TerminalReason string

const (
	ReasonCompleted       TerminalReason = "completed"
	ReasonBudgetExhausted TerminalReason = "budget-exhausted"
	ReasonFailed          TerminalReason = "failed"
)

// PassResult is the read-only outcome of one terminated pass.
type PassResult struct {
	PassID     int
	Transcript Transcript
	Reason     TerminalReason
}

// StepValidator checks one finished step. Implementations must be safe to
// run detached from the pass that produced the step.
type StepValidator interface {
	Validate(ctx context.Context, stepText, question string, stepIndex int) *Verdict
}
