package reasoning

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictPendingThenAttached(t *testing.T) {
	step := NewStep(1, "text", false)

	_, ok := step.Verdict()
	assert.False(t, ok, "verdict must read as pending before attachment")

	attached := step.AttachVerdict(&Verdict{Passed: true, VotesFor: 3})
	assert.True(t, attached)

	v, ok := step.Verdict()
	require.True(t, ok)
	assert.True(t, v.Passed)
	assert.Equal(t, 3, v.VotesFor)
}

func TestVerdictSingleAssignment(t *testing.T) {
	step := NewStep(1, "text", false)

	require.True(t, step.AttachVerdict(&Verdict{Passed: true}))
	assert.False(t, step.AttachVerdict(&Verdict{Passed: false}), "second attachment must lose")

	v, ok := step.Verdict()
	require.True(t, ok)
	assert.True(t, v.Passed, "first attachment must win")
}

func TestVerdictConcurrentAttachment(t *testing.T) {
	step := NewStep(1, "text", false)

	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		passed := i%2 == 0
		wg.Add(1)
		go func(p bool) {
			defer wg.Done()
			if step.AttachVerdict(&Verdict{Passed: p}) {
				wins <- p
			}
		}(passed)
	}
	wg.Wait()
	close(wins)

	var winners []bool
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one attachment wins")

	v, ok := step.Verdict()
	require.True(t, ok)
	assert.Equal(t, winners[0], v.Passed)
}

func TestNewStepRecordsLength(t *testing.T) {
	step := NewStep(4, "12345", true)
	assert.Equal(t, 4, step.Index)
	assert.Equal(t, 5, step.Length)
	assert.True(t, step.Complete)
}
