package reasoning

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/llm"
	"github.com/manifold-ai/manifold/internal/templates"
)

// Coordinator launches N fully independent passes concurrently and collects
// whatever survives. One pass failing, panicking or stalling cannot affect a
// sibling; the run as a whole fails only when zero passes produce a result.
type Coordinator struct {
	invoker   llm.Invoker
	builder   *ContextBuilder
	validator StepValidator
	templates *templates.Registry
	cfg       config.ReasoningConfig
	logger    *zap.Logger
}

// NewCoordinator wires the coordinator.
func NewCoordinator(invoker llm.Invoker, builder *ContextBuilder, validator StepValidator, reg *templates.Registry, cfg config.ReasoningConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		invoker:   invoker,
		builder:   builder,
		validator: validator,
		templates: reg,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes numPasses passes in parallel (config default when
// numPasses <= 0) and returns surviving results ordered by pass id.
func (c *Coordinator) Run(ctx context.Context, question string, numPasses int) ([]*PassResult, error) {
	if numPasses <= 0 {
		numPasses = c.cfg.NumPasses
	}

	c.logger.Info("Coordinator starting passes",
		zap.Int("num_passes", numPasses),
	)

	var (
		mu      sync.Mutex
		results []*PassResult
		wg      sync.WaitGroup
	)

	for id := 1; id <= numPasses; id++ {
		pass := NewPass(id, c.invoker, c.builder, c.validator, c.templates, c.cfg, c.logger)
		wg.Add(1)
		go func(p *Pass) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Pass panicked, discarding it",
						zap.Int("pass_id", p.id),
						zap.Any("panic", r),
					)
				}
			}()

			result, err := p.Run(ctx, question)
			if err != nil {
				c.logger.Warn("Pass produced no result",
					zap.Int("pass_id", p.id),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(pass)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].PassID < results[j].PassID })

	if len(results) == 0 {
		return nil, fmt.Errorf("all %d reasoning passes failed", numPasses)
	}

	c.logger.Info("Coordinator finished",
		zap.Int("surviving_passes", len(results)),
		zap.Int("num_passes", numPasses),
	)
	return results, nil
}
