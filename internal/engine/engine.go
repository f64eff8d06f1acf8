package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/fusion"
	"github.com/manifold-ai/manifold/internal/metrics"
	"github.com/manifold-ai/manifold/internal/reasoning"
	"github.com/manifold-ai/manifold/internal/tracing"
)

// Engine answers one question: it fans the question out to N concurrent
// reasoning passes and fuses the surviving transcripts into one answer.
// Synchronous from the caller's view; everything inside is concurrent. All
// state lives in memory for the duration of one Handle call.
type Engine struct {
	coordinator *reasoning.Coordinator
	fuser       *fusion.Fuser
	cfg         config.ReasoningConfig
	logger      *zap.Logger
}

// New wires the engine from its two collaborators.
func New(coordinator *reasoning.Coordinator, fuser *fusion.Fuser, cfg config.ReasoningConfig, logger *zap.Logger) *Engine {
	return &Engine{
		coordinator: coordinator,
		fuser:       fuser,
		cfg:         cfg,
		logger:      logger,
	}
}

// Handle runs the full pipeline for one question. Callers see either a
// complete answer or one explicit failure; intermediate failures are
// absorbed by the components that own them.
func (e *Engine) Handle(ctx context.Context, question string) (string, error) {
	requestID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, "engine.handle",
		attribute.String("request_id", requestID),
	)
	defer span.End()

	start := time.Now()
	e.logger.Info("Request started",
		zap.String("request_id", requestID),
		zap.Int("question_length", len(question)),
	)

	results, err := e.coordinator.Run(ctx, question, e.cfg.NumPasses)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("failed").Inc()
		e.logger.Error("Request failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return "", fmt.Errorf("reasoning failed: %w", err)
	}

	answer, err := e.fuser.Fuse(ctx, results, question)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("fusion failed: %w", err)
	}

	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("Request complete",
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("surviving_passes", len(results)),
		zap.Int("answer_length", len(answer)),
	)
	return answer, nil
}
