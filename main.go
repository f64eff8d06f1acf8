package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/engine"
	"github.com/manifold-ai/manifold/internal/fusion"
	"github.com/manifold-ai/manifold/internal/httpapi"
	"github.com/manifold-ai/manifold/internal/llm"
	"github.com/manifold-ai/manifold/internal/ratecontrol"
	"github.com/manifold-ai/manifold/internal/reasoning"
	"github.com/manifold-ai/manifold/internal/templates"
	"github.com/manifold-ai/manifold/internal/tracing"
	"github.com/manifold-ai/manifold/internal/validation"
)

func main() {
	configPath := flag.String("config", "config/manifold.yaml", "path to the service configuration file")
	rateLimitsPath := flag.String("rate-limits", "config/rate_limits.yaml", "path to the per-role rate limit file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Configuration with hot reload. Model endpoint and pipeline changes
	// apply on the next request; listener addresses need a restart.
	cfgMgr, err := config.NewManager(*configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfgMgr.Start(ctx); err != nil {
		logger.Fatal("Failed to start configuration manager", zap.Error(err))
	}
	defer cfgMgr.Stop()
	cfg := cfgMgr.Current()

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}

	registry := templates.NewRegistry()
	if err := registry.LoadDirectory(cfg.TemplateDir); err != nil {
		logger.Fatal("Failed to load prompt templates",
			zap.String("dir", cfg.TemplateDir),
			zap.Error(err),
		)
	}
	logger.Info("Prompt templates loaded",
		zap.String("dir", cfg.TemplateDir),
		zap.Strings("names", registry.Names()),
	)

	limits := ratecontrol.NewController(logger)
	if err := limits.Load(*rateLimitsPath); err != nil {
		logger.Warn("Rate limit file not loaded, running unlimited",
			zap.String("path", *rateLimitsPath),
			zap.Error(err),
		)
	}

	// Backend invoker stack, innermost first: HTTP client with circuit
	// breaker, retry with backoff, optional Redis response cache.
	var invoker llm.Invoker = llm.NewClient(cfg, limits, logger)
	invoker = llm.NewRetrier(invoker, cfg.HTTP.RetryAttempts, logger)
	if cfg.Cache.Enabled {
		invoker = llm.NewResponseCache(invoker, cfg, logger)
	}

	builder := reasoning.NewContextBuilder(invoker, registry, cfg.Context, logger)
	validator := validation.NewValidator(invoker, registry, cfg.Validation, logger)
	coordinator := reasoning.NewCoordinator(invoker, builder, validator, registry, cfg.Reasoning, logger)
	fuser := fusion.NewFuser(invoker, registry, cfg.Fusion, logger)
	eng := engine.New(coordinator, fuser, cfg.Reasoning, logger)

	cfgMgr.OnChange(func(ev config.ChangeEvent) error {
		logger.Info("Configuration reloaded; new pipeline settings apply to new components",
			zap.String("file", ev.File),
		)
		return nil
	})

	// Public API server.
	apiMux := http.NewServeMux()
	httpapi.NewHandler(eng, cfg.Service, logger).RegisterRoutes(apiMux)
	apiServer := &http.Server{
		Addr:        cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:     apiMux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Admin server: metrics and liveness, kept off the public port.
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	adminServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Admin HTTP server listening", zap.String("addr", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("API server listening",
			zap.String("addr", apiServer.Addr),
			zap.String("model", cfg.Service.ModelName),
			zap.Int("num_passes", cfg.Reasoning.NumPasses),
			zap.Int("peak_concurrency", cfg.PeakConcurrency()),
		)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown incomplete", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
