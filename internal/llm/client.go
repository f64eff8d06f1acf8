package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/circuitbreaker"
	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/metrics"
	"github.com/manifold-ai/manifold/internal/ratecontrol"
	"github.com/manifold-ai/manifold/internal/tracing"
)

// Client issues single model requests against an OpenAI-compatible
// chat-completions endpoint, through a circuit breaker and per-role rate
// limits. It maps transport/protocol failures to typed *Error outcomes and
// never retries by itself; wrap it in a Retrier for that.
type Client struct {
	cfg    *config.Config
	http   *circuitbreaker.HTTPWrapper
	limits *ratecontrol.Controller
	logger *zap.Logger

	calls atomic.Int64
}

// NewClient builds the backend client. The transport is sized for the peak
// concurrency of numPasses x (1 + K + M) overlapping in-flight requests.
func NewClient(cfg *config.Config, limits *ratecontrol.Controller, logger *zap.Logger) *Client {
	maxConns := cfg.HTTP.MaxConns
	if maxConns <= 0 {
		maxConns = cfg.PeakConcurrency()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.HTTP.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.HTTP.Timeout,
	}

	return &Client{
		cfg:    cfg,
		http:   circuitbreaker.NewHTTPWrapper(httpClient, "model-backend", circuitbreaker.DefaultConfig(), logger),
		limits: limits,
		logger: logger,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens         int `json:"prompt_tokens"`
		CompletionTokens     int `json:"completion_tokens"`
		CacheReadInputTokens int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// TotalCalls reports how many backend calls this client has issued.
func (c *Client) TotalCalls() int64 { return c.calls.Load() }

// Invoke issues one model request for the given role.
func (c *Client) Invoke(ctx context.Context, role config.Role, messages []Message, cacheHint bool) (string, error) {
	model, err := c.cfg.Model(role)
	if err != nil {
		return "", &Error{Kind: FailureTransport, Detail: err.Error(), Err: err}
	}

	if err := c.limits.Wait(ctx, string(role)); err != nil {
		return "", &Error{Kind: FailureTransport, Detail: "rate limit wait: " + err.Error(), Err: err}
	}

	if cacheHint {
		messages = markCacheable(messages)
	}

	payload, err := json.Marshal(chatRequest{
		Model:       model.Model,
		Messages:    messages,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
	})
	if err != nil {
		return "", &Error{Kind: FailureTransport, Detail: "marshal request: " + err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, model.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: FailureTransport, Detail: "build request: " + err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if model.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+model.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)

	c.calls.Add(1)
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ModelCallDuration.WithLabelValues(string(role)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelCallsTotal.WithLabelValues(string(role), "transport_error").Inc()
		c.logger.Warn("Model call transport failure",
			zap.String("role", string(role)),
			zap.Error(err),
		)
		return "", &Error{Kind: FailureTransport, Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ModelCallsTotal.WithLabelValues(string(role), "transport_error").Inc()
		return "", &Error{Kind: FailureTransport, Detail: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		metrics.ModelCallsTotal.WithLabelValues(string(role), "http_error").Inc()
		c.logger.Warn("Model call HTTP failure",
			zap.String("role", string(role)),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 200)),
		)
		return "", &Error{
			Kind:   FailureHTTPStatus,
			Status: resp.StatusCode,
			Detail: truncate(string(body), 200),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.ModelCallsTotal.WithLabelValues(string(role), "malformed").Inc()
		return "", &Error{Kind: FailureMalformedResponse, Detail: "decode response: " + err.Error(), Err: err}
	}
	if len(parsed.Choices) == 0 {
		metrics.ModelCallsTotal.WithLabelValues(string(role), "malformed").Inc()
		return "", &Error{Kind: FailureMalformedResponse, Detail: "response has no choices"}
	}

	content := parsed.Choices[0].Message.Content
	metrics.ModelCallsTotal.WithLabelValues(string(role), "success").Inc()

	if cacheHint && parsed.Usage.CacheReadInputTokens > 0 {
		c.logger.Debug("Prompt cache hit",
			zap.String("role", string(role)),
			zap.Int("cached_tokens", parsed.Usage.CacheReadInputTokens),
		)
	}
	c.logger.Debug("Model call succeeded",
		zap.String("role", string(role)),
		zap.Int("content_length", len(content)),
	)
	return content, nil
}

func markCacheable(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == "system" || out[i].Role == "user" {
			out[i].CacheControl = &CacheControl{Type: "ephemeral"}
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Invoker = (*Client)(nil)
