package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestCircuitBreakerStates(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxRequests = 5
	config.Timeout = 100 * time.Millisecond
	config.Interval = 200 * time.Millisecond

	cb := New("test", config, logger)
	ctx := context.Background()

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.State())
	}

	// Successful calls keep the breaker closed
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to remain closed, got %s", cb.State())
	}

	// Failure threshold trips the breaker open
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return errors.New("test error") }); err == nil {
			t.Error("Expected error, got nil")
		}
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected state to be open, got %s", cb.State())
	}

	// Open breaker rejects requests
	if err := cb.Execute(ctx, func() error { return nil }); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}

	// After the timeout the breaker probes half-open
	time.Sleep(150 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected state to be half-open, got %s", cb.State())
	}

	// Success threshold in half-open closes the breaker
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to be closed, got %s", cb.State())
	}
}

func TestHTTPWrapperCountsServerErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	config := DefaultConfig()
	config.FailureThreshold = 2
	hw := NewHTTPWrapper(srv.Client(), "backend-test", config, logger)

	// 5xx still returns the response to the caller...
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		if err != nil {
			t.Fatalf("expected response, got error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
	}

	// ...but counts toward opening the breaker.
	if hw.State() != StateOpen {
		t.Errorf("Expected open breaker after repeated 5xx, got %s", hw.State())
	}
}

func TestHTTPWrapperIgnoresClientErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	config := DefaultConfig()
	config.FailureThreshold = 2
	hw := NewHTTPWrapper(srv.Client(), "backend-4xx", config, logger)

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		if err != nil {
			t.Fatalf("expected response, got error: %v", err)
		}
		resp.Body.Close()
	}
	if hw.State() != StateClosed {
		t.Errorf("4xx must not trip the breaker, got %s", hw.State())
	}
}
