package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker. 5xx responses are
// treated as breaker failures; 4xx do not trip the breaker.
type HTTPWrapper struct {
	client *http.Client
	cb     *CircuitBreaker
}

// NewHTTPWrapper creates a breaker-guarded HTTP client.
func NewHTTPWrapper(client *http.Client, name string, config Config, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPWrapper{
		client: client,
		cb:     New(name, config, logger),
	}
}

// Do executes an HTTP request through the circuit breaker.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err2 error
		resp, err2 = hw.client.Do(req)
		if err2 != nil {
			return err2
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	// A 5xx counted against the breaker still carries a valid response the
	// caller needs to read and classify.
	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// State exposes the breaker state for health reporting.
func (hw *HTTPWrapper) State() State { return hw.cb.State() }

// httpStatusError marks 5xx responses for breaker accounting
type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
