package llm

import (
	"context"
	"fmt"

	"github.com/manifold-ai/manifold/internal/config"
)

// Message is one role-tagged message sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// CacheControl marks the message for provider-side prompt caching when
	// the caller passes a cache hint.
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// CacheControl is the provider-side prompt cache marker.
type CacheControl struct {
	Type string `json:"type"`
}

// FailureKind classifies why an invocation failed.
type FailureKind int

const (
	FailureTransport FailureKind = iota
	FailureHTTPStatus
	FailureMalformedResponse
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureHTTPStatus:
		return "http-status"
	case FailureMalformedResponse:
		return "malformed-response"
	default:
		return "unknown"
	}
}

// Error is the typed failure outcome of one invocation.
type Error struct {
	Kind   FailureKind
	Status int // HTTP status for FailureHTTPStatus, 0 otherwise
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("model invocation failed (%s, status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("model invocation failed (%s): %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Invoker is the single capability every model-facing component depends on:
// given role-tagged messages, return text or a typed failure.
type Invoker interface {
	Invoke(ctx context.Context, role config.Role, messages []Message, cacheHint bool) (string, error)
}
