// Package llm is the single entry point for model calls: plain-text and
// schema-constrained JSON completions with retry, truncation continuation,
// response validation, and a deterministic mock mode for tests and CI.
package llm

import (
	"context"
	"errors"
)

// Failure modes surfaced by the gateway. Transient kinds (unavailable,
// rate-limited, timeout) are retried inside the gateway before surfacing.
var (
	// ErrUnavailable indicates the model service could not be reached or
	// returned a server error.
	ErrUnavailable = errors.New("llm unavailable")

	// ErrRateLimited indicates the model service rejected the call due to
	// rate limiting.
	ErrRateLimited = errors.New("llm rate limited")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("llm timeout")

	// ErrInvalidStructuredResponse indicates the model output failed JSON
	// parsing or schema validation after continuation attempts.
	ErrInvalidStructuredResponse = errors.New("invalid structured response")
)

// Request is a single completion request.
type Request struct {
	// ItineraryID scopes the per-itinerary concurrency cap and mock routing.
	// May be empty for calls outside an itinerary context.
	ItineraryID string

	System string
	User   string

	Model       string
	Temperature float32
	MaxTokens   int

	// MockKey selects an explicit canned response in mock mode. When empty,
	// the mock client hashes the prompts instead.
	MockKey string
}

// Client is the transport beneath the gateway: one completion in, one
// completion out. Implementations: the OpenAI-compatible client and the
// mock client.
type Client interface {
	Complete(ctx context.Context, req *Request) (string, error)
	Close() error
}

// retryable reports whether the error kind warrants a gateway retry.
func retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout)
}
