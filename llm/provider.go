// Package llm provides the model-completion capability.
//
// LLM Provider interface - the abstract interface for completion backends.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error handling

package llm

import (
	"context"
)

// Provider defines the model-completion capability.
// Calls are independent: no conversation state is kept between them.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the default model.
	Model() string

	// Complete sends one completion request. Request fields left zero
	// fall back to the provider defaults.
	Complete(ctx context.Context, req Request) (Response, error)
}
