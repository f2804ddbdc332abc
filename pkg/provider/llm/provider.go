// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a completion service (the scriptcoach proxy speaking the
// Anthropic Messages contract, or a direct SDK backend) and exposes a single
// request/response call to the dialogue client. The role-play loop never
// streams: a prospect reply is two to four sentences and is voiced as a whole.
//
// Implementors must be safe for concurrent use. Errors should be classified
// with the [failure] taxonomy so callers can tell "server unreachable" from
// "API returned an error".
package llm

import "context"

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Implementations return a *failure.TransportError when the request could
	// not be delivered or answered (including ctx deadline expiry) and a
	// *failure.RemoteServiceError when the backend answered with a
	// non-success status.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
