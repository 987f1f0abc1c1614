// Package endpoint defines the capability contract between the fetch
// engine and a concrete completion provider. Implementations live under
// modules/endpoint and own the wire format only: the engine owns the HTTP
// exchange, cancellation, and failure classification.
package endpoint

import (
	"context"
	"io"

	"chatfetch/pkg/chat"
)

// APIType identifies the wire protocol an endpoint speaks.
type APIType string

// APIType constants.
const (
	APIChatCompletions APIType = "chat_completions"
	APIMessages        APIType = "messages"
	APIResponses       APIType = "responses"
)

// Endpoint describes one model behind one provider API.
//
// CreateRequestBody and RunStream are pure with respect to engine state:
// they translate between the chat data model and the provider wire
// format. RunStream must emit deltas in arrival order and must not retain
// the reader after returning.
type Endpoint interface {
	// Model returns the model identifier requests are routed to.
	Model() string

	// URL returns the completion endpoint URL.
	URL() string

	// APIType returns the wire protocol identifier.
	APIType() APIType

	// MaxOutputTokens is the provider cap on completion length.
	MaxOutputTokens() int

	// ModelMaxPromptTokens is the model's prompt window.
	ModelMaxPromptTokens() int

	// SupportsVision reports whether the model accepts image parts.
	SupportsVision() bool

	// CreateRequestBody builds the provider-specific JSON request body.
	CreateRequestBody(req *chat.Request) ([]byte, error)

	// RunStream consumes a raw 2xx response body and returns the ordered
	// candidate completions, invoking emit for every incremental
	// fragment as it arrives. A nil emit is valid and skips delivery.
	// serverRequestID is the provider-assigned id from the response
	// headers, attached to every candidate.
	RunStream(ctx context.Context, body io.Reader, serverRequestID string, emit chat.DeltaFunc) ([]chat.Candidate, error)
}
