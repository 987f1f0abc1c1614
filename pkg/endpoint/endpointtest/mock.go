// Package endpointtest provides test helpers for the endpoint package.
package endpointtest

import (
	"context"
	"io"
	"sync"

	"chatfetch/pkg/chat"
	"chatfetch/pkg/endpoint"
)

// MockEndpoint is a configurable test double for endpoint.Endpoint.
// Zero-value metadata fields fall back to sensible defaults; unset Func
// fields use trivial implementations. All methods are safe for
// concurrent use.
type MockEndpoint struct {
	ModelName      string
	EndpointURL    string
	API            endpoint.APIType
	MaxOutput      int
	MaxPrompt      int
	Vision         bool
	CreateBodyFunc func(req *chat.Request) ([]byte, error)
	RunStreamFunc  func(ctx context.Context, body io.Reader, serverRequestID string, emit chat.DeltaFunc) ([]chat.Candidate, error)

	mu             sync.Mutex
	CreateCalls    int
	RunStreamCalls int
}

// Model implements endpoint.Endpoint.
func (m *MockEndpoint) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// URL implements endpoint.Endpoint.
func (m *MockEndpoint) URL() string {
	if m.EndpointURL == "" {
		return "http://mock.invalid/v1/chat/completions"
	}
	return m.EndpointURL
}

// APIType implements endpoint.Endpoint.
func (m *MockEndpoint) APIType() endpoint.APIType {
	if m.API == "" {
		return endpoint.APIChatCompletions
	}
	return m.API
}

// MaxOutputTokens implements endpoint.Endpoint.
func (m *MockEndpoint) MaxOutputTokens() int {
	if m.MaxOutput == 0 {
		return 4096
	}
	return m.MaxOutput
}

// ModelMaxPromptTokens implements endpoint.Endpoint.
func (m *MockEndpoint) ModelMaxPromptTokens() int {
	if m.MaxPrompt == 0 {
		return 128000
	}
	return m.MaxPrompt
}

// SupportsVision implements endpoint.Endpoint.
func (m *MockEndpoint) SupportsVision() bool {
	return m.Vision
}

// CreateRequestBody delegates to CreateBodyFunc and tracks call count.
// When unset it returns an empty JSON object.
func (m *MockEndpoint) CreateRequestBody(req *chat.Request) ([]byte, error) {
	m.mu.Lock()
	m.CreateCalls++
	m.mu.Unlock()
	if m.CreateBodyFunc == nil {
		return []byte("{}"), nil
	}
	return m.CreateBodyFunc(req)
}

// RunStream delegates to RunStreamFunc and tracks call count. When unset
// it drains the body and returns a single stop-finished candidate.
func (m *MockEndpoint) RunStream(ctx context.Context, body io.Reader, serverRequestID string, emit chat.DeltaFunc) ([]chat.Candidate, error) {
	m.mu.Lock()
	m.RunStreamCalls++
	m.mu.Unlock()
	if m.RunStreamFunc != nil {
		return m.RunStreamFunc(ctx, body, serverRequestID, emit)
	}
	text, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if emit != nil {
		if err := emit(chat.Delta{Text: string(text)}); err != nil {
			return nil, err
		}
	}
	return []chat.Candidate{{
		Model:           m.Model(),
		FinishReason:    chat.FinishStop,
		Message:         chat.AssistantMessage(string(text)),
		ServerRequestID: serverRequestID,
	}}, nil
}

// Calls returns the CreateRequestBody and RunStream call counts.
func (m *MockEndpoint) Calls() (create, run int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateCalls, m.RunStreamCalls
}

// Interface guard.
var _ endpoint.Endpoint = (*MockEndpoint)(nil)
