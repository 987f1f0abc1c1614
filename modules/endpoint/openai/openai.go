// Package openai implements the endpoint contract for OpenAI-compatible
// chat-completions APIs. It owns the wire format only: request body
// construction and SSE stream decoding. The fetch engine owns the HTTP
// exchange, cancellation, and failure classification.
package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatfetch/pkg/chat"
	"chatfetch/pkg/endpoint"
)

// Config describes one OpenAI-compatible model endpoint.
type Config struct {
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	MaxPromptTokens int    `yaml:"max_prompt_tokens"`
	Vision          bool   `yaml:"supports_vision"`

	// Temperature and TopP are defaults merged under request options.
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 4096
	}
	if c.MaxPromptTokens == 0 {
		c.MaxPromptTokens = 128000
	}
}

// Endpoint speaks the chat-completions wire protocol.
type Endpoint struct {
	config Config
}

// New creates an Endpoint from config.
func New(cfg Config) (*Endpoint, error) {
	cfg.defaults()
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	return &Endpoint{config: cfg}, nil
}

// Model implements endpoint.Endpoint.
func (e *Endpoint) Model() string { return e.config.Model }

// URL implements endpoint.Endpoint.
func (e *Endpoint) URL() string {
	return strings.TrimSuffix(e.config.BaseURL, "/") + "/chat/completions"
}

// APIType implements endpoint.Endpoint.
func (e *Endpoint) APIType() endpoint.APIType { return endpoint.APIChatCompletions }

// MaxOutputTokens implements endpoint.Endpoint.
func (e *Endpoint) MaxOutputTokens() int { return e.config.MaxOutputTokens }

// ModelMaxPromptTokens implements endpoint.Endpoint.
func (e *Endpoint) ModelMaxPromptTokens() int { return e.config.MaxPromptTokens }

// SupportsVision implements endpoint.Endpoint.
func (e *Endpoint) SupportsVision() bool { return e.config.Vision }

// CreateRequestBody implements endpoint.Endpoint, merging request-level
// options over config defaults.
func (e *Endpoint) CreateRequestBody(req *chat.Request) ([]byte, error) {
	cr := chatRequest{
		Model:    e.config.Model,
		Messages: toMessages(req.Messages),
		Stream:   true,
		StreamOptions: &streamOpts{
			IncludeUsage: true,
		},
	}

	if len(req.Tools) > 0 {
		cr.Tools = toTools(req.Tools)
	}
	if req.Options.ToolChoice != "" {
		cr.ToolChoice = string(req.Options.ToolChoice)
	}

	switch {
	case req.Options.MaxTokens > 0:
		cr.MaxTokens = req.Options.MaxTokens
	case e.config.MaxOutputTokens > 0:
		cr.MaxTokens = e.config.MaxOutputTokens
	}

	switch {
	case req.Options.Temperature != nil:
		cr.Temperature = req.Options.Temperature
	case e.config.Temperature != nil:
		cr.Temperature = e.config.Temperature
	}

	switch {
	case req.Options.TopP != nil:
		cr.TopP = req.Options.TopP
	case e.config.TopP != nil:
		cr.TopP = e.config.TopP
	}

	if n := req.Options.CandidateCount(); n > 1 {
		cr.N = n
	}
	if len(req.Options.Stop) > 0 {
		cr.Stop = req.Options.Stop
	}
	if req.Options.Prediction != "" {
		cr.Prediction = &prediction{Type: "content", Content: req.Options.Prediction}
	}

	return json.Marshal(cr)
}

// Interface guard.
var _ endpoint.Endpoint = (*Endpoint)(nil)
