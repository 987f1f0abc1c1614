// Package anthropic implements the endpoint contract for the Anthropic
// Messages API. The wire client is hand-rolled: the fetch engine owns
// the HTTP exchange, so an SDK that manages its own transport and
// retries cannot be used underneath it.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatfetch/pkg/chat"
	"chatfetch/pkg/endpoint"
)

// apiVersion is the anthropic-version value the wire format tracks.
const apiVersion = "2023-06-01"

// Config describes one Anthropic model endpoint.
type Config struct {
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	MaxPromptTokens int    `yaml:"max_prompt_tokens"`
	Vision          bool   `yaml:"supports_vision"`

	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.anthropic.com"
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 4096
	}
	if c.MaxPromptTokens == 0 {
		c.MaxPromptTokens = 200000
	}
}

// Endpoint speaks the Anthropic Messages wire protocol.
type Endpoint struct {
	config Config
}

// New creates an Endpoint from config.
func New(cfg Config) (*Endpoint, error) {
	cfg.defaults()
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}
	return &Endpoint{config: cfg}, nil
}

// Model implements endpoint.Endpoint.
func (e *Endpoint) Model() string { return e.config.Model }

// URL implements endpoint.Endpoint.
func (e *Endpoint) URL() string {
	return strings.TrimSuffix(e.config.BaseURL, "/") + "/v1/messages"
}

// APIType implements endpoint.Endpoint.
func (e *Endpoint) APIType() endpoint.APIType { return endpoint.APIMessages }

// MaxOutputTokens implements endpoint.Endpoint.
func (e *Endpoint) MaxOutputTokens() int { return e.config.MaxOutputTokens }

// ModelMaxPromptTokens implements endpoint.Endpoint.
func (e *Endpoint) ModelMaxPromptTokens() int { return e.config.MaxPromptTokens }

// SupportsVision implements endpoint.Endpoint.
func (e *Endpoint) SupportsVision() bool { return e.config.Vision }

// Wire types.

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Version     string        `json:"anthropic_version,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Source    *wireImage      `json:"source,omitempty"`
}

type wireImage struct {
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// CreateRequestBody implements endpoint.Endpoint. System messages are
// lifted out of the history into the dedicated system field.
func (e *Endpoint) CreateRequestBody(req *chat.Request) ([]byte, error) {
	wr := wireRequest{
		Model:     e.config.Model,
		MaxTokens: e.config.MaxOutputTokens,
		Stream:    true,
		Version:   apiVersion,
	}

	if req.Options.MaxTokens > 0 {
		wr.MaxTokens = req.Options.MaxTokens
	}
	switch {
	case req.Options.Temperature != nil:
		wr.Temperature = req.Options.Temperature
	case e.config.Temperature != nil:
		wr.Temperature = e.config.Temperature
	}
	switch {
	case req.Options.TopP != nil:
		wr.TopP = req.Options.TopP
	case e.config.TopP != nil:
		wr.TopP = e.config.TopP
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == chat.RoleSystem {
			system = append(system, m.Text())
			continue
		}
		wr.Messages = append(wr.Messages, toWireMessage(m))
	}
	wr.System = strings.Join(system, "\n\n")

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return json.Marshal(wr)
}

// toWireMessage converts one chat message. Tool results become user
// messages carrying tool_result blocks, per the messages protocol.
func toWireMessage(m chat.Message) wireMessage {
	role := string(m.Role)
	if m.Role == chat.RoleTool {
		role = string(chat.RoleUser)
	}

	wm := wireMessage{Role: role}
	for _, p := range m.Content {
		switch p.Type {
		case chat.PartText:
			wm.Content = append(wm.Content, wireContent{Type: "text", Text: p.Text})
		case chat.PartThinking:
			wm.Content = append(wm.Content, wireContent{Type: "thinking", Thinking: p.Text})
		case chat.PartImage:
			wm.Content = append(wm.Content, wireContent{
				Type:   "image",
				Source: &wireImage{Type: "url", URL: p.ImageURL, MediaType: p.MIMEType},
			})
		case chat.PartToolCall:
			wm.Content = append(wm.Content, wireContent{
				Type:  "tool_use",
				ID:    p.CallID,
				Name:  p.ToolName,
				Input: p.Arguments,
			})
		case chat.PartToolResult:
			wm.Role = string(chat.RoleUser)
			wm.Content = append(wm.Content, wireContent{
				Type:      "tool_result",
				ToolUseID: p.CallID,
				Content:   p.Text,
			})
		}
	}
	return wm
}

// mapStopReason normalises a messages-API stop reason.
func mapStopReason(reason string) chat.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return chat.FinishStop
	case "max_tokens":
		return chat.FinishLength
	case "tool_use":
		return chat.FinishToolCalls
	case "refusal":
		return chat.FinishContentFilter
	case "":
		return chat.FinishUnknown
	default:
		return chat.FinishUnknown
	}
}

// Interface guard.
var _ endpoint.Endpoint = (*Endpoint)(nil)
