// Package chat defines the data model for the completion fetch engine:
// conversation messages with typed content parts, request options, candidate
// completions, and the closed result taxonomy callers switch on.
package chat

import "encoding/json"

// Role identifies the sender of a message in a conversation.
type Role string

// Role constants for conversation messages.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the content part union.
type PartType string

// PartType constants for message content parts.
const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
	PartThinking   PartType = "thinking"
)

// Part is a flat union representing one piece of content inside a message.
// The Type field discriminates which fields are meaningful.
type Part struct {
	Type PartType `json:"type"`

	// Text is set for text and thinking parts, and carries the result
	// payload for tool_result parts.
	Text string `json:"text,omitempty"`

	// Image fields.
	ImageURL string `json:"image_url,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`

	// Tool call fields. CallID links a tool_result back to its tool_call.
	CallID    string          `json:"call_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// NewTextPart creates a text content part.
func NewTextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// NewImagePart creates an image content part.
func NewImagePart(url, mimeType string) Part {
	return Part{Type: PartImage, ImageURL: url, MIMEType: mimeType}
}

// NewToolCallPart creates a tool invocation content part.
func NewToolCallPart(callID, name string, args json.RawMessage) Part {
	return Part{Type: PartToolCall, CallID: callID, ToolName: name, Arguments: args}
}

// NewToolResultPart creates a tool result content part.
func NewToolResultPart(callID, result string) Part {
	return Part{Type: PartToolResult, CallID: callID, Text: result}
}

// NewThinkingPart creates a reasoning content part.
func NewThinkingPart(text string) Part {
	return Part{Type: PartThinking, Text: text}
}

// Message represents a single message in a conversation. Content is an
// ordered sequence of typed parts.
type Message struct {
	Role    Role   `json:"role"`
	Content []Part `json:"content"`
	Name    string `json:"name,omitempty"`
	ToolID  string `json:"tool_id,omitempty"`
}

// UserMessage creates a user message with a single text part.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []Part{NewTextPart(text)}}
}

// AssistantMessage creates an assistant message with a single text part.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []Part{NewTextPart(text)}}
}

// SystemMessage creates a system message with a single text part.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []Part{NewTextPart(text)}}
}

// Text concatenates the message's text parts in order.
func (m Message) Text() string {
	var out string
	for _, p := range m.Content {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// HasImageParts reports whether any message in the sequence carries an
// image content part. The transport uses this to decide whether a vision
// request header is needed.
func HasImageParts(messages []Message) bool {
	for _, m := range messages {
		for _, p := range m.Content {
			if p.Type == PartImage {
				return true
			}
		}
	}
	return false
}

// ToolDefinition describes a tool the model may invoke.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolChoice constrains how the model may use the declared tools.
type ToolChoice string

// ToolChoice constants.
const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// Options are the per-request generation parameters.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	// MaxTokens caps the completion length. Zero means provider default;
	// when set it must be >= 1.
	MaxTokens int `json:"max_tokens,omitempty"`

	// N is the number of candidate completions to request. Zero means 1.
	N int `json:"n,omitempty"`

	ToolChoice ToolChoice `json:"tool_choice,omitempty"`

	// Prediction is speculative output content the provider may use to
	// accelerate generation.
	Prediction string `json:"prediction,omitempty"`

	Stop []string `json:"stop,omitempty"`
}

// CandidateCount returns N normalised to at least one candidate.
func (o Options) CandidateCount() int {
	if o.N <= 0 {
		return 1
	}
	return o.N
}

// Request is one logical completion request. It is immutable for the
// duration of a fetch except for the Telemetry map, which collaborators
// may annotate freely; the engine never reads it for control flow.
type Request struct {
	Messages []Message
	Tools    []ToolDefinition
	Options  Options

	// RetryOnFilter enables a single automatic retry after a
	// content-filtered completion.
	RetryOnFilter bool

	// RetryOnError enables a single automatic retry on a transient
	// network reconfiguration error.
	RetryOnError bool

	// UserInitiated marks requests triggered directly by a user action,
	// as opposed to background or speculative requests.
	UserInitiated bool

	// Telemetry carries free-form properties attached to emitted events.
	Telemetry map[string]string
}

// Clone returns a copy of the request with its slices and telemetry map
// duplicated, so a retry attempt can extend the message history without
// mutating the original.
func (r *Request) Clone() *Request {
	clone := *r
	if len(r.Messages) > 0 {
		clone.Messages = append([]Message(nil), r.Messages...)
	}
	if len(r.Tools) > 0 {
		clone.Tools = append([]ToolDefinition(nil), r.Tools...)
	}
	if r.Telemetry != nil {
		clone.Telemetry = make(map[string]string, len(r.Telemetry))
		for k, v := range r.Telemetry {
			clone.Telemetry[k] = v
		}
	}
	return &clone
}

// SetTelemetry annotates the request's telemetry map, allocating it on
// first use.
func (r *Request) SetTelemetry(key, value string) {
	if r.Telemetry == nil {
		r.Telemetry = make(map[string]string)
	}
	r.Telemetry[key] = value
}
