package openai

import (
	"encoding/json"

	"chatfetch/pkg/chat"
)

// Wire types for the chat-completions request.

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	Tools         []wireTool    `json:"tools,omitempty"`
	ToolChoice    string        `json:"tool_choice,omitempty"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	N             int           `json:"n,omitempty"`
	Stop          []string      `json:"stop,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions *streamOpts   `json:"stream_options,omitempty"`
	Prediction    *prediction   `json:"prediction,omitempty"`
}

type streamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type prediction struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type wireMessage struct {
	Role string `json:"role"`

	// Content is a plain string for text-only messages, or a part array
	// for multimodal content.
	Content any `json:"content,omitempty"`

	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// Wire types for the SSE response stream.

type streamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *wireUsage     `json:"usage"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`

	// ContentFilterResults is populated by providers that report why a
	// choice was filtered.
	ContentFilterResults map[string]filterResult `json:"content_filter_results,omitempty"`
}

type streamDelta struct {
	Content   string         `json:"content,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type filterResult struct {
	Filtered bool `json:"filtered"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// toMessages converts chat messages to the wire shape. Text-only
// messages use the plain string form; anything multimodal uses the part
// array.
func toMessages(messages []chat.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: string(m.Role), Name: m.Name}

		var parts []wirePart
		var toolCalls []wireToolCall
		textOnly := true
		for _, p := range m.Content {
			switch p.Type {
			case chat.PartText, chat.PartThinking:
				parts = append(parts, wirePart{Type: "text", Text: p.Text})
			case chat.PartImage:
				textOnly = false
				parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireImageURL{URL: p.ImageURL}})
			case chat.PartToolCall:
				tc := wireToolCall{ID: p.CallID, Type: "function"}
				tc.Function.Name = p.ToolName
				tc.Function.Arguments = string(p.Arguments)
				toolCalls = append(toolCalls, tc)
			case chat.PartToolResult:
				wm.Role = string(chat.RoleTool)
				wm.ToolCallID = p.CallID
				parts = append(parts, wirePart{Type: "text", Text: p.Text})
			}
		}

		if textOnly {
			var text string
			for _, p := range parts {
				text += p.Text
			}
			if text != "" || len(toolCalls) == 0 {
				wm.Content = text
			}
		} else {
			wm.Content = parts
		}
		wm.ToolCalls = toolCalls

		out = append(out, wm)
	}
	return out
}

// toTools converts tool declarations to the wire shape.
func toTools(tools []chat.ToolDefinition) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// filterCategoryKeys maps known content_filter_results keys to a
// category, in the precedence order used when several filters tripped.
var filterCategoryKeys = []struct {
	key string
	cat chat.FilterCategory
}{
	{"protected_material_text", chat.FilterCopyright},
	{"protected_material_code", chat.FilterCopyright},
	{"self_harm", chat.FilterSelfHarm},
	{"sexual", chat.FilterSexual},
	{"violence", chat.FilterViolence},
}

// mapFilterCategory derives the filter category for a choice from its
// content_filter_results. Known keys are checked in precedence order;
// any other tripped filter (hate, jailbreak) counts as safety. Empty
// when nothing was filtered.
func mapFilterCategory(results map[string]filterResult) chat.FilterCategory {
	for _, fc := range filterCategoryKeys {
		if results[fc.key].Filtered {
			return fc.cat
		}
	}
	for _, r := range results {
		if r.Filtered {
			return chat.FilterSafety
		}
	}
	return ""
}

// mapFinishReason normalises a wire finish_reason.
func mapFinishReason(reason *string) chat.FinishReason {
	if reason == nil {
		return chat.FinishUnknown
	}
	switch *reason {
	case "stop":
		return chat.FinishStop
	case "length":
		return chat.FinishLength
	case "function_call":
		return chat.FinishFunctionCall
	case "tool_calls":
		return chat.FinishToolCalls
	case "content_filter":
		return chat.FinishContentFilter
	default:
		return chat.FinishUnknown
	}
}
