package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"chatfetch/pkg/chat"
)

const (
	scannerBufferSize = 1024 * 1024
	maxToolInputBytes = 1024 * 1024
)

// streamEvent is the union of all messages-API stream event payloads.
// The event name on the SSE "event:" line selects which fields matter.
type streamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		ID    string     `json:"id"`
		Model string     `json:"model"`
		Usage *wireUsage `json:"usage"`
	} `json:"message"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *wireUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// blockState accumulates one content block while its deltas stream in.
type blockState struct {
	kind  string
	id    string
	name  string
	text  strings.Builder
	input strings.Builder
}

// RunStream implements endpoint.Endpoint. The Messages API streams a
// single candidate, so every delta carries index 0.
func (e *Endpoint) RunStream(ctx context.Context, body io.Reader, serverRequestID string, emit chat.DeltaFunc) ([]chat.Candidate, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufferSize)

	var (
		model      string
		usage      chat.Usage
		sawMessage bool
		done       bool
		finish     = chat.FinishUnknown
		blocks     = map[int]*blockState{}
		order      []int
	)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			sawMessage = true
			if ev.Message != nil {
				model = ev.Message.Model
				if ev.Message.Usage != nil {
					usage.PromptTokens = ev.Message.Usage.InputTokens
				}
			}

		case "content_block_start":
			bs := &blockState{kind: "text"}
			if ev.ContentBlock != nil {
				bs.kind = ev.ContentBlock.Type
				bs.id = ev.ContentBlock.ID
				bs.name = ev.ContentBlock.Name
			}
			if _, ok := blocks[ev.Index]; !ok {
				order = append(order, ev.Index)
			}
			blocks[ev.Index] = bs

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			bs, ok := blocks[ev.Index]
			if !ok {
				bs = &blockState{kind: "text"}
				blocks[ev.Index] = bs
				order = append(order, ev.Index)
			}
			switch ev.Delta.Type {
			case "text_delta":
				bs.text.WriteString(ev.Delta.Text)
				if emit != nil && ev.Delta.Text != "" {
					if err := emit(chat.Delta{Index: 0, Text: ev.Delta.Text}); err != nil {
						return nil, err
					}
				}
			case "thinking_delta":
				bs.text.WriteString(ev.Delta.Thinking)
			case "input_json_delta":
				if bs.input.Len()+len(ev.Delta.PartialJSON) <= maxToolInputBytes {
					bs.input.WriteString(ev.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if bs, ok := blocks[ev.Index]; ok && bs.kind == "tool_use" && emit != nil {
				part := toolPart(bs)
				if err := emit(chat.Delta{Index: 0, ToolCall: &part}); err != nil {
					return nil, err
				}
			}

		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				finish = mapStopReason(ev.Delta.StopReason)
			}
			if ev.Usage != nil {
				usage.CompletionTokens = ev.Usage.OutputTokens
			}

		case "message_stop":
			done = true

		case "error":
			if ev.Error != nil {
				return nil, fmt.Errorf("anthropic: stream error: %s: %s", ev.Error.Type, ev.Error.Message)
			}
			return nil, fmt.Errorf("anthropic: stream error")
		}

		if done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: read stream: %w", err)
	}
	if !sawMessage {
		return nil, nil
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return []chat.Candidate{assembleCandidate(model, finish, usage, blocks, order, serverRequestID)}, nil
}

// toolPart converts an accumulated tool_use block into a tool call part.
func toolPart(bs *blockState) chat.Part {
	args := bs.input.String()
	if args == "" {
		args = "{}"
	}
	return chat.NewToolCallPart(bs.id, bs.name, json.RawMessage(args))
}

// assembleCandidate builds the single candidate from the accumulated
// content blocks, preserving block order.
func assembleCandidate(model string, finish chat.FinishReason, usage chat.Usage, blocks map[int]*blockState, order []int, serverRequestID string) chat.Candidate {
	msg := chat.Message{Role: chat.RoleAssistant}
	for _, idx := range order {
		bs := blocks[idx]
		switch bs.kind {
		case "text":
			msg.Content = append(msg.Content, chat.NewTextPart(bs.text.String()))
		case "thinking":
			msg.Content = append(msg.Content, chat.NewThinkingPart(bs.text.String()))
		case "tool_use":
			msg.Content = append(msg.Content, toolPart(bs))
		}
	}

	return chat.Candidate{
		Index:           0,
		Model:           model,
		FinishReason:    finish,
		Message:         msg,
		Usage:           usage,
		ServerRequestID: serverRequestID,
	}
}
