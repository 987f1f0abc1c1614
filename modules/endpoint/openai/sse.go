package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"chatfetch/pkg/chat"
)

// scannerBufferSize is the max token size for the SSE line scanner.
// Data lines can be large (tool call arguments, long content); the
// default bufio.Scanner limit of ~64 KiB is too small.
const scannerBufferSize = 1 * 1024 * 1024

// maxToolCallArgs caps the accumulated size of a single tool call's
// arguments, protecting against a broken upstream streaming unbounded
// fragments.
const maxToolCallArgs = 1 * 1024 * 1024

// toolCallDelta accumulates streaming tool call fragments.
type toolCallDelta struct {
	id   string
	name string
	args strings.Builder
}

// choiceState accumulates one candidate across stream chunks.
type choiceState struct {
	index     int
	text      strings.Builder
	pending   map[int]*toolCallDelta
	toolParts []chat.Part
	finish    chat.FinishReason
	filter    chat.FilterCategory
}

// RunStream implements endpoint.Endpoint. It decodes the SSE stream into
// ordered candidates, invoking emit for every fragment in arrival order.
// Text deltas are emitted as they arrive; a tool call is emitted once
// its arguments are complete.
func (e *Endpoint) RunStream(ctx context.Context, body io.Reader, serverRequestID string, emit chat.DeltaFunc) ([]chat.Candidate, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerBufferSize), scannerBufferSize)

	choices := make(map[int]*choiceState)
	var usage *wireUsage
	model := e.config.Model
	done := false

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := scanner.Text()

		// SSE comments and non-data fields are skipped.
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			done = true
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("openai: decode stream chunk: %w", err)
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		for _, choice := range chunk.Choices {
			cs, ok := choices[choice.Index]
			if !ok {
				cs = &choiceState{
					index:   choice.Index,
					finish:  chat.FinishUnknown,
					pending: make(map[int]*toolCallDelta),
				}
				choices[choice.Index] = cs
			}

			if choice.Delta.Content != "" {
				cs.text.WriteString(choice.Delta.Content)
				if emit != nil {
					if err := emit(chat.Delta{Index: choice.Index, Text: choice.Delta.Content}); err != nil {
						return nil, err
					}
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				delta, ok := cs.pending[tc.Index]
				if !ok {
					delta = &toolCallDelta{}
					cs.pending[tc.Index] = delta
				}
				if tc.ID != "" {
					delta.id = tc.ID
				}
				if tc.Function.Name != "" {
					delta.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					if delta.args.Len()+len(tc.Function.Arguments) > maxToolCallArgs {
						return nil, fmt.Errorf("openai: tool call arguments exceeded %d bytes", maxToolCallArgs)
					}
					delta.args.WriteString(tc.Function.Arguments)
				}
			}

			if cat := mapFilterCategory(choice.ContentFilterResults); cat != "" {
				cs.filter = cat
			}

			if choice.FinishReason != nil {
				cs.finish = mapFinishReason(choice.FinishReason)
				// Tool calls are complete once the choice finishes.
				if err := cs.flushToolCalls(emit); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !done && len(choices) == 0 {
		// The stream ended without any chunk; treat as no choices.
		return nil, nil
	}

	return assembleCandidates(choices, model, usage, serverRequestID), nil
}

// flushToolCalls converts accumulated tool deltas into message parts,
// emitting each completed call, ordered by stream index.
func (cs *choiceState) flushToolCalls(emit chat.DeltaFunc) error {
	if len(cs.pending) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(cs.pending))
	for idx := range cs.pending {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)

	for _, idx := range indexes {
		delta := cs.pending[idx]
		args := delta.args.String()
		if args == "" {
			args = "{}"
		}
		part := chat.NewToolCallPart(delta.id, delta.name, json.RawMessage(args))
		cs.toolParts = append(cs.toolParts, part)
		if emit != nil {
			if err := emit(chat.Delta{Index: cs.index, ToolCall: &part}); err != nil {
				return err
			}
		}
	}
	cs.pending = make(map[int]*toolCallDelta)
	return nil
}

// assembleCandidates produces the ordered candidate list.
func assembleCandidates(choices map[int]*choiceState, model string, usage *wireUsage, serverRequestID string) []chat.Candidate {
	states := make([]*choiceState, 0, len(choices))
	for _, cs := range choices {
		states = append(states, cs)
	}
	slices.SortFunc(states, func(a, b *choiceState) int {
		return a.index - b.index
	})

	out := make([]chat.Candidate, 0, len(states))
	for i, cs := range states {
		msg := chat.Message{Role: chat.RoleAssistant}
		if text := cs.text.String(); text != "" {
			msg.Content = append(msg.Content, chat.NewTextPart(text))
		}
		msg.Content = append(msg.Content, cs.toolParts...)

		c := chat.Candidate{
			Index:           cs.index,
			Model:           model,
			FinishReason:    cs.finish,
			Message:         msg,
			FilterCategory:  cs.filter,
			ServerRequestID: serverRequestID,
		}
		// Usage arrives once per stream; attribute it to the first candidate.
		if i == 0 && usage != nil {
			c.Usage = chat.Usage{
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
				TotalTokens:      usage.TotalTokens,
			}
		}
		out = append(out, c)
	}
	return out
}
