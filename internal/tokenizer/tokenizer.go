// Package tokenizer estimates token counts for telemetry. The engine
// never consults token counts for control flow, so a cheap
// characters-per-token approximation is sufficient.
package tokenizer

import "chatfetch/pkg/chat"

// defaultCharsPerToken approximates English text at ~4 characters per token.
const defaultCharsPerToken = 4.0

// Estimator estimates the token count of text.
type Estimator struct {
	charsPerToken float64
}

// New creates an Estimator. charsPerToken <= 0 uses the English default.
func New(charsPerToken float64) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return &Estimator{charsPerToken: charsPerToken}
}

// Estimate returns the estimated token count for text, rounded up to
// avoid underestimation.
func (e *Estimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text))/e.charsPerToken) + 1
}

// CountMessages estimates the token count of a message sequence,
// including tool call arguments and results.
func (e *Estimator) CountMessages(messages []chat.Message) int {
	total := 0
	for _, m := range messages {
		for _, p := range m.Content {
			switch p.Type {
			case chat.PartText, chat.PartThinking, chat.PartToolResult:
				total += e.Estimate(p.Text)
			case chat.PartToolCall:
				total += e.Estimate(p.ToolName) + e.Estimate(string(p.Arguments))
			case chat.PartImage:
				// Images bill at a flat per-attachment estimate.
				total += 85
			}
		}
	}
	return total
}
