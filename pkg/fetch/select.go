package fetch

import (
	"chatfetch/internal/repetition"
	"chatfetch/pkg/chat"
)

// selectResult reduces the ordered candidate completions of one request
// to a single result. n is the requested candidate count: usage is only
// meaningful when one candidate was asked for.
//
// Repetitive candidates are dropped from the success pool but still
// counted; the second return value is the number dropped, surfaced in
// telemetry.
func selectResult(candidates []chat.Candidate, n int) (*chat.Result, int) {
	if len(candidates) == 0 {
		return &chat.Result{Kind: chat.KindUnknown, Reason: "no choices"}, 0
	}

	dropped := 0
	var accepted []chat.Candidate
	for _, c := range candidates {
		if !c.FinishReason.Successful() {
			continue
		}
		if repetition.IsRepetitive(repetition.Tokenize(c.Text())) {
			dropped++
			continue
		}
		accepted = append(accepted, c)
	}

	if len(accepted) > 0 {
		res := &chat.Result{
			Kind:            chat.KindSuccess,
			ServerRequestID: accepted[0].ServerRequestID,
		}
		for _, c := range accepted {
			res.Texts = append(res.Texts, c.Text())
		}
		for _, p := range accepted[0].Message.Content {
			if p.Type == chat.PartToolCall {
				res.ToolCalls = append(res.ToolCalls, p)
			}
		}
		// Aggregated usage is undefined across multiple candidates.
		if n <= 1 {
			res.Usage = accepted[0].Usage
		}
		return res, dropped
	}

	first := candidates[0]
	res := &chat.Result{ServerRequestID: first.ServerRequestID}
	switch first.FinishReason {
	case chat.FinishContentFilter:
		res.Kind = chat.KindFilteredRetry
		res.FilterCategory = first.FilterCategory
		if res.FilterCategory == "" {
			res.FilterCategory = chat.FilterCopyright
		}
	case chat.FinishLength:
		res.Kind = chat.KindLength
		res.Texts = []string{first.Text()}
		if n <= 1 {
			res.Usage = first.Usage
		}
	case chat.FinishServerError:
		res.Kind = chat.KindServerError
		res.Reason = "model reported a server error while generating"
	default:
		res.Kind = chat.KindUnknown
		res.Reason = "no usable completion"
	}
	return res, dropped
}
