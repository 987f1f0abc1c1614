package chat

// FinishReason describes why the model stopped generating a candidate.
type FinishReason string

// FinishReason constants as reported by providers, normalised.
const (
	FinishStop          FinishReason = "stop"
	FinishClientTrimmed FinishReason = "client_trimmed"
	FinishFunctionCall  FinishReason = "function_call"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishLength        FinishReason = "length"
	FinishServerError   FinishReason = "server_error"
	FinishUnknown       FinishReason = "unknown"
)

// Successful reports whether the finish reason counts as a completed
// generation the caller can use.
func (f FinishReason) Successful() bool {
	switch f {
	case FinishStop, FinishClientTrimmed, FinishFunctionCall, FinishToolCalls:
		return true
	default:
		return false
	}
}

// FilterCategory classifies why content was filtered.
type FilterCategory string

// FilterCategory constants.
const (
	FilterCopyright FilterCategory = "copyright"
	FilterSafety    FilterCategory = "safety"
	FilterSelfHarm  FilterCategory = "self_harm"
	FilterSexual    FilterCategory = "sexual"
	FilterViolence  FilterCategory = "violence"
)

// Usage tracks token consumption for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Candidate is one model-generated answer among possibly several
// requested via Options.N.
type Candidate struct {
	// Index is the provider-assigned choice index.
	Index int

	// Model is the model that actually served the candidate, which may
	// differ from the requested model after server-side routing.
	Model string

	FinishReason FinishReason
	Message      Message
	Usage        Usage

	// FilterCategory is set when FinishReason is FinishContentFilter.
	FilterCategory FilterCategory

	// ServerRequestID is the provider-assigned id for the exchange.
	ServerRequestID string
}

// Text returns the candidate's concatenated text content.
func (c Candidate) Text() string {
	return c.Message.Text()
}

// Delta is one incremental fragment of a streaming candidate. Deltas are
// delivered in strict arrival order, never reordered or coalesced across
// candidates.
type Delta struct {
	// Index is the candidate the fragment belongs to.
	Index int

	Text string

	// ToolCall is a completed tool invocation, present once the provider
	// has finished streaming its arguments.
	ToolCall *Part
}

// DeltaFunc receives incremental fragments during streaming. It is called
// from a single goroutine; returning an error stops the stream.
type DeltaFunc func(Delta) error
