package chat

import "time"

// ResultKind discriminates the terminal outcome of a fetch. The set is
// closed: callers switch exhaustively, and anything a provider sends that
// the engine does not recognise degrades to KindUnknown rather than
// surfacing as a Go error.
type ResultKind string

// ResultKind constants.
const (
	KindSuccess ResultKind = "success"

	// KindFilteredRetry marks a content-filtered completion that is
	// still eligible for an automatic retry. It is internal to the
	// engine: FetchMany converts it to KindFiltered before returning.
	KindFilteredRetry ResultKind = "filtered_retry"

	KindFiltered              ResultKind = "filtered"
	KindLength                ResultKind = "length"
	KindRateLimited           ResultKind = "rate_limited"
	KindQuotaExceeded         ResultKind = "quota_exceeded"
	KindTokenExpiredOrInvalid ResultKind = "token_expired_or_invalid"
	KindBadRequest            ResultKind = "bad_request"
	KindNotFound              ResultKind = "not_found"
	KindPromptFiltered        ResultKind = "prompt_filtered"
	KindOffTopic              ResultKind = "off_topic"
	KindServerError           ResultKind = "server_error"
	KindNetworkError          ResultKind = "network_error"
	KindCanceled              ResultKind = "canceled"
	KindExtensionBlocked      ResultKind = "extension_blocked"
	KindAgentUnauthorized     ResultKind = "agent_unauthorized"
	KindAgentFailedDependency ResultKind = "agent_failed_dependency"
	KindInvalidStatefulMarker ResultKind = "invalid_stateful_marker"
	KindClientNotSupported    ResultKind = "client_not_supported"
	KindServerCanceled        ResultKind = "server_canceled"
	KindUnknown               ResultKind = "unknown"
)

// Terminal reports whether the kind may be returned to a caller.
// KindFilteredRetry is the only non-terminal kind.
func (k ResultKind) Terminal() bool {
	return k != KindFilteredRetry
}

// Result is the discriminated outcome of one logical fetch. Kind selects
// which of the optional fields are meaningful.
type Result struct {
	Kind ResultKind

	// RequestID is the engine-assigned correlation id for the exchange.
	RequestID string

	// ServerRequestID is the provider-assigned id, when known.
	ServerRequestID string

	// Texts holds the content of every accepted candidate, in original
	// order. Set for KindSuccess; for KindLength it holds the single
	// truncated text.
	Texts []string

	// ToolCalls holds completed tool invocations from the first accepted
	// candidate, when the model finished with a tool call.
	ToolCalls []Part

	// Usage is taken from the first accepted candidate. Left zero when
	// Options.N > 1 requested multiple candidates.
	Usage Usage

	// Reason is a human-readable explanation for failure kinds.
	Reason string

	// FilterCategory is set for KindFiltered, KindFilteredRetry and
	// KindPromptFiltered.
	FilterCategory FilterCategory

	// RetryAfter is the server-supplied earliest retry time, when the
	// provider sent one (KindRateLimited, KindQuotaExceeded,
	// KindExtensionBlocked).
	RetryAfter *time.Time

	// RateLimitKey identifies which limit bucket was exhausted.
	RateLimitKey string

	// AuthorizeURL is set for KindAgentUnauthorized.
	AuthorizeURL string
}

// OK reports whether the result is a success.
func (r *Result) OK() bool {
	return r.Kind == KindSuccess
}

// FirstText returns the first accepted candidate's text, or "".
func (r *Result) FirstText() string {
	if len(r.Texts) == 0 {
		return ""
	}
	return r.Texts[0]
}
