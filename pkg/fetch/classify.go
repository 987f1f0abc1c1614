package fetch

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatfetch/internal/transport"
	"chatfetch/pkg/chat"
)

// extensionBlockedDefaultRetry is used when a 429 extension_blocked
// response carries no usable Retry-After value.
const extensionBlockedDefaultRetry = 300 * time.Second

// Classification is the outcome of mapping a non-2xx response. The
// classifier itself is pure; InvalidateCredential advises the
// orchestrator to perform the credential side effect.
type Classification struct {
	Result               *chat.Result
	InvalidateCredential bool
}

// errorBody is the provider error envelope. Providers disagree about
// nesting, so every field is probed at both levels.
type errorBody struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	AuthorizeURL string `json:"authorize_url"`
	Error        struct {
		Code         string `json:"code"`
		Type         string `json:"type"`
		Message      string `json:"message"`
		AuthorizeURL string `json:"authorize_url"`
	} `json:"error"`
}

func (b errorBody) code() string {
	if b.Error.Code != "" {
		return b.Error.Code
	}
	return b.Code
}

func (b errorBody) message() string {
	if b.Error.Message != "" {
		return b.Error.Message
	}
	return b.Message
}

func (b errorBody) authorizeURL() string {
	if b.Error.AuthorizeURL != "" {
		return b.Error.AuthorizeURL
	}
	return b.AuthorizeURL
}

// Classify maps a non-2xx HTTP response to exactly one member of the
// closed result taxonomy. It is a pure function of its inputs: calling
// it twice on the same fixture yields identical results. Non-JSON bodies
// degrade to the raw text as the failure reason.
func Classify(status int, body []byte, header http.Header, now time.Time) Classification {
	var parsed errorBody
	_ = json.Unmarshal(body, &parsed) // tolerate non-JSON bodies

	reason := parsed.message()
	if reason == "" {
		reason = strings.TrimSpace(string(body))
	}

	res := &chat.Result{Reason: reason}
	out := Classification{Result: res}

	switch {
	case status == http.StatusBadRequest && isOffTopic(parsed, body):
		res.Kind = chat.KindOffTopic

	case status == http.StatusBadRequest && parsed.code() == "previous_response_not_found":
		res.Kind = chat.KindInvalidStatefulMarker

	case status == http.StatusUnauthorized && parsed.authorizeURL() != "":
		res.Kind = chat.KindAgentUnauthorized
		res.AuthorizeURL = parsed.authorizeURL()

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		res.Kind = chat.KindTokenExpiredOrInvalid
		out.InvalidateCredential = true

	case status == http.StatusPaymentRequired:
		res.Kind = chat.KindQuotaExceeded
		res.RetryAfter = parseRetryAfter(header.Get(transport.HeaderRetryAfter), now)
		out.InvalidateCredential = true

	case status == http.StatusBadRequest:
		res.Kind = chat.KindBadRequest

	case status == http.StatusNotFound:
		res.Kind = chat.KindNotFound

	case status == http.StatusUnprocessableEntity:
		res.Kind = chat.KindPromptFiltered

	case status == http.StatusFailedDependency:
		res.Kind = chat.KindAgentFailedDependency

	case status == http.StatusTooManyRequests && parsed.code() == "extension_blocked":
		res.Kind = chat.KindExtensionBlocked
		res.RetryAfter = parseRetryAfterSeconds(header.Get(transport.HeaderRetryAfter), now, extensionBlockedDefaultRetry)

	case status == http.StatusTooManyRequests:
		res.Kind = chat.KindRateLimited
		res.RetryAfter = parseRetryAfter(header.Get(transport.HeaderRetryAfter), now)
		res.RateLimitKey = header.Get(transport.HeaderRateLimitKey)

	case status == 466:
		res.Kind = chat.KindClientNotSupported

	case status == 499:
		res.Kind = chat.KindServerCanceled

	case status == http.StatusServiceUnavailable:
		// Synthesised as an upstream-provider rate limit; the provider
		// sends no Retry-After on these.
		res.Kind = chat.KindRateLimited
		if res.Reason == "" {
			res.Reason = "upstream provider rate limited"
		}

	case status >= 500 && status < 600:
		res.Kind = chat.KindServerError

	default:
		res.Kind = chat.KindUnknown
	}

	return out
}

// isOffTopic reports whether a 400 body flags the prompt as off topic,
// via the structured code or a raw-text fallback.
func isOffTopic(parsed errorBody, body []byte) bool {
	if parsed.code() == "off_topic" {
		return true
	}
	return strings.Contains(string(body), "off_topic")
}

// parseRetryAfter parses a Retry-After value as either an integer number
// of seconds or an HTTP date. Returns nil when absent or unparseable.
func parseRetryAfter(value string, now time.Time) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		t := now.Add(time.Duration(secs) * time.Second)
		return &t
	}
	if t, err := http.ParseTime(value); err == nil {
		return &t
	}
	return nil
}

// parseRetryAfterSeconds parses a numeric-seconds Retry-After, falling
// back to the given default when the value is absent or non-numeric.
func parseRetryAfterSeconds(value string, now time.Time, fallback time.Duration) *time.Time {
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs >= 0 {
		t := now.Add(time.Duration(secs) * time.Second)
		return &t
	}
	t := now.Add(fallback)
	return &t
}
