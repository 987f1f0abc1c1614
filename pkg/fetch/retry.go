package fetch

import (
	"context"
	"runtime"

	"chatfetch/internal/transport"
	"chatfetch/pkg/chat"
	"chatfetch/pkg/endpoint"
)

// Corrective messages appended to the history for a filter retry. The
// wording differs by category: copyright rejections ask for original
// phrasing, safety rejections ask for a rephrased answer.
const (
	copyrightRetryMessage = "The previous answer was withheld because it matched protected " +
		"material too closely. Please answer the original question again in your own words, " +
		"describing the approach instead of reproducing existing content."
	safetyRetryMessage = "The previous answer was withheld by a content safety filter. " +
		"Please answer the original question again, rephrasing so the response stays " +
		"helpful and appropriate."
)

// filterRetry handles a FilteredRetry outcome: at most one nested
// invocation with the filter-retry flag cleared, so recursion is bounded
// by construction. The internal FilteredRetry kind never escapes: when
// the retry is disabled or fails, the caller sees terminal Filtered
// carrying the original category.
func (f *Fetcher) filterRetry(
	ctx context.Context,
	ep endpoint.Endpoint,
	req *chat.Request,
	onDelta chat.DeltaFunc,
	at attempt,
	res *chat.Result,
) *chat.Result {
	if !req.RetryOnFilter {
		return filteredResult(res)
	}

	f.logger.Info("retrying after content filter",
		"request_id", res.RequestID,
		"category", string(res.FilterCategory),
	)

	retryReq := req.Clone()
	retryReq.RetryOnFilter = false
	retryReq.Messages = append(retryReq.Messages, correctiveMessage(res.FilterCategory))
	retryReq.SetTelemetry("retry_trigger", "filter:"+string(res.FilterCategory))

	nested := f.fetch(ctx, ep, retryReq, onDelta, attempt{
		trigger: "filter:" + string(res.FilterCategory),
		alt:     at.alt,
	})
	switch nested.Kind {
	case chat.KindSuccess, chat.KindCanceled:
		return nested
	default:
		return filteredResult(res)
	}
}

// filteredResult converts an internal FilteredRetry into the terminal
// Filtered result returned to callers.
func filteredResult(res *chat.Result) *chat.Result {
	return &chat.Result{
		Kind:            chat.KindFiltered,
		RequestID:       res.RequestID,
		ServerRequestID: res.ServerRequestID,
		FilterCategory:  res.FilterCategory,
		Reason:          res.Reason,
	}
}

// correctiveMessage synthesizes the user-facing message appended to the
// history for a filter retry.
func correctiveMessage(category chat.FilterCategory) chat.Message {
	if category == chat.FilterCopyright {
		return chat.UserMessage(copyrightRetryMessage)
	}
	return chat.UserMessage(safetyRetryMessage)
}

// shouldRetryNetworkChanged reports whether a transport fault qualifies
// for the one-shot alternate-transport retry: caller opted in, the
// platform reports network reconfiguration reliably, and the fault is
// specifically a network change.
func (f *Fetcher) shouldRetryNetworkChanged(req *chat.Request, err error) bool {
	return req.RetryOnError &&
		networkChangedRetrySupported() &&
		transport.IsNetworkChanged(err)
}

// networkChangedRetry re-invokes the pipeline once on the alternate
// transport with the error-retry flag cleared. The nested outcome is
// returned as-is: a second fault is terminal.
func (f *Fetcher) networkChangedRetry(
	ctx context.Context,
	ep endpoint.Endpoint,
	req *chat.Request,
	onDelta chat.DeltaFunc,
	res *chat.Result,
) *chat.Result {
	f.logger.Info("retrying after network change",
		"request_id", res.RequestID,
	)

	retryReq := req.Clone()
	retryReq.RetryOnError = false
	retryReq.SetTelemetry("retry_trigger", "network_changed")

	return f.fetch(ctx, ep, retryReq, onDelta, attempt{
		trigger: "network_changed",
		alt:     true,
	})
}

// networkChangedRetrySupported reports whether the platform surfaces
// kernel network-reconfiguration errors the predicate can trust.
func networkChangedRetrySupported() bool {
	return runtime.GOOS == "linux" || runtime.GOOS == "darwin"
}
