// Package fetch implements the chat-completion fetch engine: it turns a
// logical "generate a completion for these messages" request into a
// streamed, classified, and selectively retried network exchange with a
// completion provider.
//
// All expected failure modes come back as chat.Result values from the
// closed taxonomy; no raw error crosses the boundary for an expected
// failure. Retry is bounded: at most one retry per trigger (content
// filter, network reconfiguration) per top-level call, enforced by
// clearing the triggering flag on the nested call.
package fetch

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chatfetch/internal/repetition"
	"chatfetch/internal/reqlog"
	"chatfetch/internal/tokenizer"
	"chatfetch/internal/transport"
	"chatfetch/pkg/auth"
	"chatfetch/pkg/chat"
	"chatfetch/pkg/endpoint"
	"chatfetch/pkg/telemetry"
)

// maxErrorBodySize caps how much of a failure response body is read for
// classification.
const maxErrorBodySize = 1 * 1024 * 1024

// tracerName identifies this package's otel tracer.
const tracerName = "chatfetch/pkg/fetch"

// Fetcher is the fetch orchestrator. Collaborators are injected at
// construction; a zero-configuration Fetcher works with anonymous
// requests, default transports, and silent observability.
//
// A Fetcher is safe for concurrent use: concurrent top-level calls share
// no mutable state beyond the telemetry sink and the credential cache.
type Fetcher struct {
	transport    transport.Adapter
	altTransport transport.Adapter
	tokens       auth.TokenSource
	sink         telemetry.Sink
	requests     *reqlog.Log
	estimator    *tokenizer.Estimator
	tracer       trace.Tracer
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures optional Fetcher behavior.
type Option func(*Fetcher)

// WithTransport sets the primary transport adapter.
func WithTransport(a transport.Adapter) Option {
	return func(f *Fetcher) { f.transport = a }
}

// WithAlternateTransport sets the adapter used by the one-shot retry
// after a network reconfiguration.
func WithAlternateTransport(a transport.Adapter) Option {
	return func(f *Fetcher) { f.altTransport = a }
}

// WithTokenSource sets the credential source.
func WithTokenSource(ts auth.TokenSource) Option {
	return func(f *Fetcher) { f.tokens = ts }
}

// WithTelemetrySink sets the event sink.
func WithTelemetrySink(s telemetry.Sink) Option {
	return func(f *Fetcher) { f.sink = s }
}

// WithRequestLog sets the diagnostic request logger.
func WithRequestLog(l *reqlog.Log) Option {
	return func(f *Fetcher) { f.requests = l }
}

// WithLogger injects a structured logger. When omitted, log output is
// silently discarded.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithTracerProvider sets the otel tracer provider. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Fetcher) { f.tracer = tp.Tracer(tracerName) }
}

// withNow injects a clock for tests.
func withNow(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = transport.NewHTTPAdapter(nil)
	}
	if f.altTransport == nil {
		f.altTransport = transport.NewHTTPAdapter(transport.AlternateClient())
	}
	if f.tokens == nil {
		f.tokens = auth.Anonymous{}
	}
	if f.sink == nil {
		f.sink = telemetry.Nop{}
	}
	if f.logger == nil {
		f.logger = slog.New(nopHandler{})
	}
	if f.requests == nil {
		f.requests = reqlog.New(nil, reqlog.WithLogger(f.logger))
	}
	if f.estimator == nil {
		f.estimator = tokenizer.New(0)
	}
	if f.tracer == nil {
		f.tracer = otel.Tracer(tracerName)
	}
	return f
}

// attempt identifies one pipeline invocation within a top-level call.
type attempt struct {
	// trigger tags a retry attempt with what caused it; empty for the
	// top-level invocation.
	trigger string

	// alt selects the alternate transport.
	alt bool
}

// FetchMany performs one logical completion request, streaming
// incremental deltas to onDelta (which may be nil) in strict arrival
// order. The returned result is always terminal: every expected failure
// mode is a taxonomy member, and KindFilteredRetry never escapes.
func (f *Fetcher) FetchMany(ctx context.Context, ep endpoint.Endpoint, req *chat.Request, onDelta chat.DeltaFunc) *chat.Result {
	return f.fetch(ctx, ep, req, onDelta, attempt{})
}

// FetchOne is FetchMany constrained to exactly one candidate.
func (f *Fetcher) FetchOne(ctx context.Context, ep endpoint.Endpoint, req *chat.Request, onDelta chat.DeltaFunc) *chat.Result {
	one := req.Clone()
	one.Options.N = 1
	res := f.fetch(ctx, ep, one, onDelta, attempt{})
	if res.OK() && len(res.Texts) > 1 {
		res.Texts = res.Texts[:1]
	}
	return res
}

// fetch runs the full pipeline once: validate, exchange, stream,
// classify, then hand retry-eligible outcomes to the coordinator. Every
// invocation, retries included, resolves its own request-log entry and
// emits exactly one terminal telemetry event.
func (f *Fetcher) fetch(ctx context.Context, ep endpoint.Endpoint, req *chat.Request, onDelta chat.DeltaFunc, at attempt) *chat.Result {
	ctx, span := f.tracer.Start(ctx, "chatfetch.fetch", trace.WithAttributes(
		attribute.String("model", ep.Model()),
		attribute.String("api", string(ep.APIType())),
		attribute.String("retry_trigger", at.trigger),
	))
	defer span.End()

	if reason := validateRequest(req); reason != "" {
		res := &chat.Result{Kind: chat.KindBadRequest, Reason: reason}
		f.emit(telemetry.EventError, f.props(ep, req, "", at, res.Kind), 0)
		span.SetAttributes(attribute.String("result", string(res.Kind)))
		return res
	}

	entry := f.requests.Begin(req, ep.Model())
	requestID := entry.ID()
	span.SetAttributes(attribute.String("request_id", requestID))

	start := f.now()
	res, transportErr := f.attempt(ctx, ep, req, onDelta, at, entry, requestID, start)
	res.RequestID = requestID
	span.SetAttributes(attribute.String("result", string(res.Kind)))

	// Terminal bookkeeping for THIS attempt; a nested retry resolves its
	// own entry and emits its own events.
	switch res.Kind {
	case chat.KindCanceled:
		entry.ResolveCancelled()
		f.emit(telemetry.EventCancelled, f.props(ep, req, requestID, at, res.Kind), f.now().Sub(start))
	case chat.KindSuccess:
		entry.Resolve(res)
		f.emit(telemetry.EventSuccess, f.props(ep, req, requestID, at, res.Kind), f.now().Sub(start))
	default:
		entry.Resolve(res)
		f.emit(telemetry.EventError, f.props(ep, req, requestID, at, res.Kind), f.now().Sub(start))
	}

	switch {
	case res.Kind == chat.KindFilteredRetry:
		return f.filterRetry(ctx, ep, req, onDelta, at, res)
	case transportErr != nil && f.shouldRetryNetworkChanged(req, transportErr):
		return f.networkChangedRetry(ctx, ep, req, onDelta, res)
	}
	return res
}

// attempt performs exactly one network exchange. The returned error is
// the raw transport fault when one occurred, so the retry coordinator
// can consult the transport predicates; the result is already classified
// either way.
func (f *Fetcher) attempt(
	ctx context.Context,
	ep endpoint.Endpoint,
	req *chat.Request,
	onDelta chat.DeltaFunc,
	at attempt,
	entry *reqlog.Entry,
	requestID string,
	start time.Time,
) (*chat.Result, error) {
	props := f.props(ep, req, requestID, at, "")
	props["prompt_tokens"] = strconv.Itoa(f.estimator.CountMessages(req.Messages))

	// Cancellation strictly before issuing the call: no network.
	if err := ctx.Err(); err != nil {
		return &chat.Result{Kind: chat.KindCanceled, Reason: err.Error()}, err
	}

	token, err := f.tokens.Token(ctx)
	if err != nil {
		if transport.IsAbortError(err) {
			return &chat.Result{Kind: chat.KindCanceled, Reason: err.Error()}, err
		}
		return &chat.Result{Kind: chat.KindTokenExpiredOrInvalid, Reason: "credential unavailable: " + err.Error()}, nil
	}

	body, err := ep.CreateRequestBody(req)
	if err != nil {
		return &chat.Result{Kind: chat.KindBadRequest, Reason: "building request body: " + err.Error()}, nil
	}

	f.emit(telemetry.EventRequestIssued, props, 0)
	f.logger.Debug("completion request issued",
		"model", ep.Model(),
		"request_id", requestID,
		"messages", len(req.Messages),
		"retry_trigger", at.trigger,
	)

	ad := f.transport
	if at.alt {
		ad = f.altTransport
	}

	resp, err := ad.Do(ctx, transport.Request{
		URL:       ep.URL(),
		Body:      body,
		Token:     token,
		Vision:    ep.SupportsVision() && chat.HasImageParts(req.Messages),
		RequestID: requestID,
	})
	if err != nil {
		f.emit(telemetry.EventRequestErrored, props, f.now().Sub(start))
		return f.classifyTransportError(ctx, err), err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Status < 200 || resp.Status >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		cls := Classify(resp.Status, raw, resp.Header, f.now())
		if cls.InvalidateCredential {
			f.tokens.Invalidate(resp.Status)
		}
		cls.Result.ServerRequestID = resp.ServerRequestID()
		props["status"] = strconv.Itoa(resp.Status)
		f.emit(telemetry.EventRequestErrored, props, f.now().Sub(start))
		return cls.Result, nil
	}

	recorder := newRecorder(f.now)
	var firstToken sync.Once
	emitDelta := func(d chat.Delta) error {
		recorder.Record(d)
		if lat, ok := recorder.FirstTokenLatency(); ok {
			firstToken.Do(func() {
				entry.MarkFirstToken(lat)
				f.emit(telemetry.EventFirstToken, props, lat)
			})
		}
		if onDelta != nil {
			return onDelta(d)
		}
		return nil
	}

	candidates, err := ep.RunStream(ctx, resp.Body, resp.ServerRequestID(), emitDelta)
	if err != nil {
		f.emit(telemetry.EventRequestErrored, props, f.now().Sub(start))
		return f.classifyTransportError(ctx, err), err
	}

	f.emit(telemetry.EventRequestCompleted, props, f.now().Sub(start))

	res, droppedRepetitive := selectResult(candidates, req.Options.CandidateCount())
	if droppedRepetitive > 0 {
		req.SetTelemetry("repetitive_candidates", strconv.Itoa(droppedRepetitive))
		f.logger.Info("dropped repetitive candidates",
			"request_id", requestID,
			"dropped", droppedRepetitive,
		)
	}
	if stats := repetition.LineStats(res.FirstText()); stats.RepeatCount > 1 {
		req.SetTelemetry("repeated_line_count", strconv.Itoa(stats.RepeatCount))
		req.SetTelemetry("completion_lines", strconv.Itoa(stats.TotalLines))
	}
	if res.ServerRequestID == "" {
		res.ServerRequestID = resp.ServerRequestID()
	}
	return res, nil
}

// classifyTransportError converts a transport-layer fault into a
// terminal result, distinguishing abort-due-to-cancellation from
// abort-due-to-fault via the transport predicates.
func (f *Fetcher) classifyTransportError(ctx context.Context, err error) *chat.Result {
	switch {
	case ctx.Err() != nil || transport.IsAbortError(err):
		return &chat.Result{Kind: chat.KindCanceled, Reason: err.Error()}
	case transport.IsInternetDisconnected(err), transport.IsNetworkChanged(err), transport.IsFetchError(err):
		return &chat.Result{Kind: chat.KindNetworkError, Reason: err.Error()}
	default:
		return &chat.Result{Kind: chat.KindUnknown, Reason: err.Error()}
	}
}

// props assembles event properties: request telemetry annotations first,
// engine-owned keys layered on top.
func (f *Fetcher) props(ep endpoint.Endpoint, req *chat.Request, requestID string, at attempt, kind chat.ResultKind) map[string]string {
	if req == nil {
		req = &chat.Request{}
	}
	props := make(map[string]string, len(req.Telemetry)+6)
	for k, v := range req.Telemetry {
		props[k] = v
	}
	props["model"] = ep.Model()
	props["message_count"] = strconv.Itoa(len(req.Messages))
	if requestID != "" {
		props["request_id"] = requestID
	}
	if at.trigger != "" {
		props["retry_trigger"] = at.trigger
	}
	if req.UserInitiated {
		props["user_initiated"] = "true"
	}
	if kind != "" {
		props["kind"] = string(kind)
	}
	return props
}

// emit fires a telemetry event; the sink can never block or panic into
// the engine.
func (f *Fetcher) emit(name string, props map[string]string, d time.Duration) {
	telemetry.Emit(f.sink, telemetry.Event{Name: name, Properties: props, Duration: d})
}

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
