package fetch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"chatfetch/internal/reqlog"
	"chatfetch/internal/transport"
	"chatfetch/pkg/auth"
	"chatfetch/pkg/chat"
	"chatfetch/pkg/endpoint/endpointtest"
	"chatfetch/pkg/telemetry"
)

// fakeTransport scripts transport responses per call number, starting at 1.
type fakeTransport struct {
	do func(call int, req transport.Request) (*transport.Response, error)

	mu   sync.Mutex
	reqs []transport.Request
}

func (t *fakeTransport) Do(_ context.Context, req transport.Request) (*transport.Response, error) {
	t.mu.Lock()
	t.reqs = append(t.reqs, req)
	call := len(t.reqs)
	t.mu.Unlock()
	return t.do(call, req)
}

func (t *fakeTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reqs)
}

func okResponse(body string) *transport.Response {
	header := http.Header{}
	header.Set(transport.HeaderRequestID, "srv-id")
	return &transport.Response{
		Status: 200,
		Header: header,
		Body:   io.NopCloser(strings.NewReader(body)),
	}
}

func errResponse(status int, body string, header http.Header) *transport.Response {
	if header == nil {
		header = http.Header{}
	}
	return &transport.Response{
		Status: status,
		Header: header,
		Body:   io.NopCloser(strings.NewReader(body)),
	}
}

// recordingSink keeps emitted events, safe for concurrent emission.
type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *recordingSink) Emit(ev telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev.Clone())
}

func (s *recordingSink) named(name string) []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.Event
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// tickingClock advances one millisecond per reading, so latency
// measurements are deterministic and never zero.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func newTestFetcher(tr transport.Adapter, opts ...Option) (*Fetcher, *recordingSink, *reqlog.MemoryStore) {
	sink := &recordingSink{}
	store := &reqlog.MemoryStore{}
	base := []Option{
		WithTransport(tr),
		WithTokenSource(auth.Static("test-token")),
		WithTelemetrySink(sink),
		WithRequestLog(reqlog.New(store)),
		withNow(tickingClock()),
	}
	return New(append(base, opts...)...), sink, store
}

func TestFetchMany_Success(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse("hello world"), nil
	}}
	f, sink, store := newTestFetcher(tr)
	ep := &endpointtest.MockEndpoint{}

	var deltas []chat.Delta
	res := f.FetchMany(context.Background(), ep, validRequest(), func(d chat.Delta) error {
		deltas = append(deltas, d)
		return nil
	})

	if !res.OK() {
		t.Fatalf("Kind = %q, reason %q", res.Kind, res.Reason)
	}
	if res.FirstText() != "hello world" {
		t.Fatalf("FirstText = %q", res.FirstText())
	}
	if res.RequestID == "" {
		t.Fatal("RequestID not set")
	}
	if res.ServerRequestID != "srv-id" {
		t.Fatalf("ServerRequestID = %q", res.ServerRequestID)
	}
	if len(deltas) != 1 || deltas[0].Text != "hello world" {
		t.Fatalf("deltas = %+v", deltas)
	}

	// Token and correlation id reach the transport.
	if got := tr.reqs[0].Token; got != "test-token" {
		t.Fatalf("transport token = %q", got)
	}
	if tr.reqs[0].RequestID != res.RequestID {
		t.Fatal("transport request id differs from result request id")
	}

	for _, name := range []string{
		telemetry.EventRequestIssued,
		telemetry.EventFirstToken,
		telemetry.EventRequestCompleted,
		telemetry.EventSuccess,
	} {
		if len(sink.named(name)) != 1 {
			t.Errorf("event %q emitted %d times, want 1", name, len(sink.named(name)))
		}
	}

	recs := store.Records()
	if len(recs) != 1 || recs[0].Kind != string(chat.KindSuccess) {
		t.Fatalf("request log = %+v", recs)
	}
	if recs[0].FirstToken == 0 {
		t.Fatal("first token latency not recorded")
	}
}

func TestFetchMany_InvalidRequestSkipsNetwork(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		t.Fatal("transport must not be reached")
		return nil, nil
	}}
	f, sink, store := newTestFetcher(tr)
	ep := &endpointtest.MockEndpoint{}

	res := f.FetchMany(context.Background(), ep, &chat.Request{}, nil)
	if res.Kind != chat.KindBadRequest {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if res.Reason != "messages must not be empty" {
		t.Fatalf("Reason = %q", res.Reason)
	}
	if create, _ := ep.Calls(); create != 0 {
		t.Fatal("request body built for an invalid request")
	}
	if len(sink.named(telemetry.EventError)) != 1 {
		t.Fatal("expected one error event")
	}
	if len(store.Records()) != 0 {
		t.Fatal("invalid request must not be logged as issued")
	}
}

func TestFetchMany_CancelledBeforeCall(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		t.Fatal("transport must not be reached")
		return nil, nil
	}}
	f, sink, store := newTestFetcher(tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.FetchMany(ctx, &endpointtest.MockEndpoint{}, validRequest(), nil)
	if res.Kind != chat.KindCanceled {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if len(sink.named(telemetry.EventCancelled)) != 1 {
		t.Fatal("expected one cancelled event")
	}
	recs := store.Records()
	if len(recs) != 1 || recs[0].Kind != string(chat.KindCanceled) {
		t.Fatalf("request log = %+v", recs)
	}
}

func TestFetchMany_TokenUnavailable(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		t.Fatal("transport must not be reached")
		return nil, nil
	}}
	f, _, _ := newTestFetcher(tr, WithTokenSource(auth.Static("")))

	res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, validRequest(), nil)
	if res.Kind != chat.KindTokenExpiredOrInvalid {
		t.Fatalf("Kind = %q", res.Kind)
	}
}

func TestFetchMany_CredentialInvalidatedOn401(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return errResponse(401, `{"error":{"message":"token expired"}}`, nil), nil
	}}
	tokens := auth.NewCached(func(context.Context) (string, error) { return "tok", nil })
	f, sink, _ := newTestFetcher(tr, WithTokenSource(tokens))

	res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, validRequest(), nil)
	if res.Kind != chat.KindTokenExpiredOrInvalid {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if got := tokens.LastInvalidateStatus(); got != 401 {
		t.Fatalf("LastInvalidateStatus = %d, want 401", got)
	}
	if len(sink.named(telemetry.EventRequestErrored)) != 1 {
		t.Fatal("expected one request errored event")
	}
	if len(sink.named(telemetry.EventError)) != 1 {
		t.Fatal("expected one terminal error event")
	}
}

func TestFetchMany_RateLimited(t *testing.T) {
	header := http.Header{transport.HeaderRetryAfter: []string{"60"}}
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return errResponse(429, `{"error":{"message":"slow down"}}`, header), nil
	}}
	f, _, _ := newTestFetcher(tr)

	res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, validRequest(), nil)
	if res.Kind != chat.KindRateLimited {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if res.RetryAfter == nil {
		t.Fatal("RetryAfter not propagated")
	}
	if tr.calls() != 1 {
		t.Fatalf("transport called %d times, want 1 (rate limits never auto-retry)", tr.calls())
	}
}

func filteredCandidates() []chat.Candidate {
	return []chat.Candidate{{
		FinishReason:   chat.FinishContentFilter,
		FilterCategory: chat.FilterCopyright,
	}}
}

func TestFetchMany_FilterRetrySucceeds(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse(""), nil
	}}
	run := 0
	ep := &endpointtest.MockEndpoint{
		RunStreamFunc: func(_ context.Context, _ io.Reader, serverID string, emit chat.DeltaFunc) ([]chat.Candidate, error) {
			run++
			if run == 1 {
				return filteredCandidates(), nil
			}
			_ = emit(chat.Delta{Text: "rephrased answer"})
			return []chat.Candidate{{
				FinishReason:    chat.FinishStop,
				Message:         chat.AssistantMessage("rephrased answer"),
				ServerRequestID: serverID,
			}}, nil
		},
	}

	var sawCorrective bool
	ep.CreateBodyFunc = func(req *chat.Request) ([]byte, error) {
		last := req.Messages[len(req.Messages)-1]
		if strings.Contains(last.Text(), "in your own words") {
			sawCorrective = true
		}
		return []byte("{}"), nil
	}

	f, sink, _ := newTestFetcher(tr)
	req := validRequest()
	req.RetryOnFilter = true

	res := f.FetchMany(context.Background(), ep, req, nil)
	if !res.OK() {
		t.Fatalf("Kind = %q, reason %q", res.Kind, res.Reason)
	}
	if res.FirstText() != "rephrased answer" {
		t.Fatalf("FirstText = %q", res.FirstText())
	}
	if tr.calls() != 2 {
		t.Fatalf("transport called %d times, want 2", tr.calls())
	}
	if !sawCorrective {
		t.Fatal("retry request did not carry the corrective message")
	}
	if len(req.Messages) != 1 {
		t.Fatal("retry mutated the original request")
	}

	issued := sink.named(telemetry.EventRequestIssued)
	if len(issued) != 2 {
		t.Fatalf("issued events = %d, want 2", len(issued))
	}
	if trigger := issued[1].Properties["retry_trigger"]; trigger != "filter:copyright" {
		t.Fatalf("retry_trigger = %q", trigger)
	}
}

func TestFetchMany_FilterRetryDisabled(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse(""), nil
	}}
	ep := &endpointtest.MockEndpoint{
		RunStreamFunc: func(context.Context, io.Reader, string, chat.DeltaFunc) ([]chat.Candidate, error) {
			return filteredCandidates(), nil
		},
	}
	f, _, _ := newTestFetcher(tr)

	res := f.FetchMany(context.Background(), ep, validRequest(), nil)
	if res.Kind != chat.KindFiltered {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if res.FilterCategory != chat.FilterCopyright {
		t.Fatalf("FilterCategory = %q", res.FilterCategory)
	}
	if tr.calls() != 1 {
		t.Fatalf("transport called %d times, want 1", tr.calls())
	}
}

func TestFetchMany_FilterRetryBounded(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse(""), nil
	}}
	ep := &endpointtest.MockEndpoint{
		RunStreamFunc: func(context.Context, io.Reader, string, chat.DeltaFunc) ([]chat.Candidate, error) {
			return filteredCandidates(), nil
		},
	}
	f, _, _ := newTestFetcher(tr)
	req := validRequest()
	req.RetryOnFilter = true

	res := f.FetchMany(context.Background(), ep, req, nil)
	if res.Kind != chat.KindFiltered {
		t.Fatalf("Kind = %q, the internal retry kind must never escape", res.Kind)
	}
	if tr.calls() != 2 {
		t.Fatalf("transport called %d times, want exactly 2", tr.calls())
	}
}

func TestFetchMany_NetworkChangedRetry(t *testing.T) {
	if !networkChangedRetrySupported() {
		t.Skip("network change retry not supported on this platform")
	}

	alt := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse("recovered"), nil
	}}
	primary := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return nil, syscall.ENETDOWN
	}}

	f, sink, _ := newTestFetcher(primary, WithAlternateTransport(alt))
	req := validRequest()
	req.RetryOnError = true

	res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, req, nil)
	if !res.OK() {
		t.Fatalf("Kind = %q, reason %q", res.Kind, res.Reason)
	}
	if res.FirstText() != "recovered" {
		t.Fatalf("FirstText = %q", res.FirstText())
	}
	if primary.calls() != 1 || alt.calls() != 1 {
		t.Fatalf("primary=%d alt=%d, want 1 each", primary.calls(), alt.calls())
	}

	issued := sink.named(telemetry.EventRequestIssued)
	if len(issued) != 2 {
		t.Fatalf("issued events = %d, want 2", len(issued))
	}
	if trigger := issued[1].Properties["retry_trigger"]; trigger != "network_changed" {
		t.Fatalf("retry_trigger = %q", trigger)
	}
}

func TestFetchMany_NetworkChangedRetryBounded(t *testing.T) {
	if !networkChangedRetrySupported() {
		t.Skip("network change retry not supported on this platform")
	}

	alt := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return nil, syscall.ENETDOWN
	}}
	primary := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return nil, syscall.ENETDOWN
	}}

	f, _, _ := newTestFetcher(primary, WithAlternateTransport(alt))
	req := validRequest()
	req.RetryOnError = true

	res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, req, nil)
	if res.Kind != chat.KindNetworkError {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if primary.calls() != 1 || alt.calls() != 1 {
		t.Fatalf("primary=%d alt=%d, want 1 each", primary.calls(), alt.calls())
	}
}

func TestFetchMany_NetworkErrorWithoutOptIn(t *testing.T) {
	primary := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return nil, syscall.ENETDOWN
	}}
	f, _, _ := newTestFetcher(primary)

	res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, validRequest(), nil)
	if res.Kind != chat.KindNetworkError {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if primary.calls() != 1 {
		t.Fatalf("transport called %d times, want 1", primary.calls())
	}
}

func TestFetchMany_ServerErrorNeverRetries(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return errResponse(500, `{"error":{"message":"boom"}}`, nil), nil
	}}
	f, _, _ := newTestFetcher(tr)
	req := validRequest()
	req.RetryOnFilter = true
	req.RetryOnError = true

	res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, req, nil)
	if res.Kind != chat.KindServerError {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if tr.calls() != 1 {
		t.Fatalf("transport called %d times, want 1", tr.calls())
	}
}

func TestFetchOne_TrimsToOneCandidate(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse(""), nil
	}}
	var requestedN int
	ep := &endpointtest.MockEndpoint{
		CreateBodyFunc: func(req *chat.Request) ([]byte, error) {
			requestedN = req.Options.CandidateCount()
			return []byte("{}"), nil
		},
		RunStreamFunc: func(context.Context, io.Reader, string, chat.DeltaFunc) ([]chat.Candidate, error) {
			return []chat.Candidate{
				{Index: 0, FinishReason: chat.FinishStop, Message: chat.AssistantMessage("a")},
				{Index: 1, FinishReason: chat.FinishStop, Message: chat.AssistantMessage("b")},
			}, nil
		},
	}
	f, _, _ := newTestFetcher(tr)

	req := validRequest()
	req.Options.N = 3
	res := f.FetchOne(context.Background(), ep, req, nil)
	if !res.OK() {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if requestedN != 1 {
		t.Fatalf("endpoint saw n=%d, want 1", requestedN)
	}
	if len(res.Texts) != 1 {
		t.Fatalf("Texts = %v, want one entry", res.Texts)
	}
	if req.Options.N != 3 {
		t.Fatal("FetchOne mutated the caller's request")
	}
}

func TestFetchMany_StreamErrorMidway(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse(""), nil
	}}
	ep := &endpointtest.MockEndpoint{
		RunStreamFunc: func(context.Context, io.Reader, string, chat.DeltaFunc) ([]chat.Candidate, error) {
			return nil, io.ErrUnexpectedEOF
		},
	}
	f, _, _ := newTestFetcher(tr)

	res := f.FetchMany(context.Background(), ep, validRequest(), nil)
	if res.Kind != chat.KindUnknown {
		t.Fatalf("Kind = %q", res.Kind)
	}
}

func TestFetchMany_CancelDuringStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse(""), nil
	}}
	ep := &endpointtest.MockEndpoint{
		RunStreamFunc: func(ctx context.Context, _ io.Reader, _ string, _ chat.DeltaFunc) ([]chat.Candidate, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	f, sink, _ := newTestFetcher(tr)

	res := f.FetchMany(ctx, ep, validRequest(), nil)
	if res.Kind != chat.KindCanceled {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if len(sink.named(telemetry.EventCancelled)) != 1 {
		t.Fatal("expected one cancelled event")
	}
}

func TestFetchMany_TelemetryPropertiesMerged(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse("ok"), nil
	}}
	f, sink, _ := newTestFetcher(tr)

	req := validRequest()
	req.UserInitiated = true
	req.SetTelemetry("feature", "inline-chat")

	res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, req, nil)
	if !res.OK() {
		t.Fatalf("Kind = %q", res.Kind)
	}

	success := sink.named(telemetry.EventSuccess)
	if len(success) != 1 {
		t.Fatalf("success events = %d", len(success))
	}
	props := success[0].Properties
	if props["feature"] != "inline-chat" {
		t.Fatalf("feature = %q", props["feature"])
	}
	if props["user_initiated"] != "true" {
		t.Fatalf("user_initiated = %q", props["user_initiated"])
	}
	if props["model"] != "mock-model" {
		t.Fatalf("model = %q", props["model"])
	}
	if props["kind"] != string(chat.KindSuccess) {
		t.Fatalf("kind = %q", props["kind"])
	}
}

func TestFetchMany_VisionHeader(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse("ok"), nil
	}}
	f, _, _ := newTestFetcher(tr)
	ep := &endpointtest.MockEndpoint{Vision: true}

	req := validRequest()
	req.Messages = append(req.Messages, chat.Message{Role: chat.RoleUser, Content: []chat.Part{
		chat.NewImagePart("https://example.com/a.png", "image/png"),
	}})

	if res := f.FetchMany(context.Background(), ep, req, nil); !res.OK() {
		t.Fatalf("Kind = %q", res.Kind)
	}
	if !tr.reqs[0].Vision {
		t.Fatal("vision flag not set on the transport request")
	}
}

func TestFetchMany_PanickySinkDoesNotCrash(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse("ok"), nil
	}}
	f, _, _ := newTestFetcher(tr, WithTelemetrySink(panickySink{}))

	if res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, validRequest(), nil); !res.OK() {
		t.Fatalf("Kind = %q", res.Kind)
	}
}

type panickySink struct{}

func (panickySink) Emit(telemetry.Event) { panic("sink misbehaved") }

func TestFetchMany_TraceSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse("ok"), nil
	}}
	f, _, _ := newTestFetcher(tr, WithTracerProvider(tp))

	if res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, validRequest(), nil); !res.OK() {
		t.Fatalf("Kind = %q", res.Kind)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "chatfetch.fetch" {
		t.Fatalf("span name = %q", span.Name())
	}
	attrs := make(map[string]string)
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["model"] != "mock-model" {
		t.Fatalf("model attribute = %q", attrs["model"])
	}
	if attrs["result"] != string(chat.KindSuccess) {
		t.Fatalf("result attribute = %q", attrs["result"])
	}
}

func TestFetchMany_DefaultCredentialIsAnonymous(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse("hello"), nil
	}}
	f := New(WithTransport(tr), withNow(tickingClock()))

	res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, validRequest(), nil)
	if !res.OK() {
		t.Fatalf("Kind = %q, reason %q", res.Kind, res.Reason)
	}
	if tr.calls() != 1 {
		t.Fatalf("transport called %d times, want 1", tr.calls())
	}
	if got := tr.reqs[0].Token; got != "" {
		t.Fatalf("transport token = %q, want empty", got)
	}
}

func TestFetchMany_PrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	promSink, err := telemetry.NewPromSink(reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse("hello"), nil
	}}
	f, _, _ := newTestFetcher(tr, WithTelemetrySink(promSink))

	if res := f.FetchMany(context.Background(), &endpointtest.MockEndpoint{}, validRequest(), nil); !res.OK() {
		t.Fatalf("Kind = %q", res.Kind)
	}

	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var requests float64
	for _, fam := range fams {
		if fam.GetName() != "chatfetch_requests_total" {
			continue
		}
		for _, m := range fam.Metric {
			for _, lp := range m.Label {
				if lp.GetName() == "outcome" && lp.GetValue() == string(chat.KindSuccess) {
					requests += m.Counter.GetValue()
				}
			}
		}
	}
	if requests != 1 {
		t.Fatalf("chatfetch_requests_total{outcome=%q} = %g, want 1", chat.KindSuccess, requests)
	}
}

func TestFetchMany_RepeatedLineTelemetry(t *testing.T) {
	tr := &fakeTransport{do: func(int, transport.Request) (*transport.Response, error) {
		return okResponse("ignored"), nil
	}}
	ep := &endpointtest.MockEndpoint{
		RunStreamFunc: func(_ context.Context, _ io.Reader, serverID string, emit chat.DeltaFunc) ([]chat.Candidate, error) {
			text := "ready\nsame line\nsame line\nsame line"
			if err := emit(chat.Delta{Text: text}); err != nil {
				return nil, err
			}
			return []chat.Candidate{{
				FinishReason:    chat.FinishStop,
				Message:         chat.AssistantMessage(text),
				ServerRequestID: serverID,
			}}, nil
		},
	}
	f, sink, _ := newTestFetcher(tr)

	if res := f.FetchMany(context.Background(), ep, validRequest(), nil); !res.OK() {
		t.Fatalf("Kind = %q", res.Kind)
	}

	events := sink.named(telemetry.EventSuccess)
	if len(events) != 1 {
		t.Fatalf("success events = %d, want 1", len(events))
	}
	props := events[0].Properties
	if props["repeated_line_count"] != "3" {
		t.Fatalf("repeated_line_count = %q, want %q", props["repeated_line_count"], "3")
	}
	if props["completion_lines"] != "4" {
		t.Fatalf("completion_lines = %q, want %q", props["completion_lines"], "4")
	}
}
