// Package transport issues the HTTP exchange for a completion request:
// header assembly, correlation ids, cooperative cancellation that tears
// down an in-flight stream, and the connection-error predicates the
// orchestrator uses to tell an abort from a fault.
package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Header names attached to requests or surfaced from responses. The
// transport carries these without interpreting them; collaborators
// (classifier, session layer) read what they need.
const (
	HeaderRequestID           = "X-Request-Id"
	HeaderVisionRequest       = "X-Vision-Request"
	HeaderSessionContinuation = "X-Session-Continuation"
	HeaderRateLimitKey        = "X-RateLimit-Key"
	HeaderRetryAfter          = "Retry-After"
	HeaderQuotaRemaining      = "X-Quota-Remaining"
	HeaderQuotaReset          = "X-Quota-Reset"
)

// Request is one outbound completion exchange.
type Request struct {
	// URL is the completion endpoint.
	URL string

	// Body is the provider-specific JSON payload.
	Body []byte

	// Token is the bearer credential.
	Token string

	// Vision marks payloads containing image parts destined for a
	// vision-capable model.
	Vision bool

	// RequestID is the correlation id. Generated when empty.
	RequestID string

	// Header carries additional headers verbatim.
	Header http.Header
}

// Response is the raw outcome of an exchange. Body must be closed by the
// caller; cancelling the request context closes it actively so the
// remote side stops producing tokens.
type Response struct {
	Status    int
	Header    http.Header
	Body      io.ReadCloser
	RequestID string
}

// ServerRequestID returns the provider-assigned request id header, if any.
func (r *Response) ServerRequestID() string {
	return r.Header.Get(HeaderRequestID)
}

// Adapter performs the HTTP exchange for the engine.
type Adapter interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPAdapter is the production Adapter backed by an *http.Client.
type HTTPAdapter struct {
	client *http.Client
	logger *slog.Logger

	// destroyCount tracks active stream teardowns, observable in tests.
	destroyCount atomic.Int64
}

// AdapterOption configures optional HTTPAdapter behavior.
type AdapterOption func(*HTTPAdapter)

// WithLogger injects a structured logger into the adapter.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *HTTPAdapter) { a.logger = l }
}

// NewHTTPAdapter creates an adapter using the given client. A nil client
// uses a streaming-friendly default with no global timeout: the engine
// owns no timeout of its own, timeouts arrive as caller cancellation.
func NewHTTPAdapter(client *http.Client, opts ...AdapterOption) *HTTPAdapter {
	if client == nil {
		client = DefaultClient()
	}
	a := &HTTPAdapter{client: client}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(nopHandler{})
	}
	return a
}

// DefaultClient returns the shared streaming client. No global timeout:
// completion streams are long-lived and cancellation is cooperative.
func DefaultClient() *http.Client {
	return &http.Client{Timeout: 0}
}

// AlternateClient returns a client with a fresh connection pool and
// keep-alives disabled. Used for the one-shot retry after a kernel
// network reconfiguration, where pooled connections are stale.
func AlternateClient() *http.Client {
	t := &http.Transport{
		DisableKeepAlives:   true,
		ForceAttemptHTTP2:   false,
		TLSHandshakeTimeout: 30 * time.Second,
	}
	return &http.Client{Timeout: 0, Transport: t}
}

// Do performs the exchange. Cancellation requested strictly before the
// call returns ctx.Err() without touching the network. After headers are
// received, cancellation actively closes the response body so the remote
// side is signalled to stop.
func (a *HTTPAdapter) Do(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(HeaderRequestID, id)
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.Vision {
		httpReq.Header.Set(HeaderVisionRequest, "true")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	a.logger.Debug("issuing completion request",
		"url", req.URL,
		"request_id", id,
		"bytes", len(req.Body),
	)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	body := &watchedBody{inner: resp.Body, done: make(chan struct{})}
	go body.watch(ctx, &a.destroyCount)

	return &Response{
		Status:    resp.StatusCode,
		Header:    resp.Header,
		Body:      body,
		RequestID: id,
	}, nil
}

// DestroyCount returns how many in-flight streams were torn down due to
// cancellation. Exposed for tests.
func (a *HTTPAdapter) DestroyCount() int {
	return int(a.destroyCount.Load())
}

// watchedBody closes the underlying response body when the request
// context fires, unblocking any pending read and terminating the stream
// at the connection level. Close is idempotent.
type watchedBody struct {
	inner io.ReadCloser
	done  chan struct{}
	once  sync.Once
}

func (b *watchedBody) watch(ctx context.Context, destroyed *atomic.Int64) {
	select {
	case <-ctx.Done():
		b.once.Do(func() {
			destroyed.Add(1)
			_ = b.inner.Close()
		})
	case <-b.done:
	}
}

func (b *watchedBody) Read(p []byte) (int, error) {
	return b.inner.Read(p)
}

func (b *watchedBody) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		err = b.inner.Close()
	})
	return err
}

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
