// Package telemetry provides the fire-and-forget event sink the fetch
// engine emits into. Sinks must never block the engine and must never
// panic into it; Emit wraps every sink call accordingly.
package telemetry

import (
	"log/slog"
	"maps"
	"time"
)

// Event names emitted by the engine at its fixed checkpoints.
const (
	EventRequestIssued    = "request.issued"
	EventRequestCompleted = "request.completed"
	EventRequestErrored   = "request.errored"
	EventFirstToken       = "request.first_token"
	EventSuccess          = "request.success"
	EventError            = "request.error"
	EventCancelled        = "request.cancelled"
)

// Event is one telemetry emission.
type Event struct {
	Name string

	// Properties are free-form string annotations (request id, model,
	// result kind, retry trigger).
	Properties map[string]string

	// Duration is the elapsed time for duration-bearing events.
	Duration time.Duration
}

// Clone returns a deep copy so sinks may retain events safely.
func (e Event) Clone() Event {
	cp := e
	if e.Properties != nil {
		cp.Properties = maps.Clone(e.Properties)
	}
	return cp
}

// Sink receives engine events.
type Sink interface {
	Emit(Event)
}

// Emit delivers ev to sink, swallowing panics and tolerating nil. The
// engine calls this instead of sink.Emit directly so a misbehaving sink
// can never take a request down with it.
func Emit(sink Sink, ev Event) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink.Emit(ev)
}

// Nop is a Sink that discards everything.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(Event) {}

// LogSink writes events to a structured logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(ev Event) {
	if s.Logger == nil {
		return
	}
	attrs := make([]any, 0, 2*len(ev.Properties)+2)
	for k, v := range ev.Properties {
		attrs = append(attrs, k, v)
	}
	if ev.Duration > 0 {
		attrs = append(attrs, "duration_ms", ev.Duration.Milliseconds())
	}
	s.Logger.Debug(ev.Name, attrs...)
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ev Event) {
	for _, s := range m {
		Emit(s, ev.Clone())
	}
}
