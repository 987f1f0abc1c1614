package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// recordingSink keeps the events it receives.
type recordingSink struct {
	events []Event
}

func (s *recordingSink) Emit(ev Event) { s.events = append(s.events, ev) }

// panickySink panics on every event.
type panickySink struct{}

func (panickySink) Emit(Event) { panic("sink misbehaved") }

func TestEmit_NilSink(t *testing.T) {
	Emit(nil, Event{Name: EventSuccess})
}

func TestEmit_SwallowsPanic(t *testing.T) {
	Emit(panickySink{}, Event{Name: EventError})
}

func TestEmit_Delivers(t *testing.T) {
	s := &recordingSink{}
	Emit(s, Event{Name: EventRequestIssued, Properties: map[string]string{"model": "m"}})
	if len(s.events) != 1 {
		t.Fatalf("got %d events, want 1", len(s.events))
	}
	if s.events[0].Name != EventRequestIssued {
		t.Fatalf("name = %q", s.events[0].Name)
	}
}

func TestEvent_Clone(t *testing.T) {
	ev := Event{Name: EventSuccess, Properties: map[string]string{"k": "v"}}
	cp := ev.Clone()
	cp.Properties["k"] = "changed"
	if ev.Properties["k"] != "v" {
		t.Fatal("clone shares the properties map")
	}
}

func TestMulti_FansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := Multi{a, panickySink{}, b}
	m.Emit(Event{Name: EventSuccess})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("fan-out incomplete: a=%d b=%d", len(a.events), len(b.events))
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	s.Emit(Event{
		Name:       EventRequestCompleted,
		Properties: map[string]string{"request_id": "r1"},
		Duration:   1500 * time.Millisecond,
	})
	out := buf.String()
	if !strings.Contains(out, EventRequestCompleted) {
		t.Fatalf("log output missing event name: %s", out)
	}
	if !strings.Contains(out, "request_id=r1") {
		t.Fatalf("log output missing property: %s", out)
	}
	if !strings.Contains(out, "duration_ms=1500") {
		t.Fatalf("log output missing duration: %s", out)
	}
}

func TestLogSink_NilLogger(t *testing.T) {
	LogSink{}.Emit(Event{Name: EventSuccess})
}
