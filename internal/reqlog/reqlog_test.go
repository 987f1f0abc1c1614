package reqlog

import (
	"errors"
	"testing"
	"time"

	"chatfetch/pkg/chat"
)

func testRequest() *chat.Request {
	return &chat.Request{
		Messages:      []chat.Message{chat.UserMessage("hi"), chat.UserMessage("there")},
		UserInitiated: true,
	}
}

func TestLog_ResolvePersists(t *testing.T) {
	store := &MemoryStore{}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	lg := New(store, withNow(func() time.Time { return clock }))

	entry := lg.Begin(testRequest(), "gpt-test")
	if entry.ID() == "" {
		t.Fatal("entry id is empty")
	}

	clock = base.Add(150 * time.Millisecond)
	entry.MarkFirstToken(150 * time.Millisecond)

	clock = base.Add(2 * time.Second)
	entry.Resolve(&chat.Result{Kind: chat.KindSuccess, ServerRequestID: "srv-1"})

	recs := store.Records()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Model != "gpt-test" {
		t.Fatalf("Model = %q", rec.Model)
	}
	if rec.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", rec.MessageCount)
	}
	if !rec.UserInitiated {
		t.Fatal("UserInitiated not recorded")
	}
	if rec.Kind != string(chat.KindSuccess) {
		t.Fatalf("Kind = %q", rec.Kind)
	}
	if rec.ServerRequestID != "srv-1" {
		t.Fatalf("ServerRequestID = %q", rec.ServerRequestID)
	}
	if rec.FirstToken != 150*time.Millisecond {
		t.Fatalf("FirstToken = %v", rec.FirstToken)
	}
	if rec.Duration != 2*time.Second {
		t.Fatalf("Duration = %v", rec.Duration)
	}
	if !rec.CreatedAt.Equal(base) {
		t.Fatalf("CreatedAt = %v, want %v", rec.CreatedAt, base)
	}
}

func TestEntry_ResolveIdempotent(t *testing.T) {
	store := &MemoryStore{}
	lg := New(store)

	entry := lg.Begin(testRequest(), "m")
	entry.Resolve(&chat.Result{Kind: chat.KindSuccess})
	entry.Resolve(&chat.Result{Kind: chat.KindServerError})
	entry.ResolveCancelled()

	recs := store.Records()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Kind != string(chat.KindSuccess) {
		t.Fatalf("Kind = %q, want first resolution to win", recs[0].Kind)
	}
}

func TestEntry_MarkFirstTokenSticks(t *testing.T) {
	store := &MemoryStore{}
	lg := New(store)

	entry := lg.Begin(testRequest(), "m")
	entry.MarkFirstToken(100 * time.Millisecond)
	entry.MarkFirstToken(900 * time.Millisecond)
	entry.Resolve(&chat.Result{Kind: chat.KindSuccess})

	if got := store.Records()[0].FirstToken; got != 100*time.Millisecond {
		t.Fatalf("FirstToken = %v, want 100ms", got)
	}
}

func TestEntry_ResolveCancelled(t *testing.T) {
	store := &MemoryStore{}
	lg := New(store)

	entry := lg.Begin(testRequest(), "m")
	entry.ResolveCancelled()

	recs := store.Records()
	if len(recs) != 1 || recs[0].Kind != string(chat.KindCanceled) {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestEntry_NilResult(t *testing.T) {
	store := &MemoryStore{}
	lg := New(store)

	entry := lg.Begin(testRequest(), "m")
	entry.Resolve(nil)

	if got := store.Records()[0].Kind; got != string(chat.KindUnknown) {
		t.Fatalf("Kind = %q, want unknown", got)
	}
}

type failingStore struct{}

func (failingStore) Save(Record) error { return errors.New("disk full") }

func TestEntry_StoreFailureSwallowed(t *testing.T) {
	lg := New(failingStore{})
	entry := lg.Begin(testRequest(), "m")
	entry.Resolve(&chat.Result{Kind: chat.KindSuccess})
}

func TestLog_NilStore(t *testing.T) {
	lg := New(nil)
	entry := lg.Begin(testRequest(), "m")
	entry.Resolve(&chat.Result{Kind: chat.KindSuccess})
}
