// Package reqlog records completed fetches for diagnostics: one record
// per resolved request with its outcome, timing, and first-token
// latency. Recording is best-effort; a failing store never propagates
// into the engine.
package reqlog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatfetch/pkg/chat"
)

// Record is one resolved request.
type Record struct {
	ID              string
	Model           string
	MessageCount    int
	UserInitiated   bool
	Kind            string
	ServerRequestID string
	FirstToken      time.Duration
	Duration        time.Duration
	CreatedAt       time.Time
}

// Store persists resolved records.
type Store interface {
	Save(rec Record) error
}

// Log hands out entries for in-flight requests and persists them on
// resolution.
type Log struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) { lg.logger = l }
}

// withNow injects a clock for tests.
func withNow(now func() time.Time) Option {
	return func(lg *Log) { lg.now = now }
}

// New creates a Log over the given store. A nil store discards records.
func New(store Store, opts ...Option) *Log {
	lg := &Log{store: store, now: time.Now}
	for _, opt := range opts {
		opt(lg)
	}
	if lg.logger == nil {
		lg.logger = slog.Default()
	}
	return lg
}

// Begin opens an entry for a request about to be issued.
func (l *Log) Begin(req *chat.Request, model string) *Entry {
	return &Entry{
		log:       l,
		id:        uuid.NewString(),
		model:     model,
		messages:  len(req.Messages),
		userInit:  req.UserInitiated,
		startedAt: l.now(),
	}
}

// Entry tracks one in-flight request. Resolve and ResolveCancelled are
// idempotent: only the first call persists.
type Entry struct {
	log      *Log
	id       string
	model    string
	messages int
	userInit bool

	mu         sync.Mutex
	startedAt  time.Time
	firstToken time.Duration
	resolved   bool
}

// ID returns the entry's correlation id.
func (e *Entry) ID() string { return e.id }

// MarkFirstToken records the latency to the first streamed token. Only
// the first call sticks.
func (e *Entry) MarkFirstToken(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.firstToken == 0 {
		e.firstToken = d
	}
}

// Resolve persists the entry with the terminal result.
func (e *Entry) Resolve(res *chat.Result) {
	kind := string(chat.KindUnknown)
	serverID := ""
	if res != nil {
		kind = string(res.Kind)
		serverID = res.ServerRequestID
	}
	e.finish(kind, serverID)
}

// ResolveCancelled persists the entry as cancelled.
func (e *Entry) ResolveCancelled() {
	e.finish(string(chat.KindCanceled), "")
}

func (e *Entry) finish(kind, serverID string) {
	e.mu.Lock()
	if e.resolved {
		e.mu.Unlock()
		return
	}
	e.resolved = true
	rec := Record{
		ID:              e.id,
		Model:           e.model,
		MessageCount:    e.messages,
		UserInitiated:   e.userInit,
		Kind:            kind,
		ServerRequestID: serverID,
		FirstToken:      e.firstToken,
		Duration:        e.log.now().Sub(e.startedAt),
		CreatedAt:       e.startedAt,
	}
	e.mu.Unlock()

	if e.log.store == nil {
		return
	}
	if err := e.log.store.Save(rec); err != nil {
		e.log.logger.Warn("request log write failed", "request_id", e.id, "error", err)
	}
}

// MemoryStore keeps records in memory, for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// Save implements Store.
func (s *MemoryStore) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything saved so far.
func (s *MemoryStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}
