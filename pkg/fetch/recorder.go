package fetch

import (
	"strings"
	"sync"
	"time"

	"chatfetch/pkg/chat"
)

// Recorder buffers every incremental delta of one fetch attempt in
// arrival order and captures the time to first token. The engine creates
// one per attempt; retrieval is for diagnostics only and never
// influences control flow.
type Recorder struct {
	now func() time.Time

	mu         sync.Mutex
	started    time.Time
	deltas     []chat.Delta
	firstToken time.Duration
}

func newRecorder(now func() time.Time) *Recorder {
	return &Recorder{now: now, started: now()}
}

// Record appends a delta. The first text-bearing delta fixes the
// first-token latency.
func (r *Recorder) Record(d chat.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstToken == 0 && (d.Text != "" || d.ToolCall != nil) {
		r.firstToken = r.now().Sub(r.started)
	}
	r.deltas = append(r.deltas, d)
}

// FirstTokenLatency returns the latency to the first token, and whether
// any token arrived at all.
func (r *Recorder) FirstTokenLatency() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstToken, r.firstToken != 0
}

// Deltas returns a copy of everything recorded, in arrival order.
func (r *Recorder) Deltas() []chat.Delta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Delta(nil), r.deltas...)
}

// Transcript concatenates the recorded text deltas of candidate 0.
func (r *Recorder) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, d := range r.deltas {
		if d.Index == 0 {
			b.WriteString(d.Text)
		}
	}
	return b.String()
}
