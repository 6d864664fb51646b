package auditwal

import (
	"log/slog"
	"sync"
)

// ringEntry pairs an event with the exact end-of-line byte offset it was
// durably written at, so a batch's cursor can be advanced to the true
// boundary of what was just flushed rather than wherever the file happens
// to be by the time the ack arrives.
type ringEntry struct {
	event  AuditEvent
	file   string
	offset int64
}

// ring is the bounded in-memory deque<ringEntry> (cap=ringMaxEvents)
// backing the WAL. A plain slice-backed deque — an eBPF-based ring
// buffer wouldn't fit an in-process audit queue; see DESIGN.md.
type ring struct {
	mu     sync.Mutex
	items  []ringEntry
	cap    int
	logger *slog.Logger
}

func newRing(capacity int, logger *slog.Logger) *ring {
	if logger == nil {
		logger = slog.Default()
	}
	return &ring{items: make([]ringEntry, 0, capacity), cap: capacity, logger: logger}
}

// push appends an event along with the file/offset it was persisted at,
// dropping the oldest entry with a WARN log when the ring is already at
// capacity (Enqueue, replay).
func (r *ring) push(e AuditEvent, file string, offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) >= r.cap {
		dropped := r.items[0]
		r.items = r.items[1:]
		r.logger.Warn("audit ring full, dropping oldest event", "droppedRequestId", dropped.event.RequestID, "droppedPhase", dropped.event.Phase)
	}
	r.items = append(r.items, ringEntry{event: e, file: file, offset: offset})
}

// peekBatch returns a copy of up to n events from the head, without
// removing them, plus the cursor for the last event in the batch (the
// offset Flush should persist if this batch is acked or dropped as
// poison). ok is false when the ring is empty.
func (r *ring) peekBatch(n int) (batch []AuditEvent, cursor Cursor, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.items) {
		n = len(r.items)
	}
	if n == 0 {
		return nil, Cursor{}, false
	}
	batch = make([]AuditEvent, n)
	for i := 0; i < n; i++ {
		batch[i] = r.items[i].event
	}
	last := r.items[n-1]
	return batch, Cursor{File: last.file, ByteOffset: last.offset}, true
}

// removeHead drops the first n events, called after a successful dispatch
// or an explicit poison-skip.
func (r *ring) removeHead(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.items) {
		n = len(r.items)
	}
	r.items = r.items[n:]
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
