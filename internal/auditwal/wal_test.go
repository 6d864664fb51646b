package auditwal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingDispatcher struct {
	mu       sync.Mutex
	received int
	fail     bool
}

func (d *countingDispatcher) Send(ctx context.Context, batch []AuditEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return &dispatchError{outcomeRetriable, fmt.Errorf("simulated outage")}
	}
	d.received += len(batch)
	return nil
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received
}

func TestWAL_EnqueueAppendsNDJSONAndFlushes(t *testing.T) {
	dir := t.TempDir()
	dispatcher := &countingDispatcher{}
	w := New(Config{Dir: dir, BatchSize: 2, FlushInterval: 20 * time.Millisecond}, dispatcher, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Shutdown()

	for i := 0; i < 5; i++ {
		w.Enqueue(AuditEvent{RequestID: fmt.Sprintf("req-%d", i), Phase: PhaseBegin, Service: "acts", TimeMs: 1})
	}

	deadline := time.Now().Add(2 * time.Second)
	for dispatcher.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if dispatcher.count() != 5 {
		t.Fatalf("expected 5 events delivered, got %d", dispatcher.count())
	}

	files, _ := os.ReadDir(dir)
	found := false
	for _, f := range files {
		if f.Name() == fmt.Sprintf("audit-%s.ndjson", currentDateStamp()) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected today's ndjson file to exist, got %v", files)
	}
}

func TestWAL_Snapshot(t *testing.T) {
	dir := t.TempDir()
	dispatcher := &countingDispatcher{}
	w := New(Config{Dir: dir, BatchSize: 10, FlushInterval: time.Hour}, dispatcher, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Shutdown()

	w.Enqueue(AuditEvent{RequestID: "r1", Phase: PhaseBegin, Service: "acts"})
	snap := w.Snapshot()
	if snap.RingSize != 1 {
		t.Fatalf("expected ring size 1, got %d", snap.RingSize)
	}
	if snap.Dir != dir {
		t.Fatalf("expected dir %q, got %q", dir, snap.Dir)
	}
}

func TestWAL_RetriableFailureLeavesRingIntact(t *testing.T) {
	dir := t.TempDir()
	dispatcher := &countingDispatcher{fail: true}
	w := New(Config{Dir: dir, BatchSize: 1, FlushInterval: time.Hour, MaxRetry: 5 * time.Millisecond}, dispatcher, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Shutdown()

	w.Enqueue(AuditEvent{RequestID: "r1", Phase: PhaseBegin, Service: "acts"})
	time.Sleep(50 * time.Millisecond)

	if w.ring.len() != 1 {
		t.Fatalf("expected event to remain in ring after retriable failure, ring len=%d", w.ring.len())
	}
	if dispatcher.count() != 0 {
		t.Fatalf("expected no events delivered while sink is failing")
	}
}

func TestWAL_CrashRecoveryReplaysCursor(t *testing.T) {
	dir := t.TempDir()
	dispatcher := &countingDispatcher{}
	// The first WAL's sink is down, so its shutdown flush cannot deliver
	// anything and the cursor never advances.
	unreachable := &countingDispatcher{fail: true}
	w1 := New(Config{Dir: dir, BatchSize: 100, FlushInterval: time.Hour, MaxRetry: time.Millisecond}, unreachable, nil)
	if err := w1.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	w1.Enqueue(AuditEvent{RequestID: "r1", Phase: PhaseBegin, Service: "acts"})
	w1.Enqueue(AuditEvent{RequestID: "r1", Phase: PhaseEnd, Service: "acts"})
	w1.Shutdown()

	// Simulate a crash before these events were ever dispatched: no cursor
	// file should exist yet, so a fresh WAL replays both lines from file 0.
	if _, err := os.Stat(filepath.Join(dir, "audit.offset")); err == nil {
		t.Fatalf("did not expect a cursor file before any successful flush")
	}

	w2 := New(Config{Dir: dir, BatchSize: 100, FlushInterval: time.Hour}, dispatcher, nil)
	if err := w2.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer w2.Shutdown()

	if dispatcher.count() != 2 {
		t.Fatalf("expected replay to deliver 2 events, got %d", dispatcher.count())
	}
}

func TestHTTPDispatcher_ClassifiesStatusCodes(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(code.Load()))
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, time.Second, nil, "edge-gateway")
	batch := []AuditEvent{{RequestID: "r1", Phase: PhaseBegin}}

	if err := d.Send(context.Background(), batch); err != nil {
		t.Fatalf("expected 2xx to succeed, got %v", err)
	}

	code.Store(http.StatusBadRequest)
	err := d.Send(context.Background(), batch)
	if classify(err) != outcomePoison {
		t.Fatalf("expected 4xx to classify as poison, got %v", classify(err))
	}

	code.Store(http.StatusInternalServerError)
	err = d.Send(context.Background(), batch)
	if classify(err) != outcomeRetriable {
		t.Fatalf("expected 5xx to classify as retriable, got %v", classify(err))
	}
}

func TestRing_DropsOldestWhenFull(t *testing.T) {
	r := newRing(2, nil)
	r.push(AuditEvent{RequestID: "1"}, "audit-1.ndjson", 10)
	r.push(AuditEvent{RequestID: "2"}, "audit-1.ndjson", 20)
	r.push(AuditEvent{RequestID: "3"}, "audit-1.ndjson", 30)

	batch, cursor, ok := r.peekBatch(10)
	if !ok || len(batch) != 2 || batch[0].RequestID != "2" || batch[1].RequestID != "3" {
		t.Fatalf("expected oldest event dropped, got %+v", batch)
	}
	if cursor.ByteOffset != 30 {
		t.Fatalf("expected cursor offset of last event in batch, got %+v", cursor)
	}
}

func TestRing_PeekBatchCursorTracksExactBatchBoundary(t *testing.T) {
	r := newRing(10, nil)
	r.push(AuditEvent{RequestID: "1"}, "audit-1.ndjson", 10)
	r.push(AuditEvent{RequestID: "2"}, "audit-1.ndjson", 20)
	r.push(AuditEvent{RequestID: "3"}, "audit-1.ndjson", 30)

	// Simulate Flush draining in batches smaller than the full ring, the way
	// a backlog drain does: the cursor for the first batch must land on the
	// second event's offset, not the last event currently in the ring.
	batch, cursor, ok := r.peekBatch(2)
	if !ok || len(batch) != 2 {
		t.Fatalf("expected a 2-event batch, got %+v", batch)
	}
	if cursor.ByteOffset != 20 {
		t.Fatalf("expected cursor offset 20 for a 2-event batch, got %+v", cursor)
	}
}

func TestCursorFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.offset")
	want := Cursor{File: "audit-20260731.ndjson", ByteOffset: 1234}
	if err := writeCursorFile(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readCursorFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	raw, _ := os.ReadFile(path)
	var decoded map[string]any
	json.Unmarshal(raw, &decoded)
	if decoded["file"] != want.File {
		t.Fatalf("expected json field 'file', got %+v", decoded)
	}
}
