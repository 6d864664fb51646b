// Package auditwal implements the billing-grade audit pipeline:
// non-blocking NDJSON append, bounded in-memory ring, batched delivery to
// a sink with retry/backoff, a durable offset cursor, and crash-recovery
// replay. Grounded on the append-only JSON-per-line pattern in
// Mindburn-Labs-helm/core/pkg/audit/logger.go, combined with a
// worker-pool/retry-with-backoff dispatch structure.
package auditwal

import "time"

// Phase distinguishes the begin/end halves of one request's audit record.
type Phase string

const (
	PhaseBegin Phase = "begin"
	PhaseEnd   Phase = "end"
)

// AuditEvent is one append-only record. Authorization headers never reach
// it: WAL.Middleware (capture.go) copies only allowlisted headers into
// the event before it is enqueued.
type AuditEvent struct {
	RequestID   string      `json:"requestId"`
	Phase       Phase       `json:"phase"`
	Service     string      `json:"service"`
	TimeMs      int64       `json:"time"`
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	Status      *int        `json:"status,omitempty"`
	IP          string      `json:"ip,omitempty"`
	SafeHeaders map[string][]string `json:"safeHeaders,omitempty"`
}

// Cursor is the durable dispatch position, persisted to audit.offset.
type Cursor struct {
	File       string `json:"file"`
	ByteOffset int64  `json:"pos"`
}

// Config carries the WAL's tunables.
type Config struct {
	Dir           string
	FileMaxMB     int
	RetentionDays int
	RingMaxEvents int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetry      time.Duration
}

// Snapshot is the diagnostics shape returned by WAL.Snapshot().
type Snapshot struct {
	Dir         string `json:"dir"`
	CurrentFile string `json:"currentFile"`
	RingSize    int    `json:"ringSize"`
	FlushMs     int64  `json:"flushMs"`
	BatchSize   int    `json:"batchSize"`
	Cursor      Cursor `json:"cursor"`
	Sending     bool   `json:"sending"`
	Attempt     int    `json:"attempt"`
}

func applyDefaults(cfg Config) Config {
	if cfg.FileMaxMB <= 0 {
		cfg.FileMaxMB = 64
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 14
	}
	if cfg.RingMaxEvents <= 0 {
		cfg.RingMaxEvents = 50_000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 30 * time.Second
	}
	return cfg
}
