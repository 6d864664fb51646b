package guardrail

import (
	"log/slog"
	"net/http"
	"sync"
)

// statusRecorder wraps http.ResponseWriter to capture the status code
// actually written, needed both for access logging and for trace5xx. It is
// safe for concurrent use because the timeout guardrail may race a write
// from the handler goroutine against a write from its own timer firing.
type statusRecorder struct {
	http.ResponseWriter
	mu          sync.Mutex
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	if !s.wroteHeader {
		s.status = http.StatusOK
		s.wroteHeader = true
		s.ResponseWriter.WriteHeader(http.StatusOK)
	}
	s.mu.Unlock()
	return s.ResponseWriter.Write(b)
}

// HeadersSent reports whether a status line has already been written, used
// by the forwarder's exactly-once-write guarantee (step 7).
func (s *statusRecorder) HeadersSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wroteHeader
}

// Status reports the status code written so far, or 0 if none yet (used by
// the audit-end event and admin diagnostics).
func (s *statusRecorder) Status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Trace5xx wraps the handler chain with a status recorder and, when the
// final status is ≥500, logs the request id, status and path for
// post-mortem correlation. It does not record which middleware layer set
// that status.
func Trace5xx(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status >= 500 {
				logger.Warn("trace5xx: request completed with 5xx",
					"requestId", RequestID(r), "status", rec.status, "path", r.URL.Path)
			}
		})
	}
}

// Recorder retrieves the *statusRecorder from w if the chain installed
// one, else wraps w fresh. Used by middlewares that need HeadersSent().
func Recorder(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w}
}
