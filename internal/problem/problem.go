// Package problem implements the RFC 7807 "problem+json" error envelope
// used for every 4xx/5xx response the gateway produces. This is
// intentionally stdlib-only (encoding/json, net/http) — see DESIGN.md for
// why no pack dependency is a better fit for a four-field error struct.
package problem

import (
	"encoding/json"
	"net/http"
)

// Problem is the wire shape: { type, title, status, detail, instance }.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// New builds a Problem with the conventional "about:blank" type.
func New(status int, title, detail, requestID string) Problem {
	return Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: requestID,
	}
}

// Write serializes p as application/problem+json with the matching status
// code. Errors writing the body are ignored: by the time we're here the
// status line is already committed.
func Write(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NotFound, BadRequest, and the other helpers below cover the common
// error kinds so callers don't have to repeat the status→title mapping
// at every call site.

func NotFound(w http.ResponseWriter, detail, requestID string) {
	Write(w, New(http.StatusNotFound, "Not Found", detail, requestID))
}

func BadRequest(w http.ResponseWriter, detail, requestID string) {
	Write(w, New(http.StatusBadRequest, "Bad Request", detail, requestID))
}

func Unauthorized(w http.ResponseWriter, detail, requestID string) {
	Write(w, New(http.StatusUnauthorized, "Unauthorized", detail, requestID))
}

func Forbidden(w http.ResponseWriter, detail, requestID string) {
	Write(w, New(http.StatusForbidden, "Forbidden", detail, requestID))
}

func TooManyRequests(w http.ResponseWriter, detail, requestID string, retryAfterSec int) {
	w.Header().Set("Retry-After", itoa(retryAfterSec))
	Write(w, New(http.StatusTooManyRequests, "Too Many Requests", detail, requestID))
}

func GatewayTimeout(w http.ResponseWriter, detail, requestID string) {
	Write(w, New(http.StatusGatewayTimeout, "Gateway Timeout", detail, requestID))
}

func BadGateway(w http.ResponseWriter, detail, requestID string) {
	Write(w, New(http.StatusBadGateway, "Bad Gateway", detail, requestID))
}

func ServiceUnavailable(w http.ResponseWriter, detail, requestID string) {
	Write(w, New(http.StatusServiceUnavailable, "Service Unavailable", detail, requestID))
}

func Internal(w http.ResponseWriter, requestID string) {
	Write(w, New(http.StatusInternalServerError, "Internal Server Error", "an unexpected error occurred", requestID))
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
