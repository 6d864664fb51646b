package guardrail

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID extracts the request id assigned by the RequestID middleware.
func RequestID(r *http.Request) string {
	if v, ok := r.Context().Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestIDMiddleware assigns an x-request-id (reusing an inbound one if
// present) and echoes it on the response, satisfying invariant 4 in
// ("every inbound request carries x-request-id outbound and
// echoes it in the response").
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("x-request-id")
		if id == "" {
			id = uuid.NewString()
		}
		r.Header.Set("x-request-id", id)
		w.Header().Set("x-request-id", id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
