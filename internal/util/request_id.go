package util

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// RequestIDHeader is echoed on every response so callers can correlate
// their logs with ours.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// WithRequestID assigns each request an id, reusing the caller's
// X-Request-Id when one is supplied. The id lands in the response
// header, the request context, and a context-scoped logger, so handlers
// get correlation for free through LoggerFromContext.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = NewID()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = ContextWithLogger(ctx, slog.Default().With("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the id stored by WithRequestID, or ""
// when the context carries none.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDFromRequest is RequestIDFromContext over the request's context.
func RequestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	return RequestIDFromContext(r.Context())
}
