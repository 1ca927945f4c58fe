package util

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// statusWriter remembers the first status code written so the access
// log can report it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

// WithRequestLog writes one structured access-log line per request,
// tagged with the service name and the request id.
func WithRequestLog(service string, trusted *TrustedProxies, next http.Handler) http.Handler {
	if strings.TrimSpace(service) == "" {
		service = "unknown"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		slog.Info("http_request",
			"service", service,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(started).Milliseconds(),
			"client_ip", ClientIP(r, trusted),
			"request_id", RequestIDFromRequest(r),
		)
	})
}
