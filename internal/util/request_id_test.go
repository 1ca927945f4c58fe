package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestIDKeepsCallerID(t *testing.T) {
	const supplied = "caller-supplied-id"

	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, supplied)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != supplied {
		t.Fatalf("context request id = %q, want %q", seen, supplied)
	}
	if got := rec.Header().Get(RequestIDHeader); got != supplied {
		t.Fatalf("response request id = %q, want %q", got, supplied)
	}
}

func TestWithRequestIDGeneratesID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if seen == "" {
		t.Fatal("expected a generated request id in context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("response id %q does not match context id %q", got, seen)
	}
}
