package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewTrustedProxies(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1"}); err != nil {
		t.Fatalf("valid entries rejected: %v", err)
	}
	if _, err := NewTrustedProxies([]string{"not-an-address"}); err == nil {
		t.Fatal("expected error for garbage entry")
	}
	trusted, err := NewTrustedProxies([]string{" ", ""})
	if err != nil {
		t.Fatalf("blank entries: %v", err)
	}
	if trusted != nil {
		t.Fatal("blank-only input should produce a nil (trust-none) set")
	}
}

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	cases := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{
			name:   "untrusted peer cannot spoof via headers",
			remote: "198.51.100.10:4000",
			xff:    "203.0.113.5",
			realIP: "203.0.113.6",
			want:   "198.51.100.10",
		},
		{
			name:    "trusted peer yields forwarded client",
			remote:  "10.0.0.20:4000",
			xff:     "203.0.113.5",
			trusted: trusted,
			want:    "203.0.113.5",
		},
		{
			name:    "chain walked right to left past trusted hops",
			remote:  "10.0.0.20:4000",
			xff:     "203.0.113.5, 10.0.0.10",
			trusted: trusted,
			want:    "203.0.113.5",
		},
		{
			name:    "x-real-ip fallback when xff is garbage",
			remote:  "10.0.0.20:4000",
			xff:     "not-an-ip",
			realIP:  "203.0.113.7",
			trusted: trusted,
			want:    "203.0.113.7",
		},
		{
			name:    "fully trusted chain returns leftmost hop",
			remote:  "10.0.0.20:4000",
			xff:     "10.0.0.5, 10.0.0.10",
			trusted: trusted,
			want:    "10.0.0.5",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://readmaster.test/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
