package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"readmaster/internal/testutil"
	"readmaster/internal/usertoken"
	"readmaster/pkg/leaderboard"
	"readmaster/services/api/internal/app"
)

func TestGenerateRateLimit(t *testing.T) {
	dataStore := testutil.OpenTestStore(t)
	redis := miniredis.RunT(t)
	board, err := leaderboard.NewBoard(leaderboard.Config{Addr: redis.Addr()})
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	application, err := app.New(app.Config{
		Store:     dataStore,
		Objects:   newMemoryObjects(),
		Imports:   &recordingQueue{},
		Board:     board,
		Generator: staticGenerator{response: "[]"},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{
		App:                        application,
		TokenVerifier:              stubVerifier{identity: usertoken.Identity{Subject: "user-1"}},
		RedisAddr:                  redis.Addr(),
		GenerateRateLimitPerMinute: 1,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Router())
	defer httpSrv.Close()

	// The limiter is checked before the request body, so a request that
	// later 404s still consumes the window.
	resp, _ := doJSON(t, http.MethodPost, httpSrv.URL+"/api/flashcards/generate", `{"bookId":"missing"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("first request expected 404, got %d", resp.StatusCode)
	}

	resp, env := doJSON(t, http.MethodPost, httpSrv.URL+"/api/flashcards/generate", `{"bookId":"missing"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("missing Retry-After header, got %q", resp.Header.Get("Retry-After"))
	}
	if env.Error == nil || env.Error.Code != "RATE_LIMITED" {
		t.Fatalf("unexpected error envelope: %+v", env.Error)
	}

	// The guide endpoint shares the generation limiter.
	resp, _ = doJSON(t, http.MethodPost, httpSrv.URL+"/api/books/missing/guide", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("guide expected shared 429, got %d", resp.StatusCode)
	}
}

func TestAPIServerRequiresRedisRateLimiter(t *testing.T) {
	_, err := New(Config{
		App:           &app.App{},
		TokenVerifier: stubVerifier{},
	})
	if err == nil {
		t.Fatalf("expected redis-backed limiter initialization to fail without redis addr")
	}
}
