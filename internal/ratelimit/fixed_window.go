// Package ratelimit enforces per-user quotas over fixed time windows.
// Counters live in Redis so every api replica shares the same budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTL bumps the window counter and arms its expiry on first use.
var incrWithTTL = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Limiter is a Redis-backed fixed-window rate limiter. Windows are
// aligned to wall-clock multiples of the window size, so a quota of N
// per window admits at most 2N across any window boundary.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewFixedWindow builds a limiter allowing limit calls per window per key.
func NewFixedWindow(addr, password, prefix string, limit int, window time.Duration) (*Limiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("ratelimit: limit and window must be positive")
	}
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("ratelimit: redis addr required")
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "readmaster:ratelimit"
	}
	return &Limiter{
		client: redis.NewClient(&redis.Options{Addr: strings.TrimSpace(addr), Password: password}),
		prefix: prefix,
		limit:  limit,
		window: window,
	}, nil
}

// Allow reports whether key still has quota in the current window.
// Redis failures deny the request: these limiters guard the expensive
// LLM and import paths, where failing open is the worse outcome.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	windowMs := l.window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	counter := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := incrWithTTL.Run(ctx, l.client, []string{counter}, windowMs).Int64()
	if err != nil {
		return false
	}
	return n <= int64(l.limit)
}
