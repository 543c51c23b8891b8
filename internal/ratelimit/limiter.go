// Package ratelimit throttles MCP tool calls with per-key token buckets.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrLimited is wrapped by CheckLimit when a call is rejected.
var ErrLimited = errors.New("rate limit exceeded")

// Limit is a bucket's refill rate (tokens per second) and capacity.
type Limit struct {
	Rate  float64
	Burst int
}

// PerMinute returns a Limit that refills n tokens per minute.
func PerMinute(n float64, burst int) Limit {
	return Limit{Rate: n / 60.0, Burst: burst}
}

// Limiter keeps one token bucket per key. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	limit   Limit
	buckets map[string]*bucket
	nowFunc func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewLimiter creates a limiter; each new key starts with a full bucket.
func NewLimiter(limit Limit) *Limiter {
	return &Limiter{
		limit:   limit,
		buckets: make(map[string]*bucket),
		nowFunc: time.Now,
	}
}

// refill returns key's bucket brought up to date. Caller holds l.mu.
func (l *Limiter) refill(key string) *bucket {
	now := l.nowFunc()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.limit.Burst), last: now}
		l.buckets[key] = b
		return b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(l.limit.Burst), b.tokens+l.limit.Rate*elapsed)
		b.last = now
	}
	return b
}

// Allow takes one token for key, reporting false when none is left.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter estimates how long until key has a whole token again.
// Returns 0 when a call would be allowed now, and -1 if the bucket never refills.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens >= 1 {
		return 0
	}
	if l.limit.Rate <= 0 {
		return -1
	}
	secs := (1 - b.tokens) / l.limit.Rate
	return time.Duration(math.Ceil(secs * float64(time.Second)))
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// DefaultToolLimits are the per-tool limits for the carbon MCP server.
// A batch run trains an oracle and simulates up to several hundred ticks,
// so it is throttled harder than the read-only tools.
var DefaultToolLimits = map[string]Limit{
	"carbon_run_batch": PerMinute(6, 2),
	"carbon_history":   PerMinute(60, 10),
	"carbon_similar":   PerMinute(30, 5),
}

// NewToolLimiters creates limiters for every tool in limits.
func NewToolLimiters(limits map[string]Limit) ToolLimiters {
	out := make(ToolLimiters, len(limits))
	for tool, lim := range limits {
		out[tool] = NewLimiter(lim)
	}
	return out
}

// CheckLimit checks the rate limit for a given tool name.
// Tools without a configured limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if limiter.Allow(toolName) {
		return nil
	}
	if wait := limiter.RetryAfter(toolName); wait > 0 {
		return fmt.Errorf("%w for %s, retry in %s", ErrLimited, toolName, wait.Round(time.Second))
	}
	return fmt.Errorf("%w for %s", ErrLimited, toolName)
}
