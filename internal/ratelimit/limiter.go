// Package ratelimit implements the sliding-window-by-reset rate limiter used
// both for the global API limiter and the stricter per-channel chat
// limiter, generalizing the fixed-constant WebhookRateLimiter pattern into a
// reusable, configurably-windowed counter with a background expiry sweep.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedKeys bounds memory use the same way the teacher's
// WebhookRateLimiter does: once the map is full, stale entries are pruned
// and, failing that, an arbitrary entry is evicted to make room.
const maxTrackedKeys = 4096

// Result is returned by Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a sliding-window-by-reset counter keyed by an arbitrary string
// (typically "channelType:userId" or a client IP). State is a plain map
// guarded by a mutex; a background goroutine sweeps expired entries so the
// map never grows without bound between bursts.
type Limiter struct {
	maxRequests int
	window      time.Duration

	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	stopCh   chan struct{}

	// evictionWarn throttles the hard-eviction warning log to at most once
	// a minute, so a sustained burst against maxTrackedKeys doesn't flood
	// the log the way an unconditional slog.Warn per sweep would.
	evictionWarn rate.Sometimes
}

// New returns a Limiter allowing maxRequests per windowDur per key, with a
// background sweep firing every max(windowDur, 60s), matching §4.2.
func New(maxRequests int, windowDur time.Duration) *Limiter {
	l := &Limiter{
		maxRequests:  maxRequests,
		window:       windowDur,
		windows:      make(map[string]*window),
		stopCh:       make(chan struct{}),
		evictionWarn: rate.Sometimes{Interval: time.Minute},
	}
	go l.sweepLoop()
	return l
}

// Limit returns the configured maxRequests per window, for callers that
// need to surface it alongside Check's Result (e.g. an X-RateLimit-Limit
// header).
func (l *Limiter) Limit() int { return l.maxRequests }

// Check increments the counter for key, allocating a fresh window if absent
// or expired, and reports whether the request is allowed.
func (l *Limiter) Check(key string) Result {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !w.resetAt.After(now) {
		if !ok && len(l.windows) >= maxTrackedKeys {
			l.pruneExpiredLocked(now)
		}
		w = &window{count: 0, resetAt: now.Add(l.window)}
		l.windows[key] = w
	}

	w.count++
	allowed := w.count <= l.maxRequests
	remaining := l.maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: allowed, Remaining: remaining, ResetAt: w.resetAt}
}

// Stop terminates the background sweep goroutine. Safe to call multiple
// times.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) sweepLoop() {
	interval := l.window
	if interval < 60*time.Second {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			l.pruneExpiredLocked(now)
			l.mu.Unlock()
		}
	}
}

// pruneExpiredLocked removes expired entries; if the map is still at
// capacity afterward it hard-evicts arbitrary entries, mirroring the
// teacher's fallback eviction in WebhookRateLimiter.Allow.
func (l *Limiter) pruneExpiredLocked(now time.Time) {
	for k, w := range l.windows {
		if !w.resetAt.After(now) {
			delete(l.windows, k)
		}
	}
	if len(l.windows) < maxTrackedKeys {
		return
	}
	l.evictionWarn.Do(func() {
		slog.Warn("ratelimit: hard-evicting entries at capacity", "maxTrackedKeys", maxTrackedKeys)
	})
	for k := range l.windows {
		delete(l.windows, k)
		if len(l.windows) < maxTrackedKeys {
			break
		}
	}
}

// ClientKey derives a rate-limit key from the first hop of X-Forwarded-For,
// else the remote address, else "unknown" — per §4.2.
func ClientKey(xForwardedFor, remoteAddr string) string {
	if xForwardedFor != "" {
		for i := 0; i < len(xForwardedFor); i++ {
			if xForwardedFor[i] == ',' {
				return xForwardedFor[:i]
			}
		}
		return xForwardedFor
	}
	if remoteAddr != "" {
		return remoteAddr
	}
	return "unknown"
}
