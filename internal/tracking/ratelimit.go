// Package tracking implements the public customer tracking and decision
// service: rate limiting, ticket/token verification and the three supported
// actions (lookup, kva_decision, send_message).
package tracking

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Rate limit defaults for the public endpoint.
const (
	DefaultRateLimitWindow = 60 * time.Second
	DefaultRateLimitMax    = 10

	// sweepProbability is the chance that a call to Allow also removes all
	// expired entries, bounding memory without a dedicated timer goroutine.
	sweepProbability = 0.1
)

type limitEntry struct {
	count   int
	resetAt time.Time
}

// Limiter is a sliding-window request counter keyed by client address.
// Process-local: entries are lost on restart and not shared across
// instances, which is acceptable for abuse damping.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*limitEntry

	window time.Duration
	max    int

	// now and chance are injectable for deterministic tests.
	now    func() time.Time
	chance func() float64
}

// NewLimiter creates a limiter allowing max requests per window and key.
// Non-positive arguments fall back to the defaults.
func NewLimiter(window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	return &Limiter{
		entries: make(map[string]*limitEntry),
		window:  window,
		max:     max,
		now:     time.Now,
		chance:  rand.Float64,
	}
}

// Allow records one request for key and reports whether it may proceed.
// The read-modify-write happens under the lock, so concurrent requests for
// the same key cannot lose updates.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if l.chance() < sweepProbability {
		l.sweepLocked(now)
	}

	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		l.entries[key] = &limitEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if e.count >= l.max {
		return false
	}
	e.count++
	return true
}

// RetryAfter returns the client-facing retry hint for a denied request.
func (l *Limiter) RetryAfter() time.Duration {
	return l.window
}

// sweepLocked deletes all entries whose window has expired. Caller holds mu.
func (l *Limiter) sweepLocked(now time.Time) {
	for key, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, key)
		}
	}
}

// size reports the number of tracked keys. Test helper.
func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
