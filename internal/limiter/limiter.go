// Package limiter defines interfaces and implementations for per-session frame rate limiting.
package limiter

import (
	"sync"
	"time"
)

// Limiter controls how many protocol frames a session may submit.
type Limiter interface {
	// Allow reports whether the session may process one more frame now.
	Allow(sessionID string) bool
	// Forget drops all counters for a session after disconnect.
	Forget(sessionID string)
}

type bucket struct {
	count       int
	windowStart time.Time
}

// FixedWindow is an in-memory fixed-window limiter. The window does not
// advance early when the ceiling is hit; rejected frames are not counted.
type FixedWindow struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	buckets map[string]*bucket
	now     func() time.Time
}

// NewFixedWindow constructs a limiter allowing max frames per window.
func NewFixedWindow(window time.Duration, max int) *FixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 100
	}
	return &FixedWindow{
		window:  window,
		max:     max,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether the session is within its frame budget and, if so,
// consumes one slot.
func (l *FixedWindow) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.buckets[sessionID]
	if b == nil {
		b = &bucket{windowStart: now}
		l.buckets[sessionID] = b
	}
	if now.Sub(b.windowStart) > l.window {
		b.count = 0
		b.windowStart = now
	}
	if b.count >= l.max {
		return false
	}
	b.count++
	return true
}

// Forget removes the session's counters.
func (l *FixedWindow) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, sessionID)
}
