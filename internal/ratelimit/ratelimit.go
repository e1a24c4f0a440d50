package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window admission check: at most max requests within
// the trailing window. Allow records the request it admits, so callers ask
// once per action they are about to perform.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	now     func() time.Time
	history []time.Time
}

// New creates a limiter admitting max requests per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// NewWithClock creates a limiter with an injectable clock for tests.
func NewWithClock(max int, window time.Duration, now func() time.Time) *Limiter {
	l := New(max, window)
	l.now = now
	return l
}

// Allow reports whether another request may proceed right now, counting it
// against the window when admitted.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	kept := l.history[:0]
	for _, t := range l.history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.history = kept

	if len(l.history) >= l.max {
		return false
	}
	l.history = append(l.history, l.now())
	return true
}

// Pending returns the number of requests currently counted in the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.history {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
