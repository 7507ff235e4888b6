package intake

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-session sliding window cap. The window slides
// continuously: an event admitted at t occupies a slot until t+window.
type RateLimiter struct {
	cap    int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string][]time.Time
}

// NewRateLimiter builds a limiter admitting at most cap events per window
// per session. A nil clock uses time.Now.
func NewRateLimiter(cap int, window time.Duration, clock func() time.Time) *RateLimiter {
	if cap <= 0 {
		cap = 100
	}
	if window <= 0 {
		window = time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		cap:      cap,
		window:   window,
		now:      clock,
		sessions: make(map[string][]time.Time),
	}
}

// Allow admits a single event for the session.
func (l *RateLimiter) Allow(sessionID string) bool {
	return l.AllowN(sessionID, 1)
}

// AllowN admits n events atomically: either all n fit in the window or none
// are counted. Batch submissions check once with the batch size.
func (l *RateLimiter) AllowN(sessionID string, n int) bool {
	if n <= 0 {
		return true
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.sessions[sessionID]

	// Drop expired slots from the front; stamps are append-ordered.
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	stamps = stamps[i:]

	if len(stamps)+n > l.cap {
		l.sessions[sessionID] = stamps
		return false
	}

	for j := 0; j < n; j++ {
		stamps = append(stamps, now)
	}
	l.sessions[sessionID] = stamps
	return true
}

// Forget drops the session's window state, for session end.
func (l *RateLimiter) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}
