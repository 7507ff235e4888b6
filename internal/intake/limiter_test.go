package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time { return c.current }

func (c *fakeClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}
}

func TestRateLimiterCapsPerSession(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(100, time.Second, clock.Now)

	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("sess-1"), "event %d should be admitted", i)
	}
	assert.False(t, limiter.Allow("sess-1"), "event 101 must be rejected")

	// Other sessions are unaffected.
	assert.True(t, limiter.Allow("sess-2"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(2, time.Second, clock.Now)

	assert.True(t, limiter.Allow("sess-1"))
	assert.True(t, limiter.Allow("sess-1"))
	assert.False(t, limiter.Allow("sess-1"))

	clock.Advance(1100 * time.Millisecond)
	assert.True(t, limiter.Allow("sess-1"))
}

func TestAllowNIsAllOrNothing(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(10, time.Second, clock.Now)

	assert.True(t, limiter.AllowN("sess-1", 5))

	// A batch that would exceed the cap consumes nothing.
	assert.False(t, limiter.AllowN("sess-1", 6))

	// The remaining 5 slots are still free.
	assert.True(t, limiter.AllowN("sess-1", 5))
	assert.False(t, limiter.Allow("sess-1"))
}

func TestForgetReleasesSessionState(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(1, time.Second, clock.Now)

	assert.True(t, limiter.Allow("sess-1"))
	assert.False(t, limiter.Allow("sess-1"))

	limiter.Forget("sess-1")
	assert.True(t, limiter.Allow("sess-1"))
}
