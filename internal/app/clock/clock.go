// Package clock provides session-relative millisecond timestamps.
package clock

import (
	"sync"
	"time"
)

// Clock is anchored lazily: the first Now returns 0 and fixes the origin.
// There is no reset; a new session gets a new Clock.
type Clock struct {
	now func() time.Time

	mu       sync.Mutex
	origin   time.Time
	anchored bool
}

// New returns a Clock reading wall time from now, or time.Now when nil.
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns milliseconds elapsed since the first call.
func (c *Clock) Now() int64 {
	t := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.anchored {
		c.origin = t
		c.anchored = true
		return 0
	}
	return t.Sub(c.origin).Milliseconds()
}
