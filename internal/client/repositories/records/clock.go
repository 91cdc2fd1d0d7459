package records

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing microsecond timestamps, so two local
// mutations never share an updated_at even within one clock tick.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns max(wall clock, last+1µs).
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	us := c.now().UnixMicro()
	if us <= c.last {
		us = c.last + 1
	}
	c.last = us
	return time.UnixMicro(us).UTC()
}

// Observe raises the floor to us, e.g. the newest timestamp already stored.
func (c *Clock) Observe(us int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if us > c.last {
		c.last = us
	}
}
