package services

import (
	"sync"
	"time"
)

// Clock supplies timestamps for persisted records.
type Clock interface {
	Now() time.Time
}

// MonotonicClock returns UTC times at microsecond precision, the resolution Postgres keeps.
// Successive calls are strictly increasing, so message order by timestamp matches append order.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// NewClockFrom builds a clock over a custom time source, mostly for tests.
func NewClockFrom(now func() time.Time) *MonotonicClock {
	return &MonotonicClock{now: now}
}

func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !c.last.IsZero() && !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
