package store

import "sync/atomic"

// Clock is a monotonic logical clock that stamps committed versions in the
// memory backend.
//
// Snapshot-level transactions remember the version of every key they touch
// and compare it at commit time, so versions must never repeat.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next version and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest version handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
