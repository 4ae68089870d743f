// Package clock supplies the ordering primitive for last-writer-wins
// merges: a wall clock that never goes backward within one process.
//
// Operating systems occasionally step the wall clock backward (NTP
// corrections, VM migrations). A raw time.Now() under such a step could
// hand out a timestamp older than one already written, silently inverting
// last-writer-wins. Clock guards against that by never returning a time
// at or before the previous return value.
//
// This is deliberately not a distributed logical clock: ordering across
// replicas is approximated by wall time, a documented weaker consistency
// model accepted by the store's merge design.
package clock

import (
	"sync"
	"time"
)

// Clock hands out wall-clock timestamps that are strictly increasing
// within the process. The zero value is ready to use. Clock is safe for
// concurrent use.
type Clock struct {
	mu   sync.Mutex
	last time.Time
}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current wall-clock time, adjusted forward by a
// nanosecond whenever the system clock has not advanced past the previous
// return value.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}
