// ABOUTME: Local monotonic millisecond clock
// ABOUTME: Reference timeline for all timestamps the daemon emits
package clock

import "time"

// LocalClock counts milliseconds since construction on Go's monotonic clock.
// An unsynchronized node reports this timeline directly.
type LocalClock struct {
	start time.Time
}

// NewLocalClock starts the local timeline at zero.
func NewLocalClock() *LocalClock {
	return &LocalClock{start: time.Now()}
}

// NowMillis returns milliseconds elapsed since the clock started.
func (c *LocalClock) NowMillis() int64 {
	return time.Since(c.start).Milliseconds()
}

// MillisAt converts an instant (e.g. a packet arrival) to the local timeline.
func (c *LocalClock) MillisAt(t time.Time) int64 {
	return t.Sub(c.start).Milliseconds()
}
