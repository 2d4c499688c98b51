// ABOUTME: Process-wide synchronized clock with bounded slewing
// ABOUTME: Single writer merges peer estimates into one applied offset
package clock

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrUnsynchronized is surfaced by Now when no usable source exists. The
// returned value is still the local clock, so callers can degrade gracefully.
var ErrUnsynchronized = errors.New("unsynchronized: no synced source")

// DefaultMaxStepMs bounds how far the applied offset moves per correction
// cycle once synchronized.
const DefaultMaxStepMs = 50

// PeerEstimate is one peer's contribution to a merge cycle.
type PeerEstimate struct {
	Offset     int64 // peer-minus-local, ms
	Delay      int64
	Confidence float64
}

// Controller owns the single SynchronizedClock instance. All writes go
// through Merge, Step and Desync; Now is safe for any reader.
type Controller struct {
	mu            sync.Mutex
	local         *LocalClock
	appliedOffset int64
	synced        bool
	maxStep       int64
	lastUpdate    time.Time
	confidence    float64
}

// NewController creates a controller over the local clock. maxStepMs bounds
// per-cycle corrections (DefaultMaxStepMs if <= 0).
func NewController(local *LocalClock, maxStepMs int64) *Controller {
	if maxStepMs <= 0 {
		maxStepMs = DefaultMaxStepMs
	}
	return &Controller{local: local, maxStep: maxStepMs}
}

// Now returns the synchronized time in milliseconds. When unsynchronized it
// returns the unmodified local clock along with ErrUnsynchronized.
func (c *Controller) Now() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.local.NowMillis() + c.appliedOffset
	if now < 0 {
		now = 0
	}
	if !c.synced {
		return now, ErrUnsynchronized
	}
	return now, nil
}

// TimeAt converts an instant to the synchronized timeline.
func (c *Controller) TimeAt(t time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := c.local.MillisAt(t) + c.appliedOffset
	if ms < 0 {
		ms = 0
	}
	return ms
}

// Synced reports whether a source is currently applied.
func (c *Controller) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// Offset returns the currently applied correction.
func (c *Controller) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appliedOffset
}

// Confidence returns the aggregate confidence of the last merge.
func (c *Controller) Confidence() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confidence
}

// Step adopts an offset immediately. Used on initial acquisition (first lock
// steps, later corrections slew) and when becoming leader (offset 0).
func (c *Controller) Step(offset int64, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.appliedOffset = offset
	c.synced = true
	c.confidence = confidence
	c.lastUpdate = time.Now()
}

// Desync reverts to the unmodified local clock.
func (c *Controller) Desync() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.synced {
		log.Printf("clock: lost synchronization, reverting to local clock")
	}
	c.appliedOffset = 0
	c.synced = false
	c.confidence = 0
}

// Merge folds the confidence-weighted average of the peer estimates into the
// applied offset and returns the new value. Estimates must be absolute
// offsets against the raw local clock, never against the already-corrected
// timeline. Once synchronized the offset moves at most maxStep per call
// (slewing); the remainder is applied on subsequent cycles. With no usable
// estimates the clock becomes unsynchronized.
func (c *Controller) Merge(estimates []PeerEstimate) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var weightSum, weighted float64
	used := 0
	for _, e := range estimates {
		w := e.Confidence
		if w <= 0 {
			continue
		}
		used++
		weightSum += w
		weighted += w * float64(e.Offset)
	}

	if weightSum == 0 {
		if c.synced {
			log.Printf("clock: no usable estimates, reverting to local clock")
		}
		c.appliedOffset = 0
		c.synced = false
		c.confidence = 0
		return 0
	}

	candidate := int64(weighted / weightSum)

	if !c.synced {
		// Acquisition: step straight to the source rather than slewing
		// from an arbitrary starting point.
		c.appliedOffset = candidate
	} else {
		diff := candidate - c.appliedOffset
		switch {
		case diff > c.maxStep:
			c.appliedOffset += c.maxStep
		case diff < -c.maxStep:
			c.appliedOffset -= c.maxStep
		default:
			c.appliedOffset = candidate
		}
	}

	c.synced = true
	c.confidence = weightSum / float64(used)
	c.lastUpdate = time.Now()
	return c.appliedOffset
}
