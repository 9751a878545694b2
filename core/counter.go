package core

import "sync/atomic"

// ElapsedCounter is a stopwatch on the system clock.
// It accumulates time while running; Reset clears the accumulated time.
type ElapsedCounter struct {
	start   atomic.Uint32
	elapsed atomic.Uint32
	running atomic.Bool
}

// Start begins accumulating time; no-op if already running
func (c *ElapsedCounter) Start() {
	c.StartAt(GetTime())
}

// StartAt begins accumulating time from an edge captured at tick now
func (c *ElapsedCounter) StartAt(now uint32) {
	if c.running.CompareAndSwap(false, true) {
		c.start.Store(now)
	}
}

// Stop freezes the accumulated time; no-op if not running
func (c *ElapsedCounter) Stop() {
	if c.running.CompareAndSwap(true, false) {
		c.elapsed.Add(GetTime() - c.start.Load())
	}
}

// Reset clears the accumulated time. A running counter keeps running
// from zero.
func (c *ElapsedCounter) Reset() {
	c.elapsed.Store(0)
	c.start.Store(GetTime())
}

// Running reports whether the counter is accumulating
func (c *ElapsedCounter) Running() bool {
	return c.running.Load()
}

// ReadUS returns the accumulated time in microseconds
func (c *ElapsedCounter) ReadUS() uint32 {
	return c.ReadAtUS(GetTime())
}

// ReadAtUS returns the accumulated time as of tick now, which may lag the
// clock when it comes from a hardware edge timestamp
func (c *ElapsedCounter) ReadAtUS(now uint32) uint32 {
	ticks := c.elapsed.Load()
	if c.running.Load() {
		if d := int32(now - c.start.Load()); d > 0 {
			ticks += uint32(d)
		}
	}
	return TimerToUS(ticks)
}
