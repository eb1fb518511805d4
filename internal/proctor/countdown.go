package proctor

import (
	"sync"
	"time"
)

// Countdown decrements once per second. It reports every tick and fires the
// expiry callback exactly once when it reaches zero, then stops itself.
// Callbacks run outside the internal lock.
type Countdown struct {
	sched  Scheduler
	onTick func(remaining int)
	onZero func()

	mu        sync.Mutex
	remaining int
	running   bool
	gen       uint64
	cancel    func()
}

// NewCountdown creates a stopped countdown. Either callback may be nil.
func NewCountdown(sched Scheduler, onTick func(remaining int), onZero func()) *Countdown {
	return &Countdown{sched: sched, onTick: onTick, onZero: onZero}
}

// Start begins counting down from seconds, cancelling any run in progress.
func (c *Countdown) Start(seconds int) {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	gen := c.gen
	c.remaining = seconds
	if seconds <= 0 {
		c.mu.Unlock()
		if c.onZero != nil {
			c.onZero()
		}
		return
	}
	c.running = true
	c.cancel = c.sched.Every(time.Second, func() { c.step(gen) })
	c.mu.Unlock()
}

// Stop cancels the countdown. No callback starts after Stop returns, except
// one whose step passed its final check concurrently; callers ignore such a
// trailing callback through their own state.
func (c *Countdown) Stop() {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	c.mu.Unlock()
}

// Remaining returns the seconds left on the current or last run.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether a run is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Countdown) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
}

func (c *Countdown) step(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.running {
		c.mu.Unlock()
		return
	}
	c.remaining--
	remaining := c.remaining
	expired := remaining <= 0
	if expired {
		c.stopLocked()
	}
	c.mu.Unlock()

	if c.onTick != nil && c.current(gen) {
		c.onTick(remaining)
	}
	if expired && c.onZero != nil && c.current(gen) {
		c.onZero()
	}
}

// current reports whether gen is still the live run. A step re-checks it
// before each callback so a Stop made from onTick suppresses onZero.
func (c *Countdown) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}
