// Package timer implements the monotonic tick clock that drives scheduler
// quantum expiry and sleeping threads, kept distinct from wall-clock
// datetime, grounded on the teacher's internal/timeslice package's
// Recorder/tick-accounting shape — repurposed here from performance-trace
// recording to scheduler quantum and timer-list accounting.
package timer

import (
	"sort"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
)

// Clock is the monotonic tick counter the system timer IRQ handler
// advances on every interrupt.
type Clock struct {
	mu    ksync.Spinlock
	ticks uint64
	timers []pendingTimer
	nextID uint64
}

type pendingTimer struct {
	id      uint64
	fireAt  uint64
	fn      func()
}

func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current tick count since boot.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Tick is called from the system timer's IRQ handler once per hardware
// tick. It advances the monotonic counter and fires (and removes) any
// timers whose deadline has passed, in deadline order.
func (c *Clock) Tick() {
	c.mu.Lock()
	c.ticks++
	now := c.ticks

	due := due(c.timers, now)
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if t.fireAt > now {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func due(timers []pendingTimer, now uint64) []pendingTimer {
	var out []pendingTimer
	for _, t := range timers {
		if t.fireAt <= now {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fireAt < out[j].fireAt })
	return out
}

// After schedules fn to run once at least afterTicks ticks from now,
// returning a cancellation token for Cancel. Used to implement sleeping
// threads: the caller blocks the thread via the scheduler and passes
// Unblock as fn.
func (c *Clock) After(afterTicks uint64, fn func()) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.timers = append(c.timers, pendingTimer{id: id, fireAt: c.ticks + afterTicks, fn: fn})
	return id
}

// Cancel removes a pending timer before it fires; it is a no-op if the
// timer already fired or doesn't exist.
func (c *Clock) Cancel(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.timers {
		if t.id == id {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// PendingCount reports how many timers are still outstanding, for tests.
func (c *Clock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
