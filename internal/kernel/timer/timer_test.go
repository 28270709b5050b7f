package timer

import (
	"testing"
	"time"
)

func TestTickAdvancesMonotonicCounter(t *testing.T) {
	c := NewClock()
	c.Tick()
	c.Tick()
	c.Tick()
	if got := c.Now(); got != 3 {
		t.Fatalf("Now() = %d, want 3", got)
	}
}

func TestAfterFiresOnceDeadlinePasses(t *testing.T) {
	c := NewClock()
	fired := false
	c.After(3, func() { fired = true })

	c.Tick()
	c.Tick()
	if fired {
		t.Fatalf("timer fired too early")
	}
	c.Tick()
	if !fired {
		t.Fatalf("timer did not fire at its deadline")
	}
	if got := c.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() = %d, want 0 after firing", got)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	c := NewClock()
	fired := false
	id := c.After(2, func() { fired = true })
	c.Cancel(id)

	c.Tick()
	c.Tick()
	c.Tick()
	if fired {
		t.Fatalf("cancelled timer should not fire")
	}
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	c := NewClock()
	var order []int
	c.After(2, func() { order = append(order, 2) })
	c.After(1, func() { order = append(order, 1) })

	c.Tick()
	c.Tick()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("fire order = %v, want [1 2]", order)
	}
}

func TestWallClockDerivesFromTicks(t *testing.T) {
	c := NewClock()
	boot := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	wc := NewWallClock(c, boot, 100) // 100 Hz

	for i := 0; i < 250; i++ {
		c.Tick()
	}

	got := wc.Now()
	want := boot.Add(2500 * time.Millisecond)
	if !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}
