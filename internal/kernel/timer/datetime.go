package timer

import "time"

// WallClock pairs the monotonic Clock with a real-time-clock device
// reading taken once at boot, so wall-clock time can be derived from tick
// count without re-reading the RTC hardware on every call.
type WallClock struct {
	clock    *Clock
	bootTime time.Time
	hz       uint64
}

// NewWallClock anchors clock's tick count to rtcTimeAtBoot, assuming the
// timer fires at hz ticks per second.
func NewWallClock(clock *Clock, rtcTimeAtBoot time.Time, hz uint64) *WallClock {
	return &WallClock{clock: clock, bootTime: rtcTimeAtBoot, hz: hz}
}

// Now returns the current wall-clock time, derived from ticks elapsed
// since boot.
func (w *WallClock) Now() time.Time {
	ticks := w.clock.Now()
	elapsed := time.Duration(ticks) * time.Second / time.Duration(w.hz)
	return w.bootTime.Add(elapsed)
}

// DateTime is the wire layout GetDateTime copies to user space: the
// original kernel's api::DateTime (year/month/day/hour/minute/second)
// annotated with ticks since boot, the way datetime_read stamps
// g_last_read_datetime with systimer_get_ticks() on every read.
type DateTime struct {
	Year, Month, Day     int32
	Hour, Minute, Second int32
	TicksSinceBoot       uint64
}

// DateTime reports the current wall-clock reading alongside the tick
// count it was stamped with.
func (w *WallClock) DateTime() DateTime {
	now := w.Now()
	return DateTime{
		Year:           int32(now.Year()),
		Month:          int32(now.Month()),
		Day:            int32(now.Day()),
		Hour:           int32(now.Hour()),
		Minute:         int32(now.Minute()),
		Second:         int32(now.Second()),
		TicksSinceBoot: w.clock.Now(),
	}
}
