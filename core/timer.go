package core

import "sync/atomic"

// The system clock counts microseconds, matching the RP2040 hardware timer.
const (
	TimerFreq = 1000000 // 1MHz
)

var (
	timeSource atomic.Pointer[func() uint32]
	bootTime   uint32
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	if src := timeSource.Load(); src != nil {
		return (*src)()
	}
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// SetTimeSource registers a free-running hardware counter as the clock.
// Passing nil reverts to the ticks maintained by SetTime.
// On hosted builds a free-running clock also starts the timer service, so
// deadlines fire without anyone calling ProcessTimers. A clock stepped by
// SetTime is serviced by whoever steps it.
func SetTimeSource(source func() uint32) {
	if source == nil {
		stopTimerService()
		timeSource.Store(nil)
		return
	}
	timeSource.Store(&source)
	startTimerService()
}

// GetUptime returns ticks elapsed since TimerInit
func GetUptime() uint32 {
	return GetTime() - bootTime
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// timeReached reports whether t is at or before now, tolerating wraparound
func timeReached(t, now uint32) bool {
	return int32(now-t) >= 0
}

// TimerInit initializes the system timer
func TimerInit() {
	bootTime = GetTime()
}

// ProcessTimers runs every timer that is due at the current time
func ProcessTimers() {
	TimerDispatch(GetTime())
}
