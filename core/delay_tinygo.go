//go:build tinygo

package core

// DelayUS busy-waits for at least us microseconds on the system clock
var DelayUS = func(us uint32) {
	start := GetTime()
	ticks := TimerFromUS(us)
	for GetTime()-start < ticks {
	}
}
